package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const defaultShards = 64

type windowCounter struct {
	count       int
	windowStart time.Time
}

type shard struct {
	mu sync.Mutex
	m  map[string]*windowCounter
}

// FixedWindow counts requests per identity in aligned windows. State is split
// across shards so unrelated identities rarely share a lock.
type FixedWindow struct {
	limit  int
	window time.Duration
	shards []*shard
	now    func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

func NewFixedWindow(limit int, window time.Duration, shards int, janitor time.Duration) *FixedWindow {
	if shards <= 0 {
		shards = defaultShards
	}
	f := &FixedWindow{
		limit:  limit,
		window: window,
		shards: make([]*shard, shards),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	for i := range f.shards {
		f.shards[i] = &shard{m: make(map[string]*windowCounter)}
	}
	if janitor > 0 {
		go f.janitor(janitor)
	}
	return f
}

func (f *FixedWindow) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return f.shards[h.Sum32()%uint32(len(f.shards))]
}

func (f *FixedWindow) Allow(_ context.Context, identity string) (bool, error) {
	now := f.now()
	start := now.Truncate(f.window)
	s := f.shardFor(identity)

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[identity]
	if !ok || !c.windowStart.Equal(start) {
		s.m[identity] = &windowCounter{count: 1, windowStart: start}
		return true, nil
	}
	if c.count >= f.limit {
		return false, nil
	}
	c.count++
	return true, nil
}

// Sweep removes counters whose window has passed.
func (f *FixedWindow) Sweep() int {
	start := f.now().Truncate(f.window)
	n := 0
	for _, s := range f.shards {
		s.mu.Lock()
		for k, c := range s.m {
			if c.windowStart.Before(start) {
				delete(s.m, k)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

func (f *FixedWindow) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-t.C:
			f.Sweep()
		}
	}
}

func (f *FixedWindow) Close() error {
	f.stopOnce.Do(func() { close(f.stop) })
	return nil
}
