package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSaturated is returned by Submit when every slot in the queue is taken.
	ErrSaturated = errors.New("queue saturated")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("queue not running")
)

// Task is one unit of work. ctx is the submitter's job context.
type Task func(ctx context.Context)

// QueueConfig contains the configuration for the queue
type QueueConfig struct {
	Workers   int // number of workers
	QueueSize int // pending tasks held before Submit rejects
	// StopTimeout bounds how long Stop waits when called with a context without deadline.
	StopTimeout time.Duration
}

func (c *QueueConfig) normalize() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize < 0 {
		c.QueueSize = 0
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
}
