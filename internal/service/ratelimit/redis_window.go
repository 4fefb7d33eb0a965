package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	domrepo "ForecastGate/internal/domain/repository"
	"ForecastGate/pkg/cache"
	applogger "ForecastGate/pkg/logger"
)

// incrScript increments the window key and sets its expiry on first use.
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisWindow is a fixed window shared by every gateway replica. It fails open.
type RedisWindow struct {
	rc      *cache.RedisCache
	limit   int
	window  time.Duration
	metrics domrepo.Metrics
	log     *applogger.Logger
	now     func() time.Time
}

func NewRedisWindow(rc *cache.RedisCache, limit int, window time.Duration, m domrepo.Metrics, log *applogger.Logger) *RedisWindow {
	if m == nil {
		m = domrepo.NopMetrics{}
	}
	if log == nil {
		log = applogger.NewNop()
	}
	return &RedisWindow{rc: rc, limit: limit, window: window, metrics: m, log: log, now: time.Now}
}

func (r *RedisWindow) key(identity string, start time.Time) string {
	return r.rc.Key("rl", identity, strconv.FormatInt(start.Unix(), 10))
}

func (r *RedisWindow) Allow(ctx context.Context, identity string) (bool, error) {
	start := r.now().Truncate(r.window)
	n, err := incrScript.Run(ctx, r.rc.Client(), []string{r.key(identity, start)}, r.window.Milliseconds()).Int64()
	if err != nil {
		r.metrics.RecordRateLimitError()
		r.log.Error("rate limit backend error, admitting request",
			applogger.String("identity", identity), applogger.Error(err))
		return true, err
	}
	return n <= int64(r.limit), nil
}

// Close leaves the shared redis client to its owner.
func (r *RedisWindow) Close() error { return nil }
