package ratelimit

import (
	"context"
	"fmt"
	"time"

	domrepo "ForecastGate/internal/domain/repository"
	"ForecastGate/pkg/cache"
	"ForecastGate/pkg/config"
	applogger "ForecastGate/pkg/logger"
)

// Window is the admission period; budgets are expressed per minute.
const Window = time.Minute

// Limiter admits or rejects one request for an identity.
type Limiter interface {
	Allow(ctx context.Context, identity string) (bool, error)
	Close() error
}

// New builds the limiter for cfg.Policy. rc is only required for the redis policy.
func New(cfg config.RateLimitConfig, rc *cache.RedisCache, m domrepo.Metrics, log *applogger.Logger) (Limiter, error) {
	if !cfg.Enabled {
		return Unlimited{}, nil
	}
	if cfg.PerMinute <= 0 {
		return nil, fmt.Errorf("rate limit per_minute must be positive, got %d", cfg.PerMinute)
	}
	switch cfg.Policy {
	case "", config.PolicyFixedWindow:
		return NewFixedWindow(cfg.PerMinute, Window, cfg.Shards, cfg.JanitorInterval), nil
	case config.PolicyTokenBucket:
		return NewTokenBucket(cfg.PerMinute, Window, cfg.JanitorInterval), nil
	case config.PolicyRedis:
		if rc == nil {
			return nil, fmt.Errorf("rate limit policy %q requires redis", cfg.Policy)
		}
		return NewRedisWindow(rc, cfg.PerMinute, Window, m, log), nil
	default:
		return nil, fmt.Errorf("unknown rate limit policy %q", cfg.Policy)
	}
}

// Unlimited admits everything.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
func (Unlimited) Close() error { return nil }
