package identity

import (
	"context"
	"net"
	"strings"
	"time"

	domrepo "ForecastGate/internal/domain/repository"
	"ForecastGate/internal/service/cache"
	applogger "ForecastGate/pkg/logger"
)

const (
	Localhost = "localhost"
	Unknown   = "unknown"
)

// Resolver derives a caller identity from request metadata. It never fails.
type Resolver struct {
	lookup      domrepo.AddrLookup
	cache       *cache.TTLCache[string]
	ttl         time.Duration
	negativeTTL time.Duration
	timeout     time.Duration
	log         *applogger.Logger
}

type Option func(*Resolver)

// WithLookup enables reverse DNS through l. Without it the raw IP is the identity.
func WithLookup(l domrepo.AddrLookup) Option {
	return func(r *Resolver) { r.lookup = l }
}

func WithCacheTTL(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithNegativeTTL sets how long a failed lookup pins the raw IP as the identity.
func WithNegativeTTL(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.negativeTTL = d
		}
	}
}

func WithLookupTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewResolver(log *applogger.Logger, opts ...Option) *Resolver {
	if log == nil {
		log = applogger.NewNop()
	}
	r := &Resolver{
		cache:       cache.NewTTLCache[string](),
		ttl:         5 * time.Minute,
		negativeTTL: 30 * time.Second,
		timeout:     500 * time.Millisecond,
		log:         log,
	}
	for _, o := range opts {
		o(r)
	}
	if r.lookup != nil {
		r.cache.StartJanitor(min(r.ttl, r.negativeTTL))
	}
	return r
}

// Resolve tries, in order: the header hint, loopback, reverse DNS, the raw IP.
// With no signal at all the identity is "unknown".
func (r *Resolver) Resolve(ctx context.Context, header, remoteAddr string) string {
	if h := strings.TrimSpace(header); h != "" {
		return h
	}
	host := hostOnly(remoteAddr)
	if host == "" {
		return Unknown
	}
	if isLoopback(host) {
		return Localhost
	}
	if r.lookup == nil {
		return host
	}
	if name, ok := r.cache.Get(host); ok {
		return name
	}

	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	names, err := r.lookup.LookupAddr(lctx, host)
	name := ""
	if err == nil && len(names) > 0 {
		name = strings.TrimSuffix(names[0], ".")
	}
	if name == "" {
		r.log.Debug("reverse lookup failed", applogger.String("ip", host), applogger.Error(err))
		if ctx.Err() == nil {
			r.cache.Set(host, host, r.negativeTTL)
		}
		return host
	}
	r.cache.Set(host, name, r.ttl)
	return name
}

// Close stops the cache janitor.
func (r *Resolver) Close() error { return r.cache.Close() }

func hostOnly(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return strings.Trim(addr, "[]")
}

func isLoopback(host string) bool {
	if host == Localhost {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
