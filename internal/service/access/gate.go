package access

import (
	"strings"

	domrepo "ForecastGate/internal/domain/repository"
	applogger "ForecastGate/pkg/logger"
)

type Decision int

const (
	Allow Decision = iota
	Deny
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

const (
	EventAuthorized   = "authorized"
	EventUnauthorized = "unauthorized"
)

var exemptPaths = map[string]struct{}{
	"/v1/healthz":          {},
	"/v1/healthz/detailed": {},
	"/v1/readyz":           {},
	"/v1/metrics":          {},
	"/metrics":             {},
}

// IsExempt reports whether path bypasses access control and rate limiting.
func IsExempt(path string) bool {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	_, ok := exemptPaths[path]
	return ok
}

// Policy is immutable once built.
type Policy struct {
	Enabled bool
	Trusted map[string]struct{}
}

func NewPolicy(enabled bool, trusted []string) Policy {
	p := Policy{Enabled: enabled, Trusted: make(map[string]struct{}, len(trusted))}
	for _, t := range trusted {
		if t = strings.TrimSpace(t); t != "" {
			p.Trusted[t] = struct{}{}
		}
	}
	return p
}

type Gate struct {
	policy  Policy
	metrics domrepo.Metrics
	log     *applogger.Logger
}

func NewGate(p Policy, m domrepo.Metrics, log *applogger.Logger) *Gate {
	if m == nil {
		m = domrepo.NopMetrics{}
	}
	if log == nil {
		log = applogger.NewNop()
	}
	if p.Enabled {
		names := make([]string, 0, len(p.Trusted))
		for n := range p.Trusted {
			names = append(names, n)
		}
		log.Info("access control enabled", applogger.Strings("trusted", names))
		log.Warn("caller identity comes from an unauthenticated header or reverse DNS; run behind a trusted network boundary")
	} else {
		log.Warn("access control disabled, all callers allowed")
	}
	return &Gate{policy: p, metrics: m, log: log}
}

// Authorize decides for a non-exempt path and records a security event.
func (g *Gate) Authorize(identity, path string) Decision {
	if !g.policy.Enabled || IsExempt(path) {
		return Allow
	}
	if identity == "" {
		identity = "unknown"
	}
	if _, ok := g.policy.Trusted[identity]; ok {
		g.metrics.RecordSecurityEvent(EventAuthorized, identity)
		g.log.Info("authorized request", applogger.String("identity", identity), applogger.String("path", path))
		return Allow
	}
	g.metrics.RecordSecurityEvent(EventUnauthorized, identity)
	g.log.Warn("unauthorized access attempt", applogger.String("identity", identity), applogger.String("path", path))
	return Deny
}
