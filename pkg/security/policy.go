package security

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/harun/toolguard/internal/metrics"
	"github.com/harun/toolguard/internal/observability"
	"github.com/harun/toolguard/pkg/fault"
)

// DefaultCacheSize bounds the permission decision cache
const DefaultCacheSize = 4096

const (
	reasonNoPrincipal = "no principal"
	reasonOutOfScope  = "resource outside scope"
	reasonNoChecker   = "no permission checker"
	reasonDenied      = "denied by checker"
	reasonCheckFailed = "permission check failed"
)

type decision struct {
	allowed bool
	reason  string
}

// Stats is a point-in-time view of a Policy
type Stats struct {
	CacheSize   int
	CacheHits   int64
	CacheMisses int64
	RateLimited int64
	Windows     int
}

// Policy enforces permissions and rate limits for one security context.
// The decision cache and rate windows belong to the instance; two policies never share them.
type Policy struct {
	mu         sync.Mutex
	sc         Context
	generation uint64
	cache      *lru.Cache[string, decision]
	windows    map[string][]time.Time
	stats      Stats
	flight     singleflight.Group

	now     func() time.Time
	metrics *metrics.Metrics
	audit   bool
}

// Option configures a Policy
type Option func(*Policy)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		p.now = now
	}
}

// WithMetrics reports denials, rate limiting and cache lookups to prometheus
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Policy) {
		p.metrics = m
	}
}

// WithCacheSize bounds the decision cache. Non-positive sizes keep the default.
func WithCacheSize(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.cache, _ = lru.New[string, decision](n)
		}
	}
}

// WithAudit toggles audit events for denials
func WithAudit(enabled bool) Option {
	return func(p *Policy) {
		p.audit = enabled
	}
}

// NewPolicy creates a policy bound to sc
func NewPolicy(sc Context, opts ...Option) *Policy {
	cache, _ := lru.New[string, decision](DefaultCacheSize)
	p := &Policy{
		sc:      sc.clone(),
		cache:   cache,
		windows: make(map[string][]time.Time),
		now:     time.Now,
		audit:   true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Context returns a copy of the current security context
func (p *Policy) Context() Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sc.clone()
}

// SetContext swaps the security context and clears both caches
func (p *Policy) SetContext(sc Context) {
	p.mu.Lock()
	p.sc = sc.clone()
	p.mu.Unlock()

	p.ClearCaches()
}

// EnforcePermissions checks action on resource, consulting the decision cache
// first. A denial is returned as a security error; allowed and denied
// decisions are both cached. Checker errors deny without being cached.
func (p *Policy) EnforcePermissions(ctx context.Context, action, resource string, attrs map[string]interface{}) error {
	key := action + ":" + resource

	p.mu.Lock()
	if d, ok := p.cache.Get(key); ok {
		p.stats.CacheHits++
		principal := p.sc.Principal.ID
		p.mu.Unlock()

		p.metrics.RecordCacheLookup(true)
		if d.allowed {
			return nil
		}
		return p.deny(ctx, action, resource, principal, d.reason, true)
	}
	p.stats.CacheMisses++
	sc := p.sc
	gen := p.generation
	p.mu.Unlock()

	p.metrics.RecordCacheLookup(false)

	d, err := p.resolve(ctx, sc, gen, key, action, resource, attrs)
	if err != nil {
		log.Warn().
			Err(err).
			Str("action", action).
			Str("resource", resource).
			Msg("Permission check failed")
		p.recordDenial(ctx, action, resource, sc.Principal.ID, reasonCheckFailed, false)
		return &fault.Error{Kind: fault.KindSecurity, Op: "enforce permissions", Msg: reasonCheckFailed, Err: err}
	}

	if d.allowed {
		return nil
	}
	return p.deny(ctx, action, resource, sc.Principal.ID, d.reason, false)
}

// resolve computes and caches the decision for key. Concurrent misses of one
// key in one generation share a single checker call.
func (p *Policy) resolve(ctx context.Context, sc Context, gen uint64, key, action, resource string, attrs map[string]interface{}) (decision, error) {
	v, err, _ := p.flight.Do(strconv.FormatUint(gen, 10)+"|"+key, func() (interface{}, error) {
		p.mu.Lock()
		if gen == p.generation {
			if d, ok := p.cache.Peek(key); ok {
				p.mu.Unlock()
				return d, nil
			}
		}
		p.mu.Unlock()

		d, err := p.decide(ctx, sc, action, resource, attrs)
		if err != nil {
			return decision{}, err
		}

		p.mu.Lock()
		// a context swap while the checker ran invalidates this decision
		if gen == p.generation {
			p.cache.Add(key, d)
		}
		p.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return decision{}, err
	}
	return v.(decision), nil
}

func (p *Policy) decide(ctx context.Context, sc Context, action, resource string, attrs map[string]interface{}) (decision, error) {
	if !sc.HasPrincipal() {
		return decision{reason: reasonNoPrincipal}, nil
	}
	if !inScope(sc.Scope, resource) {
		return decision{reason: reasonOutOfScope}, nil
	}
	if sc.Checker == nil {
		return decision{reason: reasonNoChecker}, nil
	}

	merged := make(map[string]interface{}, len(sc.Values)+len(attrs)+3)
	merged["resource"] = resource
	merged["principal"] = sc.Principal.ID
	merged["roles"] = sc.Principal.Roles
	for k, v := range sc.Values {
		merged[k] = v
	}
	for k, v := range attrs {
		merged[k] = v
	}

	ok, err := sc.Checker.CheckPermission(ctx, action, merged)
	if err != nil {
		return decision{}, err
	}
	if !ok {
		return decision{reason: reasonDenied}, nil
	}
	return decision{allowed: true}, nil
}

func (p *Policy) deny(ctx context.Context, action, resource, principal, reason string, cached bool) error {
	p.recordDenial(ctx, action, resource, principal, reason, cached)
	return fault.Security("enforce permissions", "permission denied: %s on %s (%s)", action, resource, reason)
}

func (p *Policy) recordDenial(ctx context.Context, action, resource, principal, reason string, cached bool) {
	p.metrics.RecordDenial(action, reason)

	log.Debug().
		Str("action", action).
		Str("resource", resource).
		Str("principal", principal).
		Str("reason", reason).
		Bool("cached", cached).
		Msg("Permission denied")

	if p.audit {
		observability.RecordSecurityAudit(ctx, action+":"+resource, principal, "denied", map[string]interface{}{
			"reason": reason,
			"cached": cached,
		})
	}
}

// EnforceRateLimit admits at most limit events for action within any trailing
// window. Pruning, counting and recording happen under one lock.
func (p *Policy) EnforceRateLimit(action string, limit int, window time.Duration) error {
	if limit <= 0 {
		return fault.Validation("enforce rate limit", "limit must be positive, got %d", limit)
	}
	if window <= 0 {
		return fault.Validation("enforce rate limit", "window must be positive, got %v", window)
	}

	key := "ratelimit:" + action

	p.mu.Lock()
	now := p.now()
	cutoff := now.Add(-window)

	events := p.windows[key]
	kept := events[:0]
	for _, t := range events {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		p.windows[key] = kept
		p.stats.RateLimited++
		p.mu.Unlock()

		p.metrics.RecordRateLimited(action)
		log.Warn().
			Str("action", action).
			Int("limit", limit).
			Dur("window", window).
			Msg("Rate limit exceeded")
		return fault.Security("enforce rate limit", "rate limit exceeded for %s: %d per %v", action, limit, window)
	}

	p.windows[key] = append(kept, now)
	p.mu.Unlock()
	return nil
}

// ValidateScope fails unless target lies within scope
func (p *Policy) ValidateScope(scope, target string) error {
	if !inScope(scope, target) {
		return fault.Security("validate scope", "scope %q does not cover %q", scope, target)
	}
	return nil
}

// ValidatePrincipal fails for an anonymous principal or one missing requiredRole.
// An empty requiredRole only checks identity.
func (p *Policy) ValidatePrincipal(principal Principal, requiredRole string) error {
	if principal.ID == "" {
		return fault.Security("validate principal", "principal is required")
	}
	if requiredRole != "" && !principal.HasRole(requiredRole) {
		return fault.Security("validate principal", "principal %s lacks role %s", principal.ID, requiredRole)
	}
	return nil
}

// ClearCaches empties the decision cache and every rate window
func (p *Policy) ClearCaches() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cache.Purge()
	p.windows = make(map[string][]time.Time)
	p.generation++

	log.Debug().Msg("Security caches cleared")
}

// Stats returns cache and rate limit counters
func (p *Policy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.CacheSize = p.cache.Len()
	s.Windows = len(p.windows)
	return s
}

// inScope matches target against a scope prefix; empty and "*" are unrestricted
func inScope(scope, target string) bool {
	if scope == "" || scope == "*" {
		return true
	}
	return strings.HasPrefix(target, scope)
}
