package ratelimit

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrLimitExceeded is returned by Allow when a request is denied.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Class groups requests that share a quota.
type Class string

// Request classes.
const (
	ClassAnalysis  Class = "analysis"
	ClassStreaming Class = "streaming"
	ClassPrompt    Class = "prompt"
	ClassHealth    Class = "health"
	ClassConfig    Class = "config"
	ClassDefault   Class = "default"
)

// Policy is a sliding-window quota: at most MaxRequests admissions within
// any trailing Window.
type Policy struct {
	Window      time.Duration `json:"window"`
	MaxRequests int           `json:"max_requests"`
}

// DefaultPolicies holds the built-in quota of every class.
var DefaultPolicies = map[Class]Policy{
	ClassAnalysis:  {Window: time.Minute, MaxRequests: 10},
	ClassStreaming: {Window: time.Minute, MaxRequests: 5},
	ClassPrompt:    {Window: time.Minute, MaxRequests: 30},
	ClassHealth:    {Window: time.Minute, MaxRequests: 100},
	ClassConfig:    {Window: time.Minute, MaxRequests: 60},
	ClassDefault:   {Window: time.Minute, MaxRequests: 50},
}

// Result describes one admission decision.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetTime  time.Time `json:"reset_time"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, set when denied
}

// ClassStats summarises live windows of one class.
type ClassStats struct {
	ActiveClients int `json:"active_clients"`
	TotalRequests int `json:"total_requests"`
}

type windowKey struct {
	class      Class
	identifier string
}

// Limiter admits or denies requests per (class, identifier) pair using a
// sliding log of admission timestamps.
type Limiter struct {
	mu       sync.Mutex
	windows  map[windowKey][]time.Time
	policies map[Class]Policy
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithPolicy overrides the quota of one class.
func WithPolicy(class Class, p Policy) Option {
	return func(l *Limiter) {
		if p.Window > 0 && p.MaxRequests > 0 {
			l.policies[class] = p
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger.Named("ratelimit") }
}

// New creates a Limiter with the default policies.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		windows:  make(map[windowKey][]time.Time),
		policies: make(map[Class]Policy, len(DefaultPolicies)),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for c, p := range DefaultPolicies {
		l.policies[c] = p
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the quota applied to class. Unknown classes get the
// default policy but keep windows of their own.
func (l *Limiter) Policy(class Class) Policy {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.policyLocked(class)
}

func (l *Limiter) policyLocked(class Class) Policy {
	if p, ok := l.policies[class]; ok {
		return p
	}
	return l.policies[ClassDefault]
}

// Policies returns a copy of every configured policy.
func (l *Limiter) Policies() map[Class]Policy {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Class]Policy, len(l.policies))
	for c, p := range l.policies {
		out[c] = p
	}
	return out
}

// Check records an admission for identifier in class if the quota allows it.
// Denied requests are not recorded.
func (l *Limiter) Check(identifier string, class Class) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.policyLocked(class)
	now := l.now()
	key := windowKey{class: class, identifier: identifier}
	stamps := prune(l.windows[key], now.Add(-p.Window))

	if len(stamps) >= p.MaxRequests {
		l.windows[key] = stamps
		reset := stamps[0].Add(p.Window)
		retry := int(math.Ceil(reset.Sub(now).Seconds()))
		if retry < 1 {
			retry = 1
		}
		l.logger.Debug("request denied",
			zap.String("class", string(class)),
			zap.String("identifier", identifier),
			zap.Int("retry_after", retry))
		return Result{
			Allowed:    false,
			Limit:      p.MaxRequests,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: retry,
		}
	}

	stamps = append(stamps, now)
	l.windows[key] = stamps
	return Result{
		Allowed:   true,
		Limit:     p.MaxRequests,
		Remaining: p.MaxRequests - len(stamps),
		ResetTime: now.Add(p.Window),
	}
}

// Allow is Check returning ErrLimitExceeded on denial.
func (l *Limiter) Allow(identifier string, class Class) (Result, error) {
	res := l.Check(identifier, class)
	if !res.Allowed {
		return res, ErrLimitExceeded
	}
	return res, nil
}

// prune drops timestamps at or before cutoff. stamps is in ascending order.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0:0], stamps[i:]...)
}

// ClearLimits forgets every window of identifier.
func (l *Limiter) ClearLimits(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.windows {
		if k.identifier == identifier {
			delete(l.windows, k)
		}
	}
}

// Cleanup prunes all windows and drops the empty ones. It returns the number
// of windows removed.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for k, stamps := range l.windows {
		stamps = prune(stamps, now.Add(-l.policyLocked(k.class).Window))
		if len(stamps) == 0 {
			delete(l.windows, k)
			removed++
			continue
		}
		l.windows[k] = stamps
	}
	return removed
}

// Run calls Cleanup every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Cleanup(); n > 0 {
				l.logger.Debug("swept idle windows", zap.Int("removed", n))
			}
		}
	}
}

// Stats reports live clients and admitted requests per class.
func (l *Limiter) Stats() map[Class]ClassStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	out := make(map[Class]ClassStats)
	for k, stamps := range l.windows {
		cutoff := now.Add(-l.policyLocked(k.class).Window)
		live := 0
		for _, ts := range stamps {
			if ts.After(cutoff) {
				live++
			}
		}
		if live == 0 {
			continue
		}
		s := out[k.class]
		s.ActiveClients++
		s.TotalRequests += live
		out[k.class] = s
	}
	return out
}

// Headers renders a decision as X-RateLimit-* headers, plus Retry-After
// when the request was denied.
func Headers(res Result) http.Header {
	h := make(http.Header)
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(ceilUnix(res.ResetTime), 10))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(res.RetryAfter))
	}
	return h
}

func ceilUnix(t time.Time) int64 {
	sec := t.Unix()
	if t.Nanosecond() > 0 {
		sec++
	}
	return sec
}
