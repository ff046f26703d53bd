package ratelimit

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestAnalysisQuota(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))
	start := clock.Now()

	for i := 0; i < 10; i++ {
		res := l.Check("1.2.3.4", ClassAnalysis)
		require.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 10, res.Limit)
		assert.Equal(t, 9-i, res.Remaining)
		assert.Equal(t, clock.Now().Add(time.Minute), res.ResetTime)
		clock.Advance(time.Second)
	}

	res := l.Check("1.2.3.4", ClassAnalysis)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, start.Add(time.Minute), res.ResetTime, "reset is oldest admission + window")
	assert.Equal(t, 50, res.RetryAfter)

	// Once the oldest timestamp ages out, one slot frees up.
	clock.Advance(50 * time.Second)
	res = l.Check("1.2.3.4", ClassAnalysis)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestBoundaryTimestampIsPruned(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now), WithPolicy(ClassPrompt, Policy{Window: time.Minute, MaxRequests: 1}))

	require.True(t, l.Check("c", ClassPrompt).Allowed)
	clock.Advance(time.Minute - time.Millisecond)
	assert.False(t, l.Check("c", ClassPrompt).Allowed)
	clock.Advance(time.Millisecond)
	assert.True(t, l.Check("c", ClassPrompt).Allowed, "timestamp exactly one window old no longer counts")
}

func TestDeniedRequestsAreNotRecorded(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now), WithPolicy(ClassStreaming, Policy{Window: time.Minute, MaxRequests: 2}))

	l.Check("c", ClassStreaming)
	l.Check("c", ClassStreaming)
	for i := 0; i < 5; i++ {
		assert.False(t, l.Check("c", ClassStreaming).Allowed)
	}
	assert.Equal(t, 2, l.Stats()[ClassStreaming].TotalRequests)
}

func TestClassesAndIdentifiersIsolated(t *testing.T) {
	l := New(WithPolicy(ClassAnalysis, Policy{Window: time.Minute, MaxRequests: 1}))

	require.True(t, l.Check("a", ClassAnalysis).Allowed)
	assert.False(t, l.Check("a", ClassAnalysis).Allowed)
	assert.True(t, l.Check("b", ClassAnalysis).Allowed)
	assert.True(t, l.Check("a", ClassPrompt).Allowed)
}

func TestUnknownClassUsesDefaultPolicy(t *testing.T) {
	l := New()
	res := l.Check("c", Class("export"))
	assert.True(t, res.Allowed)
	assert.Equal(t, 50, res.Limit)
	assert.Equal(t, DefaultPolicies[ClassDefault], l.Policy(Class("export")))

	// Its window is separate from the default class.
	assert.Equal(t, 49, l.Check("c", ClassDefault).Remaining)
}

func TestDefaultPolicies(t *testing.T) {
	l := New()
	want := map[Class]int{
		ClassAnalysis:  10,
		ClassStreaming: 5,
		ClassPrompt:    30,
		ClassHealth:    100,
		ClassConfig:    60,
		ClassDefault:   50,
	}
	for class, max := range want {
		p := l.Policy(class)
		assert.Equal(t, max, p.MaxRequests, class)
		assert.Equal(t, time.Minute, p.Window, class)
	}
}

func TestConcurrentAdmissionNeverExceedsQuota(t *testing.T) {
	l := New()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("burst", ClassAnalysis).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestAllow(t *testing.T) {
	l := New(WithPolicy(ClassConfig, Policy{Window: time.Minute, MaxRequests: 1}))
	_, err := l.Allow("c", ClassConfig)
	require.NoError(t, err)
	res, err := l.Allow("c", ClassConfig)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.False(t, res.Allowed)
}

func TestClearLimits(t *testing.T) {
	l := New(WithPolicy(ClassAnalysis, Policy{Window: time.Minute, MaxRequests: 1}))
	l.Check("a", ClassAnalysis)
	l.Check("a", ClassPrompt)
	l.Check("b", ClassAnalysis)

	l.ClearLimits("a")

	assert.True(t, l.Check("a", ClassAnalysis).Allowed)
	assert.False(t, l.Check("b", ClassAnalysis).Allowed)
}

func TestCleanupAndStats(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))

	l.Check("a", ClassAnalysis)
	l.Check("a", ClassAnalysis)
	l.Check("b", ClassAnalysis)
	l.Check("a", ClassHealth)

	stats := l.Stats()
	assert.Equal(t, ClassStats{ActiveClients: 2, TotalRequests: 3}, stats[ClassAnalysis])
	assert.Equal(t, ClassStats{ActiveClients: 1, TotalRequests: 1}, stats[ClassHealth])

	clock.Advance(2 * time.Minute)
	assert.Empty(t, l.Stats())
	assert.Equal(t, 3, l.Cleanup())
	assert.Equal(t, 0, l.Cleanup())
}

func TestRunStopsOnCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHeaders(t *testing.T) {
	reset := time.Unix(1700000000, 500)
	h := Headers(Result{Allowed: false, Limit: 10, Remaining: 0, ResetTime: reset, RetryAfter: 42})
	assert.Equal(t, "10", h.Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", h.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1700000001", h.Get("X-RateLimit-Reset"))
	assert.Equal(t, "42", h.Get("Retry-After"))

	h = Headers(Result{Allowed: true, Limit: 10, Remaining: 3, ResetTime: time.Unix(1700000000, 0)})
	assert.Equal(t, "1700000000", h.Get("X-RateLimit-Reset"))
	assert.Empty(t, h.Get("Retry-After"))
}

func TestClientIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded list", map[string]string{"X-Forwarded-For": "9.9.9.9, 10.0.0.1"}, "", "9.9.9.9"},
		{"forwarded wins", map[string]string{"X-Forwarded-For": "1.1.1.1", "X-Real-IP": "2.2.2.2"}, "", "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "2.2.2.2"}, "", "2.2.2.2"},
		{"client ip", map[string]string{"X-Client-IP": "3.3.3.3"}, "", "3.3.3.3"},
		{"cloudflare", map[string]string{"CF-Connecting-IP": "4.4.4.4"}, "", "4.4.4.4"},
		{"true client", map[string]string{"True-Client-IP": "5.5.5.5"}, "", "5.5.5.5"},
		{"remote addr", nil, "6.6.6.6:1234", "6.6.6.6"},
		{"unknown", nil, "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIdentifier(r))
		})
	}
}
