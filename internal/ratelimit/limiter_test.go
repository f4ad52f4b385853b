package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/trungvo-ux/windows97/internal/adapter/cache"
	"github.com/trungvo-ux/windows97/internal/domain"
	"github.com/trungvo-ux/windows97/internal/identity"
	"github.com/trungvo-ux/windows97/internal/ratelimit"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLimiter() (*ratelimit.Limiter, *clock) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	return ratelimit.NewLimiter(cache.NewMemoryStore(clk.Now)), clk
}

func TestCheckCounterLimitBoundary(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newLimiter()
	limit := ratelimit.CounterLimit{Key: "rl:test", Window: time.Hour, Limit: 3}

	for i := 1; i <= 3; i++ {
		res, err := limiter.CheckCounterLimit(ctx, limit)
		require.NoError(t, err)
		require.True(t, res.Allowed)
		require.Equal(t, int64(i), res.Count)
		require.Equal(t, 3-i, res.Remaining())
	}

	res, err := limiter.CheckCounterLimit(ctx, limit)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, int64(4), res.Count)
	require.Equal(t, 3, res.Limit)
	require.Equal(t, 3600, res.WindowSeconds)
	require.Equal(t, 3600, res.ResetSeconds)
	require.Zero(t, res.Remaining())
}

func TestCheckCounterLimitResetsAfterWindow(t *testing.T) {
	ctx := context.Background()
	limiter, clk := newLimiter()
	limit := ratelimit.CounterLimit{Key: "rl:reset", Window: time.Hour, Limit: 1}

	_, err := limiter.CheckCounterLimit(ctx, limit)
	require.NoError(t, err)

	clk.Advance(20 * time.Minute)
	res, err := limiter.CheckCounterLimit(ctx, limit)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 2400, res.ResetSeconds)

	clk.Advance(40 * time.Minute)
	res, err = limiter.CheckCounterLimit(ctx, limit)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, int64(1), res.Count)
}

func TestCheckCounterLimitRejectsInvalidLimit(t *testing.T) {
	limiter, _ := newLimiter()

	_, err := limiter.CheckCounterLimit(context.Background(), ratelimit.CounterLimit{Key: "k", Window: time.Hour})
	require.ErrorIs(t, err, ratelimit.ErrInvalidLimit)

	_, err = limiter.CheckCounterLimit(context.Background(), ratelimit.CounterLimit{Key: "k", Limit: 1})
	require.ErrorIs(t, err, ratelimit.ErrInvalidLimit)
}

func TestQuotaCountersAreIsolated(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newLimiter()
	policy := ratelimit.AppletPolicy{AnonText: 1, AnonImage: 1, AuthText: 2, AuthImage: 2, Window: time.Hour}
	ip := identity.Identity{Kind: identity.KindIP, Value: "203.0.113.7"}
	user := identity.Identity{Kind: identity.KindUser, Value: "alice"}

	text := policy.Quota(domain.ModeText, false).Counter("applet-ai", ip)
	image := policy.Quota(domain.ModeImage, false).Counter("applet-ai", ip)
	userText := policy.Quota(domain.ModeText, true).Counter("applet-ai", user)

	require.NotEqual(t, text.Key, image.Key)
	require.NotEqual(t, text.Key, userText.Key)

	res, err := limiter.CheckCounterLimit(ctx, text)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	res, err = limiter.CheckCounterLimit(ctx, text)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	res, err = limiter.CheckCounterLimit(ctx, image)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, int64(1), res.Count)

	res, err = limiter.CheckCounterLimit(ctx, userText)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, int64(1), res.Count)
}

func TestAppletPolicyQuota(t *testing.T) {
	policy := ratelimit.AppletPolicy{AnonText: 15, AnonImage: 1, AuthText: 50, AuthImage: 12, Window: time.Hour}

	tests := []struct {
		mode          string
		authenticated bool
		scope         string
		limit         int
	}{
		{mode: domain.ModeText, authenticated: false, scope: ratelimit.ScopeTextHour, limit: 15},
		{mode: domain.ModeText, authenticated: true, scope: ratelimit.ScopeTextHour, limit: 50},
		{mode: domain.ModeImage, authenticated: false, scope: ratelimit.ScopeImageHour, limit: 1},
		{mode: domain.ModeImage, authenticated: true, scope: ratelimit.ScopeImageHour, limit: 12},
		{mode: "", authenticated: false, scope: ratelimit.ScopeTextHour, limit: 15},
	}
	for _, tt := range tests {
		q := policy.Quota(tt.mode, tt.authenticated)
		require.Equal(t, tt.scope, q.Scope)
		require.Equal(t, tt.limit, q.Limit)
		require.Equal(t, time.Hour, q.Window)
	}

	chat := ratelimit.ChatPolicy{Limit: 25, Window: 5 * time.Hour}.Quota()
	require.Equal(t, ratelimit.ScopeChat, chat.Scope)
	require.Equal(t, 25, chat.Limit)
}

func TestMakeKeyIsInjective(t *testing.T) {
	require.Equal(t, "rl:applet-ai:text-hour:user:alice", ratelimit.MakeKey("rl", "applet-ai", "text-hour", "user", "alice"))
	require.NotEqual(t,
		ratelimit.MakeKey("a:b", "c"),
		ratelimit.MakeKey("a", "b:c"),
	)
	require.NotEqual(t,
		ratelimit.MakeKey("ip", "::1"),
		ratelimit.MakeKey("ip:", ":1"),
	)
}

func TestBypassList(t *testing.T) {
	list := ratelimit.NewBypassList([]string{" Ryo ", ""})
	require.True(t, list.Contains("ryo"))
	require.True(t, list.Contains("RYO"))
	require.False(t, list.Contains(""))
	require.False(t, list.Contains("alice"))
}

func TestCheckCounterLimitUsesInjectedTracer(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	lim, _ := newLimiter()
	lim.WithTracer(tp.Tracer("ratelimit-test"))

	_, err := lim.CheckCounterLimit(context.Background(), ratelimit.CounterLimit{Key: "rl:traced", Window: time.Minute, Limit: 1})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "Limiter.CheckCounterLimit", spans[0].Name())
}
