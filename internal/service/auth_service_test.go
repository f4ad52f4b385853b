package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/adapter/cache"
	"github.com/trungvo-ux/windows97/internal/config"
	"github.com/trungvo-ux/windows97/internal/domain"
	"github.com/trungvo-ux/windows97/internal/repository"
	"github.com/trungvo-ux/windows97/internal/service"
)

const (
	tokenTTL = 90 * 24 * time.Hour
	graceTTL = 365 * 24 * time.Hour
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sequenceGenerator struct {
	n int
}

func (g *sequenceGenerator) NewToken() (string, error) {
	g.n++
	return fmt.Sprintf("token%02d", g.n), nil
}

type authFixture struct {
	svc   *service.AuthService
	store *cache.MemoryStore
	clock *fakeClock
}

func newAuthFixture() authFixture {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := cache.NewMemoryStore(clock.Now)
	cfg := config.Config{TokenTTL: tokenTTL, TokenGracePeriod: graceTTL}
	svc := service.NewAuthService(repository.NewKVTokenRepo(store), &sequenceGenerator{}, cfg, zap.NewNop()).WithClock(clock.Now)
	return authFixture{svc: svc, store: store, clock: clock}
}

func (f authFixture) seedLastToken(t *testing.T, username, token string, at time.Time) {
	t.Helper()
	payload, err := json.Marshal(domain.LastToken{Token: token, ExpiredAt: at.UnixMilli()})
	require.NoError(t, err)
	require.NoError(t, f.store.Set(context.Background(), repository.LastTokenKey(username), string(payload), graceTTL))
}

func TestValidateScopedTokenRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture()

	token, err := f.svc.IssueToken(ctx, "Alice")
	require.NoError(t, err)
	key := repository.ScopedTokenKey("alice", token)

	for i := 0; i < 2; i++ {
		f.clock.Advance(10 * 24 * time.Hour)
		res, err := f.svc.ValidateToken(ctx, "alice", token)
		require.NoError(t, err)
		require.True(t, res.Valid)
		require.False(t, res.Rotated())

		ttl, err := f.store.TTL(ctx, key)
		require.NoError(t, err)
		require.Equal(t, tokenTTL, ttl)
	}
	require.Equal(t, 1, f.store.Len())
}

func TestValidateLegacyToken(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture()
	require.NoError(t, f.store.Set(ctx, repository.LegacyTokenKey("bob"), "legacy-secret", time.Hour))

	res, err := f.svc.ValidateToken(ctx, "BOB", "legacy-secret")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Empty(t, res.NewToken)

	ttl, err := f.store.TTL(ctx, repository.LegacyTokenKey("bob"))
	require.NoError(t, err)
	require.Equal(t, tokenTTL, ttl)

	res, err = f.svc.ValidateToken(ctx, "bob", "other")
	require.NoError(t, err)
	require.False(t, res.Valid)
}

func TestValidateGraceTokenRotates(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture()
	f.seedLastToken(t, "carol", "old-token", f.clock.Now().Add(-time.Hour))

	res, err := f.svc.ValidateToken(ctx, "carol", "old-token")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, "token01", res.NewToken)

	exists, err := f.store.Exists(ctx, repository.ScopedTokenKey("carol", "token01"))
	require.NoError(t, err)
	require.True(t, exists)

	res, err = f.svc.ValidateToken(ctx, "carol", "token01")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.False(t, res.Rotated())

	// The superseded token stays in the grace slot and rotates again.
	res, err = f.svc.ValidateToken(ctx, "carol", "old-token")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, "token02", res.NewToken)

	raw, ok, err := f.store.Get(ctx, repository.LastTokenKey("carol"))
	require.NoError(t, err)
	require.True(t, ok)
	var last domain.LastToken
	require.NoError(t, json.Unmarshal([]byte(raw), &last))
	require.Equal(t, "old-token", last.Token)
	require.Equal(t, f.clock.Now().UnixMilli(), last.ExpiredAt)
}

func TestValidateGraceTokenExpires(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture()
	f.seedLastToken(t, "dave", "old-token", f.clock.Now().Add(-graceTTL-time.Millisecond))

	res, err := f.svc.ValidateToken(ctx, "dave", "old-token")
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, 1, f.store.Len())
}

func TestValidateMalformedGraceRecord(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture()
	require.NoError(t, f.store.Set(ctx, repository.LastTokenKey("erin"), "{not json", graceTTL))

	res, err := f.svc.ValidateToken(ctx, "erin", "anything")
	require.NoError(t, err)
	require.False(t, res.Valid)
}

func TestValidateInvalidInputDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture()
	token, err := f.svc.IssueToken(ctx, "frank")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	tests := []struct {
		name     string
		username string
		token    string
	}{
		{name: "missing username", username: "", token: token},
		{name: "missing token", username: "frank", token: ""},
		{name: "wrong token", username: "frank", token: "nope"},
		{name: "wrong user", username: "grace", token: token},
		{name: "separator in username", username: "frank:" + token[:3], token: token[3:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.ValidateToken(ctx, tt.username, tt.token)
			require.NoError(t, err)
			require.False(t, res.Valid)
		})
	}

	ttl, err := f.store.TTL(ctx, repository.ScopedTokenKey("frank", token))
	require.NoError(t, err)
	require.Equal(t, tokenTTL-time.Hour, ttl)
	require.Equal(t, 1, f.store.Len())
}

func TestSupersedeToken(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture()
	token, err := f.svc.IssueToken(ctx, "heidi")
	require.NoError(t, err)

	require.NoError(t, f.svc.SupersedeToken(ctx, "heidi", token))
	exists, err := f.store.Exists(ctx, repository.ScopedTokenKey("heidi", token))
	require.NoError(t, err)
	require.False(t, exists)

	res, err := f.svc.ValidateToken(ctx, "heidi", token)
	require.NoError(t, err)
	require.True(t, res.Rotated())

	err = f.svc.SupersedeToken(ctx, "heidi", "missing")
	require.ErrorIs(t, err, domain.ErrTokenNotFound)
	_, err = f.svc.IssueToken(ctx, " ")
	require.ErrorIs(t, err, domain.ErrInvalidUsername)
}

type failingTokens struct {
	repository.TokenRepository
}

func (failingTokens) HasScopedToken(context.Context, string, string) (bool, error) {
	return false, fmt.Errorf("lookup scoped token: %w", domain.ErrStoreUnavailable)
}

func TestValidatePropagatesStoreErrors(t *testing.T) {
	svc := service.NewAuthService(failingTokens{}, nil, config.Config{TokenTTL: tokenTTL, TokenGracePeriod: graceTTL}, zap.NewNop())

	_, err := svc.ValidateToken(context.Background(), "ivan", "tok")
	require.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}

func TestHexTokenGenerator(t *testing.T) {
	token, err := service.HexTokenGenerator{Bytes: 32}.NewToken()
	require.NoError(t, err)
	require.Len(t, token, 64)

	other, err := service.HexTokenGenerator{}.NewToken()
	require.NoError(t, err)
	require.Len(t, other, 64)
	require.NotEqual(t, token, other)
}

func TestValidateTokenRecordsSchemeOnInjectedTracer(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newAuthFixture()
	f.svc.WithTracer(tp.Tracer("auth-test"))
	f.seedLastToken(t, "grace", "old", f.clock.Now())

	res, err := f.svc.ValidateToken(context.Background(), "grace", "old")
	require.NoError(t, err)
	require.True(t, res.Rotated())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "AuthService.ValidateToken", spans[0].Name())
	require.Contains(t, spans[0].Attributes(), attribute.String("auth.scheme", "grace"))
}
