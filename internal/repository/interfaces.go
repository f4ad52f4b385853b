package repository

import (
	"context"
	"time"
)

// KeyValueStore is the shared key-value service used for auth tokens and
// rate-limit counters. Implementations must be safe for concurrent use and
// every call is a single round trip bounded by its own timeout.
type KeyValueStore interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Set stores value with the given TTL. A zero TTL keeps the key forever.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Expire resets the TTL of an existing key and reports whether it existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	// IncrWindow atomically increments the counter at key, starting its
	// window on the first increment, and returns the new count with the
	// remaining window TTL.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Ping(ctx context.Context) error
}

// TokenRepository owns the key schema of auth tokens and grace records.
type TokenRepository interface {
	HasScopedToken(ctx context.Context, username, token string) (bool, error)
	TouchScopedToken(ctx context.Context, username, token string, ttl time.Duration) error
	CreateScopedToken(ctx context.Context, username, token string, createdAt time.Time, ttl time.Duration) error
	DeleteScopedToken(ctx context.Context, username, token string) error
	LegacyToken(ctx context.Context, username string) (string, bool, error)
	TouchLegacyToken(ctx context.Context, username string, ttl time.Duration) error
	// LastToken returns the raw grace record payload.
	LastToken(ctx context.Context, username string) (string, bool, error)
	SaveLastToken(ctx context.Context, username, payload string, ttl time.Duration) error
}
