package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	authTokenPrefix = "chat:token:"
	scopedPrefix    = "chat:token:user:"
	lastTokenPrefix = "chat:token:last:"
)

// KVTokenRepo implements TokenRepository on top of a KeyValueStore.
type KVTokenRepo struct {
	store KeyValueStore
}

var _ TokenRepository = (*KVTokenRepo)(nil)

// NewKVTokenRepo constructs a token repository over store.
func NewKVTokenRepo(store KeyValueStore) *KVTokenRepo {
	return &KVTokenRepo{store: store}
}

// ScopedTokenKey is the multi-token key of username/token.
func ScopedTokenKey(username, token string) string {
	return scopedPrefix + normalize(username) + ":" + token
}

// LegacyTokenKey is the single-token key of username.
func LegacyTokenKey(username string) string {
	return authTokenPrefix + normalize(username)
}

// LastTokenKey is the grace record key of username.
func LastTokenKey(username string) string {
	return lastTokenPrefix + normalize(username)
}

func (r *KVTokenRepo) HasScopedToken(ctx context.Context, username, token string) (bool, error) {
	ok, err := r.store.Exists(ctx, ScopedTokenKey(username, token))
	if err != nil {
		return false, fmt.Errorf("lookup scoped token: %w", err)
	}
	return ok, nil
}

func (r *KVTokenRepo) TouchScopedToken(ctx context.Context, username, token string, ttl time.Duration) error {
	if _, err := r.store.Expire(ctx, ScopedTokenKey(username, token), ttl); err != nil {
		return fmt.Errorf("refresh scoped token: %w", err)
	}
	return nil
}

func (r *KVTokenRepo) CreateScopedToken(ctx context.Context, username, token string, createdAt time.Time, ttl time.Duration) error {
	value := strconv.FormatInt(createdAt.UnixMilli(), 10)
	if err := r.store.Set(ctx, ScopedTokenKey(username, token), value, ttl); err != nil {
		return fmt.Errorf("persist scoped token: %w", err)
	}
	return nil
}

func (r *KVTokenRepo) DeleteScopedToken(ctx context.Context, username, token string) error {
	if err := r.store.Del(ctx, ScopedTokenKey(username, token)); err != nil {
		return fmt.Errorf("delete scoped token: %w", err)
	}
	return nil
}

func (r *KVTokenRepo) LegacyToken(ctx context.Context, username string) (string, bool, error) {
	value, ok, err := r.store.Get(ctx, LegacyTokenKey(username))
	if err != nil {
		return "", false, fmt.Errorf("load legacy token: %w", err)
	}
	return value, ok, nil
}

func (r *KVTokenRepo) TouchLegacyToken(ctx context.Context, username string, ttl time.Duration) error {
	if _, err := r.store.Expire(ctx, LegacyTokenKey(username), ttl); err != nil {
		return fmt.Errorf("refresh legacy token: %w", err)
	}
	return nil
}

func (r *KVTokenRepo) LastToken(ctx context.Context, username string) (string, bool, error) {
	value, ok, err := r.store.Get(ctx, LastTokenKey(username))
	if err != nil {
		return "", false, fmt.Errorf("load last token: %w", err)
	}
	return value, ok, nil
}

func (r *KVTokenRepo) SaveLastToken(ctx context.Context, username, payload string, ttl time.Duration) error {
	if err := r.store.Set(ctx, LastTokenKey(username), payload, ttl); err != nil {
		return fmt.Errorf("persist last token: %w", err)
	}
	return nil
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
