// Package ratelimit implements fixed-window counters kept in the shared
// key-value store, plus the per-endpoint quota policies built on them.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/trungvo-ux/windows97/internal/repository"
)

// ErrInvalidLimit is returned for a non-positive limit or window.
var ErrInvalidLimit = errors.New("ratelimit: invalid limit")

// CounterLimit names a counter and the quota applied to it.
type CounterLimit struct {
	Key    string
	Window time.Duration
	Limit  int
}

// Result reports the state of a counter after one increment.
type Result struct {
	Allowed       bool  `json:"allowed"`
	Count         int64 `json:"count"`
	Limit         int   `json:"limit"`
	WindowSeconds int   `json:"windowSeconds"`
	ResetSeconds  int   `json:"resetSeconds"`
}

// Remaining returns how many requests are left in the current window.
func (r Result) Remaining() int {
	left := int64(r.Limit) - r.Count
	if left < 0 {
		return 0
	}
	return int(left)
}

// Limiter checks fixed-window counters.
type Limiter struct {
	store  repository.KeyValueStore
	tracer trace.Tracer
}

// NewLimiter builds a limiter over store.
func NewLimiter(store repository.KeyValueStore) *Limiter {
	return &Limiter{
		store:  store,
		tracer: otel.Tracer("github.com/trungvo-ux/windows97/internal/ratelimit"),
	}
}

// WithTracer replaces the tracer used for counter spans.
func (lim *Limiter) WithTracer(tracer trace.Tracer) *Limiter {
	if tracer != nil {
		lim.tracer = tracer
	}
	return lim
}

// CheckCounterLimit increments the counter at l.Key and reports whether the
// request fits in the window. The count is incremented even when denied.
func (lim *Limiter) CheckCounterLimit(ctx context.Context, l CounterLimit) (Result, error) {
	if l.Limit <= 0 || l.Window < time.Second {
		return Result{}, fmt.Errorf("%w: limit=%d window=%s", ErrInvalidLimit, l.Limit, l.Window)
	}

	ctx, span := lim.tracer.Start(ctx, "Limiter.CheckCounterLimit")
	defer span.End()

	windowSeconds := int(l.Window / time.Second)
	count, ttl, err := lim.store.IncrWindow(ctx, l.Key, l.Window)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("increment counter: %w", err)
	}

	reset := windowSeconds
	if ttl > 0 {
		reset = int(math.Ceil(ttl.Seconds()))
	}

	res := Result{
		Allowed:       count <= int64(l.Limit),
		Count:         count,
		Limit:         l.Limit,
		WindowSeconds: windowSeconds,
		ResetSeconds:  reset,
	}
	span.SetAttributes(
		attribute.Int64("ratelimit.count", res.Count),
		attribute.Int("ratelimit.limit", res.Limit),
		attribute.Bool("ratelimit.allowed", res.Allowed),
	)
	return res, nil
}

// MakeKey joins segments into a counter key. Each segment is query-escaped so
// the separator can never appear inside a segment.
func MakeKey(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.QueryEscape(s)
	}
	return strings.Join(escaped, ":")
}
