package domain

import "time"

// LastToken is the grace-period record kept per user for the most recently
// superseded token. ExpiredAt is epoch milliseconds.
type LastToken struct {
	Token     string `json:"token"`
	ExpiredAt int64  `json:"expiredAt"`
}

// ExpiredTime returns ExpiredAt as a time.Time.
func (l LastToken) ExpiredTime() time.Time {
	return time.UnixMilli(l.ExpiredAt)
}

// WithinGrace reports whether now is still before ExpiredAt + grace.
func (l LastToken) WithinGrace(now time.Time, grace time.Duration) bool {
	return now.Before(l.ExpiredTime().Add(grace))
}

// ValidationResult is the outcome of validating a (username, token) pair.
// NewToken is only set when the presented token was rotated.
type ValidationResult struct {
	Valid    bool
	NewToken string
}

// Rotated reports whether validation issued a replacement token.
func (r ValidationResult) Rotated() bool {
	return r.Valid && r.NewToken != ""
}
