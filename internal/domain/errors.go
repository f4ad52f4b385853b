package domain

import (
	"errors"
	"strings"
)

var (
	// ErrStoreUnavailable wraps failures talking to the key-value store.
	ErrStoreUnavailable = errors.New("store: unavailable")
	// ErrInvalidUsername signals an empty or malformed username.
	ErrInvalidUsername = errors.New("auth: invalid username")
	// ErrInvalidToken signals an empty token where one is required.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrTokenNotFound signals that the token is not a current token of the user.
	ErrTokenNotFound = errors.New("auth: token not found")
	// ErrInvalidAttachment indicates an attachment that could not be decoded.
	ErrInvalidAttachment = errors.New("request: invalid attachment")
)

// ValidationError describes a single field failure in a request body.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationErrors collects every field failure found in a request body.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Add appends a failure for path.
func (v *ValidationErrors) Add(path, message string) {
	*v = append(*v, ValidationError{Path: path, Message: message})
}

// Err returns nil when no failures were collected.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
