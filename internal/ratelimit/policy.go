package ratelimit

import (
	"strings"
	"time"

	"github.com/trungvo-ux/windows97/internal/domain"
	"github.com/trungvo-ux/windows97/internal/identity"
)

const keyNamespace = "rl"

// Scopes are rate-limit bucket categories independent from identity.
const (
	ScopeTextHour  = "text-hour"
	ScopeImageHour = "image-hour"
	ScopeChat      = "ai-5h"
)

// Quota is the limit applied to one scope.
type Quota struct {
	Scope  string
	Limit  int
	Window time.Duration
}

// Counter builds the counter for id on endpoint under this quota.
func (q Quota) Counter(endpoint string, id identity.Identity) CounterLimit {
	return CounterLimit{
		Key:    MakeKey(keyNamespace, endpoint, q.Scope, id.Kind, id.Value),
		Window: q.Window,
		Limit:  q.Limit,
	}
}

// AppletPolicy holds the hourly text and image quotas of the applet endpoint.
type AppletPolicy struct {
	AnonText  int
	AnonImage int
	AuthText  int
	AuthImage int
	Window    time.Duration
}

// Quota selects the scope from mode and the limit from the caller kind.
func (p AppletPolicy) Quota(mode string, authenticated bool) Quota {
	if mode == domain.ModeImage {
		limit := p.AnonImage
		if authenticated {
			limit = p.AuthImage
		}
		return Quota{Scope: ScopeImageHour, Limit: limit, Window: p.Window}
	}
	limit := p.AnonText
	if authenticated {
		limit = p.AuthText
	}
	return Quota{Scope: ScopeTextHour, Limit: limit, Window: p.Window}
}

// ChatPolicy is the flat per-identity message cap of the chat endpoint.
type ChatPolicy struct {
	Limit  int
	Window time.Duration
}

func (p ChatPolicy) Quota() Quota {
	return Quota{Scope: ScopeChat, Limit: p.Limit, Window: p.Window}
}

// BypassList is the set of trusted usernames exempt from quotas.
type BypassList map[string]struct{}

func NewBypassList(usernames []string) BypassList {
	list := make(BypassList, len(usernames))
	for _, u := range usernames {
		u = strings.ToLower(strings.TrimSpace(u))
		if u != "" {
			list[u] = struct{}{}
		}
	}
	return list
}

// Contains reports whether the normalized username is trusted.
func (b BypassList) Contains(username string) bool {
	if username == "" {
		return false
	}
	_, ok := b[strings.ToLower(username)]
	return ok
}
