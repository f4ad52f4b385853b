package identity

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

const (
	KindUser = "user"
	KindIP   = "ip"

	// UnknownIP is used when no forwarding header is present.
	UnknownIP = "unknown-ip"
	// LocalDevIP keeps a stable rate-limit identity for local development origins.
	LocalDevIP = "localhost-dev"

	HeaderUsername      = "X-Username"
	HeaderAuthorization = "Authorization"
	bearerPrefix        = "Bearer "
)

// Identity is the auth and rate-limit subject of a request.
type Identity struct {
	Kind  string
	Value string
}

func (i Identity) String() string {
	return i.Kind + ":" + i.Value
}

// Caller holds everything derived from the request headers.
type Caller struct {
	// Username is normalized to lower case; empty means anonymous.
	Username string
	// DisplayName keeps the original casing for logs.
	DisplayName string
	Token       string
	IP          string
}

// Anonymous reports whether no username was claimed.
func (c Caller) Anonymous() bool {
	return c.Username == ""
}

// Identity returns user:<username> for claimed usernames, else ip:<ip>.
// Callers must authenticate a claimed username before relying on it.
func (c Caller) Identity() Identity {
	if c.Username != "" {
		return Identity{Kind: KindUser, Value: c.Username}
	}
	return Identity{Kind: KindIP, Value: c.IP}
}

// Label is used as the per-request log prefix.
func (c Caller) Label() string {
	if c.DisplayName == "" {
		return "anonymous"
	}
	return c.DisplayName
}

// Resolver derives a Caller from request headers.
type Resolver struct {
	platformHeader string
}

// NewResolver creates a resolver preferring platformHeader for the client IP.
func NewResolver(platformHeader string) *Resolver {
	return &Resolver{platformHeader: strings.TrimSpace(platformHeader)}
}

// Resolve never fails; every field is optional.
func (r *Resolver) Resolve(req *http.Request) Caller {
	raw := strings.TrimSpace(req.Header.Get(HeaderUsername))
	return Caller{
		Username:    strings.ToLower(raw),
		DisplayName: raw,
		Token:       bearerToken(req.Header.Get(HeaderAuthorization)),
		IP:          r.clientIP(req),
	}
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

func (r *Resolver) clientIP(req *http.Request) string {
	if IsLocalOrigin(req.Header.Get("Origin")) {
		return LocalDevIP
	}
	if r.platformHeader != "" {
		if v := strings.TrimSpace(req.Header.Get(r.platformHeader)); v != "" {
			return v
		}
	}
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if v := strings.TrimSpace(req.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	return UnknownIP
}

// IsLocalOrigin reports whether origin points at localhost or 127.0.0.1 on any port.
func IsLocalOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return isLocalHostname(u.Hostname())
}

// IsLocalHost reports whether a Host header value is localhost or 127.0.0.1 on any port.
func IsLocalHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if strings.Contains(h, ":") {
		if hostname, _, err := net.SplitHostPort(h); err == nil {
			h = hostname
		}
	}
	return isLocalHostname(h)
}

func isLocalHostname(h string) bool {
	return h == "localhost" || h == "127.0.0.1"
}
