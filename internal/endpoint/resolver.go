// Package endpoint maps logical backend paths to absolute HTTP and
// WebSocket URLs for the current environment.
package endpoint

import "strings"

const (
	// DefaultDevOrigin is where a local backend listens in development.
	DefaultDevOrigin = "http://localhost:8001"
)

// Resolver turns logical paths (leading "/") into absolute URLs.
// It is pure: same input, same output, no state.
type Resolver struct {
	// Origin is the backend HTTP origin, scheme included.
	Origin string
}

// NewResolver builds a resolver for origin, falling back to the
// development default when origin is empty.
func NewResolver(origin string) *Resolver {
	if origin == "" {
		origin = DefaultDevOrigin
	}
	return &Resolver{Origin: strings.TrimRight(origin, "/")}
}

// HTTP resolves a logical path to an absolute HTTP URL. Inputs that are
// already absolute pass through unchanged.
func (r *Resolver) HTTP(path string) string {
	if isAbsolute(path) {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return r.Origin + path
}

// WS resolves a logical path to an absolute WebSocket URL, matching
// ws:// to http:// and wss:// to https://.
func (r *Resolver) WS(path string) string {
	if isAbsolute(path) {
		return path
	}
	base := r.Origin
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func isAbsolute(s string) bool {
	return strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "ws://") ||
		strings.HasPrefix(s, "wss://")
}
