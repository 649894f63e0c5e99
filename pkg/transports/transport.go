package transports

import (
	"context"
	"net/http"
)

// Transport accepts client connections and owns their network lifecycle.
// Each accepted connection gets its own session; transports never share
// session state between connections.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	// Addr is the bound listen address once Start has returned.
	Addr() string
}

// HandlerMounter lets callers expose extra HTTP handlers (metrics, debug)
// on the transport's listener. Handlers must be mounted before Start.
type HandlerMounter interface {
	Handle(pattern string, h http.Handler)
}

// ReadyReporter allows transports to expose readiness metadata (e.g., listen URLs).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
