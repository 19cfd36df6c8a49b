// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service layer
// from the concrete HTTP clients.
package port

import (
	"context"

	"github.com/frauddetection/fraudwatch-go/internal/domain"
)

// TokenSource supplies a valid bearer token for outbound calls. Safe for
// concurrent use; implementations own caching and refresh.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// DecisionFetcher retrieves one filtered, paginated decision page.
type DecisionFetcher interface {
	FetchDecisions(ctx context.Context, filters domain.Filters, page, size int) (*domain.DecisionPage, error)
}

// MetricsFetcher retrieves the aggregate metrics snapshot for a window.
// Blank bounds mean an unbounded window.
type MetricsFetcher interface {
	FetchMetrics(ctx context.Context, from, to string) (*domain.MetricsSnapshot, error)
}

// DashboardGateway groups the two dashboard read paths.
type DashboardGateway interface {
	DecisionFetcher
	MetricsFetcher
}

// StreamHandle controls one live feed connection. Close is idempotent and
// guarantees no callback fires after it returns.
type StreamHandle interface {
	Close()
}

// StreamOpener opens a live decision feed. The handle never reconnects on
// its own; once Disconnected is reported it is terminal for that handle
// and the owner decides whether to open a new one.
type StreamOpener interface {
	Open(ctx context.Context, onEvent func(domain.Decision), onState func(domain.StreamState)) (StreamHandle, error)
}
