package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/frauddetection/fraudwatch-go/internal/domain"
	"github.com/frauddetection/fraudwatch-go/internal/infra/observability"
	"github.com/frauddetection/fraudwatch-go/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

// DashboardClient issues decision and metrics queries against the fraud
// platform's dashboard API, resolving a bearer token for every call. It
// does not retry and does not cache: the circuit breaker only fails fast,
// and retry policy belongs to the caller.
type DashboardClient struct {
	httpClient *http.Client
	baseURL    string
	tokens     port.TokenSource
	cb         *gobreaker.CircuitBreaker
	metrics    *observability.Metrics
}

// NewDashboardClient creates a new DashboardClient.
func NewDashboardClient(httpClient *http.Client, baseURL string, tokens port.TokenSource, cb *gobreaker.CircuitBreaker, metrics *observability.Metrics) *DashboardClient {
	return &DashboardClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		tokens:     tokens,
		cb:         cb,
		metrics:    metrics,
	}
}

// FetchDecisions fetches one filtered, paginated decision page.
func (c *DashboardClient) FetchDecisions(ctx context.Context, filters domain.Filters, page, size int) (*domain.DecisionPage, error) {
	ctx, span := tracer.Start(ctx, "DashboardClient.FetchDecisions")
	defer span.End()
	span.SetAttributes(attribute.Int("page.index", page), attribute.Int("page.size", size))

	q := filters.QueryValues()
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var decisionPage domain.DecisionPage
	if err := c.get(ctx, string(domain.TargetDecisions), "/api/v1/dashboard/decisions", q, &decisionPage); err != nil {
		return nil, &domain.ErrFetchFailed{Target: domain.TargetDecisions, Err: err}
	}
	return &decisionPage, nil
}

// FetchMetrics fetches the aggregate metrics snapshot for a window. Blank
// or unparseable bounds are omitted, yielding an unbounded window.
func (c *DashboardClient) FetchMetrics(ctx context.Context, from, to string) (*domain.MetricsSnapshot, error) {
	ctx, span := tracer.Start(ctx, "DashboardClient.FetchMetrics")
	defer span.End()

	q := url.Values{}
	if stamp, ok := domain.NormalizeTimestamp(from); ok {
		q.Set("from", stamp)
	}
	if stamp, ok := domain.NormalizeTimestamp(to); ok {
		q.Set("to", stamp)
	}

	var snapshot domain.MetricsSnapshot
	if err := c.get(ctx, string(domain.TargetMetrics), "/api/v1/dashboard/metrics", q, &snapshot); err != nil {
		return nil, &domain.ErrFetchFailed{Target: domain.TargetMetrics, Err: err}
	}
	return &snapshot, nil
}

func (c *DashboardClient) get(ctx context.Context, target, path string, q url.Values, out any) error {
	start := time.Now()
	defer func() {
		c.metrics.RecordFetchDuration(target, time.Since(start))
	}()

	_, err := c.cb.Execute(func() (any, error) {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}

		requestURL := c.baseURL + path
		if encoded := q.Encode(); encoded != "" {
			requestURL += "?" + encoded
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("dashboard API returned status %d", resp.StatusCode)
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	if err != nil {
		c.metrics.IncrFetchError(target)
	}
	return err
}
