package observability

import (
	"time"

	"github.com/frauddetection/fraudwatch-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the console's own Prometheus metrics: how the
// reconciliation behaves, not what the fraud platform reports.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	fetchDuration    *prometheus.HistogramVec
	fetchErrors      *prometheus.CounterVec
	liveEvents       *prometheus.CounterVec
	staleLoads       prometheus.Counter
	tokenExchanges   *prometheus.CounterVec
	streamReconnects prometheus.Counter
}

// Live-event results for the liveEvents counter.
const (
	LiveEventMerged        = "merged"
	LiveEventDroppedPage   = "dropped_page"
	LiveEventDroppedFilter = "dropped_filter"
	LiveEventDroppedNoPage = "dropped_unloaded"
)

// NewMetrics creates a dedicated Prometheus registry and registers all
// console metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fraudwatch_fetch_duration_seconds",
				Help:    "Duration of dashboard fetches by target.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"target"},
		),
		fetchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudwatch_fetch_errors_total",
				Help: "Total failed dashboard fetches by target.",
			},
			[]string{"target"},
		),
		liveEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudwatch_live_events_total",
				Help: "Total live decision events by merge result.",
			},
			[]string{"result"},
		),
		staleLoads: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fraudwatch_stale_loads_total",
				Help: "Total page loads discarded because their scope was superseded.",
			},
		),
		tokenExchanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudwatch_token_exchanges_total",
				Help: "Total credential exchanges by status.",
			},
			[]string{"status"},
		),
		streamReconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fraudwatch_stream_reconnects_total",
				Help: "Total live stream reconnect attempts.",
			},
		),
	}
}

// RecordFetchDuration records the duration of one dashboard fetch.
func (m *Metrics) RecordFetchDuration(target string, d time.Duration) {
	m.fetchDuration.WithLabelValues(target).Observe(d.Seconds())
}

// IncrFetchError increments the fetch error counter for a target.
func (m *Metrics) IncrFetchError(target string) {
	m.fetchErrors.WithLabelValues(target).Inc()
}

// IncrLiveEvent increments the live event counter with a merge result.
func (m *Metrics) IncrLiveEvent(result string) {
	m.liveEvents.WithLabelValues(result).Inc()
}

// IncrStaleLoadDiscarded increments the stale load counter.
func (m *Metrics) IncrStaleLoadDiscarded() {
	m.staleLoads.Inc()
}

// IncrTokenExchange increments the token exchange counter with a status.
func (m *Metrics) IncrTokenExchange(status string) {
	m.tokenExchanges.WithLabelValues(status).Inc()
}

// IncrStreamReconnect increments the stream reconnect counter.
func (m *Metrics) IncrStreamReconnect() {
	m.streamReconnects.Inc()
}

// GetConsoleSummary returns a snapshot of the console counters suitable
// for the GET /summary endpoint.
func (m *Metrics) GetConsoleSummary() *domain.ConsoleSummary {
	dropped := getCounterValue(m.liveEvents, LiveEventDroppedPage) +
		getCounterValue(m.liveEvents, LiveEventDroppedFilter) +
		getCounterValue(m.liveEvents, LiveEventDroppedNoPage)
	fetchErrors := getCounterValue(m.fetchErrors, string(domain.TargetDecisions)) +
		getCounterValue(m.fetchErrors, string(domain.TargetMetrics))
	exchanges := getCounterValue(m.tokenExchanges, "success") +
		getCounterValue(m.tokenExchanges, "failure")

	return &domain.ConsoleSummary{
		LiveEventsMerged:    int64(getCounterValue(m.liveEvents, LiveEventMerged)),
		LiveEventsDropped:   int64(dropped),
		StaleLoadsDiscarded: int64(counterValue(m.staleLoads)),
		TokenExchanges:      int64(exchanges),
		FetchErrors:         int64(fetchErrors),
		StreamReconnects:    int64(counterValue(m.streamReconnects)),
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return counterValue(cv.WithLabelValues(label))
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
