// Package service holds the console's stateful core: the reconciliation
// engine that keeps one page of decisions consistent across REST loads,
// live pushes and metrics polls, and the view shell that owns filters,
// pagination and the stream binding.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/frauddetection/fraudwatch-go/internal/domain"
	"github.com/frauddetection/fraudwatch-go/internal/infra/observability"
	"github.com/frauddetection/fraudwatch-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/engine")

// EngineConfig tunes the reconciliation cadence.
type EngineConfig struct {
	PageSize       int
	PollInterval   time.Duration
	DebounceWindow time.Duration
}

// Engine reconciles three asynchronously arriving inputs into one page
// view: REST loads for the active (filters, page) scope, live decision
// events, and the periodic metrics poll. All state lives behind one
// mutex. Every load is tagged with the scope counter at issue time and a
// result whose tag no longer matches on arrival is discarded — last scope
// wins, not last arrival.
type Engine struct {
	gateway port.DashboardGateway
	metrics *observability.Metrics
	logger  *zap.Logger

	pageSize       int
	pollInterval   time.Duration
	debounceWindow time.Duration

	mu          sync.Mutex
	applied     domain.Filters
	page        int
	scope       uint64
	view        *domain.DecisionPage
	viewErr     error
	snapshot    *domain.MetricsSnapshot
	snapshotErr error

	refreshKick chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
}

// NewEngine creates the engine with its dashboard gateway injected.
func NewEngine(gateway port.DashboardGateway, metrics *observability.Metrics, logger *zap.Logger, cfg EngineConfig) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 2 * time.Second
	}
	return &Engine{
		gateway:        gateway,
		metrics:        metrics,
		logger:         logger,
		pageSize:       cfg.PageSize,
		pollInterval:   cfg.PollInterval,
		debounceWindow: cfg.DebounceWindow,
		refreshKick:    make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
}

// SetScope atomically installs a new (filters, page) scope — resetting
// the meaning of every held total to the new scope — then fetches the
// page and the metrics window in parallel. The swap happens before any
// fetch, so no request can run against the previous pair. Returns only a
// validation error; fetch failures stay scoped and are surfaced via
// Errors alongside the last good data.
func (e *Engine) SetScope(ctx context.Context, filters domain.Filters, page int) error {
	if err := filters.Validate(); err != nil {
		return err
	}
	if page < 0 {
		page = 0
	}

	e.mu.Lock()
	e.applied = filters
	e.page = page
	e.scope++
	scope := e.scope
	e.mu.Unlock()

	e.loadScope(ctx, filters, page, scope)
	return nil
}

// loadScope runs the decisions fetch and the metrics fetch concurrently.
// The two are independent failure domains; neither aborts the other.
func (e *Engine) loadScope(ctx context.Context, filters domain.Filters, page int, scope uint64) {
	ctx, span := tracer.Start(ctx, "Engine.loadScope")
	defer span.End()
	span.SetAttributes(attribute.Int("page.index", page))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		result, err := e.gateway.FetchDecisions(gCtx, filters, page, e.pageSize)
		e.applyLoad(scope, result, err)
		return nil
	})

	g.Go(func() error {
		snapshot, err := e.gateway.FetchMetrics(gCtx, filters.From, filters.To)
		e.applyMetrics(scope, snapshot, err)
		return nil
	})

	_ = g.Wait()
}

// applyLoad installs a fetched page if its scope is still current.
func (e *Engine) applyLoad(scope uint64, page *domain.DecisionPage, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if scope != e.scope {
		e.metrics.IncrStaleLoadDiscarded()
		e.logger.Debug("discarding stale page load",
			zap.Uint64("issued_scope", scope),
			zap.Uint64("current_scope", e.scope),
		)
		return
	}
	if err != nil {
		// Keep the last good page; stale data beats blank data.
		e.viewErr = err
		e.logger.Warn("decision load failed", zap.Error(err))
		return
	}
	e.view = page
	e.viewErr = nil
}

// applyMetrics installs a fetched snapshot if its scope is still current.
// A slow fetch for a superseded filter window must not overwrite the new
// window's numbers.
func (e *Engine) applyMetrics(scope uint64, snapshot *domain.MetricsSnapshot, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if scope != e.scope {
		e.metrics.IncrStaleLoadDiscarded()
		e.logger.Debug("discarding stale metrics refresh",
			zap.Uint64("issued_scope", scope),
			zap.Uint64("current_scope", e.scope),
		)
		return
	}
	if err != nil {
		e.snapshotErr = err
		e.logger.Warn("metrics refresh failed", zap.Error(err))
		return
	}
	e.snapshot = snapshot
	e.snapshotErr = nil
}

// MergeLiveEvent folds a pushed decision into the current view. Events
// are admitted only while the engine sits on page zero and only when the
// decision matches the applied filters; everything else is dropped, never
// queued for later pages. A successful merge schedules a debounced
// metrics refresh.
func (e *Engine) MergeLiveEvent(d domain.Decision) {
	select {
	case <-e.done:
		return
	default:
	}

	e.mu.Lock()
	switch {
	case e.page != 0:
		e.mu.Unlock()
		e.metrics.IncrLiveEvent(observability.LiveEventDroppedPage)
		return
	case !e.applied.Matches(d):
		e.mu.Unlock()
		e.metrics.IncrLiveEvent(observability.LiveEventDroppedFilter)
		return
	case e.view == nil:
		e.mu.Unlock()
		e.metrics.IncrLiveEvent(observability.LiveEventDroppedNoPage)
		return
	}
	e.view.MergeLive(d)
	e.mu.Unlock()

	e.metrics.IncrLiveEvent(observability.LiveEventMerged)
	e.scheduleMetricsRefresh()
}

// scheduleMetricsRefresh coalesces: a kick while one is pending is a no-op.
func (e *Engine) scheduleMetricsRefresh() {
	select {
	case e.refreshKick <- struct{}{}:
	default:
	}
}

// Run drives the metrics cadence: the fixed poll interval plus debounced
// refreshes kicked by live merges. A burst of N merges collapses into one
// refresh per debounce window, so staleness after the last event of a
// burst is bounded by the window and, overall, by the poll interval.
// Returns when ctx is cancelled or the engine is closed.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
			e.refreshMetrics(ctx)
		case <-e.refreshKick:
			if pending == nil {
				pending = time.After(e.debounceWindow)
			}
		case <-pending:
			pending = nil
			e.refreshMetrics(ctx)
		}
	}
}

func (e *Engine) refreshMetrics(ctx context.Context) {
	e.mu.Lock()
	from, to := e.applied.From, e.applied.To
	scope := e.scope
	e.mu.Unlock()

	snapshot, err := e.gateway.FetchMetrics(ctx, from, to)
	e.applyMetrics(scope, snapshot, err)
}

// Close stops Run and makes further live merges no-ops. Idempotent.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
}

// Scope returns the applied filters and page index.
func (e *Engine) Scope() (domain.Filters, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applied, e.page
}

// View returns a copy of the current page. ok is false before the first
// successful load.
func (e *Engine) View() (domain.DecisionPage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.view == nil {
		return domain.DecisionPage{}, false
	}
	page := *e.view
	page.Content = append([]domain.Decision(nil), e.view.Content...)
	return page, true
}

// MetricsView returns a copy of the last metrics snapshot. ok is false
// before the first successful poll.
func (e *Engine) MetricsView() (domain.MetricsSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshot == nil {
		return domain.MetricsSnapshot{}, false
	}
	snapshot := *e.snapshot
	snapshot.TransactionsPerMinute = append([]domain.MinutePoint(nil), e.snapshot.TransactionsPerMinute...)
	return snapshot, true
}

// Errors returns the scoped errors of the two read paths. A non-nil value
// means the corresponding last fetch failed while the held data, if any,
// is from an earlier success.
func (e *Engine) Errors() (decisions, metrics error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewErr, e.snapshotErr
}
