package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/frauddetection/fraudwatch-go/internal/domain"
	"github.com/frauddetection/fraudwatch-go/internal/infra/observability"
	"github.com/frauddetection/fraudwatch-go/internal/service"

	"go.uber.org/zap"
)

// --- Mocks ---

// mockGateway scripts the dashboard responses. A non-nil gate channel
// makes FetchDecisions block until released, which lets tests overlap an
// in-flight load with a scope change.
type mockGateway struct {
	mu          sync.Mutex
	pages       map[int]*domain.DecisionPage
	pageErr     error
	snapshot    *domain.MetricsSnapshot
	snapshots   map[string]*domain.MetricsSnapshot // keyed by the raw from bound
	snapshotErr error
	gate        chan struct{}
	metricsGate chan struct{}

	decisionCalls atomic.Int64
	metricsCalls  atomic.Int64
	lastFilters   domain.Filters
}

func (m *mockGateway) FetchDecisions(ctx context.Context, filters domain.Filters, page, size int) (*domain.DecisionPage, error) {
	m.decisionCalls.Add(1)
	m.mu.Lock()
	m.lastFilters = filters
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pageErr != nil {
		return nil, m.pageErr
	}
	if p, ok := m.pages[page]; ok {
		copied := *p
		copied.Content = append([]domain.Decision(nil), p.Content...)
		return &copied, nil
	}
	return &domain.DecisionPage{Page: page, Size: size, Last: true}, nil
}

func (m *mockGateway) FetchMetrics(ctx context.Context, from, to string) (*domain.MetricsSnapshot, error) {
	m.metricsCalls.Add(1)
	m.mu.Lock()
	gate := m.metricsGate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshotErr != nil {
		return nil, m.snapshotErr
	}
	if s, ok := m.snapshots[from]; ok {
		copied := *s
		return &copied, nil
	}
	if m.snapshot != nil {
		copied := *m.snapshot
		return &copied, nil
	}
	return &domain.MetricsSnapshot{}, nil
}

func (m *mockGateway) setPageErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageErr = err
}

func liveDecision(id string, at time.Time) domain.Decision {
	return domain.Decision{
		TransactionID: id,
		UserID:        "user-1",
		Decision:      domain.DecisionApproved,
		CreatedAt:     at,
	}
}

func firstPage(size int, decisions ...domain.Decision) *domain.DecisionPage {
	return &domain.DecisionPage{
		Content:       decisions,
		Page:          0,
		Size:          size,
		TotalElements: int64(len(decisions)),
		TotalPages:    1,
		Last:          true,
	}
}

func newEngine(gw *mockGateway, cfg service.EngineConfig) *service.Engine {
	return service.NewEngine(gw, observability.NewMetrics(), zap.NewNop(), cfg)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// --- Tests ---

func TestSetScope_LoadsPageAndMetrics(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	gw := &mockGateway{
		pages:    map[int]*domain.DecisionPage{0: firstPage(20, liveDecision("txn-1", base))},
		snapshot: &domain.MetricsSnapshot{TotalTransactions: 9},
	}
	engine := newEngine(gw, service.EngineConfig{})
	defer engine.Close()

	if err := engine.SetScope(context.Background(), domain.Filters{}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	view, ok := engine.View()
	if !ok || len(view.Content) != 1 || view.Content[0].TransactionID != "txn-1" {
		t.Fatalf("unexpected view: %+v ok=%v", view, ok)
	}
	snapshot, ok := engine.MetricsView()
	if !ok || snapshot.TotalTransactions != 9 {
		t.Fatalf("unexpected snapshot: %+v ok=%v", snapshot, ok)
	}
	if decisionsErr, metricsErr := engine.Errors(); decisionsErr != nil || metricsErr != nil {
		t.Errorf("expected no scoped errors, got %v / %v", decisionsErr, metricsErr)
	}
}

func TestSetScope_RejectsInvalidWindowBeforeFetch(t *testing.T) {
	gw := &mockGateway{}
	engine := newEngine(gw, service.EngineConfig{})
	defer engine.Close()

	err := engine.SetScope(context.Background(), domain.Filters{
		From: "2026-08-30T12:00",
		To:   "2026-08-29T12:00",
	}, 0)

	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if gw.decisionCalls.Load() != 0 || gw.metricsCalls.Load() != 0 {
		t.Errorf("expected no fetches for invalid filters, got %d/%d",
			gw.decisionCalls.Load(), gw.metricsCalls.Load())
	}
}

func TestSetScope_StaleLoadDiscarded(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	gate := make(chan struct{})
	gw := &mockGateway{
		pages: map[int]*domain.DecisionPage{
			0: firstPage(20, liveDecision("txn-old", base)),
			1: firstPage(20, liveDecision("txn-new", base)),
		},
		gate: gate,
	}
	engine := newEngine(gw, service.EngineConfig{})
	defer engine.Close()

	// First load blocks on the gate while the second scope supersedes it.
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- engine.SetScope(context.Background(), domain.Filters{}, 0)
	}()
	waitFor(t, 2*time.Second, func() bool { return gw.decisionCalls.Load() >= 1 })

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- engine.SetScope(context.Background(), domain.Filters{}, 1)
	}()
	waitFor(t, 2*time.Second, func() bool { return gw.decisionCalls.Load() >= 2 })

	close(gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := <-secondDone; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Whichever fetch finished last, only the page-1 result may be visible.
	view, ok := engine.View()
	if !ok {
		t.Fatal("expected a loaded view")
	}
	if len(view.Content) != 1 || view.Content[0].TransactionID != "txn-new" {
		t.Errorf("expected superseding scope's rows, got %+v", view.Content)
	}
}

func TestSetScope_StaleMetricsDiscarded(t *testing.T) {
	metricsGate := make(chan struct{})
	gw := &mockGateway{
		pages: map[int]*domain.DecisionPage{0: firstPage(20)},
		snapshots: map[string]*domain.MetricsSnapshot{
			"2026-08-01": {TotalTransactions: 1},
			"2026-08-02": {TotalTransactions: 2},
		},
		metricsGate: metricsGate,
	}
	engine := newEngine(gw, service.EngineConfig{})
	defer engine.Close()

	// Both metrics fetches block on the gate; the second scope supersedes
	// the first before either resolves.
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- engine.SetScope(context.Background(), domain.Filters{From: "2026-08-01"}, 0)
	}()
	waitFor(t, 2*time.Second, func() bool { return gw.metricsCalls.Load() >= 1 })

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- engine.SetScope(context.Background(), domain.Filters{From: "2026-08-02"}, 0)
	}()
	waitFor(t, 2*time.Second, func() bool { return gw.metricsCalls.Load() >= 2 })

	close(metricsGate)
	if err := <-firstDone; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := <-secondDone; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Whichever fetch resolved last, only the superseding window's
	// snapshot may be visible.
	snapshot, ok := engine.MetricsView()
	if !ok {
		t.Fatal("expected a metrics snapshot")
	}
	if snapshot.TotalTransactions != 2 {
		t.Errorf("expected superseding window's snapshot, got %+v", snapshot)
	}
}

func TestSetScope_KeepsLastGoodDataOnFailure(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	gw := &mockGateway{
		pages:    map[int]*domain.DecisionPage{0: firstPage(20, liveDecision("txn-1", base))},
		snapshot: &domain.MetricsSnapshot{TotalTransactions: 9},
	}
	engine := newEngine(gw, service.EngineConfig{})
	defer engine.Close()

	if err := engine.SetScope(context.Background(), domain.Filters{}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gw.setPageErr(&domain.ErrFetchFailed{Target: domain.TargetDecisions, Err: errors.New("boom")})
	if err := engine.SetScope(context.Background(), domain.Filters{}, 0); err != nil {
		t.Fatalf("fetch failure must not surface from SetScope, got %v", err)
	}

	view, ok := engine.View()
	if !ok || len(view.Content) != 1 {
		t.Fatalf("expected last good view retained, got %+v ok=%v", view, ok)
	}
	decisionsErr, metricsErr := engine.Errors()
	if decisionsErr == nil {
		t.Error("expected decisions error to be recorded")
	}
	if metricsErr != nil {
		t.Errorf("metrics path must stay unaffected, got %v", metricsErr)
	}
}

func TestMergeLiveEvent_AdmissionRules(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	gw := &mockGateway{
		pages: map[int]*domain.DecisionPage{
			0: firstPage(20, liveDecision("txn-1", base)),
			1: firstPage(20, liveDecision("txn-2", base)),
		},
	}
	engine := newEngine(gw, service.EngineConfig{})
	defer engine.Close()

	if err := engine.SetScope(context.Background(), domain.Filters{Decision: domain.DecisionApproved}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Matching event on page zero merges.
	engine.MergeLiveEvent(liveDecision("txn-live", base.Add(time.Minute)))
	view, _ := engine.View()
	if len(view.Content) != 2 || view.Content[0].TransactionID != "txn-live" {
		t.Fatalf("expected merged live event first, got %+v", view.Content)
	}

	// Non-matching event is dropped silently.
	blocked := liveDecision("txn-blocked", base.Add(2*time.Minute))
	blocked.Decision = domain.DecisionBlocked
	engine.MergeLiveEvent(blocked)
	view, _ = engine.View()
	if len(view.Content) != 2 {
		t.Errorf("expected filtered event dropped, got %+v", view.Content)
	}

	// Off page zero every event is dropped, matching or not.
	if err := engine.SetScope(context.Background(), domain.Filters{Decision: domain.DecisionApproved}, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	engine.MergeLiveEvent(liveDecision("txn-later", base.Add(3*time.Minute)))
	view, _ = engine.View()
	if len(view.Content) != 1 || view.Content[0].TransactionID != "txn-2" {
		t.Errorf("expected page 1 unchanged by live event, got %+v", view.Content)
	}
}

func TestMergeLiveEvent_SchedulesDebouncedRefresh(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	gw := &mockGateway{
		pages: map[int]*domain.DecisionPage{0: firstPage(20)},
	}
	engine := newEngine(gw, service.EngineConfig{
		PollInterval:   time.Hour, // keep the poll out of the way
		DebounceWindow: 50 * time.Millisecond,
	})
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	if err := engine.SetScope(ctx, domain.Filters{}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	baseline := gw.metricsCalls.Load()

	// A burst of merges within the window coalesces into one refresh.
	for i := 0; i < 5; i++ {
		engine.MergeLiveEvent(liveDecision("txn-"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Second)))
	}

	waitFor(t, 2*time.Second, func() bool { return gw.metricsCalls.Load() > baseline })
	time.Sleep(150 * time.Millisecond)
	if got := gw.metricsCalls.Load() - baseline; got != 1 {
		t.Errorf("expected one coalesced metrics refresh, got %d", got)
	}
}

func TestRun_PollsMetricsOnInterval(t *testing.T) {
	gw := &mockGateway{pages: map[int]*domain.DecisionPage{0: firstPage(20)}}
	engine := newEngine(gw, service.EngineConfig{PollInterval: 30 * time.Millisecond})
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	waitFor(t, 2*time.Second, func() bool { return gw.metricsCalls.Load() >= 3 })
}

func TestClose_StopsRunAndMerges(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	gw := &mockGateway{pages: map[int]*domain.DecisionPage{0: firstPage(20)}}
	engine := newEngine(gw, service.EngineConfig{PollInterval: 10 * time.Millisecond})

	runDone := make(chan struct{})
	go func() {
		engine.Run(context.Background())
		close(runDone)
	}()

	if err := engine.SetScope(context.Background(), domain.Filters{}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	engine.Close()
	engine.Close() // idempotent

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	engine.MergeLiveEvent(liveDecision("txn-late", base))
	view, _ := engine.View()
	if len(view.Content) != 0 {
		t.Errorf("expected merge after Close to be a no-op, got %+v", view.Content)
	}
}
