package service

import (
	"context"
	"sync"

	"github.com/frauddetection/fraudwatch-go/internal/domain"
	"github.com/frauddetection/fraudwatch-go/internal/infra/observability"
	"github.com/frauddetection/fraudwatch-go/internal/infra/resilience"
	"github.com/frauddetection/fraudwatch-go/internal/port"

	"go.uber.org/zap"
)

// Console is the view shell on top of the engine. It keeps the draft
// filters the operator is editing, applies them as a whole, pages through
// results, and supervises the live stream binding: every applied scope
// gets a fresh stream, and callbacks from a superseded binding are
// ignored via a generation counter.
//
// Stream supervision runs on the console's own lifecycle context, not the
// caller's: an Apply issued from a short-lived request must not tear the
// live feed down when that request ends. The caller's context governs
// only the synchronous load it triggered.
type Console struct {
	engine  *Engine
	stream  port.StreamOpener
	metrics *observability.Metrics
	logger  *zap.Logger

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	retry     resilience.Config
	reconnect bool

	mu     sync.Mutex
	draft  domain.Filters
	gen    uint64
	handle port.StreamHandle
	status domain.StreamState
	closed bool
}

// ConsoleConfig tunes stream supervision.
type ConsoleConfig struct {
	Retry     resilience.Config
	Reconnect bool
}

func NewConsole(engine *Engine, stream port.StreamOpener, metrics *observability.Metrics, logger *zap.Logger, cfg ConsoleConfig) *Console {
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	return &Console{
		engine:     engine,
		stream:     stream,
		metrics:    metrics,
		logger:     logger,
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		retry:      cfg.Retry,
		reconnect:  cfg.Reconnect,
		status:     domain.StreamDisconnected,
	}
}

// Start performs the initial load with empty filters and binds the stream.
func (c *Console) Start(ctx context.Context) error {
	return c.Apply(ctx, domain.Filters{})
}

// EditDraft replaces the draft filters. Editing never triggers a fetch;
// the active scope changes only on Apply.
func (c *Console) EditDraft(filters domain.Filters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = filters
}

// Draft returns the filters currently being edited.
func (c *Console) Draft() domain.Filters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Apply promotes the given filters to the applied scope, resets to page
// zero and rebinds the stream. An invalid time window is rejected before
// any fetch or stream action, leaving the applied scope untouched.
func (c *Console) Apply(ctx context.Context, filters domain.Filters) error {
	if err := filters.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.draft = filters
	c.mu.Unlock()

	if err := c.engine.SetScope(ctx, filters, 0); err != nil {
		return err
	}
	c.bindStream()
	return nil
}

// Reset clears both draft and applied filters and reloads page zero.
func (c *Console) Reset(ctx context.Context) error {
	return c.Apply(ctx, domain.Filters{})
}

// NextPage advances one page unless the current page is the last.
func (c *Console) NextPage(ctx context.Context) error {
	filters, page := c.engine.Scope()
	if view, ok := c.engine.View(); ok && view.Last {
		return nil
	}
	return c.engine.SetScope(ctx, filters, page+1)
}

// PrevPage steps back one page, clamped at zero.
func (c *Console) PrevPage(ctx context.Context) error {
	filters, page := c.engine.Scope()
	if page == 0 {
		return nil
	}
	return c.engine.SetScope(ctx, filters, page-1)
}

// StreamStatus reports the state of the current stream binding.
func (c *Console) StreamStatus() domain.StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// bindStream retires the previous binding and spawns a supervisor for a
// new one under the next generation. The supervisor outlives whatever
// call triggered the rebind, so it runs on the lifecycle context.
func (c *Console) bindStream() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	old := c.handle
	c.handle = nil
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go c.runStream(c.lifeCtx, gen)
}

// runStream opens the stream, with retries, and waits for it to reach its
// terminal Disconnected state; if reconnect is enabled it then binds a
// fresh connection under the same generation. The loop exits when the
// generation is superseded or the console closes.
func (c *Console) runStream(ctx context.Context, gen uint64) {
	for {
		if !c.currentGen(gen) {
			return
		}

		done := make(chan struct{})
		var once sync.Once
		finish := func() { once.Do(func() { close(done) }) }

		onEvent := func(d domain.Decision) {
			if c.currentGen(gen) {
				c.engine.MergeLiveEvent(d)
			}
		}
		onState := func(s domain.StreamState) {
			c.setStatus(gen, s)
			if s == domain.StreamDisconnected {
				finish()
			}
		}

		var handle port.StreamHandle
		err := resilience.RetryWithBackoff(ctx, c.retry, func() error {
			h, openErr := c.stream.Open(ctx, onEvent, onState)
			if openErr != nil {
				c.metrics.IncrStreamReconnect()
				return openErr
			}
			handle = h
			return nil
		})
		if err != nil {
			c.logger.Warn("live stream unavailable", zap.Error(err))
			c.setStatus(gen, domain.StreamDisconnected)
			return
		}
		if !c.adoptHandle(gen, handle) {
			handle.Close()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-done:
		}

		if !c.reconnect || !c.currentGen(gen) {
			return
		}
		c.metrics.IncrStreamReconnect()
		c.logger.Info("rebinding live stream", zap.Uint64("generation", gen))
	}
}

func (c *Console) currentGen(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.gen == gen
}

func (c *Console) setStatus(gen uint64, s domain.StreamState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.gen != gen {
		return
	}
	c.status = s
}

func (c *Console) adoptHandle(gen uint64, h port.StreamHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.gen != gen {
		return false
	}
	c.handle = h
	return true
}

// Close tears down the stream binding and the engine. Idempotent;
// callbacks from the retired binding are silently dropped afterwards.
func (c *Console) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	handle := c.handle
	c.handle = nil
	c.status = domain.StreamDisconnected
	c.mu.Unlock()

	c.lifeCancel()
	if handle != nil {
		handle.Close()
	}
	c.engine.Close()
}
