package emergency

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/rbright/safeword/internal/backend"
	"github.com/rbright/safeword/internal/event"
	"github.com/rbright/safeword/internal/location"
	"github.com/rbright/safeword/internal/logging"
)

const (
	periodicUpdateType = "periodic_update"
	// maxQueuedUpdates bounds the backlog while the backend is slow; the
	// oldest queued fix is dropped first.
	maxQueuedUpdates = 64
)

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Notifier Notifier
	Observer event.Observer
	Logger   *slog.Logger
	Clock    clock.Clock
}

type queuedFix struct {
	ctx context.Context
	fix location.Fix
}

// Monitor forwards tracked fixes to the backend as periodic updates while
// enabled. It never touches coordinator state. Fixes are sent one at a time
// in arrival order.
type Monitor struct {
	notifier Notifier
	observer event.Observer
	logger   *slog.Logger
	clock    clock.Clock

	enabled atomic.Bool

	mu      sync.Mutex
	queue   []queuedFix
	sending bool
	wg      sync.WaitGroup
}

// NewMonitor builds a disabled monitor.
func NewMonitor(opts MonitorOptions) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Monitor{
		notifier: opts.Notifier,
		observer: opts.Observer,
		logger:   logging.OrDiscard(opts.Logger).With("component", "monitor"),
		clock:    opts.Clock,
	}
}

// SetEnabled switches periodic updates on or off.
func (m *Monitor) SetEnabled(enabled bool) {
	if m.enabled.Swap(enabled) != enabled {
		m.logger.Info("periodic updates toggled", "enabled", enabled)
	}
}

// Enabled reports whether fixes are forwarded.
func (m *Monitor) Enabled() bool {
	return m.enabled.Load()
}

// OnFix queues fix for delivery when enabled. It never blocks on the backend.
func (m *Monitor) OnFix(ctx context.Context, fix location.Fix) {
	if !m.Enabled() || !fix.Known() || m.notifier == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) >= maxQueuedUpdates {
		m.logger.Warn("periodic update backlog full; dropping oldest", "location", m.queue[0].fix.String())
		m.queue = m.queue[1:]
	}
	m.queue = append(m.queue, queuedFix{ctx: ctx, fix: fix})
	if m.sending {
		return
	}
	m.sending = true
	m.wg.Add(1)
	go m.drain()
}

func (m *Monitor) drain() {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.sending = false
			m.mu.Unlock()
			return
		}
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.send(next.ctx, next.fix)
	}
}

func (m *Monitor) send(ctx context.Context, fix location.Fix) {
	result, err := m.notifier.Notify(ctx, backend.Alert{Fix: fix, Type: periodicUpdateType})
	e := event.Event{Kind: KindPeriodicUpdate, At: m.clock.Now(), Location: fix.String(), NotifiedCount: result.NotifiedCount}
	if err != nil {
		m.logger.Warn("periodic update failed", "location", fix.String(), "error", err.Error())
		e.Kind = KindPeriodicFailed
		e.Message = err.Error()
	}
	if m.observer != nil {
		m.observer.HandleEvent(e)
	}
}

// Wait blocks until queued updates are sent.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
