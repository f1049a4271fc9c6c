// Package emergency owns the trigger -> countdown -> dispatch lifecycle.
package emergency

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/rbright/safeword/internal/backend"
	"github.com/rbright/safeword/internal/event"
	"github.com/rbright/safeword/internal/fsm"
	"github.com/rbright/safeword/internal/location"
	"github.com/rbright/safeword/internal/logging"
)

const (
	DefaultCountdown  = 5
	DefaultFixTimeout = 3 * time.Second

	triggerTypePrefix = "emergency_sos_"
)

// Notifier delivers alerts to the backend.
type Notifier interface {
	Notify(context.Context, backend.Alert) (backend.NotifyResult, error)
}

// Locator starts position tracking and answers fresh-fix requests.
type Locator interface {
	Start(context.Context) error
	CurrentFix(context.Context) (location.Fix, error)
}

// EvidenceRecorder captures and uploads one incident clip.
type EvidenceRecorder interface {
	Record(ctx context.Context, incidentID string) error
}

// Indicator is the coordinator-facing subset of user feedback.
type Indicator interface {
	ShowCountdown(ctx context.Context, source string, secondsRemaining int)
	ShowActive(ctx context.Context, source string)
	ShowCancelled(ctx context.Context)
	ShowDispatched(ctx context.Context, notified int)
	ShowWarning(ctx context.Context, text string)
}

type noopIndicator struct{}

func (noopIndicator) ShowCountdown(context.Context, string, int) {}
func (noopIndicator) ShowActive(context.Context, string)         {}
func (noopIndicator) ShowCancelled(context.Context)              {}
func (noopIndicator) ShowDispatched(context.Context, int)        {}
func (noopIndicator) ShowWarning(context.Context, string)        {}

type noopLocator struct{}

func (noopLocator) Start(context.Context) error { return nil }
func (noopLocator) CurrentFix(context.Context) (location.Fix, error) {
	return location.Unknown, location.ErrUnavailable
}

// Options wires a Coordinator. Notifier is required; the rest default to no-ops.
type Options struct {
	Notifier  Notifier
	Locator   Locator
	Recorder  EvidenceRecorder
	Indicator Indicator
	Observers []event.Observer
	Clock     clock.Clock
	Logger    *slog.Logger

	// CountdownSeconds is the cancel window. Zero means DefaultCountdown.
	CountdownSeconds int
	FixTimeout       time.Duration
	NewIncidentID    func() string
}

// Snapshot is a point-in-time view of coordinator state.
type Snapshot struct {
	Phase            fsm.Phase `json:"phase"`
	PendingSource    string    `json:"pending_source,omitempty"`
	SecondsRemaining int       `json:"seconds_remaining,omitempty"`
	LastKnown        string    `json:"last_known_location"`
	LastIncidentID   string    `json:"last_incident_id,omitempty"`
	LastNotified     int       `json:"last_notified_count"`
	LastDispatchErr  string    `json:"last_dispatch_error,omitempty"`
}

// Coordinator serializes emergency triggers. Only one countdown or dispatch
// is ever in flight; triggers outside Idle are ignored.
type Coordinator struct {
	notifier   Notifier
	locator    Locator
	recorder   EvidenceRecorder
	indicator  Indicator
	observers  event.Fanout
	clock      clock.Clock
	logger     *slog.Logger
	countdown  int
	fixTimeout time.Duration
	newID      func() string

	mu            sync.Mutex
	phase         fsm.Phase
	pendingSource string
	remaining     int
	generation    uint64
	stopCountdown context.CancelFunc
	lastKnown     location.Fix
	lastIncident  string
	lastNotified  int
	lastErr       string

	wg sync.WaitGroup
}

// NewCoordinator constructs an idle coordinator.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Locator == nil {
		opts.Locator = noopLocator{}
	}
	if opts.Indicator == nil {
		opts.Indicator = noopIndicator{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.CountdownSeconds <= 0 {
		opts.CountdownSeconds = DefaultCountdown
	}
	if opts.FixTimeout <= 0 {
		opts.FixTimeout = DefaultFixTimeout
	}
	if opts.NewIncidentID == nil {
		opts.NewIncidentID = uuid.NewString
	}

	c := &Coordinator{
		notifier:   opts.Notifier,
		locator:    opts.Locator,
		recorder:   opts.Recorder,
		indicator:  opts.Indicator,
		clock:      opts.Clock,
		logger:     logging.OrDiscard(opts.Logger).With("component", "emergency"),
		countdown:  opts.CountdownSeconds,
		fixTimeout: opts.FixTimeout,
		newID:      opts.NewIncidentID,
		phase:      fsm.PhaseIdle,
	}
	c.observers.Add(opts.Observers...)
	return c
}

// AddObserver registers more observers after construction.
func (c *Coordinator) AddObserver(observers ...event.Observer) {
	c.observers.Add(observers...)
}

// Phase returns the current phase.
func (c *Coordinator) Phase() fsm.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// PendingSource returns the source of the trigger awaiting confirmation.
func (c *Coordinator) PendingSource() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingSource
}

// Snapshot returns the current state for status reporting.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Phase:           c.phase,
		PendingSource:   c.pendingSource,
		LastKnown:       c.lastKnown.String(),
		LastIncidentID:  c.lastIncident,
		LastNotified:    c.lastNotified,
		LastDispatchErr: c.lastErr,
	}
	if c.phase == fsm.PhasePendingConfirmation {
		s.SecondsRemaining = c.remaining
	}
	return s
}

// ObserveLocation records fix as the last known position.
func (c *Coordinator) ObserveLocation(fix location.Fix) {
	if !fix.Known() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastKnown = fix
}

// LastKnown returns the last observed fix.
func (c *Coordinator) LastKnown() (location.Fix, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastKnown, c.lastKnown.Known()
}

// Trigger starts the cancel countdown for source. It reports false and does
// nothing unless the coordinator is idle.
func (c *Coordinator) Trigger(ctx context.Context, source string) bool {
	c.mu.Lock()
	next, err := fsm.Transition(c.phase, fsm.EventTrigger)
	if err != nil {
		phase := c.phase
		c.mu.Unlock()
		c.logger.Info("trigger ignored", "source", source, "phase", string(phase))
		return false
	}

	c.phase = next
	c.pendingSource = source
	c.remaining = c.countdown
	c.generation++
	gen := c.generation
	countdownCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.stopCountdown = cancel
	ticker := c.clock.Ticker(time.Second)
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Warn("emergency triggered", "source", source, "countdown_s", c.countdown)
	c.indicator.ShowCountdown(countdownCtx, source, c.countdown)
	c.emit(event.Event{Kind: KindTriggered, Phase: string(next), Source: source, SecondsRemaining: c.countdown})
	c.emit(event.Event{Kind: KindCountdownTick, Phase: string(next), Source: source, SecondsRemaining: c.countdown})

	go c.runCountdown(countdownCtx, ticker, gen, source)
	return true
}

// Cancel aborts a pending countdown. It reports false outside
// PendingConfirmation. Once Cancel returns true no dispatch can happen for
// the cancelled trigger.
func (c *Coordinator) Cancel(ctx context.Context) bool {
	c.mu.Lock()
	next, err := fsm.Transition(c.phase, fsm.EventCancel)
	if err != nil {
		phase := c.phase
		c.mu.Unlock()
		c.logger.Info("cancel ignored", "phase", string(phase))
		return false
	}

	source := c.pendingSource
	c.phase = next
	c.pendingSource = ""
	c.remaining = 0
	c.generation++
	stop := c.stopCountdown
	c.stopCountdown = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.logger.Info("emergency cancelled", "source", source)
	c.indicator.ShowCancelled(ctx)
	c.emit(event.Event{Kind: KindCancelled, Phase: string(next), Source: source})
	return true
}

// Wait blocks until countdowns, dispatches, and evidence recordings finish.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels any pending countdown and waits for in-flight work.
func (c *Coordinator) Close() {
	c.Cancel(context.Background())
	c.Wait()
}

func (c *Coordinator) runCountdown(ctx context.Context, ticker *clock.Ticker, gen uint64, source string) {
	defer c.wg.Done()
	defer ticker.Stop()

	remaining := c.countdown
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining--
			if remaining > 0 {
				if !c.tick(ctx, gen, source, remaining) {
					return
				}
				continue
			}
			if incident, ok := c.expire(gen); ok {
				c.dispatch(context.WithoutCancel(ctx), source, incident)
			}
			return
		}
	}
}

func (c *Coordinator) tick(ctx context.Context, gen uint64, source string, remaining int) bool {
	c.mu.Lock()
	if c.generation != gen || c.phase != fsm.PhasePendingConfirmation {
		c.mu.Unlock()
		return false
	}
	c.remaining = remaining
	c.mu.Unlock()

	c.indicator.ShowCountdown(ctx, source, remaining)
	c.emit(event.Event{
		Kind:             KindCountdownTick,
		Phase:            string(fsm.PhasePendingConfirmation),
		Source:           source,
		SecondsRemaining: remaining,
	})
	return true
}

// expire moves Pending -> Executing if gen is still the live trigger.
func (c *Coordinator) expire(gen uint64) (string, bool) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return "", false
	}
	next, err := fsm.Transition(c.phase, fsm.EventExpire)
	if err != nil {
		c.mu.Unlock()
		return "", false
	}
	c.phase = next
	c.remaining = 0
	c.stopCountdown = nil
	incident := c.newID()
	c.lastIncident = incident
	source := c.pendingSource
	c.mu.Unlock()

	c.emit(event.Event{Kind: KindCountdownExpired, Phase: string(next), Source: source, IncidentID: incident})
	return incident, true
}

func (c *Coordinator) dispatch(ctx context.Context, source string, incident string) {
	triggerType := triggerTypePrefix + source
	logger := c.logger.With("incident_id", incident, "source", source)

	c.indicator.ShowActive(ctx, source)

	if err := c.locator.Start(ctx); err != nil {
		logger.Warn("start location tracking failed", "error", err.Error())
	}

	if c.recorder != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.recorder.Record(ctx, incident); err != nil {
				logger.Error("evidence capture failed", "error", err.Error())
				c.emit(event.Event{Kind: KindEvidenceFailed, Source: source, IncidentID: incident, Message: err.Error()})
				return
			}
			c.emit(event.Event{Kind: KindEvidenceSaved, Source: source, IncidentID: incident})
		}()
	}

	fix := c.freshFix(ctx, logger)

	var (
		result backend.NotifyResult
		err    error
	)
	if c.notifier == nil {
		err = errNoNotifier
	} else {
		result, err = c.notifier.Notify(ctx, backend.Alert{Fix: fix, Type: triggerType, IncidentID: incident})
	}

	c.mu.Lock()
	next, transitionErr := fsm.Transition(c.phase, fsm.EventDispatched)
	if transitionErr == nil {
		c.phase = next
	} else {
		c.phase = fsm.PhaseIdle
	}
	c.pendingSource = ""
	c.lastNotified = result.NotifiedCount
	c.lastErr = ""
	if err != nil {
		c.lastErr = err.Error()
	}
	c.mu.Unlock()

	base := event.Event{
		Phase:         string(fsm.PhaseIdle),
		Source:        source,
		IncidentID:    incident,
		Location:      fix.String(),
		NotifiedCount: result.NotifiedCount,
	}

	switch {
	case err != nil:
		logger.Error("emergency dispatch failed", "type", triggerType, "location", fix.String(), "error", err.Error())
		c.indicator.ShowWarning(ctx, "Alert could not be sent")
		base.Kind = KindDispatchFailed
		base.Message = err.Error()
	case result.NotifiedCount == 0:
		logger.Warn("emergency dispatched but no contacts were notified", "type", triggerType, "location", fix.String())
		c.indicator.ShowWarning(ctx, "No emergency contacts were notified")
		base.Kind = KindNoContacts
		base.Message = "no emergency contacts were notified"
	default:
		logger.Warn("emergency dispatched", "type", triggerType, "location", fix.String(), "notified_count", result.NotifiedCount)
		c.indicator.ShowDispatched(ctx, result.NotifiedCount)
		base.Kind = KindDispatched
	}
	c.emit(base)
}

// freshFix asks for a current position, bounded by fixTimeout, and falls back
// to the last known fix and then to Unknown.
func (c *Coordinator) freshFix(ctx context.Context, logger *slog.Logger) location.Fix {
	fixCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := c.clock.Timer(c.fixTimeout)
	defer timer.Stop()

	type answer struct {
		fix location.Fix
		err error
	}
	answers := make(chan answer, 1)
	go func() {
		fix, err := c.locator.CurrentFix(fixCtx)
		answers <- answer{fix: fix, err: err}
	}()

	select {
	case a := <-answers:
		if a.err == nil && a.fix.Known() {
			c.ObserveLocation(a.fix)
			return a.fix
		}
		if a.err != nil {
			logger.Warn("fresh location fix failed", "error", a.err.Error())
		}
	case <-timer.C:
		logger.Warn("fresh location fix timed out", "timeout_ms", c.fixTimeout.Milliseconds())
	}

	if last, ok := c.LastKnown(); ok {
		return last
	}
	return location.Unknown
}

func (c *Coordinator) emit(e event.Event) {
	if e.At.IsZero() {
		e.At = c.clock.Now()
	}
	c.observers.HandleEvent(e)
}
