package location

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rbright/safeword/internal/logging"
)

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	// MaxAge is the oldest last-known fix CurrentFix returns without asking
	// the provider. Zero always asks.
	MaxAge time.Duration
	Clock  clock.Clock
	Logger *slog.Logger
}

// Tracker owns the single location subscription and the last known fix.
type Tracker struct {
	provider Provider
	maxAge   time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	last    Fix
	lastErr error
	subs    []func(Fix)
}

// NewTracker wraps provider.
func NewTracker(provider Provider, opts TrackerOptions) *Tracker {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Tracker{
		provider: provider,
		maxAge:   opts.MaxAge,
		clock:    opts.Clock,
		logger:   logging.OrDiscard(opts.Logger).With("component", "location", "provider", provider.Name()),
	}
}

// Start begins watching. Calling Start while already watching is a no-op, so
// at most one subscription is ever active.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return nil
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.lastErr = nil

	updates := make(chan Fix, 4)
	errCh := make(chan error, 1)
	go func() {
		errCh <- t.provider.Watch(watchCtx, updates)
	}()
	go t.loop(watchCtx, updates, errCh, done)

	t.logger.Info("location tracking started")
	return nil
}

func (t *Tracker) loop(ctx context.Context, updates <-chan Fix, errCh <-chan error, done chan struct{}) {
	defer close(done)
	for {
		select {
		case fix := <-updates:
			t.Observe(fix)
		case err := <-errCh:
			t.mu.Lock()
			if t.done == done {
				t.cancel = nil
				t.done = nil
				if err != nil && !errors.Is(err, context.Canceled) {
					t.lastErr = err
				}
			}
			t.mu.Unlock()
			if err != nil && ctx.Err() == nil {
				t.logger.Warn("location watch ended", "error", err.Error())
			}
			return
		}
	}
}

// Stop ends the subscription and waits for the watcher to exit.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	t.logger.Info("location tracking stopped")
}

// Running reports whether a subscription is active.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Err returns why the last subscription ended on its own, if it did.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Subscribe registers fn for every fix. fn runs on the tracker goroutine.
func (t *Tracker) Subscribe(fn func(Fix)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// Observe records fix as the last known position and notifies subscribers.
func (t *Tracker) Observe(fix Fix) {
	if !fix.Known() {
		return
	}
	t.mu.Lock()
	t.last = fix
	subs := slices.Clone(t.subs)
	t.mu.Unlock()

	t.logger.Debug("location update", "lat", fix.Lat, "lon", fix.Lon, "accuracy", fix.Accuracy)
	for _, fn := range subs {
		fn(fix)
	}
}

// LastKnown returns the most recent fix, if any.
func (t *Tracker) LastKnown() (Fix, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.last.Known()
}

// CurrentFix returns a fresh fix. A cached fix younger than MaxAge is reused.
func (t *Tracker) CurrentFix(ctx context.Context) (Fix, error) {
	if last, ok := t.LastKnown(); ok && t.maxAge > 0 && t.clock.Since(last.At) <= t.maxAge {
		return last, nil
	}

	fix, err := t.provider.Current(ctx)
	if err != nil {
		return Unknown, err
	}
	t.Observe(fix)
	return fix, nil
}
