// Package listener keeps a speech recognition session alive and feeds its
// utterances to the keyword matcher. Confirmed keywords become emergency
// triggers; recognizer failures never reach the coordinator.
package listener

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rbright/safeword/internal/event"
	"github.com/rbright/safeword/internal/keyword"
	"github.com/rbright/safeword/internal/logging"
	"github.com/rbright/safeword/internal/speech"
)

const (
	KindUtterance event.Kind = "utterance"
	KindNearMiss  event.Kind = "keyword_near_miss"
	KindConfirmed event.Kind = "keyword_confirmed"
	KindError     event.Kind = "listener_error"
	KindState     event.Kind = "listener_state"
)

// State values carried in KindState events.
const (
	StateListening = "listening"
	StateSuspended = "suspended"
	StateStopped   = "stopped"
	StateDisabled  = "disabled"
)

const nearMissAdvice = "Heard the keyword. Say it again to confirm."

// Trigger starts an emergency. The coordinator satisfies it.
type Trigger interface {
	Trigger(ctx context.Context, source string) bool
}

// Options tunes a Listener.
type Options struct {
	RestartDelay time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
	Observers    []event.Observer
}

// Listener runs the resubscribe loop around one Recognizer.
type Listener struct {
	recognizer speech.Recognizer
	matcher    *keyword.Matcher
	trigger    Trigger
	delay      time.Duration
	clock      clock.Clock
	logger     *slog.Logger
	observers  event.Fanout

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu        sync.Mutex
	running   bool
	suspended int
	wake      chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	session   speech.Session
	immediate bool
	lastErr   error
}

// New builds a stopped listener.
func New(recognizer speech.Recognizer, matcher *keyword.Matcher, trigger Trigger, opts Options) *Listener {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	l := &Listener{
		recognizer: recognizer,
		matcher:    matcher,
		trigger:    trigger,
		delay:      opts.RestartDelay,
		clock:      opts.Clock,
		logger:     logging.OrDiscard(opts.Logger).With("component", "listener"),
	}
	l.observers.Add(opts.Observers...)
	return l
}

// AddObserver registers an event observer.
func (l *Listener) AddObserver(o event.Observer) {
	l.observers.Add(o)
}

// Start begins listening. It is a no-op when already running. The first
// session is opened before returning so a permanent failure (no permission,
// no microphone) is reported to the caller.
func (l *Listener) Start(ctx context.Context) error {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	first, err := l.recognizer.Start(loopCtx)
	if err != nil && speech.IsPermanent(err) {
		cancel()
		l.setErr(err)
		l.logger.Error("speech recognition unavailable", "provider", l.recognizer.Name(), "error", err.Error())
		l.emit(event.Event{Kind: KindError, Message: err.Error()})
		l.emit(event.Event{Kind: KindState, Message: StateDisabled})
		return err
	}

	done := make(chan struct{})
	l.mu.Lock()
	l.running = true
	l.cancel = cancel
	l.done = done
	l.lastErr = err
	l.mu.Unlock()

	l.logger.Info("listening started", "provider", l.recognizer.Name(), "keyword", l.matcher.Keyword())
	l.emitState()
	go l.run(loopCtx, cancel, done, first, err)
	return nil
}

// Stop ends listening and waits for the loop to exit.
func (l *Listener) Stop() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel, done, session := l.cancel, l.done, l.session
	l.mu.Unlock()

	cancel()
	if session != nil {
		_ = session.Close()
	}
	<-done
	l.logger.Info("listening stopped")
	l.emitState()
}

// Listening reports whether a recognition loop is active and not suspended.
func (l *Listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running && l.suspended == 0
}

// LastError returns the most recent recognizer failure.
func (l *Listener) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Keyword returns the active normalized keyword.
func (l *Listener) Keyword() string {
	return l.matcher.Keyword()
}

// SetKeyword validates and applies word. A change restarts the active
// session so no audio heard under the old keyword is matched against the new.
func (l *Listener) SetKeyword(word string) (bool, error) {
	if err := keyword.ValidKeyword(word); err != nil {
		return false, err
	}
	if !l.matcher.SetKeyword(word) {
		return false, nil
	}
	l.logger.Info("keyword changed", "keyword", l.matcher.Keyword())

	l.mu.Lock()
	session := l.session
	if session != nil {
		l.immediate = true
	}
	l.mu.Unlock()
	if session != nil {
		_ = session.Close()
	}
	return true, nil
}

// Suspend releases the microphone until the matching Resume. It blocks until
// the active session has closed.
func (l *Listener) Suspend() {
	l.mu.Lock()
	l.suspended++
	first := l.suspended == 1
	if first {
		l.wake = make(chan struct{})
	}
	session := l.session
	l.mu.Unlock()

	if !first {
		return
	}
	if session != nil {
		_ = session.Close()
	}
	l.logger.Debug("listening suspended")
	l.emitState()
}

// Resume undoes one Suspend.
func (l *Listener) Resume() {
	l.mu.Lock()
	if l.suspended == 0 {
		l.mu.Unlock()
		return
	}
	l.suspended--
	last := l.suspended == 0
	if last {
		l.immediate = true
		close(l.wake)
	}
	l.mu.Unlock()

	if last {
		l.logger.Debug("listening resumed")
		l.emitState()
	}
}

func (l *Listener) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, first speech.Session, firstErr error) {
	defer close(done)
	defer cancel()

	session, err := first, firstErr
	for {
		if session != nil {
			l.consume(ctx, session)
			err = session.Wait()
			l.clearSession(session)
		}
		if err != nil && ctx.Err() == nil {
			if l.fail(err) {
				return
			}
		}
		if !l.pause(ctx) || !l.awaitResume(ctx) {
			return
		}

		session, err = l.recognizer.Start(ctx)
		if err != nil {
			session = nil
		}
	}
}

// consume publishes the session and feeds its utterances to the matcher.
func (l *Listener) consume(ctx context.Context, session speech.Session) {
	l.mu.Lock()
	l.session = session
	closeNow := l.suspended > 0 || ctx.Err() != nil
	l.mu.Unlock()
	if closeNow {
		_ = session.Close()
	}

	for u := range session.Utterances() {
		l.handle(ctx, u)
	}
}

func (l *Listener) handle(ctx context.Context, u speech.Utterance) {
	l.logger.Debug("utterance", "text", u.Text, "confidence", u.Confidence)
	l.emit(event.Event{Kind: KindUtterance, Text: u.Text, Confidence: u.Confidence})

	result := l.matcher.Evaluate(u)
	switch {
	case result.Confirmed:
		l.logger.Info("keyword confirmed", "keyword", l.matcher.Keyword(), "reason", string(result.Reason), "confidence", u.Confidence)
		l.emit(event.Event{Kind: KindConfirmed, Source: string(result.Reason), Text: u.Text, Confidence: u.Confidence})
		if !l.trigger.Trigger(ctx, string(result.Reason)) {
			l.logger.Info("trigger ignored; emergency already in progress")
		}
	case result.Advisory:
		l.logger.Info("keyword heard below threshold", "keyword", l.matcher.Keyword(), "confidence", u.Confidence, "pending", result.PendingCount)
		l.emit(event.Event{Kind: KindNearMiss, Text: u.Text, Confidence: u.Confidence, Message: nearMissAdvice})
	}
}

func (l *Listener) clearSession(session speech.Session) {
	l.mu.Lock()
	if l.session == session {
		l.session = nil
	}
	l.mu.Unlock()
}

// fail records err and reports whether it disabled the listener.
func (l *Listener) fail(err error) bool {
	permanent := speech.IsPermanent(err)

	l.mu.Lock()
	l.lastErr = err
	if permanent {
		l.running = false
	}
	l.mu.Unlock()

	l.emit(event.Event{Kind: KindError, Message: err.Error()})
	if !permanent {
		l.logger.Warn("recognition session failed; resubscribing", "error", err.Error())
		return false
	}
	l.logger.Error("speech recognition disabled", "error", err.Error())
	l.emit(event.Event{Kind: KindState, Message: StateDisabled})
	return true
}

// pause waits out the restart delay unless an immediate restart was requested.
func (l *Listener) pause(ctx context.Context) bool {
	l.mu.Lock()
	immediate := l.immediate
	l.immediate = false
	l.mu.Unlock()

	if immediate || l.delay <= 0 {
		return ctx.Err() == nil
	}
	timer := l.clock.Timer(l.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (l *Listener) awaitResume(ctx context.Context) bool {
	for {
		l.mu.Lock()
		suspended, wake := l.suspended > 0, l.wake
		l.mu.Unlock()
		if !suspended {
			return ctx.Err() == nil
		}
		select {
		case <-ctx.Done():
			return false
		case <-wake:
		}
	}
}

func (l *Listener) setErr(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
}

func (l *Listener) emitState() {
	l.mu.Lock()
	state := StateStopped
	switch {
	case l.running && l.suspended > 0:
		state = StateSuspended
	case l.running:
		state = StateListening
	}
	l.mu.Unlock()
	l.emit(event.Event{Kind: KindState, Message: state})
}

func (l *Listener) emit(e event.Event) {
	e.At = l.clock.Now()
	l.observers.HandleEvent(e)
}
