package emergency

import (
	"errors"

	"github.com/rbright/safeword/internal/event"
)

const (
	KindTriggered        event.Kind = "triggered"
	KindCountdownTick    event.Kind = "countdown_tick"
	KindCountdownExpired event.Kind = "countdown_expired"
	KindCancelled        event.Kind = "cancelled"
	KindDispatched       event.Kind = "dispatched"
	KindDispatchFailed   event.Kind = "dispatch_failed"
	KindNoContacts       event.Kind = "no_contacts"
	KindEvidenceSaved    event.Kind = "evidence_saved"
	KindEvidenceFailed   event.Kind = "evidence_failed"
	KindPeriodicUpdate   event.Kind = "periodic_update"
	KindPeriodicFailed   event.Kind = "periodic_update_failed"
)

var errNoNotifier = errors.New("no notifier configured")

// HookFuncs adapts plain callbacks to event.Observer. Nil fields are skipped.
type HookFuncs struct {
	OnCountdownTick func(secondsRemaining int)
	OnExpire        func()
	OnEvent         func(event.Event)
}

func (h HookFuncs) HandleEvent(e event.Event) {
	switch e.Kind {
	case KindCountdownTick:
		if h.OnCountdownTick != nil {
			h.OnCountdownTick(e.SecondsRemaining)
		}
	case KindCountdownExpired:
		if h.OnExpire != nil {
			h.OnExpire()
		}
	}
	if h.OnEvent != nil {
		h.OnEvent(e)
	}
}
