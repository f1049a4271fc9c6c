// Package fsm defines the emergency coordinator phase table.
package fsm

import "fmt"

type Phase string

type Event string

const (
	PhaseIdle                Phase = "idle"
	PhasePendingConfirmation Phase = "pending_confirmation"
	PhaseExecuting           Phase = "executing"
)

const (
	EventTrigger    Event = "trigger"
	EventCancel     Event = "cancel"
	EventExpire     Event = "expire"
	EventDispatched Event = "dispatched"
)

// Transition returns the phase reached by applying event to current.
func Transition(current Phase, event Event) (Phase, error) {
	switch current {
	case PhaseIdle:
		switch event {
		case EventTrigger:
			return PhasePendingConfirmation, nil
		default:
			return current, invalidTransition(current, event)
		}
	case PhasePendingConfirmation:
		switch event {
		case EventCancel:
			return PhaseIdle, nil
		case EventExpire:
			return PhaseExecuting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case PhaseExecuting:
		switch event {
		case EventDispatched:
			return PhaseIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown phase %q", current)
	}
}

func invalidTransition(phase Phase, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", phase, event)
}
