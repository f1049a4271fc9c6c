// Package event carries runtime notifications from the coordinator and the
// keyword listener to indicators, the control panel, and logs.
package event

import (
	"sync"
	"time"
)

// Kind names an event.
type Kind string

// Event is one runtime notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind             Kind      `json:"kind"`
	At               time.Time `json:"at"`
	Phase            string    `json:"phase,omitempty"`
	Source           string    `json:"source,omitempty"`
	IncidentID       string    `json:"incident_id,omitempty"`
	SecondsRemaining int       `json:"seconds_remaining,omitempty"`
	NotifiedCount    int       `json:"notified_count,omitempty"`
	Location         string    `json:"location,omitempty"`
	Text             string    `json:"text,omitempty"`
	Confidence       float64   `json:"confidence,omitempty"`
	Message          string    `json:"message,omitempty"`
}

// Observer receives events. Implementations must not block for long; events
// are delivered on the emitting goroutine.
type Observer interface {
	HandleEvent(Event)
}

// Func adapts a function to Observer.
type Func func(Event)

func (f Func) HandleEvent(e Event) { f(e) }

// Fanout delivers each event to every registered observer in order.
type Fanout struct {
	mu        sync.RWMutex
	observers []Observer
}

// Add registers observers. Nil values are skipped.
func (f *Fanout) Add(observers ...Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range observers {
		if o != nil {
			f.observers = append(f.observers, o)
		}
	}
}

func (f *Fanout) HandleEvent(e Event) {
	f.mu.RLock()
	observers := f.observers
	f.mu.RUnlock()
	for _, o := range observers {
		o.HandleEvent(e)
	}
}
