// Package speech defines the recognizer contract consumed by the keyword listener
// and the concrete streaming recognizers behind it.
package speech

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrPermissionDenied marks a recognizer failure that will not recover without user action.
	ErrPermissionDenied = errors.New("speech recognition permission denied")
	// ErrUnavailable marks a missing engine, binary, or input device.
	ErrUnavailable = errors.New("speech recognition unavailable")
)

// Utterance is one finalized recognition result.
type Utterance struct {
	Text          string
	Confidence    float64
	HasConfidence bool
	At            time.Time
}

// NewUtterance normalizes raw engine output. A confidence of zero is recorded as unknown.
func NewUtterance(raw string, confidence float64, at time.Time) Utterance {
	u := Utterance{Text: Normalize(raw), At: at}
	if confidence > 0 {
		u.Confidence = confidence
		u.HasConfidence = true
	}
	return u
}

// Session is one live recognition stream. Utterances is closed when the stream ends;
// Wait then reports why.
type Session interface {
	Utterances() <-chan Utterance
	Wait() error
	Close() error
}

// Recognizer opens recognition sessions.
type Recognizer interface {
	Name() string
	Start(ctx context.Context) (Session, error)
}

// IsPermanent reports whether err should disable listening until the user retries.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnavailable)
}

// Normalize trims, lower-cases, and collapses whitespace.
func Normalize(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}
