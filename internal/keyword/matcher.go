// Package keyword turns recognized utterances into confirmed trigger signals.
//
// A whole-word match with confidence at or above the threshold confirms at once.
// Weaker matches need a second match inside the corroboration window.
package keyword

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rbright/safeword/internal/speech"
)

const (
	DefaultKeyword   = "help"
	DefaultThreshold = 0.85
	DefaultWindow    = 10 * time.Second
	minKeywordLength = 2
)

// ErrInvalidKeyword is returned for keywords that cannot be matched.
var ErrInvalidKeyword = errors.New("keyword must be at least 2 characters")

// Reason tags a confirmed signal.
type Reason string

const (
	ReasonConfirmed       Reason = "voice_keyword_confirmed"
	ReasonConfirmedDouble Reason = "voice_keyword_confirmed_double"
)

// Result is the outcome of evaluating one utterance.
type Result struct {
	// Disabled is set when no usable keyword is configured.
	Disabled bool
	// Matched reports a whole-word keyword hit regardless of confidence.
	Matched bool
	// Confirmed reports that the hit should escalate to an emergency trigger.
	Confirmed bool
	Reason    Reason
	// Advisory is set for an unconfirmed low-confidence hit.
	Advisory     bool
	PendingCount int
}

// Options configures a Matcher. Zero values fall back to defaults.
type Options struct {
	Keyword   string
	Threshold float64
	Window    time.Duration
	Clock     clock.Clock
}

// Matcher holds the keyword and corroboration state for one listener.
type Matcher struct {
	threshold float64
	window    time.Duration
	clock     clock.Clock

	mu           sync.Mutex
	keyword      string
	pattern      *regexp.Regexp
	pendingCount int
	lastMatchAt  time.Time
}

// NewMatcher builds a matcher. An invalid keyword leaves matching disabled.
func NewMatcher(opts Options) *Matcher {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	m := &Matcher{
		threshold: opts.Threshold,
		window:    opts.Window,
		clock:     opts.Clock,
	}
	m.SetKeyword(opts.Keyword)
	return m
}

// ValidKeyword checks that word is usable after normalization.
func ValidKeyword(word string) error {
	if len([]rune(Normalize(word))) < minKeywordLength {
		return fmt.Errorf("%w: %q", ErrInvalidKeyword, strings.TrimSpace(word))
	}
	return nil
}

// Normalize lower-cases a keyword and collapses its whitespace the same way
// utterances are normalized.
func Normalize(word string) string {
	return speech.Normalize(word)
}

// SetKeyword stores the normalized keyword and reports whether it changed.
// A change drops any in-flight corroboration.
func (m *Matcher) SetKeyword(word string) bool {
	word = Normalize(word)

	m.mu.Lock()
	defer m.mu.Unlock()

	if word == m.keyword {
		return false
	}

	m.keyword = word
	m.pattern = nil
	if ValidKeyword(word) == nil {
		m.pattern = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	}
	m.resetLocked()
	return true
}

// Keyword returns the normalized keyword.
func (m *Matcher) Keyword() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keyword
}

// Enabled reports whether the current keyword can match.
func (m *Matcher) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pattern != nil
}

// Reset clears corroboration state.
func (m *Matcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

// PendingCount returns the number of uncorroborated low-confidence matches.
func (m *Matcher) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingCount
}

// Evaluate runs one finalized utterance through the matcher.
func (m *Matcher) Evaluate(u speech.Utterance) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pattern == nil {
		return Result{Disabled: true}
	}
	if !m.pattern.MatchString(u.Text) {
		return Result{PendingCount: m.pendingCount}
	}

	if u.HasConfidence && u.Confidence >= m.threshold {
		return Result{Matched: true, Confirmed: true, Reason: ReasonConfirmed, PendingCount: m.pendingCount}
	}

	now := m.clock.Now()
	if !m.lastMatchAt.IsZero() && now.Sub(m.lastMatchAt) < m.window {
		m.pendingCount++
	} else {
		m.pendingCount = 1
	}
	m.lastMatchAt = now

	if m.pendingCount >= 2 {
		m.pendingCount = 0
		return Result{Matched: true, Confirmed: true, Reason: ReasonConfirmedDouble}
	}
	return Result{Matched: true, Advisory: true, PendingCount: m.pendingCount}
}

func (m *Matcher) resetLocked() {
	m.pendingCount = 0
	m.lastMatchAt = time.Time{}
}
