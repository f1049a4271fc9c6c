// Package control is the daemon's command surface. The IPC server and the
// local panel both drive the daemon through a Service.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rbright/safeword/internal/backend"
	"github.com/rbright/safeword/internal/emergency"
	"github.com/rbright/safeword/internal/fsm"
	"github.com/rbright/safeword/internal/ipc"
	"github.com/rbright/safeword/internal/keyword"
	"github.com/rbright/safeword/internal/logging"
)

// Trigger sources for manual requests.
const (
	SourceCLI   = "manual_cli"
	SourcePanel = "manual_panel"
)

var (
	ErrBusy            = errors.New("an emergency is already in progress")
	ErrNothingToCancel = errors.New("no emergency countdown to cancel")
	ErrNoContacts      = errors.New("contacts are unavailable")
)

// Coordinator is the emergency state machine.
type Coordinator interface {
	Trigger(ctx context.Context, source string) bool
	Cancel(ctx context.Context) bool
	Snapshot() emergency.Snapshot
}

// Listener is the keyword listening loop.
type Listener interface {
	Start(ctx context.Context) error
	Stop()
	Listening() bool
	LastError() error
	Keyword() string
	SetKeyword(word string) (bool, error)
}

// Tracker owns the location subscription.
type Tracker interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
}

// Monitor toggles periodic location updates.
type Monitor interface {
	SetEnabled(enabled bool)
	Enabled() bool
}

type KeywordStore interface {
	SaveKeyword(word string) error
}

type ContactLister interface {
	Contacts(ctx context.Context) ([]backend.Contact, error)
}

// Options wires a Service. Coordinator is required. Without a Listener the
// keyword is only persisted; without a Tracker or Monitor monitoring only
// controls the listener.
type Options struct {
	Coordinator Coordinator
	Listener    Listener
	Tracker     Tracker
	Monitor     Monitor
	Store       KeywordStore
	Contacts    ContactLister
	Logger      *slog.Logger
}

// Status is the JSON view returned by the status command and the panel.
type Status struct {
	emergency.Snapshot
	Listening     bool   `json:"listening"`
	Monitoring    bool   `json:"monitoring"`
	Tracking      bool   `json:"tracking"`
	Keyword       string `json:"keyword,omitempty"`
	ListenerError string `json:"listener_error,omitempty"`
}

type Service struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Service {
	return &Service{
		opts:   opts,
		logger: logging.OrDiscard(opts.Logger).With("component", "control"),
	}
}

// Trigger starts a manual emergency countdown.
func (s *Service) Trigger(ctx context.Context, source string) error {
	if !s.opts.Coordinator.Trigger(ctx, source) {
		return fmt.Errorf("%w (%s)", ErrBusy, s.opts.Coordinator.Snapshot().Phase)
	}
	return nil
}

// Cancel aborts a pending countdown.
func (s *Service) Cancel(ctx context.Context) error {
	if !s.opts.Coordinator.Cancel(ctx) {
		return ErrNothingToCancel
	}
	return nil
}

func (s *Service) Status() Status {
	status := Status{Snapshot: s.opts.Coordinator.Snapshot()}
	if l := s.opts.Listener; l != nil {
		status.Listening = l.Listening()
		status.Keyword = l.Keyword()
		if err := l.LastError(); err != nil {
			status.ListenerError = err.Error()
		}
	}
	if s.opts.Monitor != nil {
		status.Monitoring = s.opts.Monitor.Enabled()
	}
	if s.opts.Tracker != nil {
		status.Tracking = s.opts.Tracker.Running()
	}
	return status
}

// SetKeyword validates word, persists it, and applies it to the listener.
// It reports whether the active keyword changed.
func (s *Service) SetKeyword(word string) (bool, error) {
	if err := keyword.ValidKeyword(word); err != nil {
		return false, err
	}
	normalized := keyword.Normalize(word)
	if s.opts.Store != nil {
		if err := s.opts.Store.SaveKeyword(normalized); err != nil {
			return false, err
		}
	}
	if s.opts.Listener == nil {
		return true, nil
	}
	return s.opts.Listener.SetKeyword(normalized)
}

// SetMonitoring switches keyword listening, location tracking, and periodic
// updates together. Turning on reports a listener failure after the tracker
// and monitor are already running.
func (s *Service) SetMonitoring(ctx context.Context, on bool) error {
	if !on {
		if s.opts.Monitor != nil {
			s.opts.Monitor.SetEnabled(false)
		}
		if s.opts.Listener != nil {
			s.opts.Listener.Stop()
		}
		if s.opts.Tracker != nil {
			s.opts.Tracker.Stop()
		}
		s.logger.Info("monitoring off")
		return nil
	}

	if s.opts.Tracker != nil {
		if err := s.opts.Tracker.Start(ctx); err != nil {
			s.logger.Warn("location tracking unavailable", "error", err.Error())
		}
	}
	if s.opts.Monitor != nil {
		s.opts.Monitor.SetEnabled(true)
	}
	s.logger.Info("monitoring on")
	if s.opts.Listener != nil {
		if err := s.opts.Listener.Start(ctx); err != nil {
			return fmt.Errorf("start listening: %w", err)
		}
	}
	return nil
}

func (s *Service) Contacts(ctx context.Context) ([]backend.Contact, error) {
	if s.opts.Contacts == nil {
		return nil, ErrNoContacts
	}
	return s.opts.Contacts.Contacts(ctx)
}

// Handle answers one IPC request.
func (s *Service) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		status := s.Status()
		return s.respond(ctx, describe(status), status)
	case ipc.CommandSOS:
		if err := s.Trigger(ctx, SourceCLI); err != nil {
			return s.fail(ctx, err)
		}
		snap := s.opts.Coordinator.Snapshot()
		return s.respond(ctx, fmt.Sprintf("emergency countdown started (%ds); run \"safeword cancel\" to stop", snap.SecondsRemaining), nil)
	case ipc.CommandCancel:
		if err := s.Cancel(ctx); err != nil {
			return s.fail(ctx, err)
		}
		return s.respond(ctx, "cancelled", nil)
	case ipc.CommandKeyword:
		if strings.TrimSpace(req.Arg) == "" {
			return s.respond(ctx, s.Status().Keyword, nil)
		}
		changed, err := s.SetKeyword(req.Arg)
		if err != nil {
			return s.fail(ctx, err)
		}
		word := keyword.Normalize(req.Arg)
		if !changed {
			return s.respond(ctx, fmt.Sprintf("keyword unchanged: %s", word), nil)
		}
		return s.respond(ctx, fmt.Sprintf("keyword set: %s", word), nil)
	case ipc.CommandMonitor:
		on, err := parseSwitch(req.Arg)
		if err != nil {
			return s.fail(ctx, err)
		}
		if err := s.SetMonitoring(ctx, on); err != nil {
			return s.fail(ctx, err)
		}
		if on {
			return s.respond(ctx, "monitoring on", nil)
		}
		return s.respond(ctx, "monitoring off", nil)
	case ipc.CommandContacts:
		contacts, err := s.Contacts(ctx)
		if err != nil {
			return s.fail(ctx, err)
		}
		return s.respond(ctx, fmt.Sprintf("%d contacts", len(contacts)), contacts)
	default:
		return s.fail(ctx, fmt.Errorf("unknown command %q", req.Command))
	}
}

func (s *Service) respond(ctx context.Context, message string, data any) ipc.Response {
	resp := ipc.Response{OK: true, Phase: string(s.opts.Coordinator.Snapshot().Phase), Message: message}
	if data == nil {
		return resp
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("encode response: %w", err))
	}
	resp.Data = raw
	return resp
}

func (s *Service) fail(ctx context.Context, err error) ipc.Response {
	s.logger.DebugContext(ctx, "command failed", "error", err.Error())
	resp := ipc.Failure(err)
	resp.Phase = string(s.opts.Coordinator.Snapshot().Phase)
	return resp
}

func parseSwitch(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", raw)
}

func describe(status Status) string {
	var b strings.Builder
	b.WriteString(string(status.Phase))
	if status.Phase == fsm.PhasePendingConfirmation {
		fmt.Fprintf(&b, " (%ds left, %s)", status.SecondsRemaining, status.PendingSource)
	}
	if status.Listening {
		fmt.Fprintf(&b, ", listening for %q", status.Keyword)
	} else {
		b.WriteString(", not listening")
	}
	if status.Monitoring {
		b.WriteString(", monitoring on")
	}
	return b.String()
}
