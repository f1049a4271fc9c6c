// Package indicator surfaces emergency state through Hyprland or desktop
// notifications plus short synthesized audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/safeword/internal/config"
	"github.com/rbright/safeword/internal/event"
	"github.com/rbright/safeword/internal/hypr"
	"github.com/rbright/safeword/internal/listener"
	"github.com/rbright/safeword/internal/logging"
)

const (
	colorAlert    = "rgb(f38ba8)"
	colorPending  = "rgb(fab387)"
	colorOK       = "rgb(a6e3a1)"
	colorAdvisory = "rgb(89b4fa)"

	countdownTimeoutMS = 1500
	activeTimeoutMS    = 30000
	resultTimeoutMS    = 8000
	briefTimeoutMS     = 3000

	dispatchTimeout = 400 * time.Millisecond
	cueTimeout      = 5 * time.Second
)

// HyprNotify routes indicator output to hyprctl or freedesktop notifications
// depending on the configured backend.
type HyprNotify struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages

	mu        sync.Mutex
	desktopID uint32
	soundMu   sync.Mutex
}

// NewHyprNotify builds an indicator from config.
func NewHyprNotify(cfg config.IndicatorConfig, logger *slog.Logger) *HyprNotify {
	return &HyprNotify{
		cfg:      cfg,
		logger:   logging.OrDiscard(logger).With("component", "indicator"),
		messages: messagesFromEnv(),
	}
}

// ShowCountdown shows the cancel window and ticks once per second.
func (h *HyprNotify) ShowCountdown(ctx context.Context, source string, secondsRemaining int) {
	h.cue(cueTick)
	h.show(ctx, hypr.Notification{
		Icon:      hypr.IconWarning,
		TimeoutMS: countdownTimeoutMS,
		Color:     colorPending,
		Text:      h.messages.countdown(secondsRemaining, source),
	})
}

// ShowActive marks the alert as being sent.
func (h *HyprNotify) ShowActive(ctx context.Context, _ string) {
	h.cue(cueAlarm)
	h.show(ctx, hypr.Notification{Icon: hypr.IconError, TimeoutMS: activeTimeoutMS, Color: colorAlert, Text: h.messages.active})
}

// ShowCancelled clears the countdown.
func (h *HyprNotify) ShowCancelled(ctx context.Context) {
	h.cue(cueCancel)
	if !h.cfg.Enable {
		return
	}
	h.run(ctx, h.dismiss)
	h.show(ctx, hypr.Notification{Icon: hypr.IconInfo, TimeoutMS: briefTimeoutMS, Color: colorOK, Text: h.messages.cancelled})
}

// ShowDispatched confirms delivery to notified contacts.
func (h *HyprNotify) ShowDispatched(ctx context.Context, notified int) {
	h.cue(cueSent)
	h.show(ctx, hypr.Notification{Icon: hypr.IconOK, TimeoutMS: resultTimeoutMS, Color: colorOK, Text: h.messages.dispatched(notified)})
}

// ShowWarning reports a failure the user should act on.
func (h *HyprNotify) ShowWarning(ctx context.Context, text string) {
	timeout := h.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = resultTimeoutMS
	}
	h.show(ctx, hypr.Notification{Icon: hypr.IconError, TimeoutMS: timeout, Color: colorAlert, Text: text})
}

// ShowAdvisory prompts the user without escalating, e.g. to repeat the keyword.
func (h *HyprNotify) ShowAdvisory(ctx context.Context, text string) {
	h.cue(cueAdvisory)
	h.show(ctx, hypr.Notification{Icon: hypr.IconHint, TimeoutMS: briefTimeoutMS, Color: colorAdvisory, Text: text})
}

// HandleEvent surfaces listener events that need user attention.
func (h *HyprNotify) HandleEvent(e event.Event) {
	switch {
	case e.Kind == listener.KindNearMiss:
		h.ShowAdvisory(context.Background(), e.Message)
	case e.Kind == listener.KindState && e.Message == listener.StateDisabled:
		h.ShowWarning(context.Background(), h.messages.disabled)
	}
}

func (h *HyprNotify) show(ctx context.Context, n hypr.Notification) {
	if !h.cfg.Enable {
		return
	}
	h.run(ctx, func(ctx context.Context) error {
		if h.desktop() {
			return h.notifyDesktop(ctx, n)
		}
		return hypr.Notify(ctx, n)
	})
}

func (h *HyprNotify) desktop() bool {
	return strings.EqualFold(strings.TrimSpace(h.cfg.Backend), "desktop")
}

func (h *HyprNotify) dismiss(ctx context.Context) error {
	if !h.desktop() {
		return hypr.DismissNotify(ctx)
	}
	h.mu.Lock()
	id := h.desktopID
	h.desktopID = 0
	h.mu.Unlock()
	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// notifyDesktop replaces the previous notification so countdown ticks
// update in place.
func (h *HyprNotify) notifyDesktop(ctx context.Context, n hypr.Notification) error {
	h.mu.Lock()
	replace := h.desktopID
	h.mu.Unlock()

	app := strings.TrimSpace(h.cfg.DesktopAppName)
	if app == "" {
		app = "safeword"
	}
	id, err := desktopNotify(ctx, app, replace, n.Text, n.Icon == hypr.IconError || n.Icon == hypr.IconWarning, n.TimeoutMS)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.desktopID = id
	h.mu.Unlock()
	return nil
}

func (h *HyprNotify) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	if err := fn(runCtx); err != nil {
		h.logger.Debug("indicator dispatch failed", "error", err.Error())
	}
}

// cue plays kind in the background; cues never overlap.
func (h *HyprNotify) cue(kind cueKind) {
	if !h.cfg.SoundEnable {
		return
	}
	go func() {
		h.soundMu.Lock()
		defer h.soundMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), cueTimeout)
		defer cancel()
		if err := playCue(ctx, kind); err != nil {
			h.logger.Debug("indicator cue failed", "error", err.Error())
		}
	}()
}
