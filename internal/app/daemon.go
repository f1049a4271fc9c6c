package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rbright/safeword/internal/backend"
	"github.com/rbright/safeword/internal/config"
	"github.com/rbright/safeword/internal/control"
	"github.com/rbright/safeword/internal/emergency"
	"github.com/rbright/safeword/internal/event"
	"github.com/rbright/safeword/internal/evidence"
	"github.com/rbright/safeword/internal/indicator"
	"github.com/rbright/safeword/internal/ipc"
	"github.com/rbright/safeword/internal/keyword"
	"github.com/rbright/safeword/internal/listener"
	"github.com/rbright/safeword/internal/location"
	"github.com/rbright/safeword/internal/panel"
	"github.com/rbright/safeword/internal/settings"
	"github.com/rbright/safeword/internal/speech"
)

const (
	socketProbeTimeout = 180 * time.Millisecond
	socketRetries      = 8
)

// daemon is the running safeword process: one listener, one coordinator,
// one tracker, all driven through a control.Service.
type daemon struct {
	logger      *slog.Logger
	coordinator *emergency.Coordinator
	listener    *listener.Listener
	tracker     *location.Tracker
	monitor     *emergency.Monitor
	service     *control.Service
	hub         *panel.Hub
	panel       *panel.Server
	panelListen string
	autostart   bool
}

// deferredTrigger lets the listener be built before the coordinator it feeds;
// the evidence recorder needs the listener, and the coordinator needs the
// recorder.
type deferredTrigger struct {
	target listener.Trigger
}

func (d *deferredTrigger) Trigger(ctx context.Context, source string) bool {
	if d.target == nil {
		return false
	}
	return d.target.Trigger(ctx, source)
}

// logObserver writes every runtime event to the structured log.
func logObserver(logger *slog.Logger) event.Observer {
	logger = logger.With("component", "events")
	return event.Func(func(e event.Event) {
		switch e.Kind {
		case listener.KindUtterance:
			return
		case emergency.KindDispatchFailed, emergency.KindEvidenceFailed, emergency.KindPeriodicFailed, listener.KindError:
			logger.Warn("event", eventAttrs(e)...)
		default:
			logger.Debug("event", eventAttrs(e)...)
		}
	})
}

func eventAttrs(e event.Event) []any {
	attrs := []any{"kind", string(e.Kind)}
	if e.Phase != "" {
		attrs = append(attrs, "phase", e.Phase)
	}
	if e.Source != "" {
		attrs = append(attrs, "source", e.Source)
	}
	if e.IncidentID != "" {
		attrs = append(attrs, "incident_id", e.IncidentID)
	}
	if e.Message != "" {
		attrs = append(attrs, "message", e.Message)
	}
	return attrs
}

func newDaemon(cfg config.Config, logger *slog.Logger) (*daemon, error) {
	settingsPath, err := settings.ResolvePath()
	if err != nil {
		return nil, err
	}
	store := settings.NewStore(settingsPath, cfg.Keyword.Default)
	current, err := store.Load()
	if err != nil {
		logger.Warn("settings unreadable; using default keyword", "path", settingsPath, "error", err.Error())
		current = settings.Settings{Keyword: keyword.Normalize(cfg.Keyword.Default)}
	}

	provider, err := location.New(cfg.Location, logger)
	if err != nil {
		return nil, err
	}
	recognizer, err := speech.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	observers := &event.Fanout{}
	observers.Add(logObserver(logger))

	var hub *panel.Hub
	if cfg.Panel.Enable {
		hub = panel.NewHub(logger)
		observers.Add(hub)
	}

	var ind emergency.Indicator
	if cfg.Indicator.Enable {
		notify := indicator.NewHyprNotify(cfg.Indicator, logger)
		observers.Add(notify)
		ind = notify
	}

	client := backend.New(cfg.Backend, nil, logger)
	tracker := location.NewTracker(provider, location.TrackerOptions{MaxAge: cfg.Location.MaxAge(), Logger: logger})

	matcher := keyword.NewMatcher(keyword.Options{
		Keyword:   current.Keyword,
		Threshold: cfg.Keyword.ConfidenceThreshold,
		Window:    cfg.Keyword.Window(),
	})
	trigger := &deferredTrigger{}
	lis := listener.New(recognizer, matcher, trigger, listener.Options{
		RestartDelay: cfg.Speech.RestartDelay(),
		Logger:       logger,
		Observers:    []event.Observer{observers},
	})

	opts := emergency.Options{
		Notifier:         client,
		Locator:          tracker,
		Indicator:        ind,
		Observers:        []event.Observer{observers},
		Logger:           logger,
		CountdownSeconds: cfg.CountdownSeconds,
		FixTimeout:       cfg.Location.FixTimeout(),
	}
	if cfg.Evidence.Enable {
		opts.Recorder = evidence.New(cfg, client, lis, logger)
	}
	coordinator := emergency.NewCoordinator(opts)
	trigger.target = coordinator

	var monitor *emergency.Monitor
	if cfg.Monitoring.PeriodicUpdates {
		monitor = emergency.NewMonitor(emergency.MonitorOptions{Notifier: client, Observer: observers, Logger: logger})
	}
	tracker.Subscribe(func(fix location.Fix) {
		coordinator.ObserveLocation(fix)
		if monitor != nil {
			monitor.OnFix(context.Background(), fix)
		}
	})

	svcOpts := control.Options{
		Coordinator: coordinator,
		Listener:    lis,
		Tracker:     tracker,
		Store:       store,
		Contacts:    client,
		Logger:      logger,
	}
	if monitor != nil {
		svcOpts.Monitor = monitor
	}
	service := control.New(svcOpts)

	d := &daemon{
		logger:      logger,
		coordinator: coordinator,
		listener:    lis,
		tracker:     tracker,
		monitor:     monitor,
		service:     service,
		hub:         hub,
		panelListen: cfg.Panel.Listen,
		autostart:   cfg.Monitoring.Autostart,
	}
	if hub != nil {
		d.panel = panel.New(service, hub, logger)
	}
	return d, nil
}

// commandRun owns the socket and runs the daemon until ctx is done.
func (r Runner) commandRun(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	ln, err := ipc.Acquire(ctx, socketPath, socketProbeTimeout, socketRetries, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: safeword daemon already running")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = ln.Close()
		_ = os.Remove(socketPath)
	}()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("daemon setup failed", "error", err.Error())
		return 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- ipc.Serve(runCtx, ln, d.service)
	}()

	if d.panel != nil {
		go d.hub.Run(runCtx)
		if addr, err := d.panel.Start(runCtx, d.panelListen); err != nil {
			fmt.Fprintf(r.Stderr, "warning: control panel disabled: %v\n", err)
			logger.Warn("panel start failed", "listen", d.panelListen, "error", err.Error())
			d.panel = nil
		} else {
			fmt.Fprintf(r.Stdout, "control panel at http://%s\n", addr)
		}
	}

	if d.autostart {
		if err := d.service.SetMonitoring(runCtx, true); err != nil {
			fmt.Fprintf(r.Stderr, "warning: %v; manual sos still works\n", err)
		}
	}

	status := d.service.Status()
	fmt.Fprintf(r.Stdout, "safeword running (keyword %q, listening=%t)\n", status.Keyword, status.Listening)
	logger.Info("daemon running", "socket", socketPath, "keyword", status.Keyword, "listening", status.Listening)

	exit := 0
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", err)
			logger.Error("ipc server failed", "error", err.Error())
			exit = 1
		}
		serveErr = nil
	}

	cancel()
	d.shutdown()
	if serveErr != nil {
		if err := <-serveErr; err != nil {
			logger.Error("ipc server failed", "error", err.Error())
		}
	}
	logger.Info("daemon stopped")
	return exit
}

// shutdown stops listening and tracking, then lets any in-flight dispatch
// and evidence upload finish.
func (d *daemon) shutdown() {
	_ = d.service.SetMonitoring(context.Background(), false)
	d.coordinator.Close()
	if d.monitor != nil {
		d.monitor.Wait()
	}
	if d.panel != nil {
		d.panel.Wait()
	}
}
