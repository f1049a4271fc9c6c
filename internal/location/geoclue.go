package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/rbright/safeword/internal/logging"
)

const (
	geoclueService      = "org.freedesktop.GeoClue2"
	geoclueManagerPath  = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	geoclueManagerIface = "org.freedesktop.GeoClue2.Manager"
	geoclueClientIface  = "org.freedesktop.GeoClue2.Client"
	geoclueLocationIf   = "org.freedesktop.GeoClue2.Location"
	dbusPropertiesIface = "org.freedesktop.DBus.Properties"

	// GClueAccuracyLevel values.
	accuracyStreet uint32 = 6
	accuracyExact  uint32 = 8
)

// GeoClueOptions configures the GeoClue2 provider.
type GeoClueOptions struct {
	DesktopID    string
	HighAccuracy bool
	StartTimeout time.Duration
	Logger       *slog.Logger
	// Connect opens the system bus. Defaults to dbus.ConnectSystemBus.
	Connect func() (*dbus.Conn, error)
}

// GeoClue reads positions from the GeoClue2 service on the system bus.
type GeoClue struct {
	opts   GeoClueOptions
	logger *slog.Logger
}

// NewGeoClue builds a GeoClue2 provider.
func NewGeoClue(opts GeoClueOptions) *GeoClue {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 5 * time.Second
	}
	if opts.Connect == nil {
		opts.Connect = func() (*dbus.Conn, error) { return dbus.ConnectSystemBus() }
	}
	return &GeoClue{
		opts:   opts,
		logger: logging.OrDiscard(opts.Logger).With("component", "geoclue"),
	}
}

func (g *GeoClue) Name() string { return "geoclue" }

// Watch runs one GeoClue client and forwards every LocationUpdated signal.
func (g *GeoClue) Watch(ctx context.Context, updates chan<- Fix) error {
	s, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-s.signals:
			if !ok {
				return fmt.Errorf("geoclue signal channel closed: %w", ErrUnavailable)
			}
			fix, ok, err := s.fixFromSignal(sig)
			if err != nil {
				g.logger.Warn("read geoclue location failed", "error", err.Error())
				continue
			}
			if !ok {
				continue
			}
			select {
			case updates <- fix:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Current starts a short-lived client and returns its first fix.
func (g *GeoClue) Current(ctx context.Context) (Fix, error) {
	s, err := g.open(ctx)
	if err != nil {
		return Unknown, err
	}
	defer s.close()

	for {
		select {
		case <-ctx.Done():
			return Unknown, ctx.Err()
		case sig, ok := <-s.signals:
			if !ok {
				return Unknown, ErrUnavailable
			}
			fix, ok, err := s.fixFromSignal(sig)
			if err != nil {
				return Unknown, err
			}
			if ok {
				return fix, nil
			}
		}
	}
}

// Probe checks that GeoClue2 is running or bus-activatable without starting
// a client.
func (g *GeoClue) Probe(ctx context.Context) error {
	conn, err := g.opts.Connect()
	if err != nil {
		return fmt.Errorf("connect system bus: %w: %v", ErrUnavailable, err)
	}
	defer conn.Close()

	bus := conn.BusObject()
	var owned bool
	if err := bus.CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, geoclueService).Store(&owned); err != nil {
		return fmt.Errorf("query %s owner: %w", geoclueService, err)
	}
	if owned {
		return nil
	}

	var activatable []string
	if err := bus.CallWithContext(ctx, "org.freedesktop.DBus.ListActivatableNames", 0).Store(&activatable); err != nil {
		return fmt.Errorf("list activatable names: %w", err)
	}
	for _, name := range activatable {
		if name == geoclueService {
			return nil
		}
	}
	return fmt.Errorf("%s is not running or activatable: %w", geoclueService, ErrUnavailable)
}

type geoclueSession struct {
	conn    *dbus.Conn
	client  dbus.BusObject
	path    dbus.ObjectPath
	signals chan *dbus.Signal
}

func (g *GeoClue) open(ctx context.Context) (*geoclueSession, error) {
	conn, err := g.opts.Connect()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w: %v", ErrUnavailable, err)
	}

	startCtx, cancel := context.WithTimeout(ctx, g.opts.StartTimeout)
	defer cancel()

	s, err := g.startClient(startCtx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	g.logger.Debug("geoclue client started", "path", string(s.path))
	return s, nil
}

func (g *GeoClue) startClient(ctx context.Context, conn *dbus.Conn) (*geoclueSession, error) {
	var clientPath dbus.ObjectPath
	manager := conn.Object(geoclueService, geoclueManagerPath)
	if err := manager.CallWithContext(ctx, geoclueManagerIface+".GetClient", 0).Store(&clientPath); err != nil {
		return nil, classifyDBusError("get geoclue client", err)
	}

	client := conn.Object(geoclueService, clientPath)
	if err := setProperty(ctx, client, "DesktopId", g.opts.DesktopID); err != nil {
		return nil, err
	}
	if err := setProperty(ctx, client, "RequestedAccuracyLevel", accuracyLevel(g.opts.HighAccuracy)); err != nil {
		return nil, err
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(clientPath),
		dbus.WithMatchInterface(geoclueClientIface),
		dbus.WithMatchMember("LocationUpdated"),
	); err != nil {
		return nil, fmt.Errorf("subscribe geoclue updates: %w", err)
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)

	if err := client.CallWithContext(ctx, geoclueClientIface+".Start", 0).Err; err != nil {
		conn.RemoveSignal(signals)
		return nil, classifyDBusError("start geoclue client", err)
	}

	return &geoclueSession{conn: conn, client: client, path: clientPath, signals: signals}, nil
}

func (s *geoclueSession) fixFromSignal(sig *dbus.Signal) (Fix, bool, error) {
	if sig == nil || sig.Path != s.path || sig.Name != geoclueClientIface+".LocationUpdated" {
		return Fix{}, false, nil
	}
	if len(sig.Body) < 2 {
		return Fix{}, false, fmt.Errorf("malformed LocationUpdated signal")
	}
	newPath, ok := sig.Body[1].(dbus.ObjectPath)
	if !ok {
		return Fix{}, false, fmt.Errorf("unexpected LocationUpdated body %T", sig.Body[1])
	}
	fix, err := readFix(s.conn.Object(geoclueService, newPath), time.Now())
	if err != nil {
		return Fix{}, false, err
	}
	return fix, true, nil
}

func (s *geoclueSession) close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.client.CallWithContext(ctx, geoclueClientIface+".Stop", 0).Err
	s.conn.RemoveSignal(s.signals)
	_ = s.conn.Close()
}

type propertyGetter interface {
	GetProperty(string) (dbus.Variant, error)
}

func readFix(obj propertyGetter, at time.Time) (Fix, error) {
	lat, err := floatProperty(obj, "Latitude")
	if err != nil {
		return Fix{}, err
	}
	lon, err := floatProperty(obj, "Longitude")
	if err != nil {
		return Fix{}, err
	}
	accuracy, err := floatProperty(obj, "Accuracy")
	if err != nil {
		accuracy = 0
	}
	return Fix{Lat: lat, Lon: lon, Accuracy: accuracy, At: at}, nil
}

func floatProperty(obj propertyGetter, name string) (float64, error) {
	v, err := obj.GetProperty(geoclueLocationIf + "." + name)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	f, ok := v.Value().(float64)
	if !ok {
		return 0, fmt.Errorf("read %s: unexpected type %s", name, v.Signature())
	}
	return f, nil
}

func setProperty(ctx context.Context, obj dbus.BusObject, name string, value any) error {
	call := obj.CallWithContext(ctx, dbusPropertiesIface+".Set", 0, geoclueClientIface, name, dbus.MakeVariant(value))
	if call.Err != nil {
		return classifyDBusError("set geoclue "+name, call.Err)
	}
	return nil
}

func accuracyLevel(high bool) uint32 {
	if high {
		return accuracyExact
	}
	return accuracyStreet
}

func classifyDBusError(op string, err error) error {
	var name string
	var valueErr dbus.Error
	var ptrErr *dbus.Error
	switch {
	case errors.As(err, &valueErr):
		name = valueErr.Name
	case errors.As(err, &ptrErr):
		name = ptrErr.Name
	}
	if name != "" {
		switch name {
		case "org.freedesktop.DBus.Error.AccessDenied",
			"org.freedesktop.DBus.Error.ServiceUnknown",
			"org.freedesktop.DBus.Error.NameHasNoOwner":
			return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
