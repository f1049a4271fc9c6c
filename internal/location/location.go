// Package location provides device position fixes for emergency alerts.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/rbright/safeword/internal/config"
)

// ErrUnavailable is returned when no position source can produce a fix.
var ErrUnavailable = errors.New("location unavailable")

// Fix is one position reading. A zero At marks the Unknown fix.
type Fix struct {
	Lat      float64
	Lon      float64
	Accuracy float64
	At       time.Time
}

// Unknown is sent when no fix could be obtained.
var Unknown = Fix{}

// Known reports whether f carries a real position.
func (f Fix) Known() bool {
	return !f.At.IsZero()
}

// String renders the wire form "lat,lon", or "unknown".
func (f Fix) String() string {
	if !f.Known() {
		return "unknown"
	}
	return strconv.FormatFloat(f.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(f.Lon, 'f', -1, 64)
}

// Provider is a position source.
type Provider interface {
	Name() string
	// Watch streams fixes into updates until ctx is done or the source fails.
	Watch(ctx context.Context, updates chan<- Fix) error
	// Current returns one fresh fix.
	Current(ctx context.Context) (Fix, error)
}

// New builds the configured provider.
func New(cfg config.LocationConfig, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "geoclue":
		return NewGeoClue(GeoClueOptions{
			DesktopID:    cfg.DesktopID,
			HighAccuracy: cfg.HighAccuracy,
			StartTimeout: cfg.WatchTimeout(),
			Logger:       logger,
		}), nil
	case "static":
		return NewStatic(cfg.StaticLat, cfg.StaticLon, nil), nil
	case "none":
		return NewNone(), nil
	default:
		return nil, fmt.Errorf("unsupported location provider %q", cfg.Provider)
	}
}
