package location

import (
	"context"

	"github.com/benbjohnson/clock"
)

// Static reports a fixed configured position.
type Static struct {
	lat, lon float64
	clock    clock.Clock
}

// NewStatic returns a provider pinned to lat/lon. A nil clock uses wall time.
func NewStatic(lat, lon float64, clk clock.Clock) *Static {
	if clk == nil {
		clk = clock.New()
	}
	return &Static{lat: lat, lon: lon, clock: clk}
}

func (s *Static) Name() string { return "static" }

func (s *Static) Current(context.Context) (Fix, error) {
	return Fix{Lat: s.lat, Lon: s.lon, At: s.clock.Now()}, nil
}

// Watch publishes the position once and then idles until ctx is done.
func (s *Static) Watch(ctx context.Context, updates chan<- Fix) error {
	fix, _ := s.Current(ctx)
	select {
	case updates <- fix:
	case <-ctx.Done():
		return nil
	}
	<-ctx.Done()
	return nil
}

// None never produces a fix.
type None struct{}

func NewNone() None { return None{} }

func (None) Name() string { return "none" }

func (None) Current(context.Context) (Fix, error) { return Unknown, ErrUnavailable }

func (None) Watch(context.Context, chan<- Fix) error { return ErrUnavailable }
