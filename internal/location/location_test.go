package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"

	"github.com/rbright/safeword/internal/config"
)

func TestFixString(t *testing.T) {
	require.Equal(t, "unknown", Unknown.String())
	require.False(t, Unknown.Known())

	fix := Fix{Lat: 52.520008, Lon: -13.404954, At: time.Unix(1, 0)}
	require.True(t, fix.Known())
	require.Equal(t, "52.520008,-13.404954", fix.String())

	origin := Fix{At: time.Unix(1, 0)}
	require.Equal(t, "0,0", origin.String())
}

func TestNewSelectsProvider(t *testing.T) {
	cfg := config.Default().Location

	for _, name := range []string{"geoclue", "static", "none"} {
		cfg.Provider = name
		p, err := New(cfg, nil)
		require.NoError(t, err)
		require.Equal(t, name, p.Name())
	}

	cfg.Provider = "gps"
	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestNoneProvider(t *testing.T) {
	fix, err := NewNone().Current(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	require.False(t, fix.Known())
	require.ErrorIs(t, NewNone().Watch(context.Background(), make(chan Fix)), ErrUnavailable)
}

type fakeProvider struct {
	mu       sync.Mutex
	watches  int
	updates  chan<- Fix
	ready    chan struct{}
	current  Fix
	err      error
	currents int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{ready: make(chan struct{}, 4)}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Watch(ctx context.Context, updates chan<- Fix) error {
	f.mu.Lock()
	f.watches++
	f.updates = updates
	f.mu.Unlock()
	f.ready <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeProvider) Current(context.Context) (Fix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currents++
	return f.current, f.err
}

func (f *fakeProvider) send(fix Fix) {
	f.mu.Lock()
	ch := f.updates
	f.mu.Unlock()
	ch <- fix
}

func TestTrackerStartIsIdempotent(t *testing.T) {
	provider := newFakeProvider()
	tracker := NewTracker(provider, TrackerOptions{})

	require.NoError(t, tracker.Start(context.Background()))
	require.NoError(t, tracker.Start(context.Background()))
	<-provider.ready
	require.True(t, tracker.Running())

	tracker.Stop()
	require.False(t, tracker.Running())

	provider.mu.Lock()
	require.Equal(t, 1, provider.watches)
	provider.mu.Unlock()

	tracker.Stop()
}

func TestTrackerFansOutUpdates(t *testing.T) {
	provider := newFakeProvider()
	tracker := NewTracker(provider, TrackerOptions{})

	got := make(chan Fix, 2)
	tracker.Subscribe(func(f Fix) { got <- f })
	tracker.Subscribe(func(f Fix) { got <- f })

	require.NoError(t, tracker.Start(context.Background()))
	<-provider.ready

	fix := Fix{Lat: 1, Lon: 2, At: time.Unix(10, 0)}
	provider.send(fix)

	require.Equal(t, fix, <-got)
	require.Equal(t, fix, <-got)

	last, ok := tracker.LastKnown()
	require.True(t, ok)
	require.Equal(t, fix, last)

	tracker.Stop()
}

func TestTrackerCurrentFixUsesProvider(t *testing.T) {
	provider := newFakeProvider()
	provider.current = Fix{Lat: 3, Lon: 4, At: time.Unix(20, 0)}
	tracker := NewTracker(provider, TrackerOptions{})

	fix, err := tracker.CurrentFix(context.Background())
	require.NoError(t, err)
	require.Equal(t, provider.current, fix)

	last, ok := tracker.LastKnown()
	require.True(t, ok)
	require.Equal(t, provider.current, last)
}

func TestTrackerCurrentFixErrorKeepsLastKnown(t *testing.T) {
	provider := newFakeProvider()
	tracker := NewTracker(provider, TrackerOptions{})
	previous := Fix{Lat: 5, Lon: 6, At: time.Unix(30, 0)}
	tracker.Observe(previous)

	provider.err = errors.New("timeout")
	fix, err := tracker.CurrentFix(context.Background())
	require.Error(t, err)
	require.False(t, fix.Known())

	last, ok := tracker.LastKnown()
	require.True(t, ok)
	require.Equal(t, previous, last)
}

func TestTrackerCurrentFixHonorsMaxAge(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
	provider := newFakeProvider()
	provider.current = Fix{Lat: 9, Lon: 9, At: mock.Now()}
	tracker := NewTracker(provider, TrackerOptions{MaxAge: time.Minute, Clock: mock})

	cached := Fix{Lat: 7, Lon: 8, At: mock.Now()}
	tracker.Observe(cached)

	fix, err := tracker.CurrentFix(context.Background())
	require.NoError(t, err)
	require.Equal(t, cached, fix)
	require.Zero(t, provider.currents)

	mock.Add(2 * time.Minute)
	fix, err = tracker.CurrentFix(context.Background())
	require.NoError(t, err)
	require.Equal(t, provider.current, fix)
	require.Equal(t, 1, provider.currents)
}

func TestTrackerRecordsWatchFailure(t *testing.T) {
	tracker := NewTracker(NewNone(), TrackerOptions{})
	require.NoError(t, tracker.Start(context.Background()))

	require.Eventually(t, func() bool { return !tracker.Running() }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, tracker.Err(), ErrUnavailable)

	require.NoError(t, tracker.Start(context.Background()))
	tracker.Stop()
}

func TestStaticWatchPublishesOnce(t *testing.T) {
	mock := clock.NewMock()
	static := NewStatic(48.85, 2.35, mock)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan Fix, 1)
	done := make(chan error, 1)
	go func() { done <- static.Watch(ctx, updates) }()

	fix := <-updates
	require.Equal(t, "48.85,2.35", fix.String())

	cancel()
	require.NoError(t, <-done)
}

type fakeLocationObject map[string]any

func (f fakeLocationObject) GetProperty(name string) (dbus.Variant, error) {
	v, ok := f[name]
	if !ok {
		return dbus.Variant{}, errors.New("no such property")
	}
	return dbus.MakeVariant(v), nil
}

func TestReadFix(t *testing.T) {
	at := time.Unix(40, 0)
	fix, err := readFix(fakeLocationObject{
		geoclueLocationIf + ".Latitude":  51.5,
		geoclueLocationIf + ".Longitude": -0.12,
		geoclueLocationIf + ".Accuracy":  25.0,
	}, at)
	require.NoError(t, err)
	require.Equal(t, Fix{Lat: 51.5, Lon: -0.12, Accuracy: 25, At: at}, fix)

	_, err = readFix(fakeLocationObject{geoclueLocationIf + ".Latitude": 51.5}, at)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Longitude")

	_, err = readFix(fakeLocationObject{
		geoclueLocationIf + ".Latitude":  "north",
		geoclueLocationIf + ".Longitude": 0.0,
	}, at)
	require.Error(t, err)
}

func TestAccuracyLevel(t *testing.T) {
	require.Equal(t, uint32(8), accuracyLevel(true))
	require.Equal(t, uint32(6), accuracyLevel(false))
}

func TestClassifyDBusError(t *testing.T) {
	err := classifyDBusError("get client", dbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"})
	require.ErrorIs(t, err, ErrUnavailable)

	err = classifyDBusError("get client", errors.New("boom"))
	require.NotErrorIs(t, err, ErrUnavailable)
	require.Contains(t, err.Error(), "get client")
}
