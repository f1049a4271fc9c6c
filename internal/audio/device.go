// Package audio discovers Pulse input sources and captures 16 kHz mono PCM from them.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	applicationName = "safeword"
	iconName        = "audio-input-microphone"
)

// ErrNoDevice is returned when no input source can be chosen.
var ErrNoDevice = errors.New("no usable audio input")

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Usable reports whether the source can be recorded from.
func (d Device) Usable() bool {
	return d.Available && !d.Muted
}

func (d Device) problem() string {
	if d.Muted {
		return "muted"
	}
	return "unavailable"
}

// Selection is the resolved source plus a warning when the fallback was used.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

func newClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(applicationName),
		pulse.ClientApplicationIconName(iconName),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListDevices returns the Pulse input sources.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	def, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}

	var infos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &infos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		devices = append(devices, deviceFromInfo(info, def.ID()))
	}
	return devices, nil
}

func deviceFromInfo(info *pulseproto.GetSourceInfoReply, defaultID string) Device {
	return Device{
		ID:          info.SourceName,
		Description: info.Device,
		State:       stateName(info.State),
		Available:   portAvailable(info),
		Muted:       info.Mute,
		Default:     info.SourceName == defaultID,
	}
}

// SelectDevice resolves the configured input and fallback against live sources.
func SelectDevice(ctx context.Context, input string, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return choose(devices, input, fallback)
}

// choose applies the selection policy: the configured input (or the server
// default) when usable, otherwise the fallback (or the default).
func choose(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, fmt.Errorf("%w: no input sources found", ErrNoDevice)
	}

	input = normalizeTerm(input)
	fallback = normalizeTerm(fallback)

	primary, err := lookup(devices, input, "audio.input")
	if err != nil {
		return Selection{}, err
	}
	if primary.Usable() {
		return Selection{Device: primary}, nil
	}

	alt, err := lookup(devices, fallback, "audio.fallback")
	if err != nil {
		return Selection{}, fmt.Errorf("input %q is %s and no fallback: %w", primary.ID, primary.problem(), err)
	}
	if !alt.Usable() {
		return Selection{}, fmt.Errorf("%w: fallback %q is %s", ErrNoDevice, alt.ID, alt.problem())
	}

	return Selection{
		Device:   alt,
		Warning:  fmt.Sprintf("audio input %q is %s; using %q", primary.ID, primary.problem(), alt.ID),
		Fallback: alt.ID != primary.ID,
	}, nil
}

func normalizeTerm(term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "default" {
		return ""
	}
	return term
}

// lookup finds the default source for an empty term, otherwise the first match.
func lookup(devices []Device, term string, field string) (Device, error) {
	for _, d := range devices {
		if term == "" && d.Default {
			return d, nil
		}
		if term != "" && matches(d, term) {
			return d, nil
		}
	}
	if term == "" {
		return Device{}, fmt.Errorf("%w: default source is missing", ErrNoDevice)
	}
	return Device{}, fmt.Errorf("%w: %s %q did not match any source", ErrNoDevice, field, term)
}

func matches(d Device, term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(strings.ToLower(d.ID), term) ||
		strings.Contains(strings.ToLower(d.Description), term)
}

func stateName(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	}
	return fmt.Sprintf("unknown(%d)", state)
}

// portAvailable treats a source without ports, or whose active port reports
// unknown (0) or yes (2), as available.
func portAvailable(info *pulseproto.GetSourceInfoReply) bool {
	if info == nil {
		return false
	}
	for _, port := range info.Ports {
		if port.Name == info.ActivePortName {
			return port.Available != 1
		}
	}
	return true
}
