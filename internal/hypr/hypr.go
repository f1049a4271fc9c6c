// Package hypr wraps the hyprctl notification dispatchers.
package hypr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Icon selects the glyph hyprctl notify draws.
type Icon int

const (
	IconWarning Icon = 0
	IconInfo    Icon = 1
	IconHint    Icon = 2
	IconError   Icon = 3
	IconOK      Icon = 5
)

const defaultColor = "rgb(89b4fa)"

// Notification is one hyprctl notify payload.
type Notification struct {
	Icon      Icon
	TimeoutMS int
	Color     string
	Text      string
}

// Notify shows n through hyprctl dispatch notify.
func Notify(ctx context.Context, n Notification) error {
	color := strings.TrimSpace(n.Color)
	if color == "" {
		color = defaultColor
	}
	return run(ctx,
		"--quiet", "dispatch", "notify",
		strconv.Itoa(int(n.Icon)),
		strconv.Itoa(n.TimeoutMS),
		color,
		n.Text,
	)
}

// DismissNotify clears every visible Hyprland notification.
func DismissNotify(ctx context.Context) error {
	return run(ctx, "--quiet", "dispatch", "dismissnotify")
}

// Session reports whether the process runs inside a Hyprland session with
// hyprctl on PATH.
func Session() error {
	if strings.TrimSpace(os.Getenv("HYPRLAND_INSTANCE_SIGNATURE")) == "" {
		return fmt.Errorf("HYPRLAND_INSTANCE_SIGNATURE is not set")
	}
	if _, err := exec.LookPath("hyprctl"); err != nil {
		return fmt.Errorf("hyprctl not found: %w", err)
	}
	return nil
}

func run(ctx context.Context, args ...string) error {
	out, err := exec.CommandContext(ctx, "hyprctl", args...).CombinedOutput()
	if err == nil {
		return nil
	}
	if detail := strings.TrimSpace(string(out)); detail != "" {
		return fmt.Errorf("hyprctl %s: %w (%s)", args[len(args)-1], err, detail)
	}
	return fmt.Errorf("hyprctl %s: %w", args[len(args)-1], err)
}
