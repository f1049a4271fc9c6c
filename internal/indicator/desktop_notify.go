package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	notifyDest  = "org.freedesktop.Notifications"
	notifyPath  = "/org/freedesktop/Notifications"
	urgencyHigh = "2"
)

// desktopNotify sends a freedesktop notification through busctl and returns
// the id the server assigned. Urgent notifications carry the critical
// urgency hint so they are not hidden by do-not-disturb.
func desktopNotify(ctx context.Context, app string, replaceID uint32, summary string, urgent bool, timeoutMS int) (uint32, error) {
	args := []string{
		"susssasa{sv}i",
		app,
		strconv.FormatUint(uint64(replaceID), 10),
		"dialog-warning",
		summary,
		"",
		"0", // actions
	}
	if urgent {
		args = append(args, "1", "urgency", "y", urgencyHigh)
	} else {
		args = append(args, "0")
	}
	args = append(args, strconv.Itoa(timeoutMS))

	out, err := busctl(ctx, "Notify", args...)
	if err != nil {
		return 0, err
	}

	fields := strings.Fields(out)
	if len(fields) < 2 || fields[0] != "u" {
		return 0, fmt.Errorf("desktop notify: unexpected reply %q", out)
	}
	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("desktop notify: parse id %q: %w", fields[1], err)
	}
	return uint32(id), nil
}

// desktopDismiss closes notification id.
func desktopDismiss(ctx context.Context, id uint32) error {
	_, err := busctl(ctx, "CloseNotification", "u", strconv.FormatUint(uint64(id), 10))
	return err
}

func busctl(ctx context.Context, method string, args ...string) (string, error) {
	full := append([]string{"--user", "call", notifyDest, notifyPath, notifyDest, method}, args...)
	out, err := exec.CommandContext(ctx, "busctl", full...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed == "" {
			return "", fmt.Errorf("busctl %s: %w", method, err)
		}
		return "", fmt.Errorf("busctl %s: %w (%s)", method, err, trimmed)
	}
	return trimmed, nil
}
