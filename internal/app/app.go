package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rbright/safeword/internal/audio"
	"github.com/rbright/safeword/internal/backend"
	"github.com/rbright/safeword/internal/cli"
	"github.com/rbright/safeword/internal/config"
	"github.com/rbright/safeword/internal/doctor"
	"github.com/rbright/safeword/internal/ipc"
	"github.com/rbright/safeword/internal/keyword"
	"github.com/rbright/safeword/internal/logging"
	"github.com/rbright/safeword/internal/settings"
	"github.com/rbright/safeword/internal/version"
)

// forwardTimeout covers daemon commands that call the backend.
const forwardTimeout = 10 * time.Second

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("safeword"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("safeword"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logRuntime, err := logging.New(cfgLoaded.Config.LogLevel)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, logger)
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandSOS:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandSOS})
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandCancel})
	case cli.CommandMonitor:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandMonitor, Arg: parsed.Arg})
	case cli.CommandKeyword:
		return r.commandKeyword(ctx, cfgLoaded.Config, parsed.Arg)
	case cli.CommandContacts:
		return r.commandContacts(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}

	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "not running")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandStatus})
	if !handled {
		fmt.Fprintln(r.Stdout, "not running")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	message := resp.Message
	if message == "" {
		message = resp.Phase
	}
	if message == "" {
		message = "idle"
	}
	fmt.Fprintln(r.Stdout, message)
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, req ipc.Request) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, req)
	if !handled {
		fmt.Fprintln(r.Stderr, "error: safeword daemon is not running (start it with \"safeword run\")")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandKeyword forwards to the daemon when one is running. Otherwise it
// reads or writes the settings file directly; the daemon picks the keyword
// up when it next starts.
func (r Runner) commandKeyword(ctx context.Context, cfg config.Config, word string) int {
	if socketPath, err := ipc.RuntimeSocketPath(); err == nil {
		resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandKeyword, Arg: word})
		if handled {
			if err != nil {
				fmt.Fprintf(r.Stderr, "error: %v\n", err)
				return 1
			}
			fmt.Fprintln(r.Stdout, resp.Message)
			return 0
		}
	}

	path, err := settings.ResolvePath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	store := settings.NewStore(path, cfg.Keyword.Default)

	if strings.TrimSpace(word) == "" {
		current, err := store.Load()
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintln(r.Stdout, current.Keyword)
		return 0
	}

	if err := keyword.ValidKeyword(word); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if err := store.SaveKeyword(keyword.Normalize(word)); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(r.Stdout, "keyword set: %s\n", keyword.Normalize(word))
	return 0
}

// commandContacts asks the daemon, or the backend directly when no daemon
// is running.
func (r Runner) commandContacts(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	var contacts []backend.Contact

	handled := false
	if socketPath, err := ipc.RuntimeSocketPath(); err == nil {
		var resp ipc.Response
		resp, handled, err = tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandContacts})
		if handled {
			if err != nil {
				fmt.Fprintf(r.Stderr, "error: %v\n", err)
				return 1
			}
			if len(resp.Data) > 0 {
				if err := json.Unmarshal(resp.Data, &contacts); err != nil {
					fmt.Fprintf(r.Stderr, "error: decode contacts: %v\n", err)
					return 1
				}
			}
		}
	}
	if !handled {
		var err error
		contacts, err = backend.New(cfg.Backend, nil, logger).Contacts(ctx)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
	}

	if len(contacts) == 0 {
		fmt.Fprintln(r.Stdout, "no emergency contacts")
		return 0
	}
	tw := tabwriter.NewWriter(r.Stdout, 0, 4, 2, ' ', 0)
	for _, c := range contacts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, c.Phone, c.Email)
	}
	_ = tw.Flush()
	return 0
}

// tryForward sends req to a running daemon. handled is false only when no
// daemon is listening.
func tryForward(ctx context.Context, socketPath string, req ipc.Request) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if ipc.NotRunning(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
