package speech

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rbright/safeword/internal/logging"
)

const stderrLimit = 4 << 10

// Command runs an external recognizer and reads one utterance per stdout
// line. A line is either JSON {"text": ..., "confidence": ...} or plain text
// with unknown confidence.
type Command struct {
	argv   []string
	logger *slog.Logger
	now    func() time.Time
}

// NewCommand builds a recognizer for argv.
func NewCommand(argv []string, logger *slog.Logger) *Command {
	return &Command{
		argv:   append([]string(nil), argv...),
		logger: logging.OrDiscard(logger).With("component", "speech", "provider", "command"),
		now:    time.Now,
	}
}

func (c *Command) Name() string { return "command" }

// Start launches the process. A missing binary is ErrUnavailable.
func (c *Command) Start(parent context.Context) (Session, error) {
	if len(c.argv) == 0 {
		return nil, fmt.Errorf("%w: speech command is empty", ErrUnavailable)
	}
	path, err := exec.LookPath(c.argv[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	ctx, cancel := context.WithCancel(parent)
	cmd := exec.CommandContext(ctx, path, c.argv[1:]...)
	// Kill the whole group so children cannot hold stdout open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return err
		}
		return os.ErrProcessDone
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("speech command stdout: %w", err)
	}
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start speech command: %w", err)
	}
	c.logger.Debug("speech command started", "pid", cmd.Process.Pid, "command", c.argv[0])

	s := newStream(cancel)
	go func() {
		defer cancel()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			u, ok := c.parseLine(scanner.Text())
			if !ok {
				continue
			}
			if !s.emit(ctx, u) {
				// session closed; stop the recognizer before waiting on it
				cancel()
				break
			}
		}
		err := cmd.Wait()
		s.finish(c.exitError(parent, err, stderr.String()))
	}()
	return s, nil
}

func (c *Command) exitError(parent context.Context, err error, stderr string) error {
	if err == nil || parent.Err() != nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && !exitErr.Exited() {
		// killed by our own cancel after the session was closed
		return nil
	}
	if stderr = strings.TrimSpace(stderr); stderr != "" {
		return fmt.Errorf("speech command: %w: %s", err, stderr)
	}
	return fmt.Errorf("speech command: %w", err)
}

type commandLine struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

func (c *Command) parseLine(line string) (Utterance, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Utterance{}, false
	}

	text, confidence := line, 0.0
	if strings.HasPrefix(line, "{") {
		var parsed commandLine
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			c.logger.Debug("speech command line is not JSON; using raw text", "error", err.Error())
		} else {
			text = parsed.Text
			if parsed.Confidence != nil {
				confidence = *parsed.Confidence
			}
		}
	}

	u := NewUtterance(text, confidence, c.now())
	return u, u.Text != ""
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if extra := t.buf.Len() - t.limit; extra > 0 {
		t.buf.Next(extra)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
