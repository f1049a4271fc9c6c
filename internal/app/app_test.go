package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/safeword/internal/backend"
	"github.com/rbright/safeword/internal/ipc"
	"github.com/rbright/safeword/internal/settings"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "safeword")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestExecuteInvalidConfig(t *testing.T) {
	paths := setupRunnerEnv(t, `{"countdown_seconds": 0}`)

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "countdown_seconds")
}

func TestRunnerStatusWhenDaemonNotRunning(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "not running\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerSOSRequiresDaemon(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "sos"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "daemon is not running")
}

func TestRunnerForwardsCommandsToDaemon(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	requests := make(chan ipc.Request, 8)

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		requests <- req
		return ipc.Response{OK: true, Phase: "idle", Message: req.Command + " handled"}
	})
	defer shutdown()

	cases := [][]string{
		{"status"},
		{"sos"},
		{"cancel"},
		{"monitor", "off"},
		{"keyword", "mayday"},
	}
	for _, args := range cases {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner := Runner{Stdout: stdout, Stderr: stderr}

		exitCode := runner.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
		require.Equal(t, 0, exitCode, args)
		require.Empty(t, stderr.String(), args)
		require.Equal(t, args[0]+" handled\n", stdout.String())
	}

	got := make([]ipc.Request, 0, len(cases))
	for range cases {
		got = append(got, <-requests)
	}
	require.Equal(t, []ipc.Request{
		{Command: ipc.CommandStatus},
		{Command: ipc.CommandSOS},
		{Command: ipc.CommandCancel},
		{Command: ipc.CommandMonitor, Arg: "off"},
		{Command: ipc.CommandKeyword, Arg: "mayday"},
	}, got)
}

func TestRunnerReportsDaemonErrors(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		return ipc.Response{OK: false, Phase: "idle", Error: "no emergency countdown to cancel"}
	})
	defer shutdown()

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "cancel"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no emergency countdown to cancel")
}

func TestRunnerKeywordWithoutDaemonUsesSettings(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	runner := func(args ...string) (int, string, string) {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		r := Runner{Stdout: stdout, Stderr: stderr}
		code := r.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
		return code, stdout.String(), stderr.String()
	}

	code, out, _ := runner("keyword")
	require.Equal(t, 0, code)
	require.Equal(t, "help\n", out)

	code, out, _ = runner("keyword", "Mayday")
	require.Equal(t, 0, code)
	require.Equal(t, "keyword set: mayday\n", out)

	path, err := settings.ResolvePath()
	require.NoError(t, err)
	stored, err := settings.NewStore(path, "help").Load()
	require.NoError(t, err)
	require.Equal(t, "mayday", stored.Keyword)

	code, out, _ = runner("keyword")
	require.Equal(t, 0, code)
	require.Equal(t, "mayday\n", out)

	code, _, errOut := runner("keyword", "x")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "at least 2 characters")
}

func TestRunnerContactsFromDaemon(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, ipc.CommandContacts, req.Command)
		data, _ := json.Marshal([]backend.Contact{{Name: "Ana", Phone: "+15550100"}})
		return ipc.Response{OK: true, Message: "1 contacts", Data: data}
	})
	defer shutdown()

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "contacts"})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Ana")
	require.Contains(t, stdout.String(), "+15550100")
}

func TestRunnerContactsWithoutDaemonAsksBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/contacts", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"contacts":[{"name":"Bo","phone":"+15550199"}]}`))
	}))
	t.Cleanup(server.Close)

	paths := setupRunnerEnv(t, fmt.Sprintf(`{"backend": {"url": %q}}`, server.URL))

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "contacts"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Contains(t, stdout.String(), "Bo")
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "safeword.sock")

	shutdown := startIPCServerForRunnerTest(t, socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		if req.Command == ipc.CommandStatus {
			return ipc.Response{OK: true, Phase: "pending_confirmation"}
		}
		return ipc.Response{OK: false, Error: "unsupported"}
	})
	defer shutdown()

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: ipc.CommandStatus})
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "pending_confirmation", resp.Phase)

	_, handled, err = tryForward(context.Background(), socketPath, ipc.Request{Command: ipc.CommandCancel})
	require.True(t, handled)
	require.EqualError(t, err, "unsupported")
}

func TestTryForwardDoesNotRemoveSocketPathOnForwardFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "safeword.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: ipc.CommandStatus})
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "safeword.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: ipc.CommandStatus})
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "forward command \"status\":")

	<-done
	require.NoError(t, listener.Close())
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t, `{"backend": {"url": "http://127.0.0.1:1"}, "location": {"provider": "none"}}`)

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "config: loaded")
	require.Contains(t, stdout.String(), "[OK] settings.keyword")
	require.Contains(t, stdout.String(), "[FAIL] backend")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestRunnerRunRefusesSecondDaemon(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		return ipc.Response{OK: true, Phase: "idle"}
	})
	defer shutdown()

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "run"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "already running")
}

func TestRunnerRunServesCommandsUntilCancelled(t *testing.T) {
	alerts := make(chan map[string]any, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/emergency/trigger" {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			alerts <- body
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","sms_count":1}`))
	}))
	t.Cleanup(server.Close)

	recognizerDir := t.TempDir()
	recognizer := filepath.Join(recognizerDir, "fake-recognizer")
	require.NoError(t, os.WriteFile(recognizer, []byte("#!/usr/bin/env bash\nexec sleep 30\n"), 0o755))
	t.Setenv("PATH", recognizerDir+":"+os.Getenv("PATH"))

	paths := setupRunnerEnv(t, fmt.Sprintf(`{
  "backend": {"url": %q},
  "countdown_seconds": 30,
  "monitoring": {"autostart": true, "periodic_updates": false},
  "speech": {"provider": "command", "command": "fake-recognizer --json"},
  "location": {"provider": "static", "static_lat": 1.5, "static_lon": 2.5},
  "evidence": {"enable": false},
  "indicator": {"enable": false},
  "panel": {"enable": false}
}`, server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdout := &syncBuffer{}
	stderr := &syncBuffer{}
	exit := make(chan int, 1)
	go func() {
		runner := Runner{Stdout: stdout, Stderr: stderr}
		exit <- runner.Execute(ctx, []string{"--config", paths.configPath, "run"})
	}()

	require.Eventually(t, func() bool {
		alive, _ := ipc.Probe(context.Background(), paths.socketPath(), 100*time.Millisecond)
		return alive
	}, 5*time.Second, 20*time.Millisecond, stderr.String())

	send := func(req ipc.Request) ipc.Response {
		resp, err := ipc.Send(context.Background(), paths.socketPath(), req, 2*time.Second)
		require.NoError(t, err)
		return resp
	}

	require.Eventually(t, func() bool {
		var status map[string]any
		resp := send(ipc.Request{Command: ipc.CommandStatus})
		_ = json.Unmarshal(resp.Data, &status)
		return status["listening"] == true && status["tracking"] == true
	}, 5*time.Second, 20*time.Millisecond)

	resp := send(ipc.Request{Command: ipc.CommandSOS})
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, "pending_confirmation", resp.Phase)

	resp = send(ipc.Request{Command: ipc.CommandCancel})
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, "idle", resp.Phase)

	resp = send(ipc.Request{Command: ipc.CommandKeyword, Arg: "mayday"})
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, "keyword set: mayday", resp.Message)

	cancel()
	select {
	case code := <-exit:
		require.Equal(t, 0, code, stderr.String())
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}

	require.Contains(t, stdout.String(), `safeword running (keyword "help", listening=true)`)
	require.Empty(t, alerts)
	_, statErr := os.Stat(paths.socketPath())
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type runnerPaths struct {
	configPath string
	runtimeDir string
}

func (p runnerPaths) socketPath() string {
	return filepath.Join(p.runtimeDir, "safeword.sock")
}

func setupRunnerEnv(t *testing.T, config string) runnerPaths {
	t.Helper()

	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(configPath, []byte(config+"\n"), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir}
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}
