package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// serveTemp runs Serve on a fresh socket and returns its path plus a stop
// func that cancels and waits for Serve to return.
func serveTemp(t *testing.T, handler HandlerFunc) (string, func()) {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "safeword.sock")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, handler) }()

	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		require.NoError(t, <-done)
	}
	t.Cleanup(stop)
	return socketPath, stop
}

// rawPeer accepts one connection and hands it to fn.
func rawPeer(t *testing.T, fn func(net.Conn)) string {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "safeword.sock")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}()
	return socketPath
}

func TestSendCarriesArgAndData(t *testing.T) {
	got := make(chan Request, 1)
	socketPath, _ := serveTemp(t, func(_ context.Context, req Request) Response {
		got <- req
		return Response{OK: true, Phase: "idle", Message: "keyword set: mayday", Data: json.RawMessage(`{"keyword":"mayday"}`)}
	})

	resp, err := Send(context.Background(), socketPath, Request{Command: CommandKeyword, Arg: "mayday"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, Request{Command: CommandKeyword, Arg: "mayday"}, <-got)
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.Phase)
	require.Equal(t, "keyword set: mayday", resp.Message)
	require.JSONEq(t, `{"keyword":"mayday"}`, string(resp.Data))
}

func TestFailureResponse(t *testing.T) {
	resp := Failure(errors.New("no emergency countdown to cancel"))
	require.False(t, resp.OK)
	require.Equal(t, "no emergency countdown to cancel", resp.Error)
	require.Empty(t, resp.Phase)
}

func TestNotRunningClassifiesMissingSocket(t *testing.T) {
	_, err := Send(context.Background(), filepath.Join(t.TempDir(), "absent.sock"), Request{Command: CommandStatus}, 50*time.Millisecond)
	require.Error(t, err)
	require.True(t, NotRunning(err))
	require.False(t, NotRunning(errors.New("i/o timeout")))
}

func TestSendReportsBrokenPeers(t *testing.T) {
	t.Run("garbage reply", func(t *testing.T) {
		socketPath := rawPeer(t, func(conn net.Conn) {
			_, _ = bufio.NewReader(conn).ReadBytes('\n')
			_, _ = conn.Write([]byte("{oops\n"))
		})
		_, err := Send(context.Background(), socketPath, Request{Command: CommandStatus}, time.Second)
		require.ErrorContains(t, err, "decode response")
	})

	t.Run("hang up", func(t *testing.T) {
		socketPath := rawPeer(t, func(net.Conn) {})
		_, err := Send(context.Background(), socketPath, Request{Command: CommandStatus}, time.Second)
		require.ErrorContains(t, err, "read response")
	})
}

func TestServeAnswersMalformedRequest(t *testing.T) {
	socketPath, _ := serveTemp(t, func(context.Context, Request) Response {
		t.Error("handler must not see malformed requests")
		return Response{OK: true}
	})

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("sos please\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "decode request")
}

func TestProbeBeforeAndAfterShutdown(t *testing.T) {
	socketPath, stop := serveTemp(t, func(_ context.Context, req Request) Response {
		return Response{OK: req.Command == CommandStatus, Phase: "idle"}
	})

	alive, err := Probe(context.Background(), socketPath, time.Second)
	require.NoError(t, err)
	require.True(t, alive)

	stop()

	alive, err = Probe(context.Background(), socketPath, 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, alive)
}
