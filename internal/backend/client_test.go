package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rbright/safeword/internal/config"
	"github.com/rbright/safeword/internal/location"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default().Backend
	cfg.URL = srv.URL + "/"
	return New(cfg, srv.Client(), nil)
}

func TestNotifySendsLocationAndType(t *testing.T) {
	var got map[string]string
	var requestID string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/emergency/trigger", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		requestID = r.Header.Get("X-Request-ID")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"status":"success","message":"Emergency triggered","sms_count":3}`)
	}))

	result, err := client.Notify(context.Background(), Alert{
		Fix:        location.Fix{Lat: 12.5, Lon: -7.25, At: time.Unix(1, 0)},
		Type:       "emergency_sos_manual",
		IncidentID: "inc-1",
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.NotifiedCount)
	require.Equal(t, "success", result.Status)
	require.Equal(t, map[string]string{
		"location":    "12.5,-7.25",
		"type":        "emergency_sos_manual",
		"incident_id": "inc-1",
	}, got)

	_, err = uuid.Parse(requestID)
	require.NoError(t, err)
}

func TestNotifyUnknownLocationOmitsIncident(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"status":"success","sms_count":0}`)
	}))

	result, err := client.Notify(context.Background(), Alert{Fix: location.Unknown, Type: "periodic_update"})
	require.NoError(t, err)
	require.Zero(t, result.NotifiedCount)
	require.Equal(t, "unknown", got["location"])
	require.NotContains(t, got, "incident_id")
}

func TestNotifyNonSuccessStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "login required", http.StatusUnauthorized)
	}))

	_, err := client.Notify(context.Background(), Alert{Type: "emergency_sos_manual"})
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	require.Contains(t, err.Error(), "401")
	require.Contains(t, err.Error(), "login required")
}

func TestNotifyErrorPayload(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"error","message":"Unauthorized"}`)
	}))

	_, err := client.Notify(context.Background(), Alert{Type: "emergency_sos_manual"})
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	require.Contains(t, err.Error(), "Unauthorized")
}

func TestNotifyNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := config.Default().Backend
	cfg.URL = srv.URL
	srv.Close()

	_, err := New(cfg, nil, nil).Notify(context.Background(), Alert{Type: "emergency_sos_manual"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "notify emergency_sos_manual")
}

func TestContacts(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/contacts", r.URL.Path)
		_, _ = io.WriteString(w, `{"contacts":[{"name":"Ana","phone":"+100"},{"name":"Bo","phone":"+200","email":"bo@example.org"}]}`)
	}))

	contacts, err := client.Contacts(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Contact{
		{Name: "Ana", Phone: "+100"},
		{Name: "Bo", Phone: "+200", Email: "bo@example.org"},
	}, contacts)
}

func TestContactsEmpty(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))

	contacts, err := client.Contacts(context.Background())
	require.NoError(t, err)
	require.NotNil(t, contacts)
	require.Empty(t, contacts)
}

func TestUploadEvidenceMultipart(t *testing.T) {
	clip := filepath.Join(t.TempDir(), "evidence_inc-9.webm")
	require.NoError(t, os.WriteFile(clip, []byte("webm-bytes"), 0o600))

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/upload_evidence", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "inc-9", r.FormValue("incident_id"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "evidence_inc-9.webm", header.Filename)
		require.Equal(t, "video/webm", header.Header.Get("Content-Type"))

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Equal(t, "webm-bytes", string(data))
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.UploadEvidence(context.Background(), clip, "inc-9"))
}

func TestUploadEvidenceMissingFile(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler())
	err := client.UploadEvidence(context.Background(), filepath.Join(t.TempDir(), "missing.webm"), "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "open evidence")
}

func TestPing(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	require.NoError(t, client.Ping(context.Background()))

	failing := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	require.ErrorIs(t, failing.Ping(context.Background()), ErrUnexpectedStatus)
}
