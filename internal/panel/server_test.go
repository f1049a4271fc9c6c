package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/safeword/internal/backend"
	"github.com/rbright/safeword/internal/control"
	"github.com/rbright/safeword/internal/emergency"
	"github.com/rbright/safeword/internal/fsm"
	"github.com/rbright/safeword/internal/keyword"
)

type fakeService struct {
	triggerErr  error
	cancelErr   error
	contacts    []backend.Contact
	contactsErr error
	monitorErr  error

	triggers   []string
	keyword    string
	monitoring bool
}

func (f *fakeService) Trigger(_ context.Context, source string) error {
	if f.triggerErr != nil {
		return f.triggerErr
	}
	f.triggers = append(f.triggers, source)
	return nil
}

func (f *fakeService) Cancel(context.Context) error { return f.cancelErr }

func (f *fakeService) Status() control.Status {
	phase := fsm.PhaseIdle
	if len(f.triggers) > 0 {
		phase = fsm.PhasePendingConfirmation
	}
	return control.Status{
		Snapshot:   emergency.Snapshot{Phase: phase, LastKnown: "unknown"},
		Keyword:    f.keyword,
		Monitoring: f.monitoring,
	}
}

func (f *fakeService) SetKeyword(word string) (bool, error) {
	if err := keyword.ValidKeyword(word); err != nil {
		return false, err
	}
	word = keyword.Normalize(word)
	changed := word != f.keyword
	f.keyword = word
	return changed, nil
}

func (f *fakeService) SetMonitoring(_ context.Context, on bool) error {
	if f.monitorErr != nil {
		return f.monitorErr
	}
	f.monitoring = on
	return nil
}

func (f *fakeService) Contacts(context.Context) ([]backend.Contact, error) {
	return f.contacts, f.contactsErr
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := New(&fakeService{}, nil, nil)
	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestStatus(t *testing.T) {
	s := New(&fakeService{keyword: "help"}, nil, nil)
	rec := do(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	require.Equal(t, "idle", body["phase"])
	require.Equal(t, "help", body["keyword"])
	require.Equal(t, "unknown", body["last_known_location"])
}

func TestSOS(t *testing.T) {
	svc := &fakeService{}
	s := New(svc, nil, nil)

	rec := do(t, s, http.MethodPost, "/api/sos", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{control.SourcePanel}, svc.triggers)
	require.Equal(t, "pending_confirmation", decode[map[string]any](t, rec)["phase"])

	svc.triggerErr = fmt.Errorf("%w (executing)", control.ErrBusy)
	rec = do(t, s, http.MethodPost, "/api/sos", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, decode[errorResponse](t, rec).Error, "already in progress")
}

func TestCancel(t *testing.T) {
	svc := &fakeService{}
	s := New(svc, nil, nil)

	rec := do(t, s, http.MethodPost, "/api/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	svc.cancelErr = control.ErrNothingToCancel
	rec = do(t, s, http.MethodPost, "/api/cancel", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestKeyword(t *testing.T) {
	svc := &fakeService{keyword: "help"}
	s := New(svc, nil, nil)

	rec := do(t, s, http.MethodPut, "/api/keyword", `{"keyword":" Mayday "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, keywordResponse{Keyword: "mayday", Changed: true}, decode[keywordResponse](t, rec))

	rec = do(t, s, http.MethodPut, "/api/keyword", `{"keyword":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "mayday", svc.keyword)

	rec = do(t, s, http.MethodPut, "/api/keyword", `{"keyword":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMonitoring(t *testing.T) {
	svc := &fakeService{}
	s := New(svc, nil, nil)

	rec := do(t, s, http.MethodPut, "/api/monitoring", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, svc.monitoring)
	require.Equal(t, true, decode[map[string]any](t, rec)["monitoring"])

	rec = do(t, s, http.MethodPut, "/api/monitoring", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	svc.monitorErr = errors.New("start listening: microphone unavailable")
	rec = do(t, s, http.MethodPut, "/api/monitoring", `{"enabled":true}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestContacts(t *testing.T) {
	svc := &fakeService{contacts: []backend.Contact{{Name: "Ana", Phone: "+15550100"}}}
	s := New(svc, nil, nil)

	rec := do(t, s, http.MethodGet, "/api/contacts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, svc.contacts, decode[[]backend.Contact](t, rec))

	svc.contacts = nil
	rec = do(t, s, http.MethodGet, "/api/contacts", "")
	require.JSONEq(t, `[]`, rec.Body.String())

	svc.contactsErr = fmt.Errorf("%w: 500", backend.ErrUnexpectedStatus)
	rec = do(t, s, http.MethodGet, "/api/contacts", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestEventsRouteRequiresHub(t *testing.T) {
	s := New(&fakeService{}, nil, nil)
	rec := do(t, s, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartServesAndShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(&fakeService{}, nil, nil)

	addr, err := s.Start(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	s.Wait()
}

func TestStartReportsBindFailure(t *testing.T) {
	s := New(&fakeService{}, nil, nil)
	_, err := s.Start(context.Background(), "127.0.0.1:-1")
	require.Error(t, err)
}
