// Package backend talks to the emergency notification service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/rbright/safeword/internal/config"
	"github.com/rbright/safeword/internal/location"
	"github.com/rbright/safeword/internal/logging"
)

// ErrUnexpectedStatus wraps non-2xx responses and explicit error payloads.
var ErrUnexpectedStatus = errors.New("unexpected backend response")

const maxErrorBody = 4096

// Alert is one location report sent to the backend.
type Alert struct {
	Fix        location.Fix
	Type       string
	IncidentID string
}

// NotifyResult is the backend's answer to an alert.
type NotifyResult struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	NotifiedCount int    `json:"sms_count"`
}

// Contact is one emergency contact registered with the backend.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type triggerRequest struct {
	Location   string `json:"location"`
	Type       string `json:"type"`
	IncidentID string `json:"incident_id,omitempty"`
}

type contactsResponse struct {
	Contacts []Contact `json:"contacts"`
}

// Client is an HTTP JSON client for the notification backend.
type Client struct {
	cfg    config.BackendConfig
	http   *http.Client
	logger *slog.Logger
}

// New builds a client. A nil httpClient uses one with the configured timeout.
func New(cfg config.BackendConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout()}
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logging.OrDiscard(logger).With("component", "backend"),
	}
}

// Notify posts an alert and returns how many contacts were notified.
func (c *Client) Notify(ctx context.Context, alert Alert) (NotifyResult, error) {
	body, err := json.Marshal(triggerRequest{
		Location:   alert.Fix.String(),
		Type:       alert.Type,
		IncidentID: alert.IncidentID,
	})
	if err != nil {
		return NotifyResult{}, fmt.Errorf("encode alert: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.cfg.TriggerPath, bytes.NewReader(body))
	if err != nil {
		return NotifyResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var result NotifyResult
	if err := c.do(req, &result); err != nil {
		return NotifyResult{}, fmt.Errorf("notify %s: %w", alert.Type, err)
	}
	if strings.EqualFold(result.Status, "error") {
		return result, fmt.Errorf("notify %s: %w: %s", alert.Type, ErrUnexpectedStatus, result.Message)
	}

	c.logger.Info("alert delivered",
		"type", alert.Type,
		"incident_id", alert.IncidentID,
		"location", alert.Fix.String(),
		"notified_count", result.NotifiedCount,
	)
	return result, nil
}

// Contacts lists the registered emergency contacts.
func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.cfg.ContactsPath, nil)
	if err != nil {
		return nil, err
	}

	var payload contactsResponse
	if err := c.do(req, &payload); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	if payload.Contacts == nil {
		payload.Contacts = []Contact{}
	}
	return payload.Contacts, nil
}

// UploadEvidence sends the clip at path as the multipart "file" field.
func (c *Client) UploadEvidence(ctx context.Context, path string, incidentID string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open evidence: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if incidentID != "" {
		if err := form.WriteField("incident_id", incidentID); err != nil {
			return fmt.Errorf("encode evidence: %w", err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
	header.Set("Content-Type", mediaTypeFor(path))
	part, err := form.CreatePart(header)
	if err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.cfg.EvidencePath, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("upload evidence: %w", err)
	}
	c.logger.Info("evidence uploaded", "incident_id", incidentID, "path", path)
	return nil
}

// Ping checks that the backend answers HTTP at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ping backend: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("ping backend: %w: %s", ErrUnexpectedStatus, resp.Status)
	}
	return nil
}

// URL returns the configured base URL.
func (c *Client) URL() string {
	return c.cfg.URL
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	endpoint := strings.TrimRight(c.cfg.URL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		trimmed := strings.TrimSpace(string(snippet))
		if trimmed == "" {
			return fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
		}
		return fmt.Errorf("%w: %s (%s)", ErrUnexpectedStatus, resp.Status, trimmed)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func mediaTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".webm":
		return "video/webm"
	case ".wav":
		return "audio/wav"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
