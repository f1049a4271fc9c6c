// Package panel serves the local control panel API and the live event feed.
package panel

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rbright/safeword/internal/backend"
	"github.com/rbright/safeword/internal/control"
	"github.com/rbright/safeword/internal/keyword"
	"github.com/rbright/safeword/internal/logging"
)

const shutdownTimeout = 2 * time.Second

// Service is the daemon surface the panel drives. *control.Service
// satisfies it.
type Service interface {
	Trigger(ctx context.Context, source string) error
	Cancel(ctx context.Context) error
	Status() control.Status
	SetKeyword(word string) (bool, error)
	SetMonitoring(ctx context.Context, on bool) error
	Contacts(ctx context.Context) ([]backend.Contact, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

type keywordRequest struct {
	Keyword string `json:"keyword"`
}

type keywordResponse struct {
	Keyword string `json:"keyword"`
	Changed bool   `json:"changed"`
}

type monitoringRequest struct {
	Enabled *bool `json:"enabled"`
}

type Server struct {
	echo    *echo.Echo
	service Service
	hub     *Hub
	logger  *slog.Logger
	done    chan struct{}
}

// New builds the panel routes. hub may be nil, in which case the event feed
// answers 404.
func New(service Service, hub *Hub, logger *slog.Logger) *Server {
	logger = logging.OrDiscard(logger).With("component", "panel")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelDebug
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Int64("latency_ms", v.Latency.Milliseconds()),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(c.Request().Context(), level, "panel request", attrs...)
			return nil
		},
	}))

	s := &Server{echo: e, service: service, hub: hub, logger: logger}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "safeword"})
	})

	api := e.Group("/api")
	api.GET("/status", s.status)
	api.POST("/sos", s.sos)
	api.POST("/cancel", s.cancel)
	api.PUT("/keyword", s.keyword)
	api.PUT("/monitoring", s.monitoring)
	api.GET("/contacts", s.contacts)
	if hub != nil {
		api.GET("/events", hub.serve)
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start binds listen and serves until ctx is done. A bind failure is
// returned before any goroutine starts.
func (s *Server) Start(ctx context.Context, listen string) (net.Addr, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	s.echo.Listener = ln
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("panel server failed", "error", err.Error())
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.echo.Shutdown(shutdownCtx)
	}()

	s.logger.Info("panel listening", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

// Wait blocks until a started server has shut down.
func (s *Server) Wait() {
	if s.done != nil {
		<-s.done
	}
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, s.service.Status())
}

func (s *Server) sos(c echo.Context) error {
	if err := s.service.Trigger(c.Request().Context(), control.SourcePanel); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, s.service.Status())
}

func (s *Server) cancel(c echo.Context) error {
	if err := s.service.Cancel(c.Request().Context()); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, s.service.Status())
}

func (s *Server) keyword(c echo.Context) error {
	var req keywordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	changed, err := s.service.SetKeyword(req.Keyword)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, keywordResponse{Keyword: keyword.Normalize(req.Keyword), Changed: changed})
}

func (s *Server) monitoring(c echo.Context) error {
	var req monitoringRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: `body must be {"enabled": true|false}`})
	}
	if err := s.service.SetMonitoring(c.Request().Context(), *req.Enabled); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, s.service.Status())
}

func (s *Server) contacts(c echo.Context) error {
	contacts, err := s.service.Contacts(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	if contacts == nil {
		contacts = []backend.Contact{}
	}
	return c.JSON(http.StatusOK, contacts)
}

func fail(c echo.Context, err error) error {
	return c.JSON(statusFor(err), errorResponse{Error: strings.TrimSpace(err.Error())})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, keyword.ErrInvalidKeyword):
		return http.StatusBadRequest
	case errors.Is(err, control.ErrBusy), errors.Is(err, control.ErrNothingToCancel):
		return http.StatusConflict
	case errors.Is(err, control.ErrNoContacts):
		return http.StatusServiceUnavailable
	case errors.Is(err, backend.ErrUnexpectedStatus):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
