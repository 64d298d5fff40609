package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mononoSaya/auto-novel/internal/apperr"
	"github.com/mononoSaya/auto-novel/internal/service"
	"github.com/mononoSaya/auto-novel/pkg/log"
)

type Server struct {
	sc      *service.Context
	viewer  *service.Viewer
	booster *service.Booster

	metrics        http.Handler
	streamInterval time.Duration

	echo *echo.Echo
}

type Option func(*Server)

// WithMetrics exposes h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(sc *service.Context, viewer *service.Viewer, booster *service.Booster, opts ...Option) *Server {
	s := &Server{
		sc:             sc,
		viewer:         viewer,
		booster:        booster,
		streamInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.HTTPErrorHandler = s.httpErrorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := log.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
			}
			if v.Error != nil {
				log.With(fields).Warn("http request failed: %v", v.Error)
				return nil
			}
			log.With(fields).Debug("http request")
			return nil
		},
	}))
	s.echo = e
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// ListenAndServe blocks until the server stops. A server stopped by
// Shutdown returns nil.
func (s *Server) ListenAndServe(addr string) error {
	log.Info("http server listening on %s", addr)
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/healthz", s.handleHealth)
	e.GET("/books/:provider/:book", s.handleBook)
	e.GET("/list", s.handleList)
	e.POST("/book-update/:provider/:book/:lang", s.handleCreateUpdate)

	e.GET("/jobs", s.handleListJobs)
	e.GET("/jobs/stream", s.handleJobStream)
	e.GET("/jobs/:provider/:book/:lang", s.handleJob)
	e.DELETE("/jobs/:provider/:book/:lang", s.handleClearJob)

	boost := e.Group("/boost")
	boost.GET("/metadata/:provider/:book", s.handleBoostPending)
	boost.POST("/metadata/:provider/:book", s.handleBoostSubmitMetadata)
	boost.GET("/episode/:provider/:book/:episode", s.handleBoostSourceEpisode)
	boost.POST("/episode/:provider/:book/:episode", s.handleBoostSubmitEpisode)
	boost.POST("/make/:provider/:book", s.handleBoostMake)

	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}
}

// httpErrorHandler writes {"error": message} with a status derived from
// the error type.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := apperr.HTTPStatus(err)
	message := apperr.UserMessage(err)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		message = http.StatusText(status)
		if m, ok := he.Message.(string); ok && m != "" {
			message = m
		}
	}
	if status >= http.StatusInternalServerError {
		log.Error("%s %s: %v", c.Request().Method, c.Request().URL.Path, err)
	}

	_ = writeError(c, status, message)
}

func (s *Server) handleHealth(c echo.Context) error {
	return writeJSON(c, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(c echo.Context, status int, data any) error {
	return c.JSON(status, data)
}

func writeError(c echo.Context, status int, msg string) error {
	return writeJSON(c, status, map[string]any{
		"error": msg,
	})
}
