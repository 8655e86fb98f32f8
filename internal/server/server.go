package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/config"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
	"pdf-rag/internal/rag"
	"pdf-rag/internal/storage"
)

// Deps are the components the HTTP layer drives.
type Deps struct {
	Ingestor *rag.Ingestor
	Answerer *rag.Answerer
	Files    *storage.FileStore
	Metrics  *metrics.Metrics
}

type Server struct {
	echo *echo.Echo
	cfg  config.ServerConfig
	Deps
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return models.NewError(models.KindInvalidRequest, "server.validate", err)
	}
	return nil
}

// multipartOverhead is headroom for form boundaries and fields around an upload.
const multipartOverhead = 64 << 10

func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validate: validator.New()}

	s := &Server{echo: e, cfg: cfg, Deps: deps}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			id, err := helper.GenerateUUID()
			if err != nil {
				return ""
			}
			return id
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		LogRemoteIP: true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			s.Metrics.Requests.WithLabelValues(route, strconv.Itoa(v.Status)).Inc()

			ev := log.Info()
			if v.Status >= http.StatusInternalServerError {
				ev = log.Error()
			}
			ev.Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Str("remote_ip", v.RemoteIP).
				Dur("latency", v.Latency).
				Err(v.Error).
				Msg("Request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))
	if cfg.MaxUploadBytes > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dB", cfg.MaxUploadBytes+multipartOverhead)))
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/health", s.health)
	s.echo.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()))

	s.echo.POST("/upload", s.upload)
	s.echo.POST("/process-pdf", s.processPDF)
	s.echo.POST("/query", s.query)
	s.echo.POST("/chat", s.chat)
	s.echo.GET("/status/:name", s.status)
	s.echo.DELETE("/document/:scope/:name", s.deleteDocument)
	s.echo.POST("/refresh-documents", s.refreshDocuments)
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("Starting HTTP server")
	if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StatusFor maps an error to the HTTP status reported to clients.
func StatusFor(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	switch models.KindOf(err) {
	case models.KindInvalidRequest:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindExtraction:
		return http.StatusUnprocessableEntity
	case models.KindEmbedding:
		return http.StatusBadGateway
	case models.KindGeneration:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := StatusFor(err)
	resp := errorResponse{Kind: string(models.KindOf(err)), Message: err.Error()}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		resp.Message = fmt.Sprint(he.Message)
		if resp.Kind == "" && code < http.StatusInternalServerError {
			resp.Kind = string(models.KindInvalidRequest)
		}
	}
	if resp.Kind == "" {
		resp.Kind = "internal_error"
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		log.Error().Err(err).Msg("Error writing error response")
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
