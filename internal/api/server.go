// Package api serves an OpenAI-compatible chat completions endpoint over the
// generation engine.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/wavvy/internal/logger"
	"github.com/samcharles93/wavvy/internal/metrics"
)

const (
	pathChatCompletions = "/v1/chat/completions"
	pathModels          = "/v1/models"
	pathHealth          = "/healthz"
	pathMetrics         = "/metrics"
)

type Server struct {
	provider EngineProvider
	clock    func() time.Time
	log      logger.Logger
}

type ServerOption func(*Server)

func WithServerLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

func WithClock(clock func() time.Time) ServerOption {
	return func(s *Server) { s.clock = clock }
}

func NewServer(provider EngineProvider, opts ...ServerOption) *Server {
	s := &Server{
		provider: provider,
		clock:    time.Now,
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.POST(pathChatCompletions, s.handleChatCompletions)
	e.GET(pathModels, s.handleListModels)
	e.GET(pathHealth, s.handleHealth)
	e.GET(pathMetrics, echo.WrapHandler(promhttp.Handler()))
}

// Handler wraps e with request metrics for the registered routes.
func (s *Server) Handler(e *echo.Echo) http.Handler {
	return metrics.Middleware([]string{pathChatCompletions, pathModels, pathHealth, pathMetrics}, e)
}

func (s *Server) handleListModels(c *echo.Context) error {
	created := s.clock().Unix()
	list := ModelList{Object: "list", Data: []ModelObject{}}
	for _, id := range s.modelNames() {
		list.Data = append(list.Data, ModelObject{
			ID:      id,
			Object:  "model",
			Created: created,
			OwnedBy: "local",
		})
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Models: s.modelNames()})
}

func (s *Server) modelNames() []string {
	if s.provider == nil {
		return []string{}
	}
	return s.provider.ListModels()
}

func (s *Server) defaultModelName() string {
	if names := s.modelNames(); len(names) == 1 {
		return names[0]
	}
	return "wavvy"
}
