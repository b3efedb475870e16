// Package api exposes the queue over HTTP: enqueue and worker endpoints
// behind API-key auth and per-credential rate limits, open asset status
// queries, and real-time notifications over WebSocket and SSE.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Papyszoo/Modelibr-sub004/engine"
	"github.com/Papyszoo/Modelibr-sub004/stream"
)

// Server wires the engine and broker into a gin router.
type Server struct {
	engine  *engine.Engine
	broker  *stream.Broker
	auth    Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	router  *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithAuthenticator sets the credential resolver. Defaults to
// NoopAuthenticator, which should never reach production.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

// WithBroker attaches the notification broker, enabling the WebSocket
// and SSE endpoints.
func WithBroker(b *stream.Broker) Option {
	return func(s *Server) { s.broker = b }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRateLimit overrides the per-credential request budget.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *Server) { s.limiter = NewRateLimiter(limit, burst) }
}

// New builds the HTTP surface over the given engine.
func New(e *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:  e,
		auth:    NoopAuthenticator{},
		limiter: NewRateLimiter(50, 100),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/healthz", s.handleHealthz)

	// Asset-facing endpoints are open: consumers poll status and watch
	// notifications without credentials.
	models := r.Group("/models/:assetId/thumbnail")
	{
		models.GET("", s.handleAssetThumbnail)
		models.GET("/notifications", s.handleNotificationsWS)
		models.GET("/notifications/sse", s.handleNotificationsSSE)
	}

	jobs := r.Group("/thumbnail-jobs", authenticate(s.auth), rateLimit(s.limiter))
	{
		jobs.POST("", requireScope(ScopeEnqueue), s.handleEnqueue)
		jobs.POST("/dequeue", requireScope(ScopeWorker), s.handleDequeue)
		jobs.POST("/:jobId/complete", requireScope(ScopeWorker), s.handleComplete)
		jobs.POST("/:jobId/events", requireScope(ScopeWorker), s.handleReportEvent)

		jobs.GET("", s.handleListJobs)
		jobs.GET("/stats", s.handleStats)
		jobs.GET("/:jobId", s.handleGetJob)
		jobs.GET("/:jobId/events", s.handleListEvents)
	}

	return r
}
