package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vitos/crypto_tp_reentry/internal/usecase"
	"go.uber.org/zap"
)

// JobRunner is the part of the scheduler the API drives.
type JobRunner interface {
	RunNow(name string) (bool, error)
	Status() []usecase.JobStatus
}

// Server exposes the admin API: job status, pending re-entries and
// per-account settings.
type Server struct {
	router    *gin.Engine
	server    *http.Server
	settings  *usecase.RetrySettings
	scheduler JobRunner
	metrics   http.Handler
	logger    *zap.Logger
	startedAt time.Time
}

func NewServer(
	port int,
	settings *usecase.RetrySettings,
	scheduler JobRunner,
	metrics http.Handler,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		router:    router,
		settings:  settings,
		scheduler: scheduler,
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "web")),
		startedAt: time.Now(),
	}
	router.Use(gin.Recovery(), s.accessLog())
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.GET("/status", s.handleStatus)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := s.router.Group("/api")
	{
		api.GET("/reentries", s.handleListReentries)

		account := api.Group("/accounts/:user/:exchange")
		account.GET("/take-profit", s.handleGetTakeProfit)
		account.PUT("/take-profit", s.handlePutTakeProfit)
		account.GET("/retry", s.handleGetRetry)
		account.PUT("/retry", s.handlePutRetry)
		account.DELETE("/retry", s.handleDisableRetry)

		api.POST("/jobs/:name/run", s.handleRunJob)
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

// Handler returns the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
