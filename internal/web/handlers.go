package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"go.uber.org/zap"
)

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
		"jobs":   s.scheduler.Status(),
	})
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleListReentries(c *gin.Context) {
	records, err := s.settings.ListPending(c.Request.Context(), c.Query("user"), c.Query("exchange"))
	if err != nil {
		s.writeError(c, "list_reentries", err)
		return
	}
	if records == nil {
		records = []*domain.ReentryRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "records": records})
}

func (s *Server) handleGetTakeProfit(c *gin.Context) {
	cfg, err := s.settings.GetTakeProfitConfig(c.Request.Context(), c.Param("user"), c.Param("exchange"))
	if err != nil {
		s.writeError(c, "get_take_profit", err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handlePutTakeProfit(c *gin.Context) {
	var req struct {
		Percentage     float64 `json:"percentage"`
		InitialBalance float64 `json:"initial_balance"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := &domain.TakeProfitConfig{
		UserID:         c.Param("user"),
		Exchange:       c.Param("exchange"),
		Percentage:     req.Percentage,
		InitialBalance: req.InitialBalance,
	}
	if err := s.settings.SetTakeProfitConfig(c.Request.Context(), cfg); err != nil {
		s.writeError(c, "put_take_profit", err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleGetRetry(c *gin.Context) {
	p, err := s.settings.GetRetryPolicy(c.Request.Context(), c.Param("user"), c.Param("exchange"))
	if err != nil {
		s.writeError(c, "get_retry", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handlePutRetry(c *gin.Context) {
	var req struct {
		MaxRetry               int     `json:"max_retry"`
		VolumeReductionPercent float64 `json:"volume_reduction_percent"`
		Enabled                *bool   `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := &domain.RetryPolicy{
		UserID:                 c.Param("user"),
		Exchange:               c.Param("exchange"),
		MaxRetry:               req.MaxRetry,
		VolumeReductionPercent: req.VolumeReductionPercent,
		Enabled:                req.Enabled == nil || *req.Enabled,
	}
	if err := s.settings.SetRetryPolicy(c.Request.Context(), p); err != nil {
		s.writeError(c, "put_retry", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleDisableRetry(c *gin.Context) {
	n, err := s.settings.DisableRetry(c.Request.Context(), c.Param("user"), c.Param("exchange"), nil)
	if err != nil {
		s.writeError(c, "disable_retry", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": false, "records_deleted": n})
}

// handleRunJob runs a job synchronously. 409 means a run was already in
// flight and this one was skipped.
func (s *Server) handleRunJob(c *gin.Context) {
	name := c.Param("name")
	ran, err := s.scheduler.RunNow(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if !ran {
		c.JSON(http.StatusConflict, gin.H{"job": name, "ran": false})
		return
	}
	s.logger.Info("Job triggered via API", zap.String("job", name))
	c.JSON(http.StatusOK, gin.H{"job": name, "ran": true})
}
