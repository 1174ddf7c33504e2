// Package api exposes the engine over HTTP: question answering,
// ingestion, reindexing and stats.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hashednetwork/transito-hp/internal/ingest"
	"github.com/hashednetwork/transito-hp/internal/rag/pipeline"
	"github.com/hashednetwork/transito-hp/internal/service"
	"github.com/hashednetwork/transito-hp/pkg/logger"
)

// API provides the HTTP handlers.
type API struct {
	service *service.Service
	log     *logger.Logger
}

// NewAPI creates an API handler set.
func NewAPI(svc *service.Service, log *logger.Logger) *API {
	return &API{service: svc, log: log}
}

type askRequest struct {
	UserID      string   `json:"user_id" binding:"required"`
	Username    string   `json:"username"`
	Question    string   `json:"question" binding:"required"`
	SourceTypes []string `json:"source_types"`
	Limit       int      `json:"limit"`
}

// AskHandler answers one question.
func (a *API) AskHandler(c *gin.Context) {
	var payload askRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	resp, err := a.service.Ask(c.Request.Context(), &service.AskRequest{
		UserID:      payload.UserID,
		Username:    payload.Username,
		Question:    payload.Question,
		SourceTypes: payload.SourceTypes,
		Limit:       payload.Limit,
	})
	if err != nil {
		if errors.Is(err, service.ErrQuotaExceeded) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "daily question quota exceeded"})
			return
		}
		a.log.WithError(err).Error("failed to answer question")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to answer question"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"answer":          resp.Answer.Text,
		"citations":       resp.Answer.Citations,
		"sources":         pipeline.RenderCitations(resp.Answer.Citations),
		"grounded":        resp.Answer.Grounded,
		"quota_remaining": resp.QuotaRemaining,
	})
}

type ingestRequest struct {
	SourceID string `json:"source_id" binding:"required"`
	Path     string `json:"path" binding:"required"`
	Force    bool   `json:"force"`
}

// IngestHandler indexes one document synchronously.
func (a *API) IngestHandler(c *gin.Context) {
	var payload ingestRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	report, err := a.service.Ingest(c.Request.Context(), &ingest.Task{
		SourceID: payload.SourceID,
		Path:     payload.Path,
		Force:    payload.Force,
	})
	if err != nil {
		a.log.WithField("source_id", payload.SourceID).WithError(err).Error("ingestion failed")
		status := http.StatusInternalServerError
		if report != nil && len(report.FailedPositions) > 0 {
			// Partially indexed: the committed chunks stay, a retry finishes the rest.
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error(), "report": report})
		return
	}

	c.JSON(http.StatusOK, report)
}

// ReindexHandler re-walks the configured corpus. Unchanged documents
// are skipped unless force=true.
func (a *API) ReindexHandler(c *gin.Context) {
	force := c.Query("force") == "true"

	reports, err := a.service.Reindex(c.Request.Context(), force)
	if err != nil {
		a.log.WithError(err).Error("reindex failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "reports": reports})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// StatsHandler reports index contents and usage counters.
func (a *API) StatsHandler(c *gin.Context) {
	stats, err := a.service.Stats(c.Request.Context())
	if err != nil {
		a.log.WithError(err).Error("failed to collect stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to collect stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HealthHandler is the liveness probe.
func (a *API) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
