package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all routes of the engine.
func RegisterRoutes(router *gin.Engine, api *API) {
	router.GET("/healthz", api.HealthHandler)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/ask", api.AskHandler)
		v1.POST("/ingest", api.IngestHandler)
		v1.POST("/reindex", api.ReindexHandler)
		v1.GET("/stats", api.StatsHandler)
	}
}
