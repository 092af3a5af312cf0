package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/github-contrib-collector/internal/logger"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, log logger.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger(log))

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/repositories", handler.ListRepositories)

		contributors := v1.Group("/contributors")
		{
			contributors.GET("", handler.ListContributors)
			contributors.GET("/multi-repo", handler.GetMultiRepoContributors)
			contributors.GET("/by-location", handler.GetContributorsByLocation)
		}

		stats := v1.Group("/stats")
		{
			stats.GET("", handler.GetStats)
			stats.GET("/extended", handler.GetExtendedStats)
		}
	}

	return router
}
