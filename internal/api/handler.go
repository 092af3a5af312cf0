package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/github-contrib-collector/internal/aggregator"
	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
)

// Handler handles API requests
type Handler struct {
	aggregator aggregator.Aggregator
}

// NewHandler creates a new API handler
func NewHandler(agg aggregator.Aggregator) *Handler {
	return &Handler{
		aggregator: agg,
	}
}

// ListRepositories returns a filtered page of repositories
// GET /api/v1/repositories
func (h *Handler) ListRepositories(c *gin.Context) {
	filter := domain.RepositoryFilter{
		Keyword:  c.Query("keyword"),
		Language: c.Query("language"),
		MinStars: parseIntQuery(c, "min_stars", 0),
		Sort:     c.DefaultQuery("sort", "stars"),
		Order:    domain.SortOrder(c.DefaultQuery("order", string(domain.SortDesc))),
		Page:     parseIntQuery(c, "page", 1),
		Limit:    parseIntQuery(c, "limit", 100),
	}

	page, err := h.aggregator.ListRepositories(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       page.Repositories,
		"pagination": page.Pagination,
	})
}

// ListContributors returns a filtered page of contributor records
// GET /api/v1/contributors
func (h *Handler) ListContributors(c *gin.Context) {
	filter := domain.ContributorFilter{
		Username:         c.Query("username"),
		Repository:       c.Query("repository"),
		MinContributions: parseIntQuery(c, "min_contributions", 0),
		MinFollowers:     parseIntQuery(c, "min_followers", 0),
		Sort:             c.DefaultQuery("sort", "contributions"),
		Order:            domain.SortOrder(c.DefaultQuery("order", string(domain.SortDesc))),
		Page:             parseIntQuery(c, "page", 1),
		Limit:            parseIntQuery(c, "limit", 100),
	}

	page, err := h.aggregator.ListContributors(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       page.Contributors,
		"pagination": page.Pagination,
	})
}

// GetStats returns dashboard statistics
// GET /api/v1/stats
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.aggregator.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": stats,
	})
}

// GetExtendedStats returns dashboard statistics with timelines and distributions
// GET /api/v1/stats/extended
func (h *Handler) GetExtendedStats(c *gin.Context) {
	stats, err := h.aggregator.ExtendedStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": stats,
	})
}

// GetMultiRepoContributors returns users contributing to several repositories
// GET /api/v1/contributors/multi-repo
func (h *Handler) GetMultiRepoContributors(c *gin.Context) {
	minRepos := parseIntQuery(c, "min_repos", 2)

	contributors, err := h.aggregator.MultiRepoContributors(c.Request.Context(), minRepos)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": contributors,
	})
}

// GetContributorsByLocation returns contributors grouped by location
// GET /api/v1/contributors/by-location
func (h *Handler) GetContributorsByLocation(c *gin.Context) {
	groups, err := h.aggregator.ContributorsByLocation(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": groups,
	})
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// parseIntQuery parses an integer query parameter, falling back to defaultValue
func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": err.Error(),
		},
	})
}
