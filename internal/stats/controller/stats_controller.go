// Package controller exposes the statistics query API.
package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"arbiter/internal/stats/repository"
	"arbiter/pkg/utils/response"
)

// StatsController serves leaderboard and per-user progress queries.
type StatsController struct {
	progress *repository.ProgressRepository
}

// NewStatsController creates a stats controller.
func NewStatsController(progress *repository.ProgressRepository) *StatsController {
	return &StatsController{progress: progress}
}

// RegisterRoutes mounts the stats endpoints.
func (ctrl *StatsController) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/leaderboard", ctrl.Leaderboard)
	router.GET("/api/users/:id/stats", ctrl.UserStats)
}

// Leaderboard returns the top users by solved count.
func (ctrl *StatsController) Leaderboard(c *gin.Context) {
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "10"), 10, 64)
	if err != nil || limit < 1 || limit > 100 {
		response.BadRequest(c, "limit must be between 1 and 100")
		return
	}
	entries, err := ctrl.progress.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"entries": entries})
}

// UserStats returns one user's counters and rank.
func (ctrl *StatsController) UserStats(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		response.BadRequest(c, "invalid user id")
		return
	}
	stats, err := ctrl.progress.UserStats(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}
