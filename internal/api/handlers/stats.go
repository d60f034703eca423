// SPDX-License-Identifier: AGPL-3.0-only
package handlers

import (
	"net/http"
	"time"

	"github.com/fluffyriot/streakfeed/internal/rank"
	"github.com/gin-gonic/gin"
)

// UserStatsHandler serves one user's challenge summary plus the live
// streak and cached average duration.
func (h *Handler) UserStatsHandler(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	challenges, err := h.Challenges.GetUserChallenges(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	streak, err := h.Ranks.CurrentStreakDays(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	avg, err := h.Ranks.AverageDays(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary":      rank.Summarize(challenges, time.Now()),
		"streak_days":  streak,
		"average_days": avg,
	})
}

// RankingsHandler serves the worker's latest rankings snapshot.
func (h *Handler) RankingsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rankings": h.Worker.Rankings()})
}

// RebuildRankingsHandler triggers a snapshot rebuild outside the ticker
// schedule. Returns immediately; an overlapping rebuild is skipped.
func (h *Handler) RebuildRankingsHandler(c *gin.Context) {
	go h.Worker.RebuildAll()
	c.JSON(http.StatusAccepted, gin.H{"status": "rebuild scheduled"})
}
