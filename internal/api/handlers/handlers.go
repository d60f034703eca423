// SPDX-License-Identifier: AGPL-3.0-only
package handlers

import (
	"database/sql"
	"net/http"

	"github.com/fluffyriot/streakfeed/internal/config"
	"github.com/fluffyriot/streakfeed/internal/feed"
	"github.com/fluffyriot/streakfeed/internal/rank"
	"github.com/fluffyriot/streakfeed/internal/store"
	"github.com/fluffyriot/streakfeed/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	// DBConn is nil when the service runs on the in-memory store.
	DBConn     *sql.DB
	Posts      store.PostStore
	Follows    store.FollowStore
	Blocks     store.BlockStore
	Challenges store.ChallengeStore
	Ranks      *rank.Service
	Engager    *feed.Engager
	Config     *config.AppConfig
	Worker     *worker.Worker
}

func NewHandler(dbConn *sql.DB, posts store.PostStore, follows store.FollowStore, blocks store.BlockStore, challenges store.ChallengeStore, ranks *rank.Service, cfg *config.AppConfig, w *worker.Worker) *Handler {
	return &Handler{
		DBConn:     dbConn,
		Posts:      posts,
		Follows:    follows,
		Blocks:     blocks,
		Challenges: challenges,
		Ranks:      ranks,
		Engager:    feed.NewEngager(posts, nil),
		Config:     cfg,
		Worker:     w,
	}
}

// requireUser resolves the caller from the X-User-ID header and aborts
// with 401 when it is absent or malformed.
func requireUser(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing X-User-ID header"})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "malformed X-User-ID header"})
		return uuid.Nil, false
	}
	return id, true
}

// optionalUser resolves the caller when present; anonymous reads are
// allowed.
func optionalUser(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed " + name})
		return uuid.Nil, false
	}
	return id, true
}
