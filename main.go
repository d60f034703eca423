// SPDX-License-Identifier: AGPL-3.0-only
package main

import (
	"database/sql"
	"log"

	"github.com/fluffyriot/streakfeed/internal/api/handlers"
	"github.com/fluffyriot/streakfeed/internal/api/loader"
	"github.com/fluffyriot/streakfeed/internal/config"
	"github.com/fluffyriot/streakfeed/internal/middleware"
	"github.com/fluffyriot/streakfeed/internal/rank"
	"github.com/fluffyriot/streakfeed/internal/store"
	"github.com/fluffyriot/streakfeed/internal/worker"
	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	var (
		dbConn     *sql.DB
		posts      store.PostStore
		follows    store.FollowStore
		blocks     store.BlockStore
		challenges store.ChallengeStore
	)

	db, err := config.LoadDatabase()
	if err != nil {
		log.Printf("Database unavailable, falling back to in-memory store: %v", err)
		mem := store.NewMemory(cfg.CommentCountAuthority)
		posts, follows, blocks, challenges = mem, mem, mem, mem
	} else {
		dbConn = db
		pg := store.NewPostgres(db, cfg.CommentCountAuthority, cfg.PollInterval)
		posts, follows, blocks, challenges = pg, pg, pg, pg
	}

	ranks := rank.NewService(challenges, nil, cfg.RankCacheTTL, cfg.RankBoundaryHour)

	w := worker.NewWorker(posts, ranks, cfg)
	w.Start(cfg.WorkerInterval)
	go w.RebuildAll()

	h := handlers.NewHandler(dbConn, posts, follows, blocks, challenges, ranks, cfg, w)

	r := gin.Default()
	r.Use(middleware.SecurityHeadersMiddleware())

	r.GET("/health", h.HealthCheckHandler)

	api := r.Group("/api")
	api.Use(loader.Middleware(posts))
	{
		api.GET("/feed", h.FeedHandler)
		api.POST("/posts", h.CreatePostHandler)
		api.POST("/posts/:id/like", h.ToggleLikeHandler)
		api.POST("/posts/:id/replies", h.CreateReplyHandler)

		api.POST("/users/:id/follow", h.FollowHandler)
		api.DELETE("/users/:id/follow", h.UnfollowHandler)
		api.POST("/users/:id/block", h.BlockHandler)
		api.DELETE("/users/:id/block", h.UnblockHandler)

		api.GET("/users/:id/stats", h.UserStatsHandler)
		api.GET("/rankings", h.RankingsHandler)
		api.POST("/rankings/rebuild", h.RebuildRankingsHandler)
	}

	r.GET("/ws/feed", h.LiveFeedHandler)

	r.Run(":" + cfg.Port)
}
