// SPDX-License-Identifier: AGPL-3.0-only
package handlers

import (
	"net/http"
	"time"

	"github.com/fluffyriot/streakfeed/internal/api/loader"
	"github.com/fluffyriot/streakfeed/internal/domain"
	"github.com/fluffyriot/streakfeed/internal/feed"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type feedItem struct {
	ID           uuid.UUID `json:"id"`
	AuthorID     uuid.UUID `json:"author_id"`
	AuthorName   string    `json:"author_name"`
	AuthorAvatar string    `json:"author_avatar"`
	Content      string    `json:"content"`
	Likes        int       `json:"likes"`
	ReplyCount   int       `json:"reply_count"`
	Liked        bool      `json:"liked"`
	StreakDays   int       `json:"streak_days"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FeedHandler serves one page of the global feed, newest first. Posts
// by authors the caller has blocked are filtered out, and liked-state
// plus author streaks are attached when the caller is known.
func (h *Handler) FeedHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var cursor *string
	if raw := c.Query("cursor"); raw != "" {
		cursor = &raw
	}

	page, err := h.Posts.GetPage(ctx, h.Config.PageSize, cursor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	blocked := map[uuid.UUID]struct{}{}
	userID, loggedIn := optionalUser(c)
	if loggedIn {
		ids, err := h.Blocks.GetBlockedIDs(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		for _, id := range ids {
			blocked[id] = struct{}{}
		}
	}

	res := feed.Normalize(page.Items, blocked)

	var liked map[uuid.UUID]bool
	if loggedIn && len(res.Posts) > 0 {
		ids := make([]uuid.UUID, 0, len(res.Posts))
		for _, p := range res.Posts {
			ids = append(ids, p.ID)
		}
		liked, err = h.Posts.LikedPostIDs(ctx, userID, ids)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	items := make([]feedItem, 0, len(res.Posts))
	streaks := map[uuid.UUID]int{}
	loaders := loader.For(ctx)
	for _, p := range res.Posts {
		item := toFeedItem(p, res.ReplyCounts[p.ID], liked[p.ID])
		if loaders != nil {
			if n, err := loaders.ReplyCount(ctx, p.ID); err == nil {
				item.ReplyCount = n
			}
		}
		days, ok := streaks[p.AuthorID]
		if !ok {
			days, _ = h.Ranks.CurrentStreakDays(ctx, p.AuthorID)
			streaks[p.AuthorID] = days
		}
		item.StreakDays = days
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"posts":       items,
		"next_cursor": page.NextCursor,
		"has_more":    page.NextCursor != nil && len(page.Items) > 0,
	})
}

func toFeedItem(p *domain.Post, replyCount int, liked bool) feedItem {
	return feedItem{
		ID:           p.ID,
		AuthorID:     p.AuthorID,
		AuthorName:   p.AuthorName,
		AuthorAvatar: p.AuthorAvatar,
		Content:      p.Content,
		Likes:        p.Likes,
		ReplyCount:   replyCount,
		Liked:        liked,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}
