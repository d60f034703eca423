// SPDX-License-Identifier: AGPL-3.0-only
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fluffyriot/streakfeed/internal/domain"
	"github.com/fluffyriot/streakfeed/internal/feed"
	"github.com/fluffyriot/streakfeed/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type createPostRequest struct {
	Content      string `json:"content" binding:"required"`
	AuthorName   string `json:"author_name"`
	AuthorAvatar string `json:"author_avatar"`
}

func (h *Handler) CreatePostHandler(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content cannot be empty"})
		return
	}

	now := time.Now()
	post := &domain.Post{
		ID:           uuid.New(),
		AuthorID:     userID,
		AuthorName:   req.AuthorName,
		AuthorAvatar: req.AuthorAvatar,
		Content:      req.Content,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.Posts.CreatePost(c.Request.Context(), post); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": post.ID})
}

func (h *Handler) ToggleLikeHandler(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}

	liked, err := h.Engager.ToggleLike(c.Request.Context(), postID, userID)
	switch {
	case errors.Is(err, feed.ErrLikeInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "like toggle already in flight"})
		return
	case errors.Is(err, store.ErrPostNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"liked": liked})
}

type createReplyRequest struct {
	Content      string `json:"content"`
	AuthorName   string `json:"author_name"`
	AuthorAvatar string `json:"author_avatar"`
}

func (h *Handler) CreateReplyHandler(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req createReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply := &domain.Reply{
		ID:           uuid.New(),
		PostID:       postID,
		AuthorID:     userID,
		AuthorName:   req.AuthorName,
		AuthorAvatar: req.AuthorAvatar,
		Content:      req.Content,
		CreatedAt:    time.Now(),
	}
	err := h.Engager.SubmitReply(c.Request.Context(), reply)
	switch {
	case errors.Is(err, feed.ErrEmptyContent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, store.ErrPostNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": reply.ID})
}
