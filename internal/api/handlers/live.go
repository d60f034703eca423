// SPDX-License-Identifier: AGPL-3.0-only
package handlers

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/fluffyriot/streakfeed/internal/feed"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type liveCommand struct {
	Op           string `json:"op"`
	Tab          string `json:"tab,omitempty"`
	PostID       string `json:"post_id,omitempty"`
	Content      string `json:"content,omitempty"`
	AuthorName   string `json:"author_name,omitempty"`
	AuthorAvatar string `json:"author_avatar,omitempty"`
}

type liveItem struct {
	feedItem
	Expanded bool `json:"expanded"`
}

type liveSnapshot struct {
	Tab         feed.Tab   `json:"tab"`
	Posts       []liveItem `json:"posts"`
	HasMore     bool       `json:"has_more"`
	Loading     bool       `json:"loading"`
	LoadingMore bool       `json:"loading_more"`
	Refreshing  bool       `json:"refreshing"`
}

// LiveFeedHandler upgrades to a websocket and runs one feed controller
// for the connection's lifetime. Every applied state change is pushed
// as a full snapshot; the client steers with tab, load_more, refresh,
// like and reply commands.
func (h *Handler) LiveFeedHandler(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Live: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Gorilla allows one concurrent writer; snapshots arrive from
	// several goroutines.
	var writeMu sync.Mutex
	send := func(snap feed.Snapshot) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(renderSnapshot(snap)); err != nil {
			log.Printf("Live: write failed for user %s: %v", userID, err)
		}
	}

	ctrl := feed.NewController(h.Posts, h.Follows, h.Blocks, h.Ranks, userID, feed.ControllerOptions{
		PageSize: h.Config.PageSize,
		OnChange: send,
	})
	defer ctrl.Close()

	ctx := context.Background()
	ctrl.Start(ctx)

	for {
		var cmd liveCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Live: read failed for user %s: %v", userID, err)
			}
			return
		}
		h.dispatchLive(ctx, ctrl, cmd, send)
	}
}

func (h *Handler) dispatchLive(ctx context.Context, ctrl *feed.Controller, cmd liveCommand, send func(feed.Snapshot)) {
	switch cmd.Op {
	case "tab":
		switch feed.Tab(cmd.Tab) {
		case feed.TabAll, feed.TabMine, feed.TabFollowing:
			ctrl.SwitchTab(ctx, feed.Tab(cmd.Tab))
		}
	case "load_more":
		if err := ctrl.LoadMore(ctx); err != nil {
			log.Printf("Live: load more failed: %v", err)
		}
	case "refresh":
		ctrl.Refresh(ctx)
	case "like":
		postID, err := uuid.Parse(cmd.PostID)
		if err != nil {
			return
		}
		if _, err := ctrl.ToggleLike(ctx, postID); err != nil && err != feed.ErrLikeInFlight {
			log.Printf("Live: like toggle failed: %v", err)
		}
	case "reply":
		postID, err := uuid.Parse(cmd.PostID)
		if err != nil {
			return
		}
		if err := ctrl.SubmitReply(ctx, postID, cmd.Content, cmd.AuthorName, cmd.AuthorAvatar); err != nil {
			log.Printf("Live: reply failed: %v", err)
			send(ctrl.Snapshot())
		}
	}
}

func renderSnapshot(snap feed.Snapshot) liveSnapshot {
	out := liveSnapshot{
		Tab:         snap.Tab,
		Posts:       make([]liveItem, 0, len(snap.Posts)),
		HasMore:     snap.HasMore,
		Loading:     snap.Loading,
		LoadingMore: snap.LoadingMore,
		Refreshing:  snap.Refreshing,
	}
	for _, p := range snap.Posts {
		item := toFeedItem(p, snap.ReplyCounts[p.ID], snap.Liked[p.ID])
		item.StreakDays = snap.StreakDays[p.AuthorID]
		out.Posts = append(out.Posts, liveItem{feedItem: item, Expanded: snap.Expanded[p.ID]})
	}
	return out
}
