// SPDX-License-Identifier: AGPL-3.0-only
package feed

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/fluffyriot/streakfeed/internal/domain"
	"github.com/fluffyriot/streakfeed/internal/store"
	"github.com/google/uuid"
)

var (
	// ErrEmptyContent rejects a reply before any store call is made.
	ErrEmptyContent = errors.New("reply content cannot be empty")
	// ErrLikeInFlight means a toggle for the same post is still pending.
	ErrLikeInFlight = errors.New("like toggle already in flight")
)

// SwallowHook receives errors from best-effort side effects that must
// not fail the primary operation. The default logs them.
type SwallowHook func(op string, err error)

func logSwallowed(op string, err error) {
	log.Printf("Engage: swallowed %s error: %v", op, err)
}

// Engager owns the like and reply mutations. Like toggles are mutually
// exclusive per post id, not globally: a second toggle for the same post
// while one is pending is dropped, toggles for different posts proceed.
type Engager struct {
	posts    store.PostStore
	swallow  SwallowHook
	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}

	// afterReply side effects run on successful reply submission; their
	// failures are swallowed because the reply itself already landed.
	afterReply []func(postID uuid.UUID) error
}

func NewEngager(posts store.PostStore, swallow SwallowHook) *Engager {
	if swallow == nil {
		swallow = logSwallowed
	}
	return &Engager{
		posts:    posts,
		swallow:  swallow,
		inflight: make(map[uuid.UUID]struct{}),
	}
}

// OnReply registers a best-effort side effect for successful replies.
func (e *Engager) OnReply(fn func(postID uuid.UUID) error) {
	e.afterReply = append(e.afterReply, fn)
}

// ToggleLike flips the caller's like on a post and returns the new
// state. Returns ErrLikeInFlight when a toggle for this post is already
// pending.
func (e *Engager) ToggleLike(ctx context.Context, postID, userID uuid.UUID) (bool, error) {
	e.mu.Lock()
	if _, busy := e.inflight[postID]; busy {
		e.mu.Unlock()
		return false, ErrLikeInFlight
	}
	e.inflight[postID] = struct{}{}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, postID)
		e.mu.Unlock()
	}()

	return e.posts.ToggleLike(ctx, postID, userID)
}

// SubmitReply validates and persists a reply. Empty trimmed content is
// rejected synchronously. Registered side effects run afterwards, best
// effort.
func (e *Engager) SubmitReply(ctx context.Context, reply *domain.Reply) error {
	if strings.TrimSpace(reply.Content) == "" {
		return ErrEmptyContent
	}

	if err := e.posts.AddReply(ctx, reply); err != nil {
		return err
	}

	for _, fn := range e.afterReply {
		if err := fn(reply.PostID); err != nil {
			e.swallow("reply side effect", err)
		}
	}
	return nil
}
