// SPDX-License-Identifier: AGPL-3.0-only
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fluffyriot/streakfeed/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrPostNotFound      = errors.New("post not found")
	ErrChallengeNotFound = errors.New("challenge not found")
)

// RawPost is a post row as the persistence layer returns it. Optional
// fields are pointers so that absent and zero values stay distinguishable
// until the normalizer has validated the record.
type RawPost struct {
	ID           string     `json:"id"`
	AuthorID     string     `json:"author_id"`
	AuthorName   *string    `json:"author_name,omitempty"`
	AuthorAvatar *string    `json:"author_avatar,omitempty"`
	Content      *string    `json:"content,omitempty"`
	Likes        *int       `json:"likes,omitempty"`
	Comments     *int       `json:"comments,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`

	// Replies is optionally attached by stores that load the thread in
	// the same query. When present it overrides the Comments counter as
	// the reply-count source.
	Replies []RawReply `json:"replies,omitempty"`
}

type RawReply struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	Content   *string   `json:"content,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Page is one slice of the descending-by-CreatedAt feed. A nil NextCursor
// means the feed is exhausted.
type Page struct {
	Items      []RawPost
	NextCursor *string
}

// Unsubscribe tears down a subscription. Safe to call more than once.
type Unsubscribe func()

// PostStore is the narrow persistence contract the feed core consumes.
//
// Subscribe* implementations deliver the current matching set shortly
// after subscribing, then again on every change. Each delivery carries
// the full known set for the scope, newest first.
type PostStore interface {
	GetPage(ctx context.Context, limit int, cursor *string) (Page, error)
	SubscribeByAuthor(authorID uuid.UUID, cb func([]RawPost)) Unsubscribe
	SubscribeByAuthors(authorIDs []uuid.UUID, cb func([]RawPost)) Unsubscribe

	CreatePost(ctx context.Context, post *domain.Post) error
	ToggleLike(ctx context.Context, postID, userID uuid.UUID) (bool, error)
	AddReply(ctx context.Context, reply *domain.Reply) error
	IsLikedByUser(ctx context.Context, postID, userID uuid.UUID) (bool, error)
	LikedPostIDs(ctx context.Context, userID uuid.UUID, postIDs []uuid.UUID) (map[uuid.UUID]bool, error)
	ReplyCountsByPostIDs(ctx context.Context, postIDs []uuid.UUID) (map[uuid.UUID]int, error)
	RecentAuthorIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type FollowStore interface {
	GetFollowingIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	SubscribeFollowingIDs(userID uuid.UUID, cb func([]uuid.UUID)) Unsubscribe
	Follow(ctx context.Context, followerID, followeeID uuid.UUID) error
	Unfollow(ctx context.Context, followerID, followeeID uuid.UUID) error
}

type BlockStore interface {
	GetBlockedIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	SubscribeBlockedIDs(userID uuid.UUID, cb func([]uuid.UUID)) Unsubscribe
	// Block also unfollows the blocked user, best effort.
	Block(ctx context.Context, blockerID, blockedID uuid.UUID) error
	Unblock(ctx context.Context, blockerID, blockedID uuid.UUID) error
}

type ChallengeStore interface {
	GetUserChallenges(ctx context.Context, userID uuid.UUID) ([]domain.Challenge, error)
	GetActiveChallenge(ctx context.Context, userID uuid.UUID) (*domain.Challenge, error)
}

// EncodeCursor builds the opaque feed cursor from the last item of a
// page: its creation instant plus its id as a tie breaker.
func EncodeCursor(createdAt time.Time, id uuid.UUID) string {
	return strconv.FormatInt(createdAt.UnixNano(), 10) + "_" + id.String()
}

// DecodeCursor is the inverse of EncodeCursor.
func DecodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	before, after, found := strings.Cut(cursor, "_")
	if !found {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor %q", cursor)
	}
	nanos, err := strconv.ParseInt(before, 10, 64)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor %q: %v", cursor, err)
	}
	id, err := uuid.Parse(after)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor %q: %v", cursor, err)
	}
	return time.Unix(0, nanos), id, nil
}
