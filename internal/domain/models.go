// SPDX-License-Identifier: AGPL-3.0-only
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Post is a community post as rendered in the feed. AuthorName and
// AuthorAvatar are snapshots taken at post time and are not re-synced
// when the author later changes their profile.
type Post struct {
	ID           uuid.UUID `json:"id"`
	AuthorID     uuid.UUID `json:"author_id"`
	AuthorName   string    `json:"author_name"`
	AuthorAvatar string    `json:"author_avatar"`
	Content      string    `json:"content"`
	Likes        int       `json:"likes"`
	Comments     int       `json:"comments"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Reply struct {
	ID           uuid.UUID `json:"id"`
	PostID       uuid.UUID `json:"post_id"`
	AuthorID     uuid.UUID `json:"author_id"`
	AuthorName   string    `json:"author_name"`
	AuthorAvatar string    `json:"author_avatar"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Follow is an existence-only edge, unique per (follower, followee) pair.
type Follow struct {
	FollowerID uuid.UUID `json:"follower_id"`
	FolloweeID uuid.UUID `json:"followee_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Block hides the blocked user's posts from the blocker and implies an
// unfollow of the blocked user.
type Block struct {
	BlockerID uuid.UUID `json:"blocker_id"`
	BlockedID uuid.UUID `json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}

type ChallengeStatus string

const (
	ChallengeActive    ChallengeStatus = "active"
	ChallengeCompleted ChallengeStatus = "completed"
	ChallengeFailed    ChallengeStatus = "failed"
)

// Challenge is one time-boxed abstinence attempt. A user has at most one
// active challenge at a time.
type Challenge struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Status      ChallengeStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	FailedAt    *time.Time      `json:"failed_at,omitempty"`
}

// Elapsed returns the challenge duration as of now and whether the
// challenge counts toward streak statistics. Active challenges run until
// now, finished ones until their terminal timestamp.
func (c Challenge) Elapsed(now time.Time) (time.Duration, bool) {
	switch c.Status {
	case ChallengeActive:
		d := now.Sub(c.StartedAt)
		if d < 0 {
			d = 0
		}
		return d, true
	case ChallengeCompleted:
		if c.CompletedAt == nil {
			return 0, false
		}
		return c.CompletedAt.Sub(c.StartedAt), true
	case ChallengeFailed:
		if c.FailedAt == nil {
			return 0, false
		}
		return c.FailedAt.Sub(c.StartedAt), true
	default:
		return 0, false
	}
}
