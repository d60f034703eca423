// SPDX-License-Identifier: AGPL-3.0-only
package feed

import (
	"fmt"

	"github.com/fluffyriot/streakfeed/internal/domain"
	"github.com/fluffyriot/streakfeed/internal/store"
	"github.com/google/uuid"
)

// ValidationError marks a raw record the normalizer refused. Malformed
// rows are dropped and reported instead of silently defaulted.
type ValidationError struct {
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid post %q: field %s %s", e.ID, e.Field, e.Reason)
}

// Result carries one normalization pass: the surviving canonical posts
// in input order, the derived reply-count cache seed, and the records
// that failed validation.
type Result struct {
	Posts       []*domain.Post
	ReplyCounts map[uuid.UUID]int
	Invalid     []error
}

// ParseRaw validates a single raw record into the canonical shape.
// Optional text fields default to empty, counters to zero, UpdatedAt to
// CreatedAt. Identity and ordering fields must be present and well
// formed.
func ParseRaw(r store.RawPost) (*domain.Post, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, &ValidationError{ID: r.ID, Field: "id", Reason: "is not a valid uuid"}
	}
	authorID, err := uuid.Parse(r.AuthorID)
	if err != nil {
		return nil, &ValidationError{ID: r.ID, Field: "author_id", Reason: "is not a valid uuid"}
	}
	if r.CreatedAt.IsZero() {
		return nil, &ValidationError{ID: r.ID, Field: "created_at", Reason: "is missing"}
	}

	p := &domain.Post{
		ID:        id,
		AuthorID:  authorID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.CreatedAt,
	}
	if r.AuthorName != nil {
		p.AuthorName = *r.AuthorName
	}
	if r.AuthorAvatar != nil {
		p.AuthorAvatar = *r.AuthorAvatar
	}
	if r.Content != nil {
		p.Content = *r.Content
	}
	if r.Likes != nil {
		if *r.Likes < 0 {
			return nil, &ValidationError{ID: r.ID, Field: "likes", Reason: "is negative"}
		}
		p.Likes = *r.Likes
	}
	if r.Comments != nil {
		if *r.Comments < 0 {
			return nil, &ValidationError{ID: r.ID, Field: "comments", Reason: "is negative"}
		}
		p.Comments = *r.Comments
	}
	if r.UpdatedAt != nil {
		p.UpdatedAt = *r.UpdatedAt
	}
	return p, nil
}

// Normalize converts raw rows into canonical posts, dropping records by
// blocked authors and any duplicate ids (first occurrence wins). The
// reply-count seed comes from attached reply lists when present and
// falls back to the row's own counter otherwise.
func Normalize(raw []store.RawPost, blocked map[uuid.UUID]struct{}) Result {
	res := Result{
		Posts:       make([]*domain.Post, 0, len(raw)),
		ReplyCounts: make(map[uuid.UUID]int, len(raw)),
	}
	seen := make(map[uuid.UUID]struct{}, len(raw))

	for _, r := range raw {
		p, err := ParseRaw(r)
		if err != nil {
			res.Invalid = append(res.Invalid, err)
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		if _, isBlocked := blocked[p.AuthorID]; isBlocked {
			continue
		}

		res.Posts = append(res.Posts, p)
		if r.Replies != nil {
			res.ReplyCounts[p.ID] = len(r.Replies)
		} else {
			res.ReplyCounts[p.ID] = p.Comments
		}
	}
	return res
}
