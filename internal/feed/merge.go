// SPDX-License-Identifier: AGPL-3.0-only
package feed

import (
	"github.com/fluffyriot/streakfeed/internal/domain"
	"github.com/google/uuid"
)

// Merge reconciles a fresh snapshot against the previous list. The next
// snapshot is authoritative for membership and order; for every entry
// whose observable fields are unchanged the previous pointer is reused,
// so renderers keyed on identity skip rows that did not move.
//
// Merge is pure and idempotent: merging a list with an equal-valued list
// returns the previous pointers element for element.
func Merge(previous, next []*domain.Post) []*domain.Post {
	if len(previous) == 0 {
		return next
	}

	prevByID := make(map[uuid.UUID]*domain.Post, len(previous))
	for _, p := range previous {
		prevByID[p.ID] = p
	}

	out := make([]*domain.Post, len(next))
	for i, n := range next {
		if p, ok := prevByID[n.ID]; ok && samePost(p, n) {
			out[i] = p
		} else {
			out[i] = n
		}
	}
	return out
}

func samePost(a, b *domain.Post) bool {
	return a.AuthorID == b.AuthorID &&
		a.AuthorName == b.AuthorName &&
		a.AuthorAvatar == b.AuthorAvatar &&
		a.Content == b.Content &&
		a.Likes == b.Likes &&
		a.Comments == b.Comments &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}
