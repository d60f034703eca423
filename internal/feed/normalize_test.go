// SPDX-License-Identifier: AGPL-3.0-only
package feed

import (
	"testing"
	"time"

	"github.com/fluffyriot/streakfeed/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

func rawPost(id, author uuid.UUID, created time.Time) store.RawPost {
	return store.RawPost{
		ID:        id.String(),
		AuthorID:  author.String(),
		Content:   strPtr("hello"),
		Likes:     intPtr(2),
		Comments:  intPtr(5),
		CreatedAt: created,
	}
}

func TestParseRaw_DefaultsOptionalFields(t *testing.T) {
	id, author := uuid.New(), uuid.New()
	created := time.Now()

	p, err := ParseRaw(store.RawPost{ID: id.String(), AuthorID: author.String(), CreatedAt: created})
	require.NoError(t, err)

	assert.Equal(t, id, p.ID)
	assert.Empty(t, p.AuthorName)
	assert.Empty(t, p.Content)
	assert.Zero(t, p.Likes)
	assert.Zero(t, p.Comments)
	assert.True(t, p.UpdatedAt.Equal(created))
}

func TestParseRaw_RejectsMalformedRecords(t *testing.T) {
	id, author := uuid.New(), uuid.New()
	created := time.Now()

	cases := []struct {
		name string
		raw  store.RawPost
	}{
		{"bad id", store.RawPost{ID: "not-a-uuid", AuthorID: author.String(), CreatedAt: created}},
		{"bad author id", store.RawPost{ID: id.String(), AuthorID: "nope", CreatedAt: created}},
		{"missing created_at", store.RawPost{ID: id.String(), AuthorID: author.String()}},
		{"negative likes", store.RawPost{ID: id.String(), AuthorID: author.String(), CreatedAt: created, Likes: intPtr(-1)}},
		{"negative comments", store.RawPost{ID: id.String(), AuthorID: author.String(), CreatedAt: created, Comments: intPtr(-3)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRaw(tc.raw)
			require.Error(t, err)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestNormalize_DropsInvalidKeepsRest(t *testing.T) {
	created := time.Now()
	good := rawPost(uuid.New(), uuid.New(), created)
	bad := store.RawPost{ID: "broken", AuthorID: uuid.New().String(), CreatedAt: created}

	res := Normalize([]store.RawPost{bad, good}, nil)

	require.Len(t, res.Posts, 1)
	assert.Equal(t, good.ID, res.Posts[0].ID.String())
	assert.Len(t, res.Invalid, 1)
}

func TestNormalize_FirstDuplicateWins(t *testing.T) {
	id, author := uuid.New(), uuid.New()
	created := time.Now()
	first := rawPost(id, author, created)
	second := rawPost(id, author, created)
	second.Content = strPtr("changed")

	res := Normalize([]store.RawPost{first, second}, nil)

	require.Len(t, res.Posts, 1)
	assert.Equal(t, "hello", res.Posts[0].Content)
}

func TestNormalize_FiltersBlockedAuthors(t *testing.T) {
	created := time.Now()
	blockedAuthor := uuid.New()
	visible := rawPost(uuid.New(), uuid.New(), created)
	hidden := rawPost(uuid.New(), blockedAuthor, created)

	res := Normalize([]store.RawPost{visible, hidden}, map[uuid.UUID]struct{}{blockedAuthor: {}})

	require.Len(t, res.Posts, 1)
	assert.Equal(t, visible.ID, res.Posts[0].ID.String())
	assert.Empty(t, res.Invalid)
}

func TestNormalize_ReplyCountPrefersAttachedReplies(t *testing.T) {
	created := time.Now()
	withReplies := rawPost(uuid.New(), uuid.New(), created)
	withReplies.Replies = []store.RawReply{
		{ID: uuid.New().String(), PostID: withReplies.ID, AuthorID: uuid.New().String(), CreatedAt: created},
		{ID: uuid.New().String(), PostID: withReplies.ID, AuthorID: uuid.New().String(), CreatedAt: created},
	}
	counterOnly := rawPost(uuid.New(), uuid.New(), created)

	res := Normalize([]store.RawPost{withReplies, counterOnly}, nil)
	require.Len(t, res.Posts, 2)

	// The attached reply list wins over the row counter.
	assert.Equal(t, 2, res.ReplyCounts[res.Posts[0].ID])
	assert.Equal(t, 5, res.ReplyCounts[res.Posts[1].ID])
}
