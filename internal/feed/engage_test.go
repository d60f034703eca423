// SPDX-License-Identifier: AGPL-3.0-only
package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fluffyriot/streakfeed/internal/domain"
	"github.com/fluffyriot/streakfeed/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedStore blocks ToggleLike for one specific post until released, so
// tests can hold a toggle in flight deterministically.
type gatedStore struct {
	*store.Memory
	gatedPost uuid.UUID
	entered   chan struct{}
	release   chan struct{}
}

func (g *gatedStore) ToggleLike(ctx context.Context, postID, userID uuid.UUID) (bool, error) {
	if postID == g.gatedPost {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.Memory.ToggleLike(ctx, postID, userID)
}

func seedPost(t *testing.T, mem *store.Memory, author uuid.UUID) *domain.Post {
	t.Helper()
	post := &domain.Post{ID: uuid.New(), AuthorID: author, Content: "checking in", CreatedAt: time.Now()}
	require.NoError(t, mem.CreatePost(context.Background(), post))
	return post
}

func TestSubmitReply_EmptyContentNeverHitsStore(t *testing.T) {
	mem := store.NewMemory(store.CountAuthorityServer)
	post := seedPost(t, mem, uuid.New())
	e := NewEngager(mem, func(string, error) {})

	for _, content := range []string{"", "   ", "\n\t "} {
		err := e.SubmitReply(context.Background(), &domain.Reply{PostID: post.ID, AuthorID: uuid.New(), Content: content})
		assert.ErrorIs(t, err, ErrEmptyContent)
	}
	assert.Zero(t, mem.Calls("AddReply"))
}

func TestSubmitReply_SideEffectErrorIsSwallowed(t *testing.T) {
	mem := store.NewMemory(store.CountAuthorityServer)
	post := seedPost(t, mem, uuid.New())

	var swallowed []string
	e := NewEngager(mem, func(op string, err error) { swallowed = append(swallowed, op) })
	e.OnReply(func(postID uuid.UUID) error { return errors.New("side effect boom") })

	err := e.SubmitReply(context.Background(), &domain.Reply{PostID: post.ID, AuthorID: uuid.New(), Content: "nice work"})
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Calls("AddReply"))
	assert.Len(t, swallowed, 1)
}

func TestToggleLike_SecondToggleForSamePostIsDropped(t *testing.T) {
	mem := store.NewMemory(store.CountAuthorityServer)
	post := seedPost(t, mem, uuid.New())
	gated := &gatedStore{
		Memory:    mem,
		gatedPost: post.ID,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	e := NewEngager(gated, func(string, error) {})
	userID := uuid.New()

	done := make(chan error, 1)
	go func() {
		_, err := e.ToggleLike(context.Background(), post.ID, userID)
		done <- err
	}()
	<-gated.entered

	// Double tap while the first toggle is still pending.
	_, err := e.ToggleLike(context.Background(), post.ID, userID)
	assert.ErrorIs(t, err, ErrLikeInFlight)

	close(gated.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, mem.Calls("ToggleLike"))
}

func TestToggleLike_DifferentPostsProceedConcurrently(t *testing.T) {
	mem := store.NewMemory(store.CountAuthorityServer)
	blockedPost := seedPost(t, mem, uuid.New())
	otherPost := seedPost(t, mem, uuid.New())
	gated := &gatedStore{
		Memory:    mem,
		gatedPost: blockedPost.ID,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	e := NewEngager(gated, func(string, error) {})
	userID := uuid.New()

	done := make(chan error, 1)
	go func() {
		_, err := e.ToggleLike(context.Background(), blockedPost.ID, userID)
		done <- err
	}()
	<-gated.entered

	liked, err := e.ToggleLike(context.Background(), otherPost.ID, userID)
	require.NoError(t, err)
	assert.True(t, liked)

	close(gated.release)
	require.NoError(t, <-done)
}

func TestToggleLike_ReleasedAfterCompletion(t *testing.T) {
	mem := store.NewMemory(store.CountAuthorityServer)
	post := seedPost(t, mem, uuid.New())
	e := NewEngager(mem, func(string, error) {})
	userID := uuid.New()

	liked, err := e.ToggleLike(context.Background(), post.ID, userID)
	require.NoError(t, err)
	assert.True(t, liked)

	liked, err = e.ToggleLike(context.Background(), post.ID, userID)
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, 2, mem.Calls("ToggleLike"))
}
