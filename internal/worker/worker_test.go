// SPDX-License-Identifier: AGPL-3.0-only
package worker

import (
	"context"
	"testing"
	"time"

	"github.com/fluffyriot/streakfeed/internal/config"
	"github.com/fluffyriot/streakfeed/internal/domain"
	"github.com/fluffyriot/streakfeed/internal/rank"
	"github.com/fluffyriot/streakfeed/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T) (*Worker, *store.Memory) {
	t.Helper()
	mem := store.NewMemory(store.CountAuthorityServer)
	ranks := rank.NewService(mem, nil, 0, 0)
	cfg := &config.AppConfig{RankingsLimit: 10}
	return NewWorker(mem, ranks, cfg), mem
}

func seedAuthor(t *testing.T, mem *store.Memory, streakAge time.Duration, postedAt time.Time) uuid.UUID {
	t.Helper()
	authorID := uuid.New()
	require.NoError(t, mem.CreatePost(context.Background(), &domain.Post{
		ID:        uuid.New(),
		AuthorID:  authorID,
		Content:   "still here",
		CreatedAt: postedAt,
	}))
	mem.AddChallenge(domain.Challenge{
		UserID:    authorID,
		Status:    domain.ChallengeActive,
		StartedAt: time.Now().Add(-streakAge),
	})
	return authorID
}

func TestWorker_RebuildAllOrdersByStreak(t *testing.T) {
	w, mem := newTestWorker(t)
	now := time.Now()

	short := seedAuthor(t, mem, 30*time.Hour, now.Add(-time.Minute))
	long := seedAuthor(t, mem, 10*24*time.Hour, now.Add(-2*time.Minute))

	w.RebuildAll()

	rankings := w.Rankings()
	require.Len(t, rankings, 2)
	assert.Equal(t, long, rankings[0].UserID)
	assert.Equal(t, 10, rankings[0].StreakDays)
	assert.Equal(t, short, rankings[1].UserID)
	assert.Equal(t, 1, rankings[1].StreakDays)
}

func TestWorker_RankingsEmptyBeforeFirstRebuild(t *testing.T) {
	w, _ := newTestWorker(t)
	assert.Empty(t, w.Rankings())
}

func TestWorker_StartStop(t *testing.T) {
	w, _ := newTestWorker(t)
	assert.False(t, w.IsActive())

	w.Start(time.Hour)
	assert.True(t, w.IsActive())

	w.Stop()
	waitInactive(t, w)
}

func waitInactive(t *testing.T, w *Worker) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !w.IsActive() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("worker did not stop")
}
