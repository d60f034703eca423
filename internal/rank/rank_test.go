// SPDX-License-Identifier: AGPL-3.0-only
package rank

import (
	"context"
	"testing"
	"time"

	"github.com/fluffyriot/streakfeed/internal/domain"
	"github.com/fluffyriot/streakfeed/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestService(t *testing.T) (*Service, *store.Memory, *fakeClock) {
	t.Helper()
	mem := store.NewMemory(store.CountAuthorityServer)
	clk := &fakeClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}
	svc := NewService(mem, clk.Now, DefaultCacheTTL, DefaultBoundaryHour)
	return svc, mem, clk
}

func activeChallenge(userID uuid.UUID, startedAgo time.Duration, now time.Time) domain.Challenge {
	return domain.Challenge{
		ID:        uuid.New(),
		UserID:    userID,
		Status:    domain.ChallengeActive,
		StartedAt: now.Add(-startedAgo),
	}
}

func TestCurrentStreakDays_FloorsWholeDays(t *testing.T) {
	cases := []struct {
		name string
		age  time.Duration
		want int
	}{
		{"under a day", 23 * time.Hour, 0},
		{"just over a day", 25 * time.Hour, 1},
		{"three days and change", 3*24*time.Hour + 2*time.Hour, 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, mem, clk := newTestService(t)
			userID := uuid.New()
			mem.AddChallenge(activeChallenge(userID, tc.age, clk.Now()))

			days, err := svc.CurrentStreakDays(context.Background(), userID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, days)
		})
	}
}

func TestCurrentStreakDays_NoActiveChallenge(t *testing.T) {
	svc, mem, clk := newTestService(t)
	userID := uuid.New()
	done := clk.Now().Add(-24 * time.Hour)
	mem.AddChallenge(domain.Challenge{
		ID:          uuid.New(),
		UserID:      userID,
		Status:      domain.ChallengeCompleted,
		StartedAt:   clk.Now().Add(-10 * 24 * time.Hour),
		CompletedAt: &done,
	})

	days, err := svc.CurrentStreakDays(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, days)
}

func TestAverageDays_CachesWithinTTL(t *testing.T) {
	svc, mem, clk := newTestService(t)
	userID := uuid.New()
	mem.AddChallenge(activeChallenge(userID, 48*time.Hour, clk.Now()))
	ctx := context.Background()

	first, err := svc.AverageDays(ctx, userID)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, first, 0.001)
	assert.Equal(t, 1, mem.Calls("GetUserChallenges"))

	// Within the TTL the cached value is served without a store hit.
	clk.Advance(4 * time.Minute)
	second, err := svc.AverageDays(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, mem.Calls("GetUserChallenges"))

	clk.Advance(2 * time.Minute)
	_, err = svc.AverageDays(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, mem.Calls("GetUserChallenges"))
}

func TestAverageDaysForRank_DailyBoundary(t *testing.T) {
	mem := store.NewMemory(store.CountAuthorityServer)
	clk := &fakeClock{now: time.Date(2024, 6, 10, 4, 30, 0, 0, time.UTC)}
	svc := NewService(mem, clk.Now, DefaultCacheTTL, DefaultBoundaryHour)
	userID := uuid.New()
	mem.AddChallenge(activeChallenge(userID, 72*time.Hour, clk.Now()))
	ctx := context.Background()

	_, err := svc.AverageDaysForRank(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Calls("GetUserChallenges"))

	// Still before 05:00, the cached value holds even hours later than
	// the short TTL would allow.
	clk.Advance(20 * time.Minute)
	_, err = svc.AverageDaysForRank(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Calls("GetUserChallenges"))

	// Crossing 05:00 invalidates the entry.
	clk.Advance(40 * time.Minute)
	_, err = svc.AverageDaysForRank(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, mem.Calls("GetUserChallenges"))
}

func TestMeanDays(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	completedAt := now.Add(-24 * time.Hour)
	challenges := []domain.Challenge{
		activeChallenge(userID, 4*24*time.Hour, now),
		{
			ID:          uuid.New(),
			UserID:      userID,
			Status:      domain.ChallengeCompleted,
			StartedAt:   completedAt.Add(-2 * 24 * time.Hour),
			CompletedAt: &completedAt,
		},
		// Completed without a terminal timestamp is ineligible.
		{
			ID:        uuid.New(),
			UserID:    userID,
			Status:    domain.ChallengeCompleted,
			StartedAt: now.Add(-30 * 24 * time.Hour),
		},
	}

	assert.InDelta(t, 3.0, MeanDays(challenges, now), 0.001)
	assert.Zero(t, MeanDays(nil, now))
}

func TestSummarize(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()
	completedAt := now.Add(-24 * time.Hour)
	failedAt := now.Add(-12 * time.Hour)

	sum := Summarize([]domain.Challenge{
		activeChallenge(userID, 2*24*time.Hour, now),
		{
			ID:          uuid.New(),
			UserID:      userID,
			Status:      domain.ChallengeCompleted,
			StartedAt:   completedAt.Add(-6 * 24 * time.Hour),
			CompletedAt: &completedAt,
		},
		{
			ID:        uuid.New(),
			UserID:    userID,
			Status:    domain.ChallengeFailed,
			StartedAt: failedAt.Add(-24 * time.Hour),
			FailedAt:  &failedAt,
		},
	}, now)

	assert.Equal(t, 3, sum.TotalChallenges)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Active)
	assert.Equal(t, 33, sum.SuccessRate)
	assert.InDelta(t, 6.0, sum.LongestDays, 0.001)
}
