// SPDX-License-Identifier: AGPL-3.0-only
package rank

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/fluffyriot/streakfeed/internal/domain"
	"github.com/fluffyriot/streakfeed/internal/store"
	"github.com/google/uuid"
)

// Clock is injectable so TTL and boundary logic are testable without
// sleeping.
type Clock func() time.Time

const (
	DefaultCacheTTL     = 5 * time.Minute
	DefaultBoundaryHour = 5
)

type cacheEntry struct {
	days float64
	at   time.Time
}

// Service computes streak and average-duration statistics over a user's
// challenge history. AverageDays results live in a short-TTL cache;
// AverageDaysForRank entries survive until the next daily boundary. Both
// caches evict by staleness check on read, there is no background
// sweeper. CurrentStreakDays is never cached: it is the live rank driver
// shown next to posts.
type Service struct {
	challenges   store.ChallengeStore
	clock        Clock
	ttl          time.Duration
	boundaryHour int

	mu      sync.Mutex
	avg     map[uuid.UUID]cacheEntry
	rankAvg map[uuid.UUID]cacheEntry
}

func NewService(challenges store.ChallengeStore, clock Clock, ttl time.Duration, boundaryHour int) *Service {
	if clock == nil {
		clock = time.Now
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if boundaryHour <= 0 || boundaryHour > 23 {
		boundaryHour = DefaultBoundaryHour
	}
	return &Service{
		challenges:   challenges,
		clock:        clock,
		ttl:          ttl,
		boundaryHour: boundaryHour,
		avg:          make(map[uuid.UUID]cacheEntry),
		rankAvg:      make(map[uuid.UUID]cacheEntry),
	}
}

// AverageDays returns the mean elapsed duration in days across the
// user's eligible challenges, cached for the TTL. A user with no
// eligible challenges yields 0.
func (s *Service) AverageDays(ctx context.Context, userID uuid.UUID) (float64, error) {
	now := s.clock()

	s.mu.Lock()
	if e, ok := s.avg[userID]; ok && now.Sub(e.at) < s.ttl {
		s.mu.Unlock()
		return e.days, nil
	}
	s.mu.Unlock()

	days, err := s.computeAverageDays(ctx, userID, now)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.avg[userID] = cacheEntry{days: days, at: now}
	s.mu.Unlock()
	return days, nil
}

// AverageDaysForRank is AverageDays behind a once-per-day cache anchored
// to the boundary hour: a cached value stays valid until the next local
// boundary (05:00 by default) passes.
func (s *Service) AverageDaysForRank(ctx context.Context, userID uuid.UUID) (float64, error) {
	now := s.clock()
	boundary := s.boundaryFor(now)

	s.mu.Lock()
	if e, ok := s.rankAvg[userID]; ok && !e.at.Before(boundary) {
		s.mu.Unlock()
		return e.days, nil
	}
	s.mu.Unlock()

	days, err := s.computeAverageDays(ctx, userID, now)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.rankAvg[userID] = cacheEntry{days: days, at: now}
	s.mu.Unlock()
	return days, nil
}

// CurrentStreakDays returns whole days since the user's active
// challenge started, 0 without an active challenge. Always queried
// live.
func (s *Service) CurrentStreakDays(ctx context.Context, userID uuid.UUID) (int, error) {
	active, err := s.challenges.GetActiveChallenge(ctx, userID)
	if err != nil {
		return 0, err
	}
	if active == nil {
		return 0, nil
	}
	days := int(math.Floor(s.clock().Sub(active.StartedAt).Hours() / 24))
	if days < 0 {
		days = 0
	}
	return days, nil
}

// ClearCache drops both caches.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avg = make(map[uuid.UUID]cacheEntry)
	s.rankAvg = make(map[uuid.UUID]cacheEntry)
}

func (s *Service) computeAverageDays(ctx context.Context, userID uuid.UUID, now time.Time) (float64, error) {
	challenges, err := s.challenges.GetUserChallenges(ctx, userID)
	if err != nil {
		return 0, err
	}
	return MeanDays(challenges, now), nil
}

// boundaryFor returns the active daily boundary: today's boundary hour,
// or yesterday's when now has not reached it yet.
func (s *Service) boundaryFor(now time.Time) time.Time {
	b := time.Date(now.Year(), now.Month(), now.Day(), s.boundaryHour, 0, 0, 0, now.Location())
	if now.Before(b) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}

// MeanDays is the mean elapsed duration in days across eligible
// challenges; 0 when none are eligible.
func MeanDays(challenges []domain.Challenge, now time.Time) float64 {
	var (
		total time.Duration
		n     int
	)
	for _, c := range challenges {
		d, ok := c.Elapsed(now)
		if !ok {
			continue
		}
		total += d
		n++
	}
	if n == 0 {
		return 0
	}
	return total.Seconds() / float64(n) / 86400
}

// Summary is the aggregate view shown on a profile.
type Summary struct {
	TotalChallenges int     `json:"total_challenges"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	Active          int     `json:"active"`
	SuccessRate     int     `json:"success_rate"`
	LongestDays     float64 `json:"longest_days"`
}

// Summarize reduces a challenge list to counts, success rate and the
// longest eligible run in days.
func Summarize(challenges []domain.Challenge, now time.Time) Summary {
	var sum Summary
	var longest time.Duration
	for _, c := range challenges {
		switch c.Status {
		case domain.ChallengeCompleted:
			sum.Completed++
		case domain.ChallengeFailed:
			sum.Failed++
		case domain.ChallengeActive:
			sum.Active++
		default:
			continue
		}
		sum.TotalChallenges++
		if d, ok := c.Elapsed(now); ok && d > longest {
			longest = d
		}
	}
	if sum.TotalChallenges > 0 {
		sum.SuccessRate = int(math.Round(100 * float64(sum.Completed) / float64(sum.TotalChallenges)))
	}
	sum.LongestDays = longest.Seconds() / 86400
	return sum
}
