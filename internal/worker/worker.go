// SPDX-License-Identifier: AGPL-3.0-only
package worker

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/fluffyriot/streakfeed/internal/config"
	"github.com/fluffyriot/streakfeed/internal/rank"
	"github.com/fluffyriot/streakfeed/internal/store"
	"github.com/google/uuid"
)

// Entry is one row of the rankings snapshot.
type Entry struct {
	UserID      uuid.UUID `json:"user_id"`
	StreakDays  int       `json:"streak_days"`
	AverageDays float64   `json:"average_days"`
}

// Worker periodically rebuilds the rankings snapshot: recent feed
// authors ordered by current streak. Rebuilds are mutually exclusive,
// an overlapping tick is skipped rather than queued.
type Worker struct {
	Posts    store.PostStore
	Ranks    *rank.Service
	Config   *config.AppConfig
	Ticker   *time.Ticker
	StopChan chan bool
	mu       sync.Mutex
	running  bool
	active   bool
	rankings []Entry
}

func NewWorker(posts store.PostStore, ranks *rank.Service, cfg *config.AppConfig) *Worker {
	return &Worker{
		Posts:    posts,
		Ranks:    ranks,
		Config:   cfg,
		StopChan: make(chan bool),
	}
}

func (w *Worker) Start(interval time.Duration) {
	w.mu.Lock()
	if w.active {
		w.mu.Unlock()
		log.Println("Worker: Scheduler already active, use Restart to change interval")
		return
	}
	w.active = true
	w.mu.Unlock()

	w.Ticker = time.NewTicker(interval)
	go func() {
		defer func() {
			w.mu.Lock()
			w.active = false
			w.mu.Unlock()
		}()
		for {
			select {
			case <-w.Ticker.C:
				w.RebuildAll()
			case <-w.StopChan:
				w.Ticker.Stop()
				return
			}
		}
	}()
	log.Printf("Background worker started with interval: %v", interval)
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		log.Println("Worker: Scheduler not active")
		return
	}
	w.mu.Unlock()

	w.StopChan <- true
	log.Println("Background worker stopped")
}

func (w *Worker) Restart(interval time.Duration) {
	w.mu.Lock()
	isActive := w.active
	w.mu.Unlock()

	if isActive {
		w.Stop()
		time.Sleep(100 * time.Millisecond)
	}
	w.Start(interval)
}

func (w *Worker) IsActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// RebuildAll recomputes the rankings snapshot. A rebuild already in
// progress means this tick is skipped.
func (w *Worker) RebuildAll() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		log.Println("Worker: Rebuild already in progress, skipping...")
		return
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ctx := context.Background()
	authors, err := w.Posts.RecentAuthorIDs(ctx, w.Config.RankingsLimit)
	if err != nil {
		log.Printf("Worker: Failed to list recent authors: %v", err)
		return
	}

	entries := make([]Entry, 0, len(authors))
	for _, authorID := range authors {
		streak, err := w.Ranks.CurrentStreakDays(ctx, authorID)
		if err != nil {
			log.Printf("Worker: Failed to compute streak for %v: %v", authorID, err)
			continue
		}
		avg, err := w.Ranks.AverageDaysForRank(ctx, authorID)
		if err != nil {
			log.Printf("Worker: Failed to compute average for %v: %v", authorID, err)
			continue
		}
		entries = append(entries, Entry{UserID: authorID, StreakDays: streak, AverageDays: avg})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].StreakDays != entries[j].StreakDays {
			return entries[i].StreakDays > entries[j].StreakDays
		}
		return entries[i].AverageDays > entries[j].AverageDays
	})

	w.mu.Lock()
	w.rankings = entries
	w.mu.Unlock()
	log.Printf("Worker: Rankings rebuilt, %d entries", len(entries))
}

// Rankings returns the latest snapshot, newest rebuild wins.
func (w *Worker) Rankings() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entry, len(w.rankings))
	copy(out, w.rankings)
	return out
}
