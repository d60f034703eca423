// SPDX-License-Identifier: AGPL-3.0-only
package feed

import (
	"context"
	"log"
	"sync"

	"github.com/fluffyriot/streakfeed/internal/domain"
	"github.com/fluffyriot/streakfeed/internal/rank"
	"github.com/fluffyriot/streakfeed/internal/store"
	"github.com/google/uuid"
)

type Tab string

const (
	TabAll       Tab = "all"
	TabMine      Tab = "mine"
	TabFollowing Tab = "following"
)

// Snapshot is one immutable view of the controller state. The maps it
// carries are never mutated in place after publication; every state
// change swaps in fresh ones, so consumers may hold a Snapshot across
// updates and compare by reference.
type Snapshot struct {
	Tab         Tab                `json:"tab"`
	Posts       []*domain.Post     `json:"-"`
	HasMore     bool               `json:"has_more"`
	Loading     bool               `json:"loading"`
	LoadingMore bool               `json:"loading_more"`
	Refreshing  bool               `json:"refreshing"`
	Liked       map[uuid.UUID]bool `json:"-"`
	ReplyCounts map[uuid.UUID]int  `json:"-"`
	StreakDays  map[uuid.UUID]int  `json:"-"`
	Expanded    map[uuid.UUID]bool `json:"-"`
}

// Controller owns one user's tabbed feed: the current list, cursor and
// in-flight flags, plus the subscription or pagination strategy of the
// active tab. All state mutations are stamped with a generation counter;
// a result that arrives after the generation moved on (tab switch,
// refresh, close) is discarded instead of applied.
type Controller struct {
	posts   store.PostStore
	follows store.FollowStore
	blocks  store.BlockStore
	ranks   *rank.Service
	engager *Engager

	userID   uuid.UUID
	pageSize int
	onChange func(Snapshot)
	swallow  SwallowHook

	mu          sync.Mutex
	closed      bool
	gen         uint64
	tab         Tab
	list        []*domain.Post
	cursor      *string
	hasMore     bool
	loading     bool
	loadingMore bool
	refreshing  bool

	liked       map[uuid.UUID]bool
	replyCounts map[uuid.UUID]int
	streakDays  map[uuid.UUID]int
	expanded    map[uuid.UUID]bool

	blocked        map[uuid.UUID]struct{}
	following      []uuid.UUID
	followingReady bool

	unsubTab    store.Unsubscribe
	unsubFollow store.Unsubscribe
	unsubBlock  store.Unsubscribe
}

type ControllerOptions struct {
	PageSize int
	// OnChange receives a snapshot after every applied state change.
	OnChange func(Snapshot)
	// Swallow receives non-fatal side-effect errors. Defaults to logging.
	Swallow SwallowHook
}

const DefaultPageSize = 20

func NewController(posts store.PostStore, follows store.FollowStore, blocks store.BlockStore, ranks *rank.Service, userID uuid.UUID, opts ControllerOptions) *Controller {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Swallow == nil {
		opts.Swallow = logSwallowed
	}

	c := &Controller{
		posts:       posts,
		follows:     follows,
		blocks:      blocks,
		ranks:       ranks,
		userID:      userID,
		pageSize:    opts.PageSize,
		onChange:    opts.OnChange,
		swallow:     opts.Swallow,
		tab:         TabAll,
		hasMore:     true,
		liked:       map[uuid.UUID]bool{},
		replyCounts: map[uuid.UUID]int{},
		streakDays:  map[uuid.UUID]int{},
		expanded:    map[uuid.UUID]bool{},
		blocked:     map[uuid.UUID]struct{}{},
	}

	c.engager = NewEngager(posts, opts.Swallow)
	c.engager.OnReply(c.bumpReplyCount)
	c.engager.OnReply(c.expandThread)

	return c
}

// Start subscribes to the user's block and follow edges for the
// controller lifetime and loads the initial tab.
func (c *Controller) Start(ctx context.Context) {
	c.unsubBlock = c.blocks.SubscribeBlockedIDs(c.userID, c.onBlockedIDs)
	c.unsubFollow = c.follows.SubscribeFollowingIDs(c.userID, c.onFollowingIDs)
	c.SwitchTab(ctx, TabAll)
}

// Close tears down every subscription. In-flight fetches that complete
// afterwards are discarded by the generation check.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.gen++
	unsubs := []store.Unsubscribe{c.unsubTab, c.unsubFollow, c.unsubBlock}
	c.unsubTab, c.unsubFollow, c.unsubBlock = nil, nil, nil
	c.mu.Unlock()

	for _, u := range unsubs {
		if u != nil {
			u()
		}
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SwitchTab resets list, cursor and flags, tears down the previous
// tab's subscription and starts the new tab's strategy from scratch, so
// a fast switch can never render stale cross-tab content.
func (c *Controller) SwitchTab(ctx context.Context, tab Tab) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.teardownTabLocked()
	c.tab = tab
	c.list = nil
	c.cursor = nil
	c.hasMore = true
	c.loading = true
	c.loadingMore = false
	c.refreshing = false

	switch tab {
	case TabMine:
		c.unsubTab = c.posts.SubscribeByAuthor(c.userID, func(raw []store.RawPost) {
			c.applyPush(gen, raw)
		})
	case TabFollowing:
		c.startFollowingLocked(gen)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
	if tab == TabAll {
		go c.fetchFirst(ctx, gen)
	}
}

// LoadMore fetches the next page on the "all" tab. It is a no-op on
// subscription tabs, while another page is in flight, or once the feed
// is exhausted; concurrent calls are dropped, not queued.
func (c *Controller) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.tab != TabAll || c.loading || c.loadingMore || !c.hasMore {
		c.mu.Unlock()
		return nil
	}
	c.loadingMore = true
	gen := c.gen
	cursor := c.cursor
	c.mu.Unlock()

	page, err := c.posts.GetPage(ctx, c.pageSize, cursor)

	c.mu.Lock()
	if c.closed || gen != c.gen {
		// A tab switch or refresh already reset the flags this fetch set.
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		// Keep list, cursor and hasMore so the caller can simply retry.
		c.loadingMore = false
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.emit(snap)
		return err
	}

	res := Normalize(page.Items, c.blocked)
	c.reportInvalid(res.Invalid)

	existing := make(map[uuid.UUID]struct{}, len(c.list))
	for _, p := range c.list {
		existing[p.ID] = struct{}{}
	}
	next := make([]*domain.Post, len(c.list), len(c.list)+len(res.Posts))
	copy(next, c.list)
	var appended []*domain.Post
	for _, p := range res.Posts {
		if _, dup := existing[p.ID]; dup {
			continue
		}
		next = append(next, p)
		appended = append(appended, p)
	}
	c.list = next
	c.mergeReplyCountsLocked(res.ReplyCounts)
	c.cursor = page.NextCursor
	c.hasMore = page.NextCursor != nil && len(page.Items) > 0
	c.loadingMore = false
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
	go c.refine(ctx, gen, appended)
	return nil
}

// Refresh re-runs the active tab's initial fetch. For "all" pagination
// restarts from the first page; subscription tabs resubscribe. Any
// in-flight result from before the refresh is discarded.
func (c *Controller) Refresh(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.refreshing = true
	c.loadingMore = false
	tab := c.tab

	switch tab {
	case TabAll:
		c.cursor = nil
		c.hasMore = true
	case TabMine:
		c.teardownTabLocked()
		c.unsubTab = c.posts.SubscribeByAuthor(c.userID, func(raw []store.RawPost) {
			c.applyPush(gen, raw)
		})
	case TabFollowing:
		c.teardownTabLocked()
		c.startFollowingLocked(gen)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
	if tab == TabAll {
		go c.fetchFirst(ctx, gen)
	}
}

// ToggleLike delegates to the engagement guard and keeps the local
// liked set in sync. The visible counter is only adjusted optimistically
// on the "all" tab; subscribed tabs get the true count from the next
// push and must not be double-adjusted.
func (c *Controller) ToggleLike(ctx context.Context, postID uuid.UUID) (bool, error) {
	liked, err := c.engager.ToggleLike(ctx, postID, c.userID)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return liked, nil
	}
	next := make(map[uuid.UUID]bool, len(c.liked)+1)
	for k, v := range c.liked {
		next[k] = v
	}
	if liked {
		next[postID] = true
	} else {
		delete(next, postID)
	}
	c.liked = next

	if c.tab == TabAll {
		delta := 1
		if !liked {
			delta = -1
		}
		c.adjustLikesLocked(postID, delta)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
	return liked, nil
}

// SubmitReply persists a reply authored by the controller's user. On
// success the reply-count cache is bumped and the thread marked
// expanded, both best effort.
func (c *Controller) SubmitReply(ctx context.Context, postID uuid.UUID, content, authorName, authorAvatar string) error {
	return c.engager.SubmitReply(ctx, &domain.Reply{
		PostID:       postID,
		AuthorID:     c.userID,
		AuthorName:   authorName,
		AuthorAvatar: authorAvatar,
		Content:      content,
	})
}

// === tab strategies ===

func (c *Controller) fetchFirst(ctx context.Context, gen uint64) {
	page, err := c.posts.GetPage(ctx, c.pageSize, nil)

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.loading = false
		c.refreshing = false
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.emit(snap)
		log.Printf("Feed: initial page fetch failed for user %s: %v", c.userID, err)
		return
	}

	res := Normalize(page.Items, c.blocked)
	c.reportInvalid(res.Invalid)
	c.list = Merge(c.list, res.Posts)
	c.mergeReplyCountsLocked(res.ReplyCounts)
	c.cursor = page.NextCursor
	c.hasMore = page.NextCursor != nil && len(page.Items) > 0
	c.loading = false
	c.refreshing = false
	applied := c.list
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
	go c.refine(ctx, gen, applied)
}

func (c *Controller) applyPush(gen uint64, raw []store.RawPost) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	res := Normalize(raw, c.blocked)
	c.reportInvalid(res.Invalid)
	c.list = Merge(c.list, res.Posts)
	c.mergeReplyCountsLocked(res.ReplyCounts)
	c.loading = false
	c.refreshing = false
	applied := c.list
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
	go c.refine(context.Background(), gen, applied)
}

// startFollowingLocked begins the "following" strategy. Until the
// followed-id set has resolved at least once the tab stays loading; an
// empty resolved set yields an explicit empty list rather than a
// stalled spinner.
func (c *Controller) startFollowingLocked(gen uint64) {
	if !c.followingReady {
		return
	}
	if len(c.following) == 0 {
		c.list = []*domain.Post{}
		c.hasMore = false
		c.loading = false
		c.refreshing = false
		return
	}
	ids := make([]uuid.UUID, len(c.following))
	copy(ids, c.following)
	c.unsubTab = c.posts.SubscribeByAuthors(ids, func(raw []store.RawPost) {
		c.applyPush(gen, raw)
	})
}

func (c *Controller) onFollowingIDs(ids []uuid.UUID) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.following = ids
	c.followingReady = true

	if c.tab != TabFollowing {
		c.mu.Unlock()
		return
	}

	// The membership set changed under the active tab: drop the old
	// subscription and any pushes it still has in flight, then restart
	// against the new set. The existing list stays for identity reuse.
	c.gen++
	gen := c.gen
	c.teardownTabLocked()
	c.startFollowingLocked(gen)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
}

// onBlockedIDs swaps the blocked-author set and retroactively removes
// already-rendered posts from now-blocked authors. Surviving entries
// keep their identity.
func (c *Controller) onBlockedIDs(ids []uuid.UUID) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	blocked := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		blocked[id] = struct{}{}
	}
	c.blocked = blocked

	filtered := make([]*domain.Post, 0, len(c.list))
	for _, p := range c.list {
		if _, isBlocked := blocked[p.AuthorID]; !isBlocked {
			filtered = append(filtered, p)
		}
	}
	changed := len(filtered) != len(c.list)
	if changed {
		c.list = filtered
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if changed {
		c.emit(snap)
	}
}

// === background refinement ===

// refine recomputes liked-state for the given posts and streak ranks
// for their newly-seen authors. It runs after list delivery and never
// blocks it; failures are swallowed.
func (c *Controller) refine(ctx context.Context, gen uint64, posts []*domain.Post) {
	if len(posts) == 0 {
		return
	}

	ids := make([]uuid.UUID, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}

	liked, err := c.posts.LikedPostIDs(ctx, c.userID, ids)
	if err != nil {
		c.swallow("liked-state refresh", err)
		liked = nil
	}

	c.mu.Lock()
	known := c.streakDays
	c.mu.Unlock()

	streaks := make(map[uuid.UUID]int)
	for _, p := range posts {
		if _, ok := known[p.AuthorID]; ok {
			continue
		}
		if _, ok := streaks[p.AuthorID]; ok {
			continue
		}
		days, err := c.ranks.CurrentStreakDays(ctx, p.AuthorID)
		if err != nil {
			c.swallow("streak refresh", err)
			continue
		}
		streaks[p.AuthorID] = days
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	if liked != nil {
		next := make(map[uuid.UUID]bool, len(c.liked)+len(liked))
		for k, v := range c.liked {
			next[k] = v
		}
		for k, v := range liked {
			if v {
				next[k] = true
			} else {
				delete(next, k)
			}
		}
		c.liked = next
	}
	if len(streaks) > 0 {
		next := make(map[uuid.UUID]int, len(c.streakDays)+len(streaks))
		for k, v := range c.streakDays {
			next[k] = v
		}
		for k, v := range streaks {
			next[k] = v
		}
		c.streakDays = next
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
}

// === engagement side effects ===

func (c *Controller) bumpReplyCount(postID uuid.UUID) error {
	c.mu.Lock()
	next := make(map[uuid.UUID]int, len(c.replyCounts)+1)
	for k, v := range c.replyCounts {
		next[k] = v
	}
	next[postID]++
	c.replyCounts = next
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
	return nil
}

func (c *Controller) expandThread(postID uuid.UUID) error {
	c.mu.Lock()
	next := make(map[uuid.UUID]bool, len(c.expanded)+1)
	for k, v := range c.expanded {
		next[k] = v
	}
	next[postID] = true
	c.expanded = next
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
	return nil
}

// === helpers ===

func (c *Controller) teardownTabLocked() {
	if c.unsubTab != nil {
		c.unsubTab()
		c.unsubTab = nil
	}
}

func (c *Controller) adjustLikesLocked(postID uuid.UUID, delta int) {
	for i, p := range c.list {
		if p.ID != postID {
			continue
		}
		cp := *p
		cp.Likes += delta
		if cp.Likes < 0 {
			cp.Likes = 0
		}
		next := make([]*domain.Post, len(c.list))
		copy(next, c.list)
		next[i] = &cp
		c.list = next
		return
	}
}

func (c *Controller) mergeReplyCountsLocked(counts map[uuid.UUID]int) {
	if len(counts) == 0 {
		return
	}
	next := make(map[uuid.UUID]int, len(c.replyCounts)+len(counts))
	for k, v := range c.replyCounts {
		next[k] = v
	}
	for k, v := range counts {
		next[k] = v
	}
	c.replyCounts = next
}

func (c *Controller) reportInvalid(errs []error) {
	for _, err := range errs {
		c.swallow("normalize", err)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	posts := make([]*domain.Post, len(c.list))
	copy(posts, c.list)
	return Snapshot{
		Tab:         c.tab,
		Posts:       posts,
		HasMore:     c.hasMore,
		Loading:     c.loading,
		LoadingMore: c.loadingMore,
		Refreshing:  c.refreshing,
		Liked:       c.liked,
		ReplyCounts: c.replyCounts,
		StreakDays:  c.streakDays,
		Expanded:    c.expanded,
	}
}

func (c *Controller) emit(snap Snapshot) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}
