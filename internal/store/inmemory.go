// SPDX-License-Identifier: AGPL-3.0-only
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fluffyriot/streakfeed/internal/domain"
	"github.com/google/uuid"
)

// CountAuthority decides which side owns the final reply counter on a
// post: the store bumps it on AddReply ("server") or leaves it alone and
// lets clients derive it from the reply list ("client").
type CountAuthority string

const (
	CountAuthorityServer CountAuthority = "server"
	CountAuthorityClient CountAuthority = "client"
)

type postSub struct {
	authors map[uuid.UUID]struct{}
	cb      func([]RawPost)
}

type idSub struct {
	userID uuid.UUID
	cb     func([]uuid.UUID)
}

// Memory is a push-capable in-memory implementation of all store
// contracts. It backs tests and the dev mode of the server. Call counts
// are tracked per method so tests can assert how often the persistence
// layer was actually hit.
type Memory struct {
	authority CountAuthority

	mu         sync.RWMutex
	posts      map[uuid.UUID]*domain.Post
	replies    map[uuid.UUID][]domain.Reply
	likes      map[uuid.UUID]map[uuid.UUID]struct{}
	follows    map[uuid.UUID]map[uuid.UUID]struct{}
	blocks     map[uuid.UUID]map[uuid.UUID]struct{}
	challenges map[uuid.UUID][]domain.Challenge

	nextSubID  int
	postSubs   map[int]*postSub
	followSubs map[int]*idSub
	blockSubs  map[int]*idSub

	calls map[string]int
}

func NewMemory(authority CountAuthority) *Memory {
	return &Memory{
		authority:  authority,
		posts:      make(map[uuid.UUID]*domain.Post),
		replies:    make(map[uuid.UUID][]domain.Reply),
		likes:      make(map[uuid.UUID]map[uuid.UUID]struct{}),
		follows:    make(map[uuid.UUID]map[uuid.UUID]struct{}),
		blocks:     make(map[uuid.UUID]map[uuid.UUID]struct{}),
		challenges: make(map[uuid.UUID][]domain.Challenge),
		postSubs:   make(map[int]*postSub),
		followSubs: make(map[int]*idSub),
		blockSubs:  make(map[int]*idSub),
		calls:      make(map[string]int),
	}
}

// Calls returns how many times the named method has been invoked.
func (m *Memory) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

func (m *Memory) count(method string) {
	m.calls[method]++
}

// === PostStore ===

func (m *Memory) GetPage(ctx context.Context, limit int, cursor *string) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("GetPage")
	all := m.sortedPostsLocked()

	start := 0
	if cursor != nil {
		_, lastID, err := DecodeCursor(*cursor)
		if err != nil {
			return Page{}, err
		}
		for i, p := range all {
			if p.ID == lastID {
				start = i + 1
				break
			}
		}
	}
	if start >= len(all) {
		return Page{Items: []RawPost{}}, nil
	}

	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	items := make([]RawPost, 0, end-start)
	for _, p := range all[start:end] {
		items = append(items, m.toRaw(p))
	}

	page := Page{Items: items}
	if end < len(all) {
		last := all[end-1]
		c := EncodeCursor(last.CreatedAt, last.ID)
		page.NextCursor = &c
	}
	return page, nil
}

func (m *Memory) CreatePost(ctx context.Context, post *domain.Post) error {
	m.mu.Lock()
	m.count("CreatePost")
	if post.ID == uuid.Nil {
		post.ID = uuid.New()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = post.CreatedAt
	}
	cp := *post
	m.posts[cp.ID] = &cp
	m.mu.Unlock()

	m.notifyPostSubs(cp.AuthorID)
	return nil
}

func (m *Memory) ToggleLike(ctx context.Context, postID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	m.count("ToggleLike")
	post, ok := m.posts[postID]
	if !ok {
		m.mu.Unlock()
		return false, ErrPostNotFound
	}
	byUser, ok := m.likes[postID]
	if !ok {
		byUser = make(map[uuid.UUID]struct{})
		m.likes[postID] = byUser
	}

	var liked bool
	if _, has := byUser[userID]; has {
		delete(byUser, userID)
		post.Likes--
		liked = false
	} else {
		byUser[userID] = struct{}{}
		post.Likes++
		liked = true
	}
	author := post.AuthorID
	m.mu.Unlock()

	m.notifyPostSubs(author)
	return liked, nil
}

func (m *Memory) AddReply(ctx context.Context, reply *domain.Reply) error {
	m.mu.Lock()
	m.count("AddReply")
	post, ok := m.posts[reply.PostID]
	if !ok {
		m.mu.Unlock()
		return ErrPostNotFound
	}
	if reply.ID == uuid.Nil {
		reply.ID = uuid.New()
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}
	if reply.UpdatedAt.IsZero() {
		reply.UpdatedAt = reply.CreatedAt
	}
	m.replies[reply.PostID] = append(m.replies[reply.PostID], *reply)
	if m.authority == CountAuthorityServer {
		post.Comments++
	}
	author := post.AuthorID
	m.mu.Unlock()

	m.notifyPostSubs(author)
	return nil
}

func (m *Memory) IsLikedByUser(ctx context.Context, postID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("IsLikedByUser")
	_, liked := m.likes[postID][userID]
	return liked, nil
}

func (m *Memory) LikedPostIDs(ctx context.Context, userID uuid.UUID, postIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("LikedPostIDs")
	result := make(map[uuid.UUID]bool, len(postIDs))
	for _, id := range postIDs {
		_, liked := m.likes[id][userID]
		result[id] = liked
	}
	return result, nil
}

func (m *Memory) ReplyCountsByPostIDs(ctx context.Context, postIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("ReplyCountsByPostIDs")
	result := make(map[uuid.UUID]int, len(postIDs))
	for _, id := range postIDs {
		result[id] = len(m.replies[id])
	}
	return result, nil
}

func (m *Memory) RecentAuthorIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("RecentAuthorIDs")

	seen := make(map[uuid.UUID]struct{})
	var result []uuid.UUID
	for _, p := range m.sortedPostsLocked() {
		if _, ok := seen[p.AuthorID]; ok {
			continue
		}
		seen[p.AuthorID] = struct{}{}
		result = append(result, p.AuthorID)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) SubscribeByAuthor(authorID uuid.UUID, cb func([]RawPost)) Unsubscribe {
	return m.SubscribeByAuthors([]uuid.UUID{authorID}, cb)
}

func (m *Memory) SubscribeByAuthors(authorIDs []uuid.UUID, cb func([]RawPost)) Unsubscribe {
	authors := make(map[uuid.UUID]struct{}, len(authorIDs))
	for _, id := range authorIDs {
		authors[id] = struct{}{}
	}

	m.mu.Lock()
	m.count("SubscribeByAuthors")
	id := m.nextSubID
	m.nextSubID++
	sub := &postSub{authors: authors, cb: cb}
	m.postSubs[id] = sub
	m.mu.Unlock()

	// Initial delivery happens off the caller's goroutine so subscribing
	// under a caller-side lock cannot deadlock.
	go cb(m.postsForAuthors(authors))

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.postSubs, id)
			m.mu.Unlock()
		})
	}
}

// === FollowStore ===

func (m *Memory) GetFollowingIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("GetFollowingIDs")
	return sortedIDs(m.follows[userID]), nil
}

func (m *Memory) SubscribeFollowingIDs(userID uuid.UUID, cb func([]uuid.UUID)) Unsubscribe {
	m.mu.Lock()
	m.count("SubscribeFollowingIDs")
	id := m.nextSubID
	m.nextSubID++
	m.followSubs[id] = &idSub{userID: userID, cb: cb}
	initial := sortedIDs(m.follows[userID])
	m.mu.Unlock()

	go cb(initial)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.followSubs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Memory) Follow(ctx context.Context, followerID, followeeID uuid.UUID) error {
	m.mu.Lock()
	m.count("Follow")
	set, ok := m.follows[followerID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		m.follows[followerID] = set
	}
	set[followeeID] = struct{}{}
	m.mu.Unlock()

	m.notifyFollowSubs(followerID)
	return nil
}

func (m *Memory) Unfollow(ctx context.Context, followerID, followeeID uuid.UUID) error {
	m.mu.Lock()
	m.count("Unfollow")
	delete(m.follows[followerID], followeeID)
	m.mu.Unlock()

	m.notifyFollowSubs(followerID)
	return nil
}

// === BlockStore ===

func (m *Memory) GetBlockedIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("GetBlockedIDs")
	return sortedIDs(m.blocks[userID]), nil
}

func (m *Memory) SubscribeBlockedIDs(userID uuid.UUID, cb func([]uuid.UUID)) Unsubscribe {
	m.mu.Lock()
	m.count("SubscribeBlockedIDs")
	id := m.nextSubID
	m.nextSubID++
	m.blockSubs[id] = &idSub{userID: userID, cb: cb}
	initial := sortedIDs(m.blocks[userID])
	m.mu.Unlock()

	go cb(initial)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.blockSubs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Memory) Block(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	m.mu.Lock()
	m.count("Block")
	set, ok := m.blocks[blockerID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		m.blocks[blockerID] = set
	}
	set[blockedID] = struct{}{}
	delete(m.follows[blockerID], blockedID)
	m.mu.Unlock()

	m.notifyBlockSubs(blockerID)
	m.notifyFollowSubs(blockerID)
	return nil
}

func (m *Memory) Unblock(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	m.mu.Lock()
	m.count("Unblock")
	delete(m.blocks[blockerID], blockedID)
	m.mu.Unlock()

	m.notifyBlockSubs(blockerID)
	return nil
}

// === ChallengeStore ===

func (m *Memory) GetUserChallenges(ctx context.Context, userID uuid.UUID) ([]domain.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("GetUserChallenges")
	out := make([]domain.Challenge, len(m.challenges[userID]))
	copy(out, m.challenges[userID])
	return out, nil
}

func (m *Memory) GetActiveChallenge(ctx context.Context, userID uuid.UUID) (*domain.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("GetActiveChallenge")
	for _, c := range m.challenges[userID] {
		if c.Status == domain.ChallengeActive {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

// AddChallenge seeds a challenge row. Not part of the store contracts;
// challenge lifecycle is owned elsewhere.
func (m *Memory) AddChallenge(c domain.Challenge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.challenges[c.UserID] = append(m.challenges[c.UserID], c)
}

// === internals ===

func (m *Memory) sortedPostsLocked() []*domain.Post {
	all := make([]*domain.Post, 0, len(m.posts))
	for _, p := range m.posts {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() > all[j].ID.String()
	})
	return all
}

func (m *Memory) toRaw(p *domain.Post) RawPost {
	name, avatar, content := p.AuthorName, p.AuthorAvatar, p.Content
	likes := p.Likes
	comments := p.Comments
	if m.authority == CountAuthorityClient {
		comments = len(m.replies[p.ID])
	}
	updated := p.UpdatedAt
	return RawPost{
		ID:           p.ID.String(),
		AuthorID:     p.AuthorID.String(),
		AuthorName:   &name,
		AuthorAvatar: &avatar,
		Content:      &content,
		Likes:        &likes,
		Comments:     &comments,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    &updated,
	}
}

func (m *Memory) postsForAuthors(authors map[uuid.UUID]struct{}) []RawPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RawPost
	for _, p := range m.sortedPostsLocked() {
		if _, ok := authors[p.AuthorID]; ok {
			out = append(out, m.toRaw(p))
		}
	}
	return out
}

func (m *Memory) notifyPostSubs(authorID uuid.UUID) {
	m.mu.RLock()
	subs := make([]*postSub, 0, len(m.postSubs))
	for _, s := range m.postSubs {
		if _, ok := s.authors[authorID]; ok {
			subs = append(subs, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range subs {
		s.cb(m.postsForAuthors(s.authors))
	}
}

func (m *Memory) notifyFollowSubs(userID uuid.UUID) {
	m.mu.RLock()
	var subs []*idSub
	for _, s := range m.followSubs {
		if s.userID == userID {
			subs = append(subs, s)
		}
	}
	ids := sortedIDs(m.follows[userID])
	m.mu.RUnlock()

	for _, s := range subs {
		s.cb(ids)
	}
}

func (m *Memory) notifyBlockSubs(userID uuid.UUID) {
	m.mu.RLock()
	var subs []*idSub
	for _, s := range m.blockSubs {
		if s.userID == userID {
			subs = append(subs, s)
		}
	}
	ids := sortedIDs(m.blocks[userID])
	m.mu.RUnlock()

	for _, s := range subs {
		s.cb(ids)
	}
}

func sortedIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
