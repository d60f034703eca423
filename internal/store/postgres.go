// SPDX-License-Identifier: AGPL-3.0-only
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/fluffyriot/streakfeed/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Postgres implements the store contracts on top of a plain database/sql
// connection. The backend cannot push, so the Subscribe methods are
// backed by the interval poller.
type Postgres struct {
	db           *sql.DB
	authority    CountAuthority
	pollInterval time.Duration
}

func NewPostgres(db *sql.DB, authority CountAuthority, pollInterval time.Duration) *Postgres {
	return &Postgres{db: db, authority: authority, pollInterval: pollInterval}
}

const rawPostColumns = `id, author_id, author_name, author_avatar, content, likes, comments, created_at, updated_at`

func scanRawPost(rows *sql.Rows) (RawPost, error) {
	var (
		p              RawPost
		name, avatar   sql.NullString
		content        sql.NullString
		likes, remarks sql.NullInt64
		updated        sql.NullTime
	)
	err := rows.Scan(&p.ID, &p.AuthorID, &name, &avatar, &content, &likes, &remarks, &p.CreatedAt, &updated)
	if err != nil {
		return p, err
	}
	if name.Valid {
		p.AuthorName = &name.String
	}
	if avatar.Valid {
		p.AuthorAvatar = &avatar.String
	}
	if content.Valid {
		p.Content = &content.String
	}
	if likes.Valid {
		v := int(likes.Int64)
		p.Likes = &v
	}
	if remarks.Valid {
		v := int(remarks.Int64)
		p.Comments = &v
	}
	if updated.Valid {
		p.UpdatedAt = &updated.Time
	}
	return p, nil
}

func collectRawPosts(rows *sql.Rows) ([]RawPost, error) {
	defer rows.Close()
	var items []RawPost
	for rows.Next() {
		p, err := scanRawPost(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// === PostStore ===

func (s *Postgres) GetPage(ctx context.Context, limit int, cursor *string) (Page, error) {
	var (
		rows *sql.Rows
		err  error
	)
	// Fetch one extra row to learn whether another page exists.
	if cursor == nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+rawPostColumns+` FROM posts
			ORDER BY created_at DESC, id DESC
			LIMIT $1`, limit+1)
	} else {
		createdAt, lastID, decodeErr := DecodeCursor(*cursor)
		if decodeErr != nil {
			return Page{}, decodeErr
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+rawPostColumns+` FROM posts
			WHERE (created_at, id) < ($1, $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3`, createdAt, lastID, limit+1)
	}
	if err != nil {
		return Page{}, fmt.Errorf("failed to fetch feed page: %v", err)
	}

	items, err := collectRawPosts(rows)
	if err != nil {
		return Page{}, fmt.Errorf("failed to scan feed page: %v", err)
	}

	page := Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		id, err := uuid.Parse(last.ID)
		if err != nil {
			return Page{}, fmt.Errorf("feed page has malformed post id %q: %v", last.ID, err)
		}
		c := EncodeCursor(last.CreatedAt, id)
		page.NextCursor = &c
	}
	if page.Items == nil {
		page.Items = []RawPost{}
	}
	return page, nil
}

func (s *Postgres) postsByAuthors(ctx context.Context, authorIDs []uuid.UUID) ([]RawPost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rawPostColumns+` FROM posts
		WHERE author_id = ANY($1)
		ORDER BY created_at DESC, id DESC`, pq.Array(authorIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch posts by authors: %v", err)
	}
	return collectRawPosts(rows)
}

func (s *Postgres) SubscribeByAuthor(authorID uuid.UUID, cb func([]RawPost)) Unsubscribe {
	return s.SubscribeByAuthors([]uuid.UUID{authorID}, cb)
}

func (s *Postgres) SubscribeByAuthors(authorIDs []uuid.UUID, cb func([]RawPost)) Unsubscribe {
	ids := make([]uuid.UUID, len(authorIDs))
	copy(ids, authorIDs)
	return Poll(s.pollInterval,
		func(ctx context.Context) ([]RawPost, error) { return s.postsByAuthors(ctx, ids) },
		rawPostsEqual,
		cb,
	)
}

func (s *Postgres) CreatePost(ctx context.Context, post *domain.Post) error {
	if post.ID == uuid.Nil {
		post.ID = uuid.New()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = post.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, author_id, author_name, author_avatar, content, likes, comments, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7)`,
		post.ID, post.AuthorID, post.AuthorName, post.AuthorAvatar, post.Content, post.CreatedAt, post.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create post: %v", err)
	}
	return nil
}

func (s *Postgres) ToggleLike(ctx context.Context, postID, userID uuid.UUID) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin like toggle: %v", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM likes WHERE post_id = $1 AND user_id = $2`, postID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to toggle like: %v", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to toggle like: %v", err)
	}

	var liked bool
	if deleted > 0 {
		_, err = tx.ExecContext(ctx, `UPDATE posts SET likes = likes - 1 WHERE id = $1 AND likes > 0`, postID)
		liked = false
	} else {
		_, err = tx.ExecContext(ctx, `INSERT INTO likes (post_id, user_id, created_at) VALUES ($1, $2, now())`, postID, userID)
		if err == nil {
			_, err = tx.ExecContext(ctx, `UPDATE posts SET likes = likes + 1 WHERE id = $1`, postID)
		}
		liked = true
	}
	if err != nil {
		return false, fmt.Errorf("failed to toggle like: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit like toggle: %v", err)
	}
	return liked, nil
}

func (s *Postgres) AddReply(ctx context.Context, reply *domain.Reply) error {
	if reply.ID == uuid.Nil {
		reply.ID = uuid.New()
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}
	if reply.UpdatedAt.IsZero() {
		reply.UpdatedAt = reply.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reply insert: %v", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO replies (id, post_id, author_id, author_name, author_avatar, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		reply.ID, reply.PostID, reply.AuthorID, reply.AuthorName, reply.AuthorAvatar, reply.Content, reply.CreatedAt, reply.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reply: %v", err)
	}

	// The counter column is only authoritative when the server owns it;
	// with client authority it stays untouched and readers derive the
	// count from the reply rows.
	if s.authority == CountAuthorityServer {
		_, err = tx.ExecContext(ctx, `UPDATE posts SET comments = comments + 1 WHERE id = $1`, reply.PostID)
		if err != nil {
			return fmt.Errorf("failed to bump reply counter: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reply insert: %v", err)
	}
	return nil
}

func (s *Postgres) IsLikedByUser(ctx context.Context, postID, userID uuid.UUID) (bool, error) {
	var liked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM likes WHERE post_id = $1 AND user_id = $2)`, postID, userID).Scan(&liked)
	if err != nil {
		return false, fmt.Errorf("failed to check like state: %v", err)
	}
	return liked, nil
}

func (s *Postgres) LikedPostIDs(ctx context.Context, userID uuid.UUID, postIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	result := make(map[uuid.UUID]bool, len(postIDs))
	for _, id := range postIDs {
		result[id] = false
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id FROM likes WHERE user_id = $1 AND post_id = ANY($2)`, userID, pq.Array(postIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch liked posts: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result[id] = true
	}
	return result, rows.Err()
}

func (s *Postgres) ReplyCountsByPostIDs(ctx context.Context, postIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	result := make(map[uuid.UUID]int, len(postIDs))
	for _, id := range postIDs {
		result[id] = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT post_id, COUNT(*) FROM replies
		WHERE post_id = ANY($1)
		GROUP BY post_id`, pq.Array(postIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reply counts: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id uuid.UUID
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		result[id] = n
	}
	return result, rows.Err()
}

func (s *Postgres) RecentAuthorIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT author_id, MAX(created_at) AS latest FROM posts
		GROUP BY author_id
		ORDER BY latest DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent authors: %v", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var (
			id     uuid.UUID
			latest time.Time
		)
		if err := rows.Scan(&id, &latest); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// === FollowStore ===

func (s *Postgres) GetFollowingIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT followee_id FROM follows WHERE follower_id = $1 ORDER BY followee_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch following ids: %v", err)
	}
	return collectIDs(rows)
}

func (s *Postgres) SubscribeFollowingIDs(userID uuid.UUID, cb func([]uuid.UUID)) Unsubscribe {
	return Poll(s.pollInterval,
		func(ctx context.Context) ([]uuid.UUID, error) { return s.GetFollowingIDs(ctx, userID) },
		EqualIDSets,
		cb,
	)
}

func (s *Postgres) Follow(ctx context.Context, followerID, followeeID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO follows (follower_id, followee_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT DO NOTHING`, followerID, followeeID)
	if err != nil {
		return fmt.Errorf("failed to follow: %v", err)
	}
	return nil
}

func (s *Postgres) Unfollow(ctx context.Context, followerID, followeeID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`, followerID, followeeID)
	if err != nil {
		return fmt.Errorf("failed to unfollow: %v", err)
	}
	return nil
}

// === BlockStore ===

func (s *Postgres) GetBlockedIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT blocked_id FROM blocks WHERE blocker_id = $1 ORDER BY blocked_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blocked ids: %v", err)
	}
	return collectIDs(rows)
}

func (s *Postgres) SubscribeBlockedIDs(userID uuid.UUID, cb func([]uuid.UUID)) Unsubscribe {
	return Poll(s.pollInterval,
		func(ctx context.Context) ([]uuid.UUID, error) { return s.GetBlockedIDs(ctx, userID) },
		EqualIDSets,
		cb,
	)
}

func (s *Postgres) Block(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocks (blocker_id, blocked_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT DO NOTHING`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("failed to block: %v", err)
	}

	// Implicit unfollow, best effort.
	if err := s.Unfollow(ctx, blockerID, blockedID); err != nil {
		log.Printf("Store: block %s->%s could not unfollow: %v", blockerID, blockedID, err)
	}
	return nil
}

func (s *Postgres) Unblock(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM blocks WHERE blocker_id = $1 AND blocked_id = $2`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("failed to unblock: %v", err)
	}
	return nil
}

// === ChallengeStore ===

func (s *Postgres) GetUserChallenges(ctx context.Context, userID uuid.UUID) ([]domain.Challenge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, status, started_at, completed_at, failed_at FROM challenges
		WHERE user_id = $1
		ORDER BY started_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch challenges: %v", err)
	}
	defer rows.Close()

	var out []domain.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) GetActiveChallenge(ctx context.Context, userID uuid.UUID) (*domain.Challenge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, status, started_at, completed_at, failed_at FROM challenges
		WHERE user_id = $1 AND status = $2
		ORDER BY started_at DESC
		LIMIT 1`, userID, domain.ChallengeActive)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active challenge: %v", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	c, err := scanChallenge(rows)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanChallenge(rows *sql.Rows) (domain.Challenge, error) {
	var (
		c                 domain.Challenge
		completed, failed sql.NullTime
	)
	err := rows.Scan(&c.ID, &c.UserID, &c.Status, &c.StartedAt, &completed, &failed)
	if err != nil {
		return c, err
	}
	if completed.Valid {
		c.CompletedAt = &completed.Time
	}
	if failed.Valid {
		c.FailedAt = &failed.Time
	}
	return c, nil
}

func collectIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// rawPostsEqual is the change detector for post pollers. Two snapshots
// are the same when every row matches on the fields the feed renders.
func rawPostsEqual(a, b []RawPost) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID ||
			!eqStrPtr(a[i].Content, b[i].Content) ||
			!eqIntPtr(a[i].Likes, b[i].Likes) ||
			!eqIntPtr(a[i].Comments, b[i].Comments) ||
			!eqTimePtr(a[i].UpdatedAt, b[i].UpdatedAt) {
			return false
		}
	}
	return true
}

func eqStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
