// graph.go -- follow-graph, micropost, and feed queries.
package store

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// micropostColumns is the select list matching scanMicropost; expects microposts aliased m, users u.
const micropostColumns = "m.id, m.user_id, u.name, m.content, m.created_at"

func scanMicropost(row pgx.Row) (*Micropost, error) {
	var m Micropost
	if err := row.Scan(&m.ID, &m.UserID, &m.AuthorName, &m.Content, &m.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func collectMicroposts(rows pgx.Rows) ([]Micropost, error) {
	defer rows.Close()
	var posts []Micropost
	for rows.Next() {
		m, err := scanMicropost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *m)
	}
	return posts, rows.Err()
}

// Follow inserts the edge follower -> followed. Existing edges are left alone (idempotent).
// Self-loops are rejected by the table CHECK; callers filter them first.
func (s *PostgresStore) Follow(ctx context.Context, followerID, followedID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relationships (follower_id, followed_id) VALUES ($1, $2)
		ON CONFLICT (follower_id, followed_id) DO NOTHING`, followerID, followedID)
	return err
}

// Unfollow removes the edge follower -> followed if present.
func (s *PostgresStore) Unfollow(ctx context.Context, followerID, followedID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM relationships WHERE follower_id = $1 AND followed_id = $2", followerID, followedID)
	return err
}

// IsFollowing reports whether the edge follower -> followed exists.
func (s *PostgresStore) IsFollowing(ctx context.Context, followerID, followedID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM relationships WHERE follower_id = $1 AND followed_id = $2)",
		followerID, followedID).Scan(&exists)
	return exists, err
}

// ListFollowing returns activated users that userID follows.
func (s *PostgresStore) ListFollowing(ctx context.Context, userID uuid.UUID, page Page) ([]User, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE activated AND id IN (SELECT followed_id FROM relationships WHERE follower_id = $1)
		ORDER BY name, id LIMIT $2 OFFSET $3`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// ListFollowers returns activated users following userID.
func (s *PostgresStore) ListFollowers(ctx context.Context, userID uuid.UUID, page Page) ([]User, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE activated AND id IN (SELECT follower_id FROM relationships WHERE followed_id = $1)
		ORDER BY name, id LIMIT $2 OFFSET $3`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// CountFollows returns how many activated users userID follows and how many follow userID,
// matching what ListFollowing and ListFollowers return.
func (s *PostgresStore) CountFollows(ctx context.Context, userID uuid.UUID) (following, followers int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM relationships r JOIN users u ON u.id = r.followed_id
				WHERE r.follower_id = $1 AND u.activated),
			(SELECT count(*) FROM relationships r JOIN users u ON u.id = r.follower_id
				WHERE r.followed_id = $1 AND u.activated)`, userID).Scan(&following, &followers)
	return following, followers, err
}

// CreateMicropost inserts a post and returns it with its server-assigned created_at.
func (s *PostgresStore) CreateMicropost(ctx context.Context, id, userID uuid.UUID, content string) (*Micropost, error) {
	return scanMicropost(s.pool.QueryRow(ctx, `
		WITH m AS (
			INSERT INTO microposts (id, user_id, content) VALUES ($1, $2, $3)
			RETURNING id, user_id, content, created_at
		)
		SELECT `+micropostColumns+` FROM m JOIN users u ON u.id = m.user_id`,
		id, userID, content))
}

// GetMicropost fetches one post. Returns ErrNotFound if missing.
func (s *PostgresStore) GetMicropost(ctx context.Context, id uuid.UUID) (*Micropost, error) {
	return scanMicropost(s.pool.QueryRow(ctx, `
		SELECT `+micropostColumns+` FROM microposts m JOIN users u ON u.id = m.user_id
		WHERE m.id = $1`, id))
}

// DeleteMicropost removes one post. Returns ErrNotFound if missing.
func (s *PostgresStore) DeleteMicropost(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM microposts WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserMicroposts returns one page of userID's posts, newest first.
func (s *PostgresStore) ListUserMicroposts(ctx context.Context, userID uuid.UUID, page Page) ([]Micropost, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx, `
		SELECT `+micropostColumns+` FROM microposts m JOIN users u ON u.id = m.user_id
		WHERE m.user_id = $1
		ORDER BY m.created_at DESC, m.seq DESC LIMIT $2 OFFSET $3`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	return collectMicroposts(rows)
}

// Feed returns one page of posts by userID and everyone userID follows, newest first,
// ties broken by insertion order.
// The followed set stays a sub-select so Postgres resolves it; ids are never pulled into Go.
func (s *PostgresStore) Feed(ctx context.Context, userID uuid.UUID, page Page) ([]Micropost, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx, `
		SELECT `+micropostColumns+` FROM microposts m JOIN users u ON u.id = m.user_id
		WHERE m.user_id IN (SELECT followed_id FROM relationships WHERE follower_id = $1)
		   OR m.user_id = $1
		ORDER BY m.created_at DESC, m.seq DESC LIMIT $2 OFFSET $3`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	return collectMicroposts(rows)
}
