// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and user queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// emailIndex is the unique index enforcing case-insensitive email uniqueness.
const emailIndex = "users_email_lower_idx"

// userColumns is the select list matching scanUser's argument order.
const userColumns = `id, name, email, password_digest, remember_digest, activation_digest,
	activated, activated_at, reset_digest, reset_sent_at, admin, created_at, updated_at`

// The store used by program to connect with Postgres db
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool to PostgreSQL, pings it,
// and returns a ready-to-use store.
// Call once at startup...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings Postgres; used by the /health endpoint.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// mapErr translates driver errors into store sentinels.
// pgx.ErrNoRows -> ErrNotFound, unique violation on the email index -> ErrDuplicateEmail.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == emailIndex {
		return fmt.Errorf("%w: %w", ErrDuplicateEmail, err)
	}
	return err
}

// scanUser reads one row selected with userColumns.
func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordDigest, &u.RememberDigest, &u.ActivationDigest,
		&u.Activated, &u.ActivatedAt, &u.ResetDigest, &u.ResetSentAt, &u.Admin, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

// collectUsers drains rows selected with userColumns.
func collectUsers(rows pgx.Rows) ([]User, error) {
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CreateUser inserts a new user row.
// Caller generates the UUID v7 and every digest BEFORE calling this; email must already be lowercase.
// Returns ErrDuplicateEmail when the email index rejects the insert.
func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, password_digest, activation_digest, activated, activated_at, admin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Name, u.Email, u.PasswordDigest, u.ActivationDigest, u.Activated, u.ActivatedAt, u.Admin)
	return mapErr(err)
}

// GetUserByID fetches a user by primary key. Returns ErrNotFound if missing.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

// GetUserByEmail fetches a user by email, case-insensitively. Returns ErrNotFound if missing.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(email) = lower($1)", email))
}

// UpdateUserProfile sets name and email; passwordDigest nil keeps the current digest.
func (s *PostgresStore) UpdateUserProfile(ctx context.Context, id uuid.UUID, name, email string, passwordDigest *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET name = $2, email = $3, password_digest = COALESCE($4, password_digest), updated_at = now()
		WHERE id = $1`,
		id, name, email, passwordDigest)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRememberDigest stores (or with nil, clears) the persistent-login digest.
func (s *PostgresStore) SetRememberDigest(ctx context.Context, id uuid.UUID, digest *string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE users SET remember_digest = $2, updated_at = now() WHERE id = $1", id, digest)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ActivateUser flips activated once. Returns ErrNotFound if the user is missing or already activated,
// so two concurrent clicks on the same link cannot both succeed.
func (s *PostgresStore) ActivateUser(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET activated = TRUE, activated_at = $2, updated_at = now()
		WHERE id = $1 AND NOT activated`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetResetDigest overwrites any pending reset with a new digest and timestamp.
func (s *PostgresStore) SetResetDigest(ctx context.Context, id uuid.UUID, digest string, sentAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET reset_digest = $2, reset_sent_at = $3, updated_at = now()
		WHERE id = $1`, id, digest, sentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetPassword stores the new password digest and clears reset_digest in one statement.
// Guarded on the reset digest the caller verified; ErrNotFound means the link was consumed
// or replaced in the meantime.
func (s *PostgresStore) ResetPassword(ctx context.Context, id uuid.UUID, resetDigest, passwordDigest string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET password_digest = $3, reset_digest = NULL, updated_at = now()
		WHERE id = $1 AND reset_digest = $2`, id, resetDigest, passwordDigest)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActivatedUsers returns one page of activated users, oldest first.
func (s *PostgresStore) ListActivatedUsers(ctx context.Context, page Page) ([]User, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx,
		"SELECT "+userColumns+" FROM users WHERE activated ORDER BY created_at, id LIMIT $1 OFFSET $2",
		page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// DeleteUser removes a user with their microposts and relationships in one transaction.
// Children first, then the user row. Returns ErrNotFound if the user did not exist.
func (s *PostgresStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM microposts WHERE user_id = $1", id); err != nil {
		return fmt.Errorf("deleting microposts: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM relationships WHERE follower_id = $1 OR followed_id = $1", id); err != nil {
		return fmt.Errorf("deleting relationships: %w", err)
	}
	tag, err := tx.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// SetPasswordDigest replaces the password digest, e.g. after an upgrade-on-login rehash.
func (s *PostgresStore) SetPasswordDigest(ctx context.Context, id uuid.UUID, digest string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE users SET password_digest = $2, updated_at = now() WHERE id = $1", id, digest)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
