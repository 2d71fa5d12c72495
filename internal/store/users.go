package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Session struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CreateUser registers a new account. The email is stored lowercased.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string, now time.Time) (User, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return User{}, err
	}

	email = normalizeEmail(email)
	if email == "" {
		return User{}, errors.New("email is required")
	}
	if passwordHash == "" {
		return User{}, errors.New("password hash is required")
	}

	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now.UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, u.ID, u.Email, u.PasswordHash, formatTime(u.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return User{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM users WHERE email = ?
	`, normalizeEmail(email))
	return scanUser(row)
}

func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return User{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM users WHERE id = ?
	`, id)
	return scanUser(row)
}

// CountUsers returns the number of registered accounts.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// CreateSession issues a new opaque session token for userID.
func (s *Store) CreateSession(ctx context.Context, userID string, now time.Time, ttl time.Duration) (Session, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return Session{}, err
	}
	if ttl <= 0 {
		return Session{}, errors.New("session ttl must be positive")
	}

	sess := Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		CreatedAt: now.UTC(),
		ExpiresAt: now.UTC().Add(ttl),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, sess.Token, sess.UserID, formatTime(sess.CreatedAt), formatTime(sess.ExpiresAt))
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// SessionUser resolves a session token to its user. Unknown and expired
// tokens return ErrNotFound.
func (s *Store) SessionUser(ctx context.Context, token string, now time.Time) (User, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return User{}, err
	}
	if token == "" {
		return User{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.password_hash, u.created_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = ? AND s.expires_at > ?
	`, token, formatTime(now))
	return scanUser(row)
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PruneSessions deletes sessions that expired before now and returns how
// many were removed.
func (s *Store) PruneSessions(ctx context.Context, now time.Time) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanUser(scanner rowScanner) (User, error) {
	var (
		u         User
		createdAt string
	)
	if err := scanner.Scan(&u.ID, &u.Email, &u.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	var err error
	u.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return User{}, fmt.Errorf("parse created_at: %w", err)
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
