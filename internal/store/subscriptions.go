package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/subdigest/internal/source"
)

// Subscription is a user's digest preferences and delivery state.
type Subscription struct {
	UserID     string
	Email      string
	Subreddits []string
	Sort       source.Sort
	TimeWindow source.TimeWindow
	NextSendAt time.Time
	Active     bool
	UpdatedAt  time.Time
}

// UpsertSubscription creates or replaces the subscription for sub.UserID.
func (s *Store) UpsertSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return Subscription{}, err
	}
	if sub.UserID == "" {
		return Subscription{}, errors.New("user_id is required")
	}
	if normalizeEmail(sub.Email) == "" {
		return Subscription{}, errors.New("email is required")
	}
	if sub.NextSendAt.IsZero() {
		return Subscription{}, errors.New("next_send_at is required")
	}
	if sub.UpdatedAt.IsZero() {
		return Subscription{}, errors.New("updated_at is required")
	}

	sub.Email = normalizeEmail(sub.Email)
	sub.Sort = source.ParseSort(string(sub.Sort))
	sub.TimeWindow = source.ParseTimeWindow(string(sub.TimeWindow))
	if sub.Subreddits == nil {
		sub.Subreddits = []string{}
	}
	subsJSON, err := json.Marshal(sub.Subreddits)
	if err != nil {
		return Subscription{}, fmt.Errorf("encode subreddits: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			user_id, email, subreddits, sort, time_window, next_send_at, active, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			email = excluded.email,
			subreddits = excluded.subreddits,
			sort = excluded.sort,
			time_window = excluded.time_window,
			next_send_at = excluded.next_send_at,
			active = excluded.active,
			updated_at = excluded.updated_at
	`,
		sub.UserID,
		sub.Email,
		string(subsJSON),
		string(sub.Sort),
		string(sub.TimeWindow),
		formatTime(sub.NextSendAt),
		boolInt(sub.Active),
		formatTime(sub.UpdatedAt),
	)
	if err != nil {
		return Subscription{}, fmt.Errorf("upsert subscription: %w", err)
	}

	return s.Subscription(ctx, sub.UserID)
}

const subscriptionColumns = `user_id, email, subreddits, sort, time_window, next_send_at, active, updated_at`

// Subscription returns the subscription of userID, or ErrNotFound.
func (s *Store) Subscription(ctx context.Context, userID string) (Subscription, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return Subscription{}, err
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE user_id = ?", userID)
	return scanSubscription(row)
}

// SubscriptionByEmail returns the subscription delivered to email.
func (s *Store) SubscriptionByEmail(ctx context.Context, email string) (Subscription, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return Subscription{}, err
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE email = ?", normalizeEmail(email))
	return scanSubscription(row)
}

// Due returns active subscriptions with at least one subreddit whose
// next_send_at is at or before now, oldest first.
func (s *Store) Due(ctx context.Context, now time.Time) ([]Subscription, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE active = 1 AND next_send_at <= ? AND subreddits != '[]'
		ORDER BY next_send_at ASC, user_id ASC
	`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("query due subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var due []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		if len(sub.Subreddits) == 0 {
			continue
		}
		due = append(due, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due subscriptions: %w", err)
	}
	return due, nil
}

// CountActive returns the number of active subscriptions.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM subscriptions WHERE active = 1").Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return n, nil
}

// MarkSent moves the subscription's next delivery to next.
func (s *Store) MarkSent(ctx context.Context, userID string, next time.Time) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE subscriptions SET next_send_at = ? WHERE user_id = ?", formatTime(next), userID)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSubscription(scanner rowScanner) (Subscription, error) {
	var (
		sub                 Subscription
		subsJSON            string
		sortVal, window     string
		nextSend, updatedAt string
		active              int
	)
	if err := scanner.Scan(
		&sub.UserID,
		&sub.Email,
		&subsJSON,
		&sortVal,
		&window,
		&nextSend,
		&active,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}

	sub.Subreddits = []string{}
	if subsJSON != "" {
		if err := json.Unmarshal([]byte(subsJSON), &sub.Subreddits); err != nil {
			return Subscription{}, fmt.Errorf("decode subreddits: %w", err)
		}
	}
	sub.Sort = source.ParseSort(sortVal)
	sub.TimeWindow = source.ParseTimeWindow(window)
	sub.Active = active != 0

	var err error
	sub.NextSendAt, err = parseTime(nextSend)
	if err != nil {
		return Subscription{}, fmt.Errorf("parse next_send_at: %w", err)
	}
	sub.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return Subscription{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return sub, nil
}
