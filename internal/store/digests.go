package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ppiankov/subdigest/internal/digest"
)

// DigestRun is one subreddit's line in a delivered digest.
type DigestRun struct {
	ID        int64
	UserID    string
	SentAt    time.Time
	Subreddit string
	OK        bool
	Reason    string
	Posts     int
}

// RecordDigest stores one row per section of d.
func (s *Store) RecordDigest(ctx context.Context, userID string, sentAt time.Time, d digest.Digest) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if len(d.Sections) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	for _, sec := range d.Sections {
		var reason sql.NullString
		if !sec.OK() {
			reason = sql.NullString{String: string(sec.Reason), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO digest_runs (user_id, sent_at, subreddit, ok, reason, posts)
			VALUES (?, ?, ?, ?, ?, ?)
		`, userID, formatTime(sentAt), sec.Subreddit, boolInt(sec.OK()), reason, len(sec.Posts)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert digest run: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit digest runs: %w", err)
	}
	return nil
}

// RecentRuns returns the latest digest rows for userID, newest first.
func (s *Store) RecentRuns(ctx context.Context, userID string, limit int) ([]DigestRun, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, sent_at, subreddit, ok, reason, posts
		FROM digest_runs
		WHERE user_id = ?
		ORDER BY sent_at DESC, id ASC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query digest runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []DigestRun
	for rows.Next() {
		var (
			run    DigestRun
			sentAt string
			ok     int
			reason sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.UserID, &sentAt, &run.Subreddit, &ok, &reason, &run.Posts); err != nil {
			return nil, fmt.Errorf("scan digest run: %w", err)
		}
		run.OK = ok != 0
		run.Reason = reason.String
		run.SentAt, err = parseTime(sentAt)
		if err != nil {
			return nil, fmt.Errorf("parse sent_at: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate digest runs: %w", err)
	}
	return runs, nil
}

// SubredditStats holds aggregated delivery results for one subreddit.
type SubredditStats struct {
	Subreddit  string
	Total      int
	OK         int
	Failed     int
	Posts      int
	LastSent   time.Time
	LastReason string
}

// GetSubredditStats returns per-subreddit digest aggregates since the given
// time.
func (s *Store) GetSubredditStats(ctx context.Context, since time.Time) ([]SubredditStats, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.subreddit,
			COUNT(*) AS total,
			SUM(CASE WHEN r.ok = 1 THEN 1 ELSE 0 END) AS ok,
			SUM(CASE WHEN r.ok = 0 THEN 1 ELSE 0 END) AS failed,
			SUM(r.posts) AS posts,
			MAX(r.sent_at) AS last_sent,
			(SELECT l.reason FROM digest_runs l
				WHERE l.subreddit = r.subreddit AND l.ok = 0 AND l.sent_at >= ?
				ORDER BY l.sent_at DESC, l.id DESC LIMIT 1) AS last_reason
		FROM digest_runs r
		WHERE r.sent_at >= ?
		GROUP BY r.subreddit
		ORDER BY r.subreddit
	`, formatTime(since), formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("get subreddit stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []SubredditStats
	for rows.Next() {
		var (
			st         SubredditStats
			lastSent   string
			lastReason sql.NullString
		)
		if err := rows.Scan(&st.Subreddit, &st.Total, &st.OK, &st.Failed, &st.Posts, &lastSent, &lastReason); err != nil {
			return nil, fmt.Errorf("scan subreddit stats: %w", err)
		}
		st.LastSent, err = parseTime(lastSent)
		if err != nil {
			return nil, fmt.Errorf("parse last_sent: %w", err)
		}
		st.LastReason = lastReason.String
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subreddit stats: %w", err)
	}
	return stats, nil
}

// PruneRuns deletes digest history older than retainDays.
func (s *Store) PruneRuns(ctx context.Context, now time.Time, retainDays int) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	if retainDays <= 0 {
		return 0, nil
	}
	cutoff := formatTime(now.AddDate(0, 0, -retainDays))
	res, err := s.db.ExecContext(ctx, "DELETE FROM digest_runs WHERE sent_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune digest runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
