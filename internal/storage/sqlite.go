package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"ytlive_bot/internal/model"
	"ytlive_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// expiryLayout is fixed-width so expiry strings order lexically.
const expiryLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dsn == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// AddSubscription inserts sub unless its key already exists.
func (s *SQLite) AddSubscription(ctx context.Context, sub model.Subscription) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (channel_name, rss_url, chat_id, thread_id, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (channel_name, chat_id, thread_id) DO NOTHING`,
		sub.ChannelName, sub.RSSURL, sub.ChatID, sub.ThreadID, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// RemoveSubscription deletes the subscription with the given key.
func (s *SQLite) RemoveSubscription(ctx context.Context, channel string, chatID int64, threadID int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE channel_name = ? AND chat_id = ? AND thread_id = ?`,
		channel, chatID, threadID,
	)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListSubscriptions returns every subscription in creation order.
func (s *SQLite) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_name, rss_url, chat_id, thread_id FROM subscriptions ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscriptions(rows)
}

// ListChatSubscriptions returns the subscriptions of one chat thread.
func (s *SQLite) ListChatSubscriptions(ctx context.Context, chatID int64, threadID int) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_name, rss_url, chat_id, thread_id FROM subscriptions
		 WHERE chat_id = ? AND thread_id = ? ORDER BY id`,
		chatID, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscriptions(rows)
}

// LoadSeen returns the identifiers recorded for feedKey.
func (s *SQLite) LoadSeen(ctx context.Context, feedKey string) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT guids FROM sent_guids WHERE feed_key = ?`, feedKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sent guids: %w", err)
	}

	var guids []string
	if err := json.Unmarshal([]byte(raw), &guids); err != nil {
		return nil, fmt.Errorf("decode sent guids for %q: %w: %v", feedKey, ErrCorruptRecord, err)
	}
	return guids, nil
}

// RecordSeen replaces the identifiers recorded for feedKey.
func (s *SQLite) RecordSeen(ctx context.Context, feedKey string, guids []string) error {
	if guids == nil {
		guids = []string{}
	}
	raw, err := json.Marshal(guids)
	if err != nil {
		return fmt.Errorf("encode sent guids: %w", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sent_guids (feed_key, guids, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (feed_key) DO UPDATE SET guids = excluded.guids, updated_at = excluded.updated_at`,
		feedKey, string(raw), now,
	)
	if err != nil {
		return fmt.Errorf("upsert sent guids: %w", err)
	}
	return nil
}

// CreateSession stores a new forward session.
func (s *SQLite) CreateSession(ctx context.Context, fs *model.ForwardSession) error {
	channels, err := json.Marshal(fs.Channels)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO forward_sessions
		 (id, source_chat_id, source_thread_id, target_chat_id, target_thread_id, channels, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fs.ID, fs.SourceChatID, fs.SourceThreadID, fs.TargetChatID, fs.TargetThreadID,
		string(channels), fs.ExpiresAt.UTC().Format(expiryLayout),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns a forward session by its ID. Expiry is not checked.
func (s *SQLite) GetSession(ctx context.Context, id string) (*model.ForwardSession, error) {
	var fs model.ForwardSession
	var channels, expires string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_chat_id, source_thread_id, target_chat_id, target_thread_id, channels, expires_at
		 FROM forward_sessions WHERE id = ?`, id,
	).Scan(&fs.ID, &fs.SourceChatID, &fs.SourceThreadID, &fs.TargetChatID, &fs.TargetThreadID, &channels, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(channels), &fs.Channels); err != nil {
		return nil, fmt.Errorf("decode session %q: %w: %v", id, ErrCorruptRecord, err)
	}
	fs.ExpiresAt, err = time.Parse(expiryLayout, expires)
	if err != nil {
		return nil, fmt.Errorf("decode session %q expiry: %w: %v", id, ErrCorruptRecord, err)
	}
	return &fs, nil
}

// DeleteSession removes a forward session.
func (s *SQLite) DeleteSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM forward_sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteExpiredSessions removes sessions that expired at or before now.
func (s *SQLite) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM forward_sessions WHERE expires_at <= ?`,
		now.UTC().Format(expiryLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	var subs []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.ChannelName, &sub.RSSURL, &sub.ChatID, &sub.ThreadID); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
