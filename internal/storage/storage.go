// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ytlive_bot/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCorruptRecord is returned when a stored value cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt record")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	// AddSubscription stores sub unless a subscription with the same
	// (channel, chat, thread) key exists. It reports whether sub was added.
	AddSubscription(ctx context.Context, sub model.Subscription) (bool, error)
	// RemoveSubscription deletes the matching subscription and reports
	// whether one existed.
	RemoveSubscription(ctx context.Context, channel string, chatID int64, threadID int) (bool, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	ListChatSubscriptions(ctx context.Context, chatID int64, threadID int) ([]model.Subscription, error)

	// LoadSeen returns the seen identifiers for feedKey in insertion order.
	LoadSeen(ctx context.Context, feedKey string) ([]string, error)
	// RecordSeen replaces the seen identifiers for feedKey.
	RecordSeen(ctx context.Context, feedKey string, guids []string) error

	CreateSession(ctx context.Context, s *model.ForwardSession) error
	GetSession(ctx context.Context, id string) (*model.ForwardSession, error)
	// DeleteSession removes a session and reports whether it existed.
	// At most one concurrent caller observes true.
	DeleteSession(ctx context.Context, id string) (bool, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)

	Close() error
}

// Open opens the storage backend named by driver ("sqlite" or "bolt") at path.
func Open(driver, path string) (Storage, error) {
	var (
		s   Storage
		err error
	)
	switch driver {
	case "sqlite":
		s, err = NewSQLite(path)
	case "bolt":
		s, err = NewBolt(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
