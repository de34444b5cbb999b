// Package forward implements single-use sessions that copy a chat's
// subscriptions to another chat after the user picks which channels to copy.
package forward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ytlive_bot/internal/model"
	"ytlive_bot/internal/storage"
)

// SessionTTL is how long a forward session stays open.
const SessionTTL = time.Hour

var (
	// ErrSessionNotFound means the session never existed, expired, or was
	// already consumed.
	ErrSessionNotFound = errors.New("forward session not found or expired")
	// ErrChatMismatch means the session was resolved from a chat other than
	// the one that created it.
	ErrChatMismatch = errors.New("forward session belongs to another chat")
	// ErrEmptySelection means the selector matched no channel.
	ErrEmptySelection = errors.New("no channels selected")
	// ErrNothingToAdd means every selected channel is already subscribed in
	// the target chat.
	ErrNothingToAdd = errors.New("target already has the selected channels")
)

// Selector picks channels out of a session: either all of them or the one
// at Index.
type Selector struct {
	All   bool
	Index int
}

// Result describes a successful resolution.
type Result struct {
	Session *model.ForwardSession
	Added   []string
}

// Manager creates and resolves forward sessions.
type Manager struct {
	store   storage.Storage
	feedURL func(channel string) string
	log     *slog.Logger
	now     func() time.Time
	newID   func() string
}

// NewManager creates a Manager. feedURL maps a channel name to its feed URL.
func NewManager(store storage.Storage, feedURL func(string) string, log *slog.Logger) *Manager {
	return &Manager{
		store:   store,
		feedURL: feedURL,
		log:     log,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// Create opens a session offering channels from the source chat thread to
// the target chat thread.
func (m *Manager) Create(ctx context.Context, source, target model.Endpoint, channels []string) (*model.ForwardSession, error) {
	s := &model.ForwardSession{
		ID:             m.newID(),
		SourceChatID:   source.ChatID,
		SourceThreadID: source.ThreadID,
		TargetChatID:   target.ChatID,
		TargetThreadID: target.ThreadID,
		Channels:       append([]string(nil), channels...),
		ExpiresAt:      m.now().Add(SessionTTL),
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.log.Info("forward session created",
		"session_id", s.ID,
		"source_chat_id", s.SourceChatID,
		"target_chat_id", s.TargetChatID,
		"channels", len(s.Channels),
	)
	return s, nil
}

// Resolve applies sel to the session identified by id on behalf of
// callerChatID. On success the selected channels missing from the target
// are subscribed there and the session is consumed. ErrEmptySelection and
// ErrNothingToAdd leave the session open.
func (m *Manager) Resolve(ctx context.Context, id string, sel Selector, callerChatID int64) (*Result, error) {
	s, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.SourceChatID != callerChatID {
		m.log.Warn("forward session chat mismatch",
			"session_id", id, "source_chat_id", s.SourceChatID, "caller_chat_id", callerChatID)
		return nil, ErrChatMismatch
	}

	selected := sel.pick(s.Channels)
	if len(selected) == 0 {
		return nil, ErrEmptySelection
	}

	existing, err := m.store.ListChatSubscriptions(ctx, s.TargetChatID, s.TargetThreadID)
	if err != nil {
		return nil, fmt.Errorf("list target subscriptions: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, sub := range existing {
		have[sub.ChannelName] = true
	}
	var pending []string
	for _, name := range selected {
		if !have[name] {
			pending = append(pending, name)
			have[name] = true
		}
	}
	if len(pending) == 0 {
		return nil, ErrNothingToAdd
	}

	// Consuming first means only one resolver can go on to add.
	consumed, err := m.store.DeleteSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("consume session: %w", err)
	}
	if !consumed {
		return nil, ErrSessionNotFound
	}

	res := &Result{Session: s}
	for _, name := range pending {
		added, err := m.store.AddSubscription(ctx, model.Subscription{
			ChannelName: name,
			RSSURL:      m.feedURL(name),
			ChatID:      s.TargetChatID,
			ThreadID:    s.TargetThreadID,
		})
		if err != nil {
			m.log.Error("forward subscription", "session_id", id, "channel", name, "error", err)
			continue
		}
		if added {
			res.Added = append(res.Added, name)
		}
	}
	m.log.Info("forward session resolved", "session_id", id, "added", len(res.Added))
	return res, nil
}

func (m *Manager) load(ctx context.Context, id string) (*model.ForwardSession, error) {
	s, err := m.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if errors.Is(err, storage.ErrCorruptRecord) {
		m.log.Warn("discarding corrupt forward session", "session_id", id, "error", err)
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s.Expired(m.now()) {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (sel Selector) pick(channels []string) []string {
	if sel.All {
		return channels
	}
	if sel.Index < 0 || sel.Index >= len(channels) {
		return nil
	}
	return channels[sel.Index : sel.Index+1]
}
