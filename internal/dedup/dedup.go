// Package dedup tracks which feed items have already been announced.
package dedup

import (
	"context"
	"errors"
	"log/slog"

	"ytlive_bot/internal/storage"
)

// MaxSeen is the number of identifiers retained per feed.
const MaxSeen = 100

// History is the ordered set of identifiers seen for one feed.
type History struct {
	order   []string
	set     map[string]struct{}
	changed bool
}

// NewHistory builds a history from identifiers in insertion order.
// Duplicate identifiers keep their first position.
func NewHistory(ids []string) *History {
	h := &History{set: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if _, ok := h.set[id]; ok {
			continue
		}
		h.set[id] = struct{}{}
		h.order = append(h.order, id)
	}
	return h
}

// Has reports whether id has been seen.
func (h *History) Has(id string) bool {
	_, ok := h.set[id]
	return ok
}

// Add marks id as seen. Adding a known id is a no-op.
func (h *History) Add(id string) {
	if h.Has(id) {
		return
	}
	h.set[id] = struct{}{}
	h.order = append(h.order, id)
	h.changed = true
}

// Changed reports whether Add recorded a new identifier.
func (h *History) Changed() bool {
	return h.changed
}

// Len returns the number of identifiers held.
func (h *History) Len() int {
	return len(h.order)
}

// Snapshot returns the most recent MaxSeen identifiers, oldest first.
func (h *History) Snapshot() []string {
	ids := h.order
	if len(ids) > MaxSeen {
		ids = ids[len(ids)-MaxSeen:]
	}
	return append([]string(nil), ids...)
}

// Tracker loads and saves histories through a storage backend.
type Tracker struct {
	store storage.Storage
	log   *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(store storage.Storage, log *slog.Logger) *Tracker {
	return &Tracker{store: store, log: log}
}

// Load returns the history for feedKey. A corrupt stored record is treated
// as an empty history.
func (t *Tracker) Load(ctx context.Context, feedKey string) (*History, error) {
	ids, err := t.store.LoadSeen(ctx, feedKey)
	if errors.Is(err, storage.ErrCorruptRecord) {
		t.log.Warn("discarding corrupt seen history", "feed_key", feedKey, "error", err)
		return NewHistory(nil), nil
	}
	if err != nil {
		return nil, err
	}
	return NewHistory(ids), nil
}

// Save persists h truncated to MaxSeen entries. Unchanged histories are
// not written.
func (t *Tracker) Save(ctx context.Context, feedKey string, h *History) error {
	if !h.Changed() {
		return nil
	}
	return t.store.RecordSeen(ctx, feedKey, h.Snapshot())
}
