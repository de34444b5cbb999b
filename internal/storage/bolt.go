package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"

	"ytlive_bot/internal/model"
)

// Key layout inside the single bucket:
//
//	subscriptions         JSON array of every subscription
//	sent_guids:<feedKey>  JSON array of seen identifiers
//	fwd_session:<id>      JSON forward session
const (
	bucketKV          = "kv"
	keySubscriptions  = "subscriptions"
	prefixSentGUIDs   = "sent_guids:"
	prefixFwdSessions = "fwd_session:"
)

// Bolt implements Storage on a BoltDB key-value file. Each mutation is a
// read-modify-write of the whole value inside one bolt transaction, and bolt
// serializes writers, so concurrent mutations cannot lose updates.
type Bolt struct {
	db *bolt.DB
}

// NewBolt opens or creates the bolt database at path.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketKV))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Close closes the bolt file.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// AddSubscription appends sub to the subscription list unless its key exists.
func (b *Bolt) AddSubscription(_ context.Context, sub model.Subscription) (bool, error) {
	added := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucketKV))
		subs, err := readSubscriptions(bkt)
		if err != nil {
			return err
		}
		for _, s := range subs {
			if s.SameKey(sub) {
				return nil
			}
		}
		added = true
		return writeJSON(bkt, keySubscriptions, append(subs, sub))
	})
	if err != nil {
		return false, fmt.Errorf("add subscription: %w", err)
	}
	return added, nil
}

// RemoveSubscription drops every subscription matching the key.
func (b *Bolt) RemoveSubscription(_ context.Context, channel string, chatID int64, threadID int) (bool, error) {
	key := model.Subscription{ChannelName: channel, ChatID: chatID, ThreadID: threadID}
	removed := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucketKV))
		subs, err := readSubscriptions(bkt)
		if err != nil {
			return err
		}
		kept := subs[:0]
		for _, s := range subs {
			if s.SameKey(key) {
				removed = true
				continue
			}
			kept = append(kept, s)
		}
		if !removed {
			return nil
		}
		return writeJSON(bkt, keySubscriptions, kept)
	})
	if err != nil {
		return false, fmt.Errorf("remove subscription: %w", err)
	}
	return removed, nil
}

// ListSubscriptions returns every subscription in insertion order.
func (b *Bolt) ListSubscriptions(_ context.Context) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		subs, err = readSubscriptions(tx.Bucket([]byte(bucketKV)))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// ListChatSubscriptions returns the subscriptions of one chat thread.
func (b *Bolt) ListChatSubscriptions(ctx context.Context, chatID int64, threadID int) ([]model.Subscription, error) {
	all, err := b.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	var subs []model.Subscription
	for _, s := range all {
		if s.ChatID == chatID && s.ThreadID == threadID {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

// LoadSeen returns the identifiers recorded for feedKey.
func (b *Bolt) LoadSeen(_ context.Context, feedKey string) ([]string, error) {
	var guids []string
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketKV)).Get([]byte(prefixSentGUIDs + feedKey))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &guids); err != nil {
			return fmt.Errorf("decode sent guids for %q: %w: %v", feedKey, ErrCorruptRecord, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return guids, nil
}

// RecordSeen replaces the identifiers recorded for feedKey.
func (b *Bolt) RecordSeen(_ context.Context, feedKey string, guids []string) error {
	if guids == nil {
		guids = []string{}
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return writeJSON(tx.Bucket([]byte(bucketKV)), prefixSentGUIDs+feedKey, guids)
	})
	if err != nil {
		return fmt.Errorf("record seen: %w", err)
	}
	return nil
}

// CreateSession stores a new forward session.
func (b *Bolt) CreateSession(_ context.Context, s *model.ForwardSession) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return writeJSON(tx.Bucket([]byte(bucketKV)), prefixFwdSessions+s.ID, s)
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns a forward session by its ID. Expiry is not checked.
func (b *Bolt) GetSession(_ context.Context, id string) (*model.ForwardSession, error) {
	var s model.ForwardSession
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketKV)).Get([]byte(prefixFwdSessions + id))
		if raw == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("decode session %q: %w: %v", id, ErrCorruptRecord, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession removes a forward session.
func (b *Bolt) DeleteSession(_ context.Context, id string) (bool, error) {
	deleted := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucketKV))
		key := []byte(prefixFwdSessions + id)
		if bkt.Get(key) == nil {
			return nil
		}
		deleted = true
		return bkt.Delete(key)
	})
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return deleted, nil
}

// DeleteExpiredSessions removes sessions that expired at or before now.
// Undecodable sessions are removed as well.
func (b *Bolt) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucketKV))
		prefix := []byte(prefixFwdSessions)

		var stale [][]byte
		c := bkt.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var s model.ForwardSession
			if err := json.Unmarshal(v, &s); err != nil || s.Expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return removed, nil
}

func readSubscriptions(bkt *bolt.Bucket) ([]model.Subscription, error) {
	raw := bkt.Get([]byte(keySubscriptions))
	if raw == nil {
		return nil, nil
	}
	var subs []model.Subscription
	if err := json.Unmarshal(raw, &subs); err != nil {
		return nil, fmt.Errorf("decode subscriptions: %w: %v", ErrCorruptRecord, err)
	}
	return subs, nil
}

func writeJSON(bkt *bolt.Bucket, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return bkt.Put([]byte(key), raw)
}
