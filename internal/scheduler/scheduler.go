// Package scheduler runs the periodic fetch, dedup and notify cycle.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/adhocore/gronx"

	"ytlive_bot/internal/bot"
	"ytlive_bot/internal/dedup"
	"ytlive_bot/internal/fetcher"
	"ytlive_bot/internal/model"
	"ytlive_bot/internal/storage"
)

const fetchTimeout = 30 * time.Second

// Sender is the interface for sending Telegram messages.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, threadID int, text string)
}

// Stats summarizes one cycle.
type Stats struct {
	Feeds         int
	Failed        int
	Notifications int
}

// Scheduler periodically checks subscribed feeds and sends notifications.
type Scheduler struct {
	store   storage.Storage
	fetcher *fetcher.Fetcher
	tracker *dedup.Tracker
	sender  Sender
	log     *slog.Logger
	tick    time.Duration
	cron    string
	now     func() time.Time
}

// New creates a Scheduler that fetches over HTTP.
func New(store storage.Storage, sender Sender, log *slog.Logger) *Scheduler {
	return NewWithFetcher(store, fetcher.New(&http.Client{Timeout: fetchTimeout}), sender, log)
}

// NewWithFetcher creates a Scheduler with a custom fetcher (useful for testing).
func NewWithFetcher(store storage.Storage, f *fetcher.Fetcher, sender Sender, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		fetcher: f,
		tracker: dedup.NewTracker(store, log),
		sender:  sender,
		log:     log,
		tick:    time.Minute,
		now:     time.Now,
	}
}

// SetTickInterval overrides the default 1-minute check interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// SetCron schedules cycles by a cron expression instead of a fixed interval.
func (s *Scheduler) SetCron(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	s.cron = expr
	return nil
}

// Run runs a cycle immediately, then one per tick, blocking until ctx is
// cancelled. Cycles never overlap.
func (s *Scheduler) Run(ctx context.Context) {
	s.RunOnce(ctx)

	for {
		timer := time.NewTimer(s.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	if s.cron == "" {
		return s.tick
	}
	now := s.now()
	next, err := gronx.NextTickAfter(s.cron, now, false)
	if err != nil {
		s.log.Error("next cron tick", "cron", s.cron, "error", err)
		return s.tick
	}
	return next.Sub(now)
}

// RunOnce performs a single cycle over every distinct feed URL.
func (s *Scheduler) RunOnce(ctx context.Context) Stats {
	var st Stats

	if n, err := s.store.DeleteExpiredSessions(ctx, s.now()); err != nil {
		s.log.Warn("purge expired forward sessions", "error", err)
	} else if n > 0 {
		s.log.Debug("purged expired forward sessions", "count", n)
	}

	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		s.log.Error("list subscriptions", "error", err)
		return st
	}

	for _, g := range groupByFeed(subs) {
		if ctx.Err() != nil {
			break
		}
		st.Feeds++
		sent, err := s.processFeed(ctx, g)
		st.Notifications += sent
		if err != nil {
			st.Failed++
			s.log.Error("process feed", "feed_url", g.url, "subscribers", len(g.subs), "error", err)
		}
	}

	s.log.Info("check cycle finished",
		"feeds", st.Feeds, "failed", st.Failed, "notifications", st.Notifications)
	return st
}

type feedGroup struct {
	url  string
	subs []model.Subscription
}

// groupByFeed groups subscriptions by feed URL in first-seen order.
func groupByFeed(subs []model.Subscription) []feedGroup {
	var groups []feedGroup
	index := make(map[string]int)
	for _, sub := range subs {
		i, ok := index[sub.RSSURL]
		if !ok {
			i = len(groups)
			index[sub.RSSURL] = i
			groups = append(groups, feedGroup{url: sub.RSSURL})
		}
		groups[i].subs = append(groups[i].subs, sub)
	}
	return groups
}

func (s *Scheduler) processFeed(ctx context.Context, g feedGroup) (int, error) {
	s.log.Debug("checking feed", "feed_url", g.url, "subscribers", len(g.subs))

	res, err := s.fetcher.Fetch(ctx, g.url)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}

	seen, err := s.tracker.Load(ctx, g.url)
	if err != nil {
		return 0, fmt.Errorf("load seen: %w", err)
	}

	sent := 0
	for _, item := range res.Items {
		if ctx.Err() != nil {
			break
		}
		if seen.Has(item.ID) {
			continue
		}
		text := bot.FormatLiveNotification(item)
		for _, sub := range g.subs {
			s.sender.SendMessage(ctx, sub.ChatID, sub.ThreadID, text)
			sent++
		}
		seen.Add(item.ID)
		s.log.Info("new live", "feed_url", g.url, "item_id", item.ID, "title", item.Title)
	}

	// Whatever was announced before a shutdown must still be recorded.
	if err := s.tracker.Save(context.WithoutCancel(ctx), g.url, seen); err != nil {
		return sent, fmt.Errorf("record seen: %w", err)
	}
	return sent, nil
}
