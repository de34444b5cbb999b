package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"ytlive_bot/internal/bot"
	"ytlive_bot/internal/config"
	"ytlive_bot/internal/forward"
	"ytlive_bot/internal/model"
	"ytlive_bot/internal/scheduler"
	"ytlive_bot/internal/storage"
	"ytlive_bot/internal/webhook"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log, closeLog := newLogger(cfg.LogLevel, cfg.LogFile)
	err = run(cfg, log)
	if err != nil {
		log.Error("bot failed", "error", err)
	}
	closeLog()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	store, err := storage.Open(cfg.StorageDriver, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open %s storage at %s: %w", cfg.StorageDriver, cfg.DatabasePath, err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := seedDefaultSubscription(ctx, store, cfg, log); err != nil {
		log.Error("seed default subscription", "error", err)
	}

	forwards := forward.NewManager(store, cfg.FeedURL, log)
	b, err := bot.New(cfg.TelegramBotToken, store, cfg, forwards, log)
	if err != nil {
		return err
	}

	sched := scheduler.New(store, b, log)
	sched.SetTickInterval(cfg.CheckInterval())
	if cfg.CheckCron != "" {
		if err := sched.SetCron(cfg.CheckCron); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})

	if cfg.UseWebhook() {
		if cfg.WebhookURL != "" {
			if err := b.RegisterWebhook(cfg.WebhookURL, cfg.WebhookSecret); err != nil {
				cancel()
				_ = g.Wait()
				return err
			}
		}
		srv := webhook.New(cfg.WebhookPath, cfg.WebhookSecret, b, log)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, cfg.WebhookListenAddr)
		})
		log.Info("starting bot", "mode", "webhook", "addr", cfg.WebhookListenAddr, "path", cfg.WebhookPath)
	} else {
		g.Go(func() error {
			b.Run(gctx)
			return nil
		})
		log.Info("starting bot", "mode", "polling")
	}

	err = g.Wait()
	log.Info("bot stopped")
	return err
}

// seedDefaultSubscription subscribes the configured chat to the configured
// channel when the store is still empty.
func seedDefaultSubscription(ctx context.Context, store storage.Storage, cfg *config.Config, log *slog.Logger) error {
	if cfg.DefaultChatID == 0 || cfg.DefaultChannel == "" {
		return nil
	}

	subs, err := store.ListSubscriptions(ctx)
	if err != nil {
		return err
	}
	if len(subs) > 0 {
		return nil
	}

	added, err := store.AddSubscription(ctx, model.Subscription{
		ChannelName: cfg.DefaultChannel,
		RSSURL:      cfg.FeedURL(cfg.DefaultChannel),
		ChatID:      cfg.DefaultChatID,
	})
	if err != nil {
		return err
	}
	if added {
		log.Info("seeded default subscription", "channel", cfg.DefaultChannel, "chat_id", cfg.DefaultChatID)
	}
	return nil
}

func newLogger(level, file string) (*slog.Logger, func()) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		out = io.MultiWriter(os.Stderr, rotator)
		closeFn = func() { _ = rotator.Close() }
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl})), closeFn
}
