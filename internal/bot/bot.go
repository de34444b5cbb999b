package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"ytlive_bot/internal/config"
	"ytlive_bot/internal/forward"
	"ytlive_bot/internal/model"
	"ytlive_bot/internal/storage"
)

const (
	pollTimeout    = 60
	pollRetryDelay = 3 * time.Second
)

var allowedUpdates = []string{"message", "callback_query"}

type telegramAPI interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot is the Telegram bot that handles user commands and sends notifications.
type Bot struct {
	api      telegramAPI
	store    storage.Storage
	cfg      *config.Config
	forwards *forward.Manager
	limiter  *rate.Limiter
	log      *slog.Logger
}

// New creates a Bot with the given Telegram token, storage, and config.
func New(token string, store storage.Storage, cfg *config.Config, forwards *forward.Manager, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info("authorized", "username", api.Self.UserName)

	return newBot(api, store, cfg, forwards, log), nil
}

func newBot(api telegramAPI, store storage.Storage, cfg *config.Config, forwards *forward.Manager, log *slog.Logger) *Bot {
	limit := rate.Inf
	if cfg.SendRatePerSec > 0 {
		limit = rate.Limit(cfg.SendRatePerSec)
	}
	return &Bot{
		api:      api,
		store:    store,
		cfg:      cfg,
		forwards: forwards,
		limiter:  rate.NewLimiter(limit, 1),
		log:      log,
	}
}

// RegisterWebhook points Telegram at url. Updates are then delivered to the
// webhook server instead of long polling.
func (b *Bot) RegisterWebhook(url, secret string) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", allowedUpdates); err != nil {
		return err
	}
	if _, err := b.api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	b.log.Info("webhook registered", "url", url)
	return nil
}

// Run long-polls for updates, blocking until ctx is cancelled. Any webhook
// left over from a previous deployment is removed first.
func (b *Bot) Run(ctx context.Context) {
	if _, err := b.api.MakeRequest("deleteWebhook", tgbotapi.Params{}); err != nil {
		b.log.Warn("delete webhook", "error", err)
	}

	offset := 0
	for ctx.Err() == nil {
		updates, err := b.getUpdates(offset)
		if err != nil {
			b.log.Error("get updates", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			b.HandleUpdate(ctx, u)
		}
	}
}

func (b *Bot) getUpdates(offset int) ([]Update, error) {
	params := tgbotapi.Params{}
	params.AddNonZero("offset", offset)
	params.AddNonZero("timeout", pollTimeout)
	if err := params.AddInterface("allowed_updates", allowedUpdates); err != nil {
		return nil, err
	}

	resp, err := b.api.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(resp.Result, &raws); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	updates := make([]Update, 0, len(raws))
	for _, raw := range raws {
		u, err := DecodeUpdate(raw)
		if err != nil {
			b.log.Warn("skip undecodable update", "error", err)
			continue
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// HandleUpdate dispatches one inbound update to the command router or the
// callback handler. Anything else is ignored.
func (b *Bot) HandleUpdate(ctx context.Context, u Update) {
	switch {
	case u.CallbackQuery != nil:
		cb := u.CallbackQuery
		if cb.From != nil && !b.cfg.IsUserAllowed(cb.From.ID) {
			b.answerCallback(cb.ID, "Access denied.")
			return
		}
		b.handleCallback(ctx, cb)
	case u.Message != nil && u.Message.IsCommand():
		chat := model.Endpoint{ChatID: u.Message.Chat.ID, ThreadID: u.ThreadID}
		if u.Message.From != nil && !b.cfg.IsUserAllowed(u.Message.From.ID) {
			b.reply(ctx, chat, "Access denied.")
			return
		}
		b.handleCommand(ctx, u.Message, chat)
	}
}

// Notify sends an HTML message to a chat, targeting threadID when it is
// non-zero. Delivery failures are logged and never returned.
func (b *Bot) Notify(ctx context.Context, chatID int64, threadID int, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	if err := b.limiter.Wait(ctx); err != nil {
		b.log.Warn("send cancelled", "chat_id", chatID, "thread_id", threadID, "error", err)
		return
	}

	params := tgbotapi.Params{"text": text, "parse_mode": tgbotapi.ModeHTML}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_thread_id", threadID)
	params.AddBool("disable_web_page_preview", true)
	if markup != nil {
		if err := params.AddInterface("reply_markup", markup); err != nil {
			b.log.Error("encode reply markup", "error", err)
			return
		}
	}

	if _, err := b.api.MakeRequest("sendMessage", params); err != nil {
		b.log.Error("send message", "chat_id", chatID, "thread_id", threadID, "error", err)
	}
}

// SendMessage sends a plain notification without buttons.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, threadID int, text string) {
	b.Notify(ctx, chatID, threadID, text, nil)
}

func (b *Bot) reply(ctx context.Context, chat model.Endpoint, text string) {
	b.Notify(ctx, chat.ChatID, chat.ThreadID, text, nil)
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Error("answer callback", "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, chat model.Endpoint) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chat.ChatID, "thread_id", chat.ThreadID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chat)
	case "help":
		b.handleHelp(ctx, chat)
	case "id":
		b.handleID(ctx, chat, msg.From)
	case "add":
		b.handleAdd(ctx, chat, args)
	case "del", "remove":
		b.handleRemove(ctx, chat, cmd, args)
	case "list":
		b.handleList(ctx, chat)
	case "forward_to":
		b.handleForwardTo(ctx, chat, args)
	default:
		b.reply(ctx, chat, "Unknown command. Use /help for a list of commands.")
	}
}
