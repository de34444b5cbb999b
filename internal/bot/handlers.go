package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ytlive_bot/internal/model"
)

func (b *Bot) handleStart(ctx context.Context, chat model.Endpoint) {
	b.reply(ctx, chat, "👋 <b>YouTube Live Bot</b>\n\n"+
		"I post a message here whenever a watched channel goes live.\n\n"+helpText)
}

func (b *Bot) handleHelp(ctx context.Context, chat model.Endpoint) {
	b.reply(ctx, chat, helpText)
}

func (b *Bot) handleID(ctx context.Context, chat model.Endpoint, from *tgbotapi.User) {
	var s strings.Builder
	fmt.Fprintf(&s, "Chat ID: <code>%d</code>", chat.ChatID)
	if chat.ThreadID != 0 {
		fmt.Fprintf(&s, "\nThread ID: <code>%d</code>", chat.ThreadID)
	}
	if from != nil {
		fmt.Fprintf(&s, "\nUser ID: <code>%d</code>", from.ID)
	}
	b.reply(ctx, chat, s.String())
}

func (b *Bot) handleAdd(ctx context.Context, chat model.Endpoint, args string) {
	name, err := ParseChannelArg(args)
	if err != nil {
		b.reply(ctx, chat, "Usage: /add &lt;channel&gt;")
		return
	}

	added, err := b.store.AddSubscription(ctx, model.Subscription{
		ChannelName: name,
		RSSURL:      b.cfg.FeedURL(name),
		ChatID:      chat.ChatID,
		ThreadID:    chat.ThreadID,
	})
	if err != nil {
		b.log.Error("add subscription", "channel", name, "chat_id", chat.ChatID, "error", err)
		b.reply(ctx, chat, "Failed to save the subscription, try again later.")
		return
	}

	escaped := html.EscapeString(name)
	if !added {
		b.reply(ctx, chat, fmt.Sprintf("<b>%s</b> is already in the watchlist.", escaped))
		return
	}
	b.log.Info("subscription added", "channel", name, "chat_id", chat.ChatID, "thread_id", chat.ThreadID)
	b.reply(ctx, chat, fmt.Sprintf("✅ Added <b>%s</b> to the watchlist.", escaped))
}

func (b *Bot) handleRemove(ctx context.Context, chat model.Endpoint, cmd, args string) {
	name, err := ParseChannelArg(args)
	if err != nil {
		b.reply(ctx, chat, fmt.Sprintf("Usage: /%s &lt;channel&gt;", cmd))
		return
	}

	removed, err := b.store.RemoveSubscription(ctx, name, chat.ChatID, chat.ThreadID)
	if err != nil {
		b.log.Error("remove subscription", "channel", name, "chat_id", chat.ChatID, "error", err)
		b.reply(ctx, chat, "Failed to remove the subscription, try again later.")
		return
	}

	escaped := html.EscapeString(name)
	if !removed {
		b.reply(ctx, chat, fmt.Sprintf("<b>%s</b> is not in the watchlist.", escaped))
		return
	}
	b.log.Info("subscription removed", "channel", name, "chat_id", chat.ChatID, "thread_id", chat.ThreadID)
	b.reply(ctx, chat, fmt.Sprintf("🗑 Removed <b>%s</b> from the watchlist.", escaped))
}

func (b *Bot) handleList(ctx context.Context, chat model.Endpoint) {
	subs, err := b.store.ListChatSubscriptions(ctx, chat.ChatID, chat.ThreadID)
	if err != nil {
		b.log.Error("list subscriptions", "chat_id", chat.ChatID, "error", err)
		b.reply(ctx, chat, "Failed to load the watchlist, try again later.")
		return
	}
	b.reply(ctx, chat, FormatWatchlist(subs))
}

func (b *Bot) handleForwardTo(ctx context.Context, chat model.Endpoint, args string) {
	target, err := ParseForwardTarget(args)
	if errors.Is(err, errUsage) {
		b.reply(ctx, chat, "Usage: /forward_to &lt;chatId&gt; [threadId]")
		return
	}
	if err != nil {
		b.reply(ctx, chat, html.EscapeString(capitalize(err.Error()))+".")
		return
	}

	subs, err := b.store.ListChatSubscriptions(ctx, chat.ChatID, chat.ThreadID)
	if err != nil {
		b.log.Error("list subscriptions", "chat_id", chat.ChatID, "error", err)
		b.reply(ctx, chat, "Failed to load the watchlist, try again later.")
		return
	}
	if len(subs) == 0 {
		b.reply(ctx, chat, "Nothing to forward: the watchlist here is empty.")
		return
	}

	channels := make([]string, len(subs))
	for i, s := range subs {
		channels[i] = s.ChannelName
	}
	session, err := b.forwards.Create(ctx, chat, target, channels)
	if err != nil {
		b.log.Error("create forward session", "chat_id", chat.ChatID, "error", err)
		b.reply(ctx, chat, "Failed to start forwarding, try again later.")
		return
	}

	markup := ForwardKeyboard(session)
	b.Notify(ctx, chat.ChatID, chat.ThreadID,
		fmt.Sprintf("Choose channels to forward to %s. The buttons expire in 1 hour.", FormatEndpoint(target)),
		&markup)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
