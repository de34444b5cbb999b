package bot

import (
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ytlive_bot/internal/fetcher"
	"ytlive_bot/internal/forward"
	"ytlive_bot/internal/model"
)

const helpText = `<b>Commands</b>
/add &lt;channel&gt; — watch a YouTube channel in this chat
/del &lt;channel&gt; — stop watching (alias: /remove)
/list — channels watched in this chat
/forward_to &lt;chatId&gt; [threadId] — copy channels to another chat
/id — show this chat's ID
/help — this message`

// FormatLiveNotification formats a feed item as a live stream announcement.
func FormatLiveNotification(item fetcher.Item) string {
	return fmt.Sprintf("🔴 <b>YouTube Live Detected!</b>\n\n<b>Title:</b> %s\n<b>Link:</b> %s\n<b>Date:</b> %s",
		html.EscapeString(item.Title),
		html.EscapeString(item.Link),
		html.EscapeString(item.PubDate),
	)
}

// FormatWatchlist formats the subscriptions of one chat thread.
func FormatWatchlist(subs []model.Subscription) string {
	if len(subs) == 0 {
		return "The watchlist is empty. Use /add &lt;channel&gt; to add one."
	}
	var b strings.Builder
	b.WriteString("<b>Watchlist:</b>\n")
	for i, s := range subs {
		fmt.Fprintf(&b, "\n%d. %s", i+1, html.EscapeString(s.ChannelName))
	}
	return b.String()
}

// FormatEndpoint renders a chat and, when set, its thread.
func FormatEndpoint(e model.Endpoint) string {
	if e.ThreadID == 0 {
		return fmt.Sprintf("<code>%d</code>", e.ChatID)
	}
	return fmt.Sprintf("<code>%d</code> (thread <code>%d</code>)", e.ChatID, e.ThreadID)
}

// ForwardKeyboard builds the chooser for a forward session: one button for
// all channels, then one per channel in session order.
func ForwardKeyboard(s *model.ForwardSession) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(s.Channels)+1)
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("📦 Forward All", ForwardCallbackData(s.ID, forward.Selector{All: true})),
	))
	for i, name := range s.Channels {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➡️ "+name, ForwardCallbackData(s.ID, forward.Selector{Index: i})),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// FormatForwardDone reports a resolved forward session to its source chat.
func FormatForwardDone(res *forward.Result) string {
	target := model.Endpoint{ChatID: res.Session.TargetChatID, ThreadID: res.Session.TargetThreadID}
	names := make([]string, len(res.Added))
	for i, n := range res.Added {
		names[i] = html.EscapeString(n)
	}
	return fmt.Sprintf("✅ Forwarded %d channel(s) to %s: %s",
		len(res.Added), FormatEndpoint(target), strings.Join(names, ", "))
}
