package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ytlive_bot/internal/forward"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	sessionID, sel, err := ParseForwardCallback(cb.Data)
	if err != nil {
		b.log.Debug("ignore callback", "data", cb.Data, "error", err)
		b.answerCallback(cb.ID, "Unknown action.")
		return
	}
	if cb.Message == nil || cb.Message.Chat == nil {
		b.answerCallback(cb.ID, "This button is no longer available.")
		return
	}
	chatID := cb.Message.Chat.ID

	attrs := []any{"session_id", sessionID, "all", sel.All, "index", sel.Index, "chat_id", chatID}
	if cb.From != nil {
		attrs = append(attrs, "user_id", cb.From.ID, "username", cb.From.UserName)
	}
	b.log.Info("forward callback", attrs...)

	res, err := b.forwards.Resolve(ctx, sessionID, sel, chatID)
	switch {
	case errors.Is(err, forward.ErrSessionNotFound):
		b.answerCallback(cb.ID, "This forward request has expired or was already used.")
	case errors.Is(err, forward.ErrChatMismatch):
		b.answerCallback(cb.ID, "This forward request belongs to another chat.")
	case errors.Is(err, forward.ErrEmptySelection):
		b.answerCallback(cb.ID, "No channel selected.")
	case errors.Is(err, forward.ErrNothingToAdd):
		b.answerCallback(cb.ID, "Nothing to add: the target already watches these channels.")
	case err != nil:
		b.log.Error("resolve forward session", "session_id", sessionID, "error", err)
		b.answerCallback(cb.ID, "Something went wrong, try again.")
	default:
		b.answerCallback(cb.ID, fmt.Sprintf("Forwarded %d channel(s).", len(res.Added)))
		b.Notify(ctx, res.Session.SourceChatID, res.Session.SourceThreadID, FormatForwardDone(res), nil)
	}
}
