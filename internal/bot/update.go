package bot

import (
	"encoding/json"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Update is a Telegram update together with the forum thread it came from.
// ThreadID is 0 outside forum topics.
type Update struct {
	tgbotapi.Update
	ThreadID int
}

type topicMessage struct {
	MessageThreadID int  `json:"message_thread_id"`
	IsTopicMessage  bool `json:"is_topic_message"`
}

func (m *topicMessage) threadID() int {
	if m == nil || !m.IsTopicMessage {
		return 0
	}
	return m.MessageThreadID
}

// threadProbe picks out the thread fields the API library does not model.
type threadProbe struct {
	Message       *topicMessage `json:"message"`
	CallbackQuery *struct {
		Message *topicMessage `json:"message"`
	} `json:"callback_query"`
}

// DecodeUpdate parses a raw update as delivered by getUpdates or the webhook.
func DecodeUpdate(data []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u.Update); err != nil {
		return Update{}, fmt.Errorf("decode update: %w", err)
	}

	var probe threadProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return Update{}, fmt.Errorf("decode update thread: %w", err)
	}
	switch {
	case probe.Message != nil:
		u.ThreadID = probe.Message.threadID()
	case probe.CallbackQuery != nil:
		u.ThreadID = probe.CallbackQuery.Message.threadID()
	}
	return u, nil
}
