package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"ytlive_bot/internal/config"
	"ytlive_bot/internal/forward"
	"ytlive_bot/internal/model"
	"ytlive_bot/internal/storage"
)

const baseURL = "https://rss.example.com/live/"

// --- mocks ---

type sentMsg struct {
	ChatID   int64
	ThreadID int
	Text     string
	Markup   string
}

type mockAPI struct {
	mu      sync.Mutex
	sent    []sentMsg
	answers []string
	calls   []string
	params  []tgbotapi.Params
}

func (m *mockAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, endpoint)
	m.params = append(m.params, params)
	if endpoint == "sendMessage" {
		chatID, _ := strconv.ParseInt(params["chat_id"], 10, 64)
		threadID, _ := strconv.Atoi(params["message_thread_id"])
		m.sent = append(m.sent, sentMsg{
			ChatID:   chatID,
			ThreadID: threadID,
			Text:     params["text"],
			Markup:   params["reply_markup"],
		})
	}
	return &tgbotapi.APIResponse{Ok: true, Result: json.RawMessage(`true`)}, nil
}

func (m *mockAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		m.mu.Lock()
		m.answers = append(m.answers, cb.Text)
		m.mu.Unlock()
	}
	return &tgbotapi.APIResponse{Ok: true, Result: json.RawMessage(`true`)}, nil
}

func (m *mockAPI) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockAPI) lastSent() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) lastAnswer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.answers) == 0 {
		return ""
	}
	return m.answers[len(m.answers)-1]
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.answers = nil
	m.calls = nil
	m.params = nil
}

// --- helpers ---

func newTestBot(t *testing.T) (*Bot, *mockAPI, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{RSSBaseURL: baseURL}
	api := &mockAPI{}
	b := newBot(api, store, cfg, forward.NewManager(store, cfg.FeedURL, log), log)
	return b, api, store
}

func commandUpdate(t *testing.T, chatID int64, threadID int, text string) Update {
	t.Helper()
	msg := map[string]any{
		"message_id": 1,
		"from":       map[string]any{"id": 42, "is_bot": false, "first_name": "Tester"},
		"chat":       map[string]any{"id": chatID, "type": "supergroup"},
		"date":       0,
		"text":       text,
		"entities": []map[string]any{
			{"type": "bot_command", "offset": 0, "length": len(strings.Fields(text)[0])},
		},
	}
	if threadID != 0 {
		msg["message_thread_id"] = threadID
		msg["is_topic_message"] = true
	}
	return decode(t, map[string]any{"update_id": 1, "message": msg})
}

func callbackUpdate(t *testing.T, chatID int64, data string) Update {
	t.Helper()
	return decode(t, map[string]any{
		"update_id": 2,
		"callback_query": map[string]any{
			"id":            "cb-1",
			"from":          map[string]any{"id": 42, "is_bot": false, "first_name": "Tester"},
			"message":       map[string]any{"message_id": 5, "chat": map[string]any{"id": chatID, "type": "supergroup"}, "date": 0},
			"chat_instance": "ci",
			"data":          data,
		},
	})
}

func decode(t *testing.T, v any) Update {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	u, err := DecodeUpdate(raw)
	if err != nil {
		t.Fatalf("decode update: %v", err)
	}
	return u
}

func send(t *testing.T, b *Bot, chatID int64, threadID int, text string) {
	t.Helper()
	b.HandleUpdate(context.Background(), commandUpdate(t, chatID, threadID, text))
}

func requireContains(t *testing.T, got, substr string) {
	t.Helper()
	if !strings.Contains(got, substr) {
		t.Errorf("expected %q to contain %q", got, substr)
	}
}

func subOf(channel string, chatID int64, threadID int) model.Subscription {
	return model.Subscription{ChannelName: channel, RSSURL: baseURL + channel, ChatID: chatID, ThreadID: threadID}
}

func listAll(t *testing.T, store storage.Storage) []model.Subscription {
	t.Helper()
	subs, err := store.ListSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	return subs
}

func sessionFromMarkup(t *testing.T, markup string) string {
	t.Helper()
	var kb tgbotapi.InlineKeyboardMarkup
	if err := json.Unmarshal([]byte(markup), &kb); err != nil {
		t.Fatalf("decode markup %q: %v", markup, err)
	}
	if len(kb.InlineKeyboard) == 0 || kb.InlineKeyboard[0][0].CallbackData == nil {
		t.Fatalf("markup has no buttons: %s", markup)
	}
	id, sel, err := ParseForwardCallback(*kb.InlineKeyboard[0][0].CallbackData)
	if err != nil || !sel.All {
		t.Fatalf("first button must forward all: %v", err)
	}
	return id
}

// --- notifier ---

func TestNotifyParams(t *testing.T) {
	b, api, _ := newTestBot(t)
	ctx := context.Background()

	b.SendMessage(ctx, 111, 0, "<b>hi</b>")
	b.SendMessage(ctx, -100, 7, "topic")

	if diff := cmp.Diff([]string{"sendMessage", "sendMessage"}, api.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}

	plain := api.params[0]
	if _, ok := plain["message_thread_id"]; ok {
		t.Error("thread must be omitted when zero")
	}
	want := tgbotapi.Params{
		"chat_id":                  "111",
		"text":                     "<b>hi</b>",
		"parse_mode":               "HTML",
		"disable_web_page_preview": "true",
	}
	if diff := cmp.Diff(want, plain); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff("7", api.params[1]["message_thread_id"]); diff != "" {
		t.Errorf("thread param (-want +got):\n%s", diff)
	}
}

// --- commands ---

func TestStartAndHelp(t *testing.T) {
	b, api, _ := newTestBot(t)

	send(t, b, 111, 0, "/start")
	requireContains(t, api.lastText(), "/forward_to")

	send(t, b, 111, 0, "/help")
	requireContains(t, api.lastText(), "/add &lt;channel&gt;")
	requireContains(t, api.lastText(), "/remove")
}

func TestID(t *testing.T) {
	b, api, _ := newTestBot(t)

	send(t, b, -100123, 0, "/id")
	got := api.lastText()
	requireContains(t, got, "Chat ID: <code>-100123</code>")
	requireContains(t, got, "User ID: <code>42</code>")
	if strings.Contains(got, "Thread") {
		t.Errorf("no thread expected: %q", got)
	}

	send(t, b, -100123, 5, "/id")
	requireContains(t, api.lastText(), "Thread ID: <code>5</code>")
	if diff := cmp.Diff(5, api.lastSent().ThreadID); diff != "" {
		t.Errorf("reply must go to the invoking thread (-want +got):\n%s", diff)
	}
}

func TestAddTwice(t *testing.T) {
	b, api, store := newTestBot(t)

	send(t, b, 111, 0, "/add weathernews")
	requireContains(t, api.lastText(), "Added <b>weathernews</b>")

	send(t, b, 111, 0, "/add weathernews")
	requireContains(t, api.lastText(), "already in the watchlist")

	if diff := cmp.Diff([]model.Subscription{subOf("weathernews", 111, 0)}, listAll(t, store)); diff != "" {
		t.Errorf("subscriptions mismatch (-want +got):\n%s", diff)
	}
}

func TestAddPerThread(t *testing.T) {
	b, _, store := newTestBot(t)

	send(t, b, -100, 0, "/add weathernews")
	send(t, b, -100, 3, "/add weathernews")
	send(t, b, -100, 3, "/add@ytlive_bot other")

	want := []model.Subscription{
		subOf("weathernews", -100, 0),
		subOf("weathernews", -100, 3),
		subOf("other", -100, 3),
	}
	if diff := cmp.Diff(want, listAll(t, store), cmpopts.SortSlices(func(a, b model.Subscription) bool {
		return fmt.Sprint(a) < fmt.Sprint(b)
	})); diff != "" {
		t.Errorf("subscriptions mismatch (-want +got):\n%s", diff)
	}
}

func TestMalformedCommandsDoNotMutate(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{text: "/add", want: "Usage: /add"},
		{text: "/add a b", want: "Usage: /add"},
		{text: "/del", want: "Usage: /del"},
		{text: "/remove a b", want: "Usage: /remove"},
		{text: "/forward_to", want: "Usage: /forward_to"},
		{text: "/forward_to abc", want: `Invalid chat ID &#34;abc&#34;.`},
		{text: "/forward_to 222 x", want: `Invalid thread ID &#34;x&#34;.`},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			b, api, store := newTestBot(t)
			if _, err := store.AddSubscription(context.Background(), subOf("keep", 111, 0)); err != nil {
				t.Fatalf("seed: %v", err)
			}

			send(t, b, 111, 0, tt.text)
			requireContains(t, api.lastText(), tt.want)

			if diff := cmp.Diff([]model.Subscription{subOf("keep", 111, 0)}, listAll(t, store)); diff != "" {
				t.Errorf("store changed (-want +got):\n%s", diff)
			}
			if api.lastSent().Markup != "" {
				t.Error("no chooser expected")
			}
		})
	}
}

func TestRemove(t *testing.T) {
	b, api, store := newTestBot(t)
	send(t, b, 111, 0, "/add a")
	send(t, b, 111, 0, "/add b")
	send(t, b, 111, 4, "/add a")

	send(t, b, 111, 0, "/del a")
	requireContains(t, api.lastText(), "Removed <b>a</b>")

	send(t, b, 111, 0, "/remove a")
	requireContains(t, api.lastText(), "not in the watchlist")

	want := []model.Subscription{subOf("b", 111, 0), subOf("a", 111, 4)}
	if diff := cmp.Diff(want, listAll(t, store)); diff != "" {
		t.Errorf("subscriptions mismatch (-want +got):\n%s", diff)
	}
}

func TestList(t *testing.T) {
	b, api, _ := newTestBot(t)

	send(t, b, 111, 0, "/list")
	requireContains(t, api.lastText(), "watchlist is empty")

	send(t, b, 111, 0, "/add weathernews")
	send(t, b, 111, 9, "/add elsewhere")
	send(t, b, 222, 0, "/add other")

	send(t, b, 111, 0, "/list")
	if diff := cmp.Diff("<b>Watchlist:</b>\n\n1. weathernews", api.lastText()); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestUnknownCommand(t *testing.T) {
	b, api, _ := newTestBot(t)
	send(t, b, 111, 0, "/nope")
	requireContains(t, api.lastText(), "Unknown command")
}

func TestNonCommandIgnored(t *testing.T) {
	b, api, _ := newTestBot(t)
	u := decode(t, map[string]any{
		"update_id": 1,
		"message":   map[string]any{"message_id": 1, "chat": map[string]any{"id": 111, "type": "private"}, "date": 0, "text": "hello"},
	})
	b.HandleUpdate(context.Background(), u)
	if len(api.calls) != 0 {
		t.Errorf("plain text must be ignored, got %v", api.calls)
	}
}

func TestAccessDenied(t *testing.T) {
	b, api, store := newTestBot(t)
	b.cfg.AllowedUsers = []int64{7}

	send(t, b, 111, 0, "/add weathernews")
	if diff := cmp.Diff("Access denied.", api.lastText()); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
	if subs := listAll(t, store); len(subs) != 0 {
		t.Errorf("store must be untouched, got %v", subs)
	}

	b.HandleUpdate(context.Background(), callbackUpdate(t, 111, "fwd:any:ALL"))
	if diff := cmp.Diff("Access denied.", api.lastAnswer()); diff != "" {
		t.Errorf("callback answer mismatch (-want +got):\n%s", diff)
	}
}

// --- forward flow ---

func TestForwardToWithoutSubscriptions(t *testing.T) {
	b, api, _ := newTestBot(t)
	send(t, b, 111, 0, "/forward_to 222")
	requireContains(t, api.lastText(), "watchlist here is empty")
	if api.lastSent().Markup != "" {
		t.Error("no chooser expected")
	}
}

func TestForwardAllFlow(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	send(t, b, 111, 0, "/add A")
	send(t, b, 111, 0, "/add B")

	send(t, b, 111, 0, "/forward_to 222")
	chooser := api.lastSent()
	requireContains(t, chooser.Text, "<code>222</code>")
	sessionID := sessionFromMarkup(t, chooser.Markup)

	s, err := store.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if diff := cmp.Diff([]string{"A", "B"}, s.Channels); diff != "" {
		t.Errorf("channel map (-want +got):\n%s", diff)
	}

	api.reset()
	b.HandleUpdate(ctx, callbackUpdate(t, 111, "fwd:"+sessionID+":ALL"))

	if diff := cmp.Diff("Forwarded 2 channel(s).", api.lastAnswer()); diff != "" {
		t.Errorf("answer mismatch (-want +got):\n%s", diff)
	}
	done := api.lastSent()
	if diff := cmp.Diff(int64(111), done.ChatID); diff != "" {
		t.Errorf("source must be notified (-want +got):\n%s", diff)
	}
	requireContains(t, done.Text, "Forwarded 2 channel(s)")

	target, _ := store.ListChatSubscriptions(ctx, 222, 0)
	if diff := cmp.Diff([]model.Subscription{subOf("A", 222, 0), subOf("B", 222, 0)}, target); diff != "" {
		t.Errorf("target subscriptions (-want +got):\n%s", diff)
	}

	b.HandleUpdate(ctx, callbackUpdate(t, 111, "fwd:"+sessionID+":ALL"))
	requireContains(t, api.lastAnswer(), "expired or was already used")
}

func TestForwardSingleToThread(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	send(t, b, 111, 2, "/add A")
	send(t, b, 111, 2, "/add B")

	send(t, b, 111, 2, "/forward_to -100 8")
	sessionID := sessionFromMarkup(t, api.lastSent().Markup)

	b.HandleUpdate(ctx, callbackUpdate(t, 111, "fwd:"+sessionID+":1"))
	if diff := cmp.Diff("Forwarded 1 channel(s).", api.lastAnswer()); diff != "" {
		t.Errorf("answer mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(2, api.lastSent().ThreadID); diff != "" {
		t.Errorf("confirmation must go to the source thread (-want +got):\n%s", diff)
	}

	target, _ := store.ListChatSubscriptions(ctx, -100, 8)
	if diff := cmp.Diff([]model.Subscription{subOf("B", -100, 8)}, target); diff != "" {
		t.Errorf("target subscriptions (-want +got):\n%s", diff)
	}
}

func TestForwardCallbackRejections(t *testing.T) {
	tests := []struct {
		name       string
		prepare    func(t *testing.T, b *Bot)
		chatID     int64
		selector   string
		wantAnswer string
	}{
		{name: "other chat", chatID: 999, selector: "ALL", wantAnswer: "belongs to another chat"},
		{name: "index out of range", chatID: 111, selector: "5", wantAnswer: "No channel selected."},
		{
			name: "nothing to add",
			prepare: func(t *testing.T, b *Bot) {
				send(t, b, 222, 0, "/add A")
			},
			chatID:     111,
			selector:   "0",
			wantAnswer: "Nothing to add",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b, api, store := newTestBot(t)
			send(t, b, 111, 0, "/add A")
			if tt.prepare != nil {
				tt.prepare(t, b)
			}
			send(t, b, 111, 0, "/forward_to 222")
			sessionID := sessionFromMarkup(t, api.lastSent().Markup)
			before := listAll(t, store)

			api.reset()
			b.HandleUpdate(ctx, callbackUpdate(t, tt.chatID, "fwd:"+sessionID+":"+tt.selector))

			requireContains(t, api.lastAnswer(), tt.wantAnswer)
			if len(api.sent) != 0 {
				t.Errorf("no messages expected, got %v", api.sent)
			}
			if diff := cmp.Diff(before, listAll(t, store)); diff != "" {
				t.Errorf("store changed (-before +after):\n%s", diff)
			}
			if _, err := store.GetSession(ctx, sessionID); err != nil {
				t.Errorf("session must stay open: %v", err)
			}
		})
	}
}

func TestUnknownCallback(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.HandleUpdate(context.Background(), callbackUpdate(t, 111, "noop:0"))
	if diff := cmp.Diff("Unknown action.", api.lastAnswer()); diff != "" {
		t.Errorf("answer mismatch (-want +got):\n%s", diff)
	}
}

// --- transport ---

func TestRegisterWebhook(t *testing.T) {
	b, api, _ := newTestBot(t)
	if err := b.RegisterWebhook("https://bot.example.com/webhook", "s3cret"); err != nil {
		t.Fatalf("register: %v", err)
	}
	want := tgbotapi.Params{
		"url":             "https://bot.example.com/webhook",
		"secret_token":    "s3cret",
		"allowed_updates": `["message","callback_query"]`,
	}
	if diff := cmp.Diff([]string{"setWebhook"}, api.calls); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, api.params[0]); diff != "" {
		t.Errorf("params (-want +got):\n%s", diff)
	}
}

// pollingAPI serves one batch of updates, then cancels the poll loop.
type pollingAPI struct {
	mockAPI
	batch   string
	cancel  context.CancelFunc
	offsets []string
}

func (p *pollingAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	if endpoint != "getUpdates" {
		return p.mockAPI.MakeRequest(endpoint, params)
	}
	p.offsets = append(p.offsets, params["offset"])
	if len(p.offsets) > 1 {
		p.cancel()
		return &tgbotapi.APIResponse{Ok: true, Result: json.RawMessage(`[]`)}, nil
	}
	return &tgbotapi.APIResponse{Ok: true, Result: json.RawMessage(p.batch)}, nil
}

func TestRunPollsAndDispatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, _, store := newTestBot(t)
	api := &pollingAPI{
		cancel: cancel,
		batch: `[{"update_id":10,"message":{"message_id":1,"message_thread_id":4,"is_topic_message":true,` +
			`"from":{"id":42,"is_bot":false,"first_name":"T"},"chat":{"id":-100,"type":"supergroup"},"date":0,` +
			`"text":"/add weathernews","entities":[{"type":"bot_command","offset":0,"length":4}]}}]`,
	}
	b.api = api

	b.Run(ctx)

	if diff := cmp.Diff([]model.Subscription{subOf("weathernews", -100, 4)}, listAll(t, store)); diff != "" {
		t.Errorf("subscriptions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("deleteWebhook", api.calls[0]); diff != "" {
		t.Errorf("first call (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"", "11"}, api.offsets); diff != "" {
		t.Errorf("poll offsets (-want +got):\n%s", diff)
	}
}
