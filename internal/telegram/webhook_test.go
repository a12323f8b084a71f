package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"referral_rewards_bot/internal/dispatcher"
)

type recordingHandler struct {
	commands  []dispatcher.Command
	throttled []dispatcher.Command
	deadline  bool
}

func (h *recordingHandler) Handle(ctx context.Context, cmd dispatcher.Command) {
	_, h.deadline = ctx.Deadline()
	h.commands = append(h.commands, cmd)
}

func (h *recordingHandler) HandleThrottled(_ context.Context, cmd dispatcher.Command) {
	h.throttled = append(h.throttled, cmd)
}

type recordingAnswerer struct {
	ids []string
	err error
}

func (a *recordingAnswerer) AnswerCallback(_ context.Context, id string) error {
	a.ids = append(a.ids, id)
	return a.err
}

func newTestWebhook(t *testing.T, opts ...WebhookOption) (*WebhookHandler, *recordingHandler, *logtest.Hook) {
	t.Helper()

	hookLogger, hook := logtest.NewNullLogger()
	hookLogger.SetLevel(logrus.DebugLevel)
	handler := &recordingHandler{}

	opts = append([]WebhookOption{WithWebhookLogger(logrus.NewEntry(hookLogger))}, opts...)
	webhook, err := NewWebhookHandler(handler, opts...)
	if err != nil {
		t.Fatalf("NewWebhookHandler returned error: %v", err)
	}

	return webhook, handler, hook
}

func deliver(h http.Handler, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const startUpdate = `{
	"update_id": 1001,
	"message": {
		"message_id": 7,
		"date": 1718000000,
		"from": {"id": 200, "is_bot": false, "first_name": "New", "username": "newbie"},
		"chat": {"id": 200, "type": "private"},
		"text": "/start ref123"
	}
}`

func TestNewWebhookHandlerRequiresHandler(t *testing.T) {
	if _, err := NewWebhookHandler(nil); err == nil {
		t.Fatalf("expected error for nil handler")
	}
}

func TestWebhookDispatchesMessageCommand(t *testing.T) {
	webhook, handler, hook := newTestWebhook(t, WithHandlerTimeout(time.Second))

	rec := deliver(webhook, startUpdate, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(handler.commands) != 1 {
		t.Fatalf("expected 1 dispatched command, got %d", len(handler.commands))
	}

	cmd := handler.commands[0]
	if cmd.UserID != 200 || cmd.ChatID != 200 || cmd.Username != "newbie" {
		t.Fatalf("unexpected identity: %+v", cmd)
	}
	if cmd.Name != "start" || len(cmd.Args) != 1 || cmd.Args[0] != "ref123" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if !handler.deadline {
		t.Fatalf("expected handler context to carry a deadline")
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Data["event"] != "telegram_update" || entry.Data["command"] != "start" {
		t.Fatalf("expected telegram_update log entry, got %+v", entry)
	}
}

func TestWebhookDispatchesCallbackQuery(t *testing.T) {
	answerer := &recordingAnswerer{}
	webhook, handler, _ := newTestWebhook(t, WithCallbackAnswerer(answerer))

	body := `{
		"update_id": 1002,
		"callback_query": {
			"id": "cb-9",
			"from": {"id": 5, "is_bot": false, "first_name": "A", "username": "alice"},
			"message": {"message_id": 3, "date": 1718000000, "chat": {"id": 5, "type": "private"}},
			"chat_instance": "x",
			"data": " Stats "
		}
	}`

	rec := deliver(webhook, body, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(handler.commands) != 1 {
		t.Fatalf("expected 1 dispatched command, got %d", len(handler.commands))
	}
	cmd := handler.commands[0]
	if cmd.Name != "stats" || cmd.UserID != 5 || cmd.ChatID != 5 || cmd.Username != "alice" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if len(answerer.ids) != 1 || answerer.ids[0] != "cb-9" {
		t.Fatalf("expected callback to be answered, got %v", answerer.ids)
	}
}

func TestWebhookCallbackAnswerFailureStillDispatches(t *testing.T) {
	answerer := &recordingAnswerer{err: errors.New("query too old")}
	webhook, handler, _ := newTestWebhook(t, WithCallbackAnswerer(answerer))

	body := `{"update_id": 3, "callback_query": {"id": "cb", "from": {"id": 5, "first_name": "A"}, "chat_instance": "x", "data": "daily"}}`

	deliver(webhook, body, nil)

	if len(handler.commands) != 1 || handler.commands[0].ChatID != 5 {
		t.Fatalf("expected dispatch to fall back to the user chat, got %+v", handler.commands)
	}
}

func TestWebhookAcknowledgesMalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"update_id": `},
		{name: "empty object", body: `{}`},
		{name: "message without sender", body: `{"update_id": 4, "message": {"message_id": 1, "date": 1, "chat": {"id": 9, "type": "private"}, "text": "/start"}}`},
		{name: "message without text", body: `{"update_id": 5, "message": {"message_id": 1, "date": 1, "from": {"id": 9, "first_name": "x"}, "chat": {"id": 9, "type": "private"}}}`},
		{name: "group chatter", body: `{"update_id": 6, "message": {"message_id": 1, "date": 1, "from": {"id": 9, "first_name": "x"}, "chat": {"id": -100, "type": "supergroup"}, "text": "hello all"}}`},
		{name: "callback without data", body: `{"update_id": 7, "callback_query": {"id": "cb", "from": {"id": 9, "first_name": "x"}, "chat_instance": "x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			webhook, handler, _ := newTestWebhook(t)

			rec := deliver(webhook, tt.body, nil)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if len(handler.commands) != 0 {
				t.Fatalf("expected no dispatch, got %+v", handler.commands)
			}
		})
	}
}

func TestWebhookDispatchesPrivatePlainText(t *testing.T) {
	webhook, handler, _ := newTestWebhook(t)

	body := `{"update_id": 8, "message": {"message_id": 1, "date": 1, "from": {"id": 9, "first_name": "x"}, "chat": {"id": 9, "type": "private"}, "text": "hi bot"}}`
	deliver(webhook, body, nil)

	if len(handler.commands) != 1 || handler.commands[0].Name != "" {
		t.Fatalf("expected plain text to be dispatched with empty name, got %+v", handler.commands)
	}
}

func TestWebhookChecksSecretToken(t *testing.T) {
	webhook, handler, hook := newTestWebhook(t, WithSecretToken("s3cret"))

	rec := deliver(webhook, startUpdate, map[string]string{secretTokenHeader: "wrong"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Data["event"] != "webhook_forbidden" {
		t.Fatalf("expected webhook_forbidden log entry, got %+v", entry)
	}

	rec = deliver(webhook, startUpdate, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without header, got %d", rec.Code)
	}

	rec = deliver(webhook, startUpdate, map[string]string{secretTokenHeader: "s3cret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid secret, got %d", rec.Code)
	}
	if len(handler.commands) != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", len(handler.commands))
	}
}

func TestWebhookRejectsNonPost(t *testing.T) {
	webhook, _, _ := newTestWebhook(t)

	req := httptest.NewRequest(http.MethodGet, "/telegram/webhook", nil)
	rec := httptest.NewRecorder()
	webhook.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected Allow header, got %q", rec.Header().Get("Allow"))
	}
}

func TestWebhookAppliesRateLimit(t *testing.T) {
	limiter := NewUserLimiter(1, 2)
	webhook, handler, hook := newTestWebhook(t, WithRateLimiter(limiter))

	for i := 0; i < 4; i++ {
		rec := deliver(webhook, startUpdate, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}

	if len(handler.commands) != 2 {
		t.Fatalf("expected burst of 2 to pass, got %d", len(handler.commands))
	}
	if len(handler.throttled) != 2 {
		t.Fatalf("expected 2 throttled commands to get a notice, got %d", len(handler.throttled))
	}
	for _, cmd := range handler.throttled {
		if cmd.UserID != 200 || cmd.ChatID != 200 || cmd.Name != dispatcher.CommandStart {
			t.Fatalf("unexpected throttled command: %+v", cmd)
		}
	}
	if entry := hook.LastEntry(); entry == nil || entry.Data["event"] != "rate_limited" {
		t.Fatalf("expected rate_limited log entry, got %+v", entry)
	}
}

func TestWebhookIgnoredUpdatesAreNotThrottled(t *testing.T) {
	limiter := NewUserLimiter(1, 1)
	webhook, handler, _ := newTestWebhook(t, WithRateLimiter(limiter))

	groupChatter := `{"update_id": 6, "message": {"message_id": 1, "date": 1, "from": {"id": 200, "first_name": "x"}, "chat": {"id": -100, "type": "supergroup"}, "text": "hello all"}}`
	for i := 0; i < 3; i++ {
		deliver(webhook, groupChatter, nil)
	}
	deliver(webhook, startUpdate, nil)

	if len(handler.commands) != 1 {
		t.Fatalf("expected the command to pass the limiter, got %d", len(handler.commands))
	}
	if len(handler.throttled) != 0 {
		t.Fatalf("expected no throttle notices for ignored updates, got %d", len(handler.throttled))
	}
}

func TestExtractUpdateMeta(t *testing.T) {
	tests := []struct {
		name   string
		update *models.Update
		want   updateMeta
	}{
		{
			name: "command message",
			update: &models.Update{
				Message: &models.Message{
					From: &models.User{ID: 10, Username: "bob"},
					Chat: models.Chat{ID: 20, Type: "private"},
					Text: " /daily@RewardsBot ",
				},
			},
			want: updateMeta{command: dispatcher.Command{UserID: 10, ChatID: 20, Username: "bob", Name: "daily"}, updateType: "message"},
		},
		{
			name: "callback query",
			update: &models.Update{
				CallbackQuery: &models.CallbackQuery{
					ID:   "cb",
					From: models.User{ID: 12},
					Data: "Reward",
					Message: models.MaybeInaccessibleMessage{
						Type: models.MaybeInaccessibleMessageTypeMessage,
						Message: &models.Message{
							Chat: models.Chat{ID: 22},
						},
					},
				},
			},
			want: updateMeta{command: dispatcher.Command{UserID: 12, ChatID: 22, Name: "reward"}, callbackID: "cb", updateType: "callback_query"},
		},
		{
			name: "edited message is ignored",
			update: &models.Update{
				EditedMessage: &models.Message{
					From: &models.User{ID: 11},
					Chat: models.Chat{ID: 21},
					Text: "/daily",
				},
			},
			want: updateMeta{updateType: "unknown"},
		},
		{
			name:   "unknown",
			update: &models.Update{},
			want:   updateMeta{updateType: "unknown"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := extractUpdateMeta(tt.update)
			if got.command.UserID != tt.want.command.UserID ||
				got.command.ChatID != tt.want.command.ChatID ||
				got.command.Username != tt.want.command.Username ||
				got.command.Name != tt.want.command.Name ||
				got.callbackID != tt.want.callbackID ||
				got.updateType != tt.want.updateType {
				t.Fatalf("extractUpdateMeta() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
