package telegram

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"referral_rewards_bot/internal/dispatcher"
	"referral_rewards_bot/internal/logging"
)

const (
	secretTokenHeader     = "X-Telegram-Bot-Api-Secret-Token"
	maxUpdateBytes        = 1 << 20
	defaultHandlerTimeout = 10 * time.Second
)

// CommandHandler executes a normalized command and delivers its reply.
// HandleThrottled replies to a command that was not executed because its
// sender exceeded the rate limit.
type CommandHandler interface {
	Handle(ctx context.Context, cmd dispatcher.Command)
	HandleThrottled(ctx context.Context, cmd dispatcher.Command)
}

// CallbackAnswerer acknowledges inline button presses.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID string) error
}

// WebhookHandler receives Telegram updates over HTTP and runs them through
// the command handler synchronously.
type WebhookHandler struct {
	handler  CommandHandler
	answerer CallbackAnswerer
	limiter  *UserLimiter
	secret   string
	timeout  time.Duration
	logger   *logrus.Entry
}

// WebhookOption customizes a WebhookHandler.
type WebhookOption func(*WebhookHandler)

// WithSecretToken requires deliveries to carry the given secret header.
func WithSecretToken(secret string) WebhookOption {
	return func(h *WebhookHandler) {
		h.secret = strings.TrimSpace(secret)
	}
}

// WithCallbackAnswerer answers callback queries before dispatching them.
func WithCallbackAnswerer(answerer CallbackAnswerer) WebhookOption {
	return func(h *WebhookHandler) {
		h.answerer = answerer
	}
}

// WithRateLimiter skips commands from users exceeding their budget and
// answers them with a short notice instead.
func WithRateLimiter(limiter *UserLimiter) WebhookOption {
	return func(h *WebhookHandler) {
		h.limiter = limiter
	}
}

// WithHandlerTimeout bounds the time spent on a single delivery.
func WithHandlerTimeout(timeout time.Duration) WebhookOption {
	return func(h *WebhookHandler) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithWebhookLogger sets the logger.
func WithWebhookLogger(logger *logrus.Entry) WebhookOption {
	return func(h *WebhookHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewWebhookHandler constructs the HTTP handler for Telegram deliveries.
func NewWebhookHandler(handler CommandHandler, opts ...WebhookOption) (*WebhookHandler, error) {
	if handler == nil {
		return nil, errors.New("command handler is required")
	}

	h := &WebhookHandler{
		handler: handler,
		timeout: defaultHandlerTimeout,
		logger:  logging.Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}

	return h, nil
}

// ServeHTTP acknowledges every authenticated delivery with 200, including
// malformed or ignored ones, so Telegram does not redeliver them.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if h.secret != "" {
		got := r.Header.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.logger.WithField("event", "webhook_forbidden").Warn("rejected webhook delivery with bad secret token")
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
	}

	var update models.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateBytes)).Decode(&update); err != nil {
		h.logger.WithField("event", "webhook_decode_failed").WithError(err).Warn("ignoring malformed update")
		w.WriteHeader(http.StatusOK)
		return
	}

	meta := extractUpdateMeta(&update)
	if !meta.valid() {
		h.logger.WithFields(logging.Fields{
			"event":       "webhook_ignored",
			"update_id":   update.ID,
			"update_type": meta.updateType,
		}).Debug("ignoring update without command or identity")
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if meta.callbackID != "" && h.answerer != nil {
		if err := h.answerer.AnswerCallback(ctx, meta.callbackID); err != nil {
			logging.ForContext(h.logger, logging.Context{UserID: meta.command.UserID, Event: "callback_answer_failed"}).
				WithError(err).Warn("failed to answer callback query")
		}
	}

	if !h.limiter.Allow(meta.command.UserID) {
		logging.ForContext(h.logger, logging.Context{
			UserID:  meta.command.UserID,
			ChatID:  meta.command.ChatID,
			Event:   "rate_limited",
			Command: meta.command.Name,
		}).Info("skipping command over rate limit")
		h.handler.HandleThrottled(ctx, meta.command)
		w.WriteHeader(http.StatusOK)
		return
	}

	logging.ForContext(h.logger, logging.Context{
		UserID:  meta.command.UserID,
		ChatID:  meta.command.ChatID,
		Event:   "telegram_update",
		Command: meta.command.Name,
	}).WithField("update_type", meta.updateType).Info("telegram update received")

	h.handler.Handle(ctx, meta.command)

	w.WriteHeader(http.StatusOK)
}

type updateMeta struct {
	command    dispatcher.Command
	callbackID string
	updateType string
}

func (m updateMeta) valid() bool {
	return m.command.UserID != 0 && m.command.ChatID != 0 && m.updateType != "unknown"
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		msg := update.Message
		text := strings.TrimSpace(msg.Text)
		name, args := dispatcher.ParseCommand(text)
		if text == "" || (name == "" && msg.Chat.Type != "private") {
			return updateMeta{updateType: "unknown"}
		}
		return updateMeta{
			command: dispatcher.Command{
				UserID:   userID(msg.From),
				ChatID:   chatID(&msg.Chat),
				Username: username(msg.From),
				Name:     name,
				Args:     args,
			},
			updateType: "message",
		}
	case update.CallbackQuery != nil:
		query := update.CallbackQuery
		data := strings.ToLower(strings.TrimSpace(query.Data))
		if data == "" {
			return updateMeta{updateType: "unknown"}
		}
		chat := messageChatID(query.Message)
		if chat == 0 {
			chat = query.From.ID
		}
		return updateMeta{
			command: dispatcher.Command{
				UserID:   query.From.ID,
				ChatID:   chat,
				Username: query.From.Username,
				Name:     data,
			},
			callbackID: query.ID,
			updateType: "callback_query",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}

func username(user *models.User) string {
	if user == nil {
		return ""
	}

	return user.Username
}

func chatID(chat *models.Chat) int64 {
	if chat == nil {
		return 0
	}

	return chat.ID
}

func messageChatID(msg models.MaybeInaccessibleMessage) int64 {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return chatID(&msg.Message.Chat)
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return chatID(&msg.InaccessibleMessage.Chat)
	default:
		return 0
	}
}
