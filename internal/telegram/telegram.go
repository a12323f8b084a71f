// Package telegram hosts the Telegram client, the webhook handler and the
// outbound reply sink.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"referral_rewards_bot/internal/config"
	"referral_rewards_bot/internal/dispatcher"
	"referral_rewards_bot/internal/logging"
)

type botAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error)
}

var (
	allowedUpdates = []string{"message", "callback_query"}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot API and logging dependencies.
type Client struct {
	bot    botAPI
	logger *logrus.Entry
}

// NewClient initializes the Telegram bot API client. Updates arrive through
// the webhook handler, so the client never polls.
func NewClient(cfg config.Config, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithSkipGetMe(),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	return &Client{
		bot:    tgBot,
		logger: logger,
	}, nil
}

// Notify sends reply to chatID. Delivery is fire-and-forget: failures are
// returned for logging and never retried.
func (c *Client) Notify(ctx context.Context, chatID int64, reply dispatcher.Reply) error {
	if c == nil || c.bot == nil {
		return errors.New("telegram client is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if chatID == 0 {
		return errors.New("chat id is required")
	}

	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   reply.Text,
	}
	if markup := inlineKeyboard(reply.Keyboard); markup != nil {
		params.ReplyMarkup = markup
	}

	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"event":   "reply_sent",
		"chat_id": chatID,
	}).Debug("reply sent")

	return nil
}

// AnswerCallback stops the loading indicator on a pressed inline button.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	if c == nil || c.bot == nil {
		return errors.New("telegram client is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if _, err := c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: callbackID}); err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}

	return nil
}

// RegisterWebhook points Telegram at url. secret, when set, is echoed back in
// the X-Telegram-Bot-Api-Secret-Token header of every delivery.
func (c *Client) RegisterWebhook(ctx context.Context, url, secret string) error {
	if c == nil || c.bot == nil {
		return errors.New("telegram client is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if strings.TrimSpace(url) == "" {
		return errors.New("webhook url is required")
	}

	if _, err := c.bot.SetWebhook(ctx, &bot.SetWebhookParams{
		URL:            url,
		SecretToken:    secret,
		AllowedUpdates: allowedUpdates,
	}); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"event":           "webhook_registered",
		"allowed_updates": allowedUpdates,
	}).Info("telegram webhook registered")

	return nil
}

func inlineKeyboard(rows [][]dispatcher.Button) *models.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}

	keyboard := make([][]models.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, button := range row {
			buttons = append(buttons, models.InlineKeyboardButton{
				Text:         button.Text,
				CallbackData: button.Data,
			})
		}
		keyboard = append(keyboard, buttons)
	}

	return &models.InlineKeyboardMarkup{InlineKeyboard: keyboard}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram client error")
	}
}
