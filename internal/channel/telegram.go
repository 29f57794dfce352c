package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"linerelay/internal/domain"
)

// TelegramSecretHeader echoes the secret_token given to setWebhook.
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const telegramMaxMsgLen = 4096

// TelegramConfig configures the Telegram webhook platform.
type TelegramConfig struct {
	Token       string
	SecretToken string
	Path        string        // webhook URL path (default: /telegram)
	APIEndpoint string        // printf template with token and method (default: tgbotapi.APIEndpoint)
	Timeout     time.Duration // bounds each Bot API call (default: 10s); ignored when HTTPClient is set
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Telegram implements domain.Platform for a Telegram bot in webhook mode.
type Telegram struct {
	secret string
	path   string
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Path == "" {
		cfg.Path = "/telegram"
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// Built directly instead of via NewBotAPI, which calls getMe at
	// construction time.
	bot := &tgbotapi.BotAPI{
		Token:  cfg.Token,
		Client: cfg.HTTPClient,
		Buffer: 100,
	}
	bot.SetAPIEndpoint(cfg.APIEndpoint)

	return &Telegram{
		secret: cfg.SecretToken,
		path:   cfg.Path,
		bot:    bot,
		logger: cfg.Logger.With("platform", "telegram"),
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Path() string { return t.path }

// Parse checks the secret token header and turns a text message update into
// an event. Any other update kind yields no events.
func (t *Telegram) Parse(header http.Header, body []byte) ([]domain.InboundEvent, error) {
	got := header.Get(TelegramSecretHeader)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(t.secret)) != 1 {
		return nil, domain.ErrInvalidSignature
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, fmt.Errorf("parse telegram update: %w", err)
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		t.logger.Debug("skipping non-text update", "update_id", update.UpdateID)
		return nil, nil
	}

	var sender string
	if msg.From != nil {
		sender = strconv.FormatInt(msg.From.ID, 10)
	}
	return []domain.InboundEvent{{
		Platform:   t.Name(),
		ReplyToken: telegramReplyToken(msg.Chat.ID, msg.MessageID),
		SenderID:   sender,
		Text:       msg.Text,
		Timestamp:  msg.Time(),
	}}, nil
}

// Send posts the reply into the originating chat, quoting the original
// message. Replies over Telegram's limit are truncated.
//
// tgbotapi takes no context, so ctx is only checked before the call. The
// call itself is bounded by the client timeout.
func (t *Telegram) Send(ctx context.Context, reply domain.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, messageID, err := parseTelegramReplyToken(reply.ReplyToken)
	if err != nil {
		return err
	}

	text := reply.Text
	if r := []rune(text); len(r) > telegramMaxMsgLen {
		text = string(r[:telegramMaxMsgLen])
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = messageID
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func telegramReplyToken(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

func parseTelegramReplyToken(token string) (int64, int, error) {
	chat, msg, ok := strings.Cut(token, ":")
	if !ok {
		return 0, 0, fmt.Errorf("telegram reply token %q: missing separator", token)
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram reply token %q: chat id: %w", token, err)
	}
	messageID, err := strconv.Atoi(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram reply token %q: message id: %w", token, err)
	}
	return chatID, messageID, nil
}
