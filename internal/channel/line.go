package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"linerelay/internal/domain"
)

// LineSignatureHeader carries base64(HMAC-SHA256(channel secret, body)).
const LineSignatureHeader = "X-Line-Signature"

// LineConfig configures the LINE platform.
type LineConfig struct {
	ChannelSecret      string
	ChannelAccessToken string
	Path               string       // webhook URL path (default: /callback)
	APIBase            string       // messaging API base (default: https://api.line.me)
	HTTPClient         *http.Client // optional
	Logger             *slog.Logger
}

// Line implements domain.Platform for the LINE Messaging API.
type Line struct {
	secret string
	token  string
	path   string
	opts   []messaging_api.MessagingApiAPIOption
	logger *slog.Logger
}

// NewLine creates the LINE platform. It fails only if the SDK client cannot
// be built from cfg; credentials are checked by config validation.
func NewLine(cfg LineConfig) (*Line, error) {
	if cfg.Path == "" {
		cfg.Path = "/callback"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var opts []messaging_api.MessagingApiAPIOption
	if cfg.APIBase != "" {
		opts = append(opts, messaging_api.WithEndpoint(cfg.APIBase))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, messaging_api.WithHTTPClient(cfg.HTTPClient))
	}
	l := &Line{
		secret: cfg.ChannelSecret,
		token:  cfg.ChannelAccessToken,
		path:   cfg.Path,
		opts:   opts,
		logger: cfg.Logger.With("platform", "line"),
	}
	if _, err := l.client(context.Background()); err != nil {
		return nil, err
	}
	return l, nil
}

// client builds a messaging API client bound to ctx. The SDK stores the
// context on the client, so one is built per reply instead of sharing one
// across concurrent requests.
func (l *Line) client(ctx context.Context) (*messaging_api.MessagingApiAPI, error) {
	api, err := messaging_api.NewMessagingApiAPI(l.token, l.opts...)
	if err != nil {
		return nil, fmt.Errorf("line messaging api: %w", err)
	}
	return api.WithContext(ctx), nil
}

func (l *Line) Name() string { return "line" }

func (l *Line) Path() string { return l.path }

// Parse verifies X-Line-Signature and extracts text message events. Other
// event and message types are dropped.
func (l *Line) Parse(header http.Header, body []byte) ([]domain.InboundEvent, error) {
	sig := header.Get(LineSignatureHeader)
	if sig == "" || !webhook.ValidateSignature(l.secret, sig, body) {
		return nil, domain.ErrInvalidSignature
	}

	var cb webhook.CallbackRequest
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("parse line callback: %w", err)
	}

	events := make([]domain.InboundEvent, 0, len(cb.Events))
	for _, ev := range cb.Events {
		msgEv, ok := ev.(webhook.MessageEvent)
		if !ok {
			l.logger.Debug("skipping non-message event", "type", fmt.Sprintf("%T", ev))
			continue
		}
		text, ok := msgEv.Message.(webhook.TextMessageContent)
		if !ok {
			l.logger.Debug("skipping non-text message", "type", fmt.Sprintf("%T", msgEv.Message))
			continue
		}
		events = append(events, domain.InboundEvent{
			Platform:   l.Name(),
			ReplyToken: msgEv.ReplyToken,
			SenderID:   lineSenderID(msgEv.Source),
			Text:       text.Text,
			Timestamp:  time.UnixMilli(msgEv.Timestamp),
		})
	}
	return events, nil
}

func lineSenderID(src webhook.SourceInterface) string {
	switch s := src.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	}
	return ""
}

// Send replies with a single text message.
func (l *Line) Send(ctx context.Context, reply domain.Reply) error {
	api, err := l.client(ctx)
	if err != nil {
		return err
	}
	_, err = api.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: reply.ReplyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: reply.Text},
		},
	})
	if err != nil {
		return fmt.Errorf("line reply: %w", err)
	}
	return nil
}
