// Package relay answers inbound chat events: one completion call, then one
// reply to the platform the event came from.
package relay

import (
	"context"
	"fmt"
	"log/slog"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
)

// Answerer produces reply text for a prompt and never fails; failures are
// reported through Result.Kind. provider.Fallback implements it.
type Answerer interface {
	Complete(ctx context.Context, prompt string) domain.Result
}

// Config configures a Relay.
type Config struct {
	Answerer  Answerer
	Platforms []domain.Platform
	Logger    *slog.Logger
}

// Relay dispatches events to the completion backend and routes replies.
type Relay struct {
	answerer  Answerer
	platforms map[string]domain.Platform
	logger    *slog.Logger
}

// Outcome records what happened to one event.
type Outcome struct {
	Skipped    bool
	Reply      domain.Reply
	Completion domain.Result
	SendErr    error
}

func New(cfg Config) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	platforms := make(map[string]domain.Platform, len(cfg.Platforms))
	for _, p := range cfg.Platforms {
		platforms[p.Name()] = p
	}
	return &Relay{
		answerer:  cfg.Answerer,
		platforms: platforms,
		logger:    cfg.Logger.With("component", "relay"),
	}
}

// Handle runs one event to completion. Send failures are logged, counted
// and returned in the Outcome; they never abort the caller.
func (r *Relay) Handle(ctx context.Context, ev domain.InboundEvent) Outcome {
	logger := r.logger.With("platform", ev.Platform, "has_reply_token", ev.ReplyToken != "")
	if rid, ok := ctx.Value(requestIDKey{}).(string); ok {
		logger = logger.With("request_id", rid)
	}

	if ev.Text == "" {
		logger.Debug("skipping event with empty text")
		metrics.IncEvent(ev.Platform, "skipped")
		return Outcome{Skipped: true}
	}

	p, ok := r.platforms[ev.Platform]
	if !ok {
		err := fmt.Errorf("no platform registered for %q", ev.Platform)
		logger.Error("cannot reply", "error", err)
		metrics.IncEvent(ev.Platform, "skipped")
		return Outcome{Skipped: true, SendErr: err}
	}

	logger.Info("relaying event", "text_len", len(ev.Text))
	res := r.answerer.Complete(ctx, ev.Text)

	reply := domain.Reply{Platform: ev.Platform, ReplyToken: ev.ReplyToken, Text: res.Text}
	out := Outcome{Reply: reply, Completion: res}
	if err := p.Send(ctx, reply); err != nil {
		logger.Error("reply failed", "error", err, "completion", res.Kind)
		metrics.IncReplyError(ev.Platform)
		metrics.IncEvent(ev.Platform, "reply_failed")
		out.SendErr = err
		return out
	}
	logger.Info("reply sent", "completion", res.Kind, "reply_len", len(res.Text))
	metrics.IncEvent(ev.Platform, "relayed")
	return out
}

type requestIDKey struct{}

// WithRequestID tags ctx so that relay log lines carry the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}
