package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
)

// Fallback applies the relay's never-fail policy to a Completer: any error
// is replaced by a fixed reply text, and the error kind is kept in the
// Result so callers can still tell the two apart.
type Fallback struct {
	next   domain.Completer
	text   string
	logger *slog.Logger
}

func NewFallback(next domain.Completer, text string, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		next:   next,
		text:   text,
		logger: logger.With("component", "fallback", "completer", next.Name()),
	}
}

// Text returns the fallback reply.
func (f *Fallback) Text() string { return f.text }

// Complete never returns an error.
func (f *Fallback) Complete(ctx context.Context, prompt string) domain.Result {
	start := time.Now()
	resp, err := f.next.Complete(ctx, domain.CompletionRequest{Prompt: prompt})
	if err == nil && resp != nil {
		metrics.ObserveCompletion(domain.KindNone, time.Since(start))
		return domain.Result{Text: resp.Content, Kind: domain.KindNone}
	}
	if err == nil {
		err = &domain.CompletionError{Kind: domain.KindEmpty}
	}

	kind := domain.KindTransport
	var ce *domain.CompletionError
	if errors.As(err, &ce) {
		kind = ce.Kind
	} else if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.KindTimeout
	}
	metrics.ObserveCompletion(kind, time.Since(start))
	f.logger.Warn("completion failed, replying with fallback", "kind", kind, "err", err)
	return domain.Result{Text: f.text, Kind: kind, Err: err}
}
