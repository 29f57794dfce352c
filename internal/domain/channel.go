package domain

import (
	"context"
	"errors"
	"net/http"
)

// ErrInvalidSignature is returned by Platform.Parse when the webhook
// signature is missing or does not match the body.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Platform is a messaging platform the relay receives webhooks from and
// replies to (LINE, Telegram).
type Platform interface {
	Name() string
	// Path is the HTTP path the platform posts webhooks to.
	Path() string
	// Parse verifies the signature carried in header against body and
	// returns the text events it contains. It must not look at body
	// before the signature is verified.
	Parse(header http.Header, body []byte) ([]InboundEvent, error)
	// Send delivers a reply for a previously parsed event.
	Send(ctx context.Context, reply Reply) error
}
