package domain

import (
	"context"
	"fmt"
)

// Completer turns a prompt into generated reply text.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Name() string
}

type CompletionRequest struct {
	Prompt string
	Model  string // optional: overrides the completer's default model
}

type CompletionResponse struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
	LatencyMs    int64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorKind classifies why a completion call produced no usable reply.
type ErrorKind string

const (
	KindNone      ErrorKind = "ok"
	KindTransport ErrorKind = "transport"
	KindTimeout   ErrorKind = "timeout"
	KindStatus    ErrorKind = "status"
	KindDecode    ErrorKind = "decode"
	KindEmpty     ErrorKind = "empty"
)

// CompletionError is the error type returned by Completer implementations.
type CompletionError struct {
	Kind       ErrorKind
	StatusCode int    // set for KindStatus
	Body       string // truncated upstream body for KindStatus
	Err        error
}

func (e *CompletionError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("completion %s: HTTP %d: %s", e.Kind, e.StatusCode, e.Body)
	case KindEmpty:
		return "completion empty: response has no choices[0].message.content"
	}
	if e.Err == nil {
		return fmt.Sprintf("completion %s", e.Kind)
	}
	return fmt.Sprintf("completion %s: %v", e.Kind, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// Result is the outcome of a completion under the fallback policy. Text is
// always safe to relay: it is either the generated reply or the fallback.
type Result struct {
	Text string
	Kind ErrorKind
	Err  error
}

// Fallback reports whether Text is the fallback string.
func (r Result) Fallback() bool {
	return r.Kind != KindNone
}
