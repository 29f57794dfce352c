package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"linerelay/internal/domain"
)

const (
	maxResponseBytes = 4 << 20
	maxErrorBodyLen  = 512
)

// OpenAI implements domain.Completer for OpenAI-compatible chat completion
// APIs. The relay points it at xAI's Grok endpoint by default.
type OpenAI struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type OpenAIConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Timeout time.Duration
	Client  *http.Client // optional; built from Timeout when nil
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.x.ai/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "grok-3-latest"
	}
	if cfg.Client == nil {
		cfg.Client = completionClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  cfg.Client,
		logger:  cfg.Logger.With("component", "completion"),
	}
}

// completionClient bounds a whole completion exchange, body read included,
// by timeout. Only a handful of idle connections to the single upstream are
// kept since calls are serialized per webhook event.
func completionClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = 4
	tr.ResponseHeaderTimeout = timeout
	return &http.Client{Timeout: timeout, Transport: tr}
}

func (o *OpenAI) Name() string { return "openai-compatible" }

// Model returns the default model sent with every request.
func (o *OpenAI) Model() string { return o.model }

// Healthy checks that the endpoint is reachable and accepts the key.
func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("completion API not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("completion API rejected the API key (%d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("completion API returned %d", resp.StatusCode)
	}
	return nil
}

type oaiRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// oaiReplyMessage keeps Content as a pointer so a missing or null field is
// told apart from an empty reply.
type oaiReplyMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type oaiResponse struct {
	Model   string      `json:"model"`
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
}

type oaiChoice struct {
	Message      oaiReplyMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Complete sends the prompt as a single user message. Every failure is
// returned as *domain.CompletionError.
func (o *OpenAI) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	jsonBody, err := json.Marshal(oaiRequest{
		Model:    model,
		Messages: []oaiMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return nil, &domain.CompletionError{Kind: domain.KindDecode, Err: fmt.Errorf("marshal: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, &domain.CompletionError{Kind: domain.KindTransport, Err: fmt.Errorf("new request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, &domain.CompletionError{Kind: transportKind(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return nil, &domain.CompletionError{
			Kind:       domain.KindStatus,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&oaiResp); err != nil {
		kind := domain.KindDecode
		// A deadline that fires mid-body surfaces here, not from Do.
		if k := transportKind(err); k == domain.KindTimeout {
			kind = k
		}
		return nil, &domain.CompletionError{Kind: kind, Err: fmt.Errorf("decode: %w", err)}
	}
	if len(oaiResp.Choices) == 0 || oaiResp.Choices[0].Message.Content == nil {
		return nil, &domain.CompletionError{Kind: domain.KindEmpty}
	}

	choice := oaiResp.Choices[0]
	latency := time.Since(start)
	o.logger.Debug("completion ok",
		"model", model,
		"finish_reason", choice.FinishReason,
		"total_tokens", oaiResp.Usage.TotalTokens,
		"latency", latency,
	)
	return &domain.CompletionResponse{
		Content:      *choice.Message.Content,
		Model:        oaiResp.Model,
		FinishReason: choice.FinishReason,
		Usage: domain.Usage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
		LatencyMs: latency.Milliseconds(),
	}, nil
}

// transportKind separates timeouts from other transport failures.
func transportKind(err error) domain.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.KindTimeout
	}
	return domain.KindTransport
}
