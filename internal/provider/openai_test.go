package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"linerelay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOpenAI(url string, timeout time.Duration) *OpenAI {
	return NewOpenAI(OpenAIConfig{
		APIKey:  "test-key",
		APIBase: url,
		Model:   "grok-3-latest",
		Timeout: timeout,
		Logger:  testLogger(),
	})
}

func completionError(t *testing.T, err error) *domain.CompletionError {
	t.Helper()
	var ce *domain.CompletionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *domain.CompletionError, got %T: %v", err, err)
	}
	return ce
}

func TestOpenAI_Complete_SendsContractRequest(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"hi there"}}]}`))
	}))
	defer srv.Close()

	resp, err := newTestOpenAI(srv.URL+"/v1", 0).Complete(context.Background(), domain.CompletionRequest{Prompt: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi there" {
		t.Errorf("content = %q, want %q", resp.Content, "hi there")
	}
	if got.Model != "grok-3-latest" {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestOpenAI_Complete_ContentIsByteExact(t *testing.T) {
	content := "  多行\n回覆 🚀 \"quoted\"\t"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]any{
			"model":   "grok-3",
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
			"usage":   map[string]int{"total_tokens": 12},
		})
		w.Write(body)
	}))
	defer srv.Close()

	resp, err := newTestOpenAI(srv.URL, 0).Complete(context.Background(), domain.CompletionRequest{Prompt: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != content {
		t.Errorf("content = %q, want %q", resp.Content, content)
	}
	if resp.FinishReason != "stop" || resp.Usage.TotalTokens != 12 {
		t.Errorf("metadata = %+v", resp)
	}
}

func TestOpenAI_Complete_ModelOverride(t *testing.T) {
	var model string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body oaiRequest
		json.NewDecoder(r.Body).Decode(&body)
		model = body.Model
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	if _, err := newTestOpenAI(srv.URL, 0).Complete(context.Background(), domain.CompletionRequest{Prompt: "x", Model: "grok-4"}); err != nil {
		t.Fatal(err)
	}
	if model != "grok-4" {
		t.Errorf("model = %q, want grok-4", model)
	}
}

func TestOpenAI_Complete_ErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   domain.ErrorKind
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, domain.KindStatus},
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, domain.KindStatus},
		{"rate limited", http.StatusTooManyRequests, ``, domain.KindStatus},
		{"not json", http.StatusOK, `<html>oops</html>`, domain.KindDecode},
		{"no choices", http.StatusOK, `{"choices":[]}`, domain.KindEmpty},
		{"missing content", http.StatusOK, `{"choices":[{"message":{"role":"assistant"}}]}`, domain.KindEmpty},
		{"null content", http.StatusOK, `{"choices":[{"message":{"content":null}}]}`, domain.KindEmpty},
		{"missing choices", http.StatusOK, `{"id":"x"}`, domain.KindEmpty},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newTestOpenAI(srv.URL, 0).Complete(context.Background(), domain.CompletionRequest{Prompt: "x"})
			ce := completionError(t, err)
			if ce.Kind != tc.kind {
				t.Errorf("kind = %s, want %s (err: %v)", ce.Kind, tc.kind, err)
			}
			if tc.kind == domain.KindStatus && ce.StatusCode != tc.status {
				t.Errorf("status = %d, want %d", ce.StatusCode, tc.status)
			}
		})
	}
}

func TestOpenAI_Complete_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestOpenAI(srv.URL, 50*time.Millisecond).Complete(context.Background(), domain.CompletionRequest{Prompt: "x"})
	if ce := completionError(t, err); ce.Kind != domain.KindTimeout {
		t.Errorf("kind = %s, want timeout (err: %v)", ce.Kind, err)
	}
}

func TestOpenAI_Complete_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestOpenAI(srv.URL, time.Minute).Complete(ctx, domain.CompletionRequest{Prompt: "x"})
	if ce := completionError(t, err); ce.Kind != domain.KindTimeout {
		t.Errorf("kind = %s, want timeout (err: %v)", ce.Kind, err)
	}
}

func TestOpenAI_Complete_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestOpenAI(url, time.Second).Complete(context.Background(), domain.CompletionRequest{Prompt: "x"})
	if ce := completionError(t, err); ce.Kind != domain.KindTransport {
		t.Errorf("kind = %s, want transport (err: %v)", ce.Kind, err)
	}
}

func TestOpenAI_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	if err := newTestOpenAI(srv.URL, time.Second).Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}

	bad := NewOpenAI(OpenAIConfig{APIKey: "wrong", APIBase: srv.URL, Logger: testLogger()})
	if err := bad.Healthy(context.Background()); err == nil {
		t.Fatal("expected error for rejected key")
	}
}

func TestCompletionClient_Timeout(t *testing.T) {
	if c := completionClient(0); c.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v", c.Timeout)
	}
	c := completionClient(5 * time.Second)
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport = %T", c.Transport)
	}
	if c.Timeout != 5*time.Second || tr.ResponseHeaderTimeout != 5*time.Second {
		t.Errorf("timeout = %v header timeout = %v", c.Timeout, tr.ResponseHeaderTimeout)
	}
}
