package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
	"linerelay/internal/provider"
)

const fallbackText = "the assistant is temporarily unavailable"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePlatform records replies instead of sending them.
type fakePlatform struct {
	mu      sync.Mutex
	name    string
	sendErr error
	replies []domain.Reply
}

func (f *fakePlatform) Name() string { return f.name }
func (f *fakePlatform) Path() string { return "/" + f.name }
func (f *fakePlatform) Parse(http.Header, []byte) ([]domain.InboundEvent, error) {
	return nil, nil
}

func (f *fakePlatform) Send(ctx context.Context, reply domain.Reply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, reply)
	return f.sendErr
}

type countingAnswerer struct {
	calls   int
	prompts []string
	result  domain.Result
}

func (c *countingAnswerer) Complete(ctx context.Context, prompt string) domain.Result {
	c.calls++
	c.prompts = append(c.prompts, prompt)
	return c.result
}

func lineEvent(text string) domain.InboundEvent {
	return domain.InboundEvent{Platform: "line", ReplyToken: "tok-1", SenderID: "U1", Text: text}
}

func TestHandle_OneCompletionOneReply(t *testing.T) {
	ans := &countingAnswerer{result: domain.Result{Text: "hi there", Kind: domain.KindNone}}
	line := &fakePlatform{name: "line"}
	r := New(Config{Answerer: ans, Platforms: []domain.Platform{line}, Logger: testLogger()})

	out := r.Handle(context.Background(), lineEvent("hello"))

	if ans.calls != 1 || ans.prompts[0] != "hello" {
		t.Fatalf("completion calls = %d prompts = %v", ans.calls, ans.prompts)
	}
	if len(line.replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(line.replies))
	}
	if got := line.replies[0]; got.ReplyToken != "tok-1" || got.Text != "hi there" {
		t.Errorf("reply = %+v", got)
	}
	if out.Skipped || out.SendErr != nil || out.Reply.Text != "hi there" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestHandle_EmptyTextSkipped(t *testing.T) {
	ans := &countingAnswerer{}
	line := &fakePlatform{name: "line"}
	r := New(Config{Answerer: ans, Platforms: []domain.Platform{line}, Logger: testLogger()})

	out := r.Handle(context.Background(), lineEvent(""))
	if !out.Skipped {
		t.Error("expected skipped outcome")
	}
	if ans.calls != 0 || len(line.replies) != 0 {
		t.Errorf("calls = %d replies = %d, want none", ans.calls, len(line.replies))
	}
}

func TestHandle_UnknownPlatform(t *testing.T) {
	ans := &countingAnswerer{}
	r := New(Config{Answerer: ans, Logger: testLogger()})

	out := r.Handle(context.Background(), lineEvent("hello"))
	if !out.Skipped || out.SendErr == nil {
		t.Errorf("outcome = %+v", out)
	}
	if ans.calls != 0 {
		t.Errorf("completion called for unroutable event")
	}
}

func TestHandle_SendErrorIsReported(t *testing.T) {
	before := testutil.ToFloat64(metrics.ReplyErrors.WithLabelValues("line"))
	relayedBefore := testutil.ToFloat64(metrics.Events.WithLabelValues("line", "relayed"))
	failedBefore := testutil.ToFloat64(metrics.Events.WithLabelValues("line", "reply_failed"))

	sendErr := errors.New("invalid reply token")
	ans := &countingAnswerer{result: domain.Result{Text: "hi there"}}
	line := &fakePlatform{name: "line", sendErr: sendErr}
	r := New(Config{Answerer: ans, Platforms: []domain.Platform{line}, Logger: testLogger()})

	out := r.Handle(context.Background(), lineEvent("hello"))
	if !errors.Is(out.SendErr, sendErr) {
		t.Errorf("SendErr = %v", out.SendErr)
	}
	if after := testutil.ToFloat64(metrics.ReplyErrors.WithLabelValues("line")); after != before+1 {
		t.Errorf("reply errors = %v, want %v", after, before+1)
	}
	if got := testutil.ToFloat64(metrics.Events.WithLabelValues("line", "reply_failed")); got != failedBefore+1 {
		t.Errorf("reply_failed events = %v, want %v", got, failedBefore+1)
	}
	if got := testutil.ToFloat64(metrics.Events.WithLabelValues("line", "relayed")); got != relayedBefore {
		t.Errorf("relayed events = %v, want unchanged %v", got, relayedBefore)
	}
}

func TestHandle_RoutesByPlatform(t *testing.T) {
	ans := &countingAnswerer{result: domain.Result{Text: "ok"}}
	line := &fakePlatform{name: "line"}
	tg := &fakePlatform{name: "telegram"}
	r := New(Config{Answerer: ans, Platforms: []domain.Platform{line, tg}, Logger: testLogger()})

	r.Handle(context.Background(), domain.InboundEvent{Platform: "telegram", ReplyToken: "1:2", Text: "hey"})
	if len(tg.replies) != 1 || len(line.replies) != 0 {
		t.Errorf("telegram=%d line=%d", len(tg.replies), len(line.replies))
	}
	if tg.replies[0].ReplyToken != "1:2" {
		t.Errorf("reply token = %q", tg.replies[0].ReplyToken)
	}
}

// The two end-to-end scenarios: a healthy completion API and one that hangs.

func newCompletionServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newScenarioRelay(apiBase string, timeout time.Duration, p domain.Platform) *Relay {
	client := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  "test-key",
		APIBase: apiBase,
		Timeout: timeout,
		Logger:  testLogger(),
	})
	return New(Config{
		Answerer:  provider.NewFallback(client, fallbackText, testLogger()),
		Platforms: []domain.Platform{p},
		Logger:    testLogger(),
	})
}

func TestScenario_HelloHiThere(t *testing.T) {
	srv := newCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"hi there"}}]}`))
	})
	line := &fakePlatform{name: "line"}

	out := newScenarioRelay(srv.URL, time.Second, line).Handle(context.Background(), lineEvent("hello"))

	if len(line.replies) != 1 || line.replies[0].Text != "hi there" {
		t.Fatalf("replies = %+v", line.replies)
	}
	if out.Completion.Fallback() {
		t.Errorf("unexpected fallback: %+v", out.Completion)
	}
}

func TestScenario_TimeoutRepliesWithFallback(t *testing.T) {
	release := make(chan struct{})
	srv := newCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	line := &fakePlatform{name: "line"}

	out := newScenarioRelay(srv.URL, 50*time.Millisecond, line).Handle(context.Background(), lineEvent("hello"))

	if len(line.replies) != 1 || line.replies[0].Text != fallbackText {
		t.Fatalf("replies = %+v", line.replies)
	}
	if out.Completion.Kind != domain.KindTimeout {
		t.Errorf("kind = %s, want timeout", out.Completion.Kind)
	}
}

func TestScenario_UpstreamErrorRepliesWithFallback(t *testing.T) {
	srv := newCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	line := &fakePlatform{name: "line"}

	newScenarioRelay(srv.URL, time.Second, line).Handle(context.Background(), lineEvent("hello"))

	if len(line.replies) != 1 || line.replies[0].Text != fallbackText {
		t.Fatalf("replies = %+v", line.replies)
	}
}
