package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/pkg/logger"
	"github.com/doeshing/stm-gateway/internal/ports"
)

type stubConfigSource struct {
	cfg domain.AIConfig
	err error
}

func (s *stubConfigSource) AIConfig(context.Context) (domain.AIConfig, error) {
	return s.cfg, s.err
}

type stubAdapter struct {
	stream func(ctx context.Context, req domain.ChatRequest, emit ports.EmitFunc)
}

func (s *stubAdapter) Name() string { return "stub" }

func (s *stubAdapter) StreamChat(ctx context.Context, req domain.ChatRequest, _ domain.AIConfig, emit ports.EmitFunc) {
	s.stream(ctx, req, emit)
}

type stubResolver struct {
	adapter ports.ProviderAdapter
	err     error
}

func (s *stubResolver) ForProvider(domain.Provider) (ports.ProviderAdapter, error) {
	return s.adapter, s.err
}

func newTestService(adapter ports.ProviderAdapter) *Service {
	cfg := domain.AIConfig{}
	cfg.Provider = domain.ProviderOpenAICompat
	cfg.Model = "test-model"
	return NewService(&stubConfigSource{cfg: cfg}, &stubResolver{adapter: adapter}, logger.NewNop())
}

func collect(t *testing.T, events <-chan domain.StreamEvent) []domain.StreamEvent {
	t.Helper()
	var got []domain.StreamEvent
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d so far", len(got))
		}
	}
}

func TestStartStreamsDeltasThenDone(t *testing.T) {
	adapter := &stubAdapter{stream: func(_ context.Context, _ domain.ChatRequest, emit ports.EmitFunc) {
		emit(domain.Delta("hel"))
		emit(domain.Delta("lo"))
		emit(domain.Done(&domain.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}))
	}}
	svc := newTestService(adapter)

	id, events, err := svc.Start(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Fatal("expected a session id")
	}

	got := collect(t, events)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(got), got)
	}
	if got[0].Text != "hel" || got[1].Text != "lo" {
		t.Fatalf("unexpected deltas: %+v", got[:2])
	}
	if got[2].Type != domain.EventDone || got[2].Usage == nil || got[2].Usage.TotalTokens != 3 {
		t.Fatalf("unexpected terminal: %+v", got[2])
	}
	if len(svc.Active()) != 0 {
		t.Fatalf("session still registered after terminal: %v", svc.Active())
	}
}

func TestStartUnknownProviderStillReturnsID(t *testing.T) {
	svc := NewService(
		&stubConfigSource{cfg: domain.AIConfig{}},
		&stubResolver{err: errors.New("unknown provider: minimax")},
		logger.NewNop(),
	)

	id, events, err := svc.Start(context.Background(), domain.ChatRequest{})
	if err == nil {
		t.Fatal("expected an error for unknown provider")
	}
	if id == "" {
		t.Fatal("expected an id even on failure")
	}
	if events != nil {
		t.Fatal("expected no event channel on failure")
	}
	if len(svc.Active()) != 0 {
		t.Fatal("no session should be registered on failure")
	}
}

func TestCancelAbortsStream(t *testing.T) {
	started := make(chan struct{})
	adapter := &stubAdapter{stream: func(ctx context.Context, _ domain.ChatRequest, emit ports.EmitFunc) {
		close(started)
		<-ctx.Done()
		emit(domain.StreamError(domain.CodeCancelled, "Request cancelled"))
	}}
	svc := newTestService(adapter)

	id, events, err := svc.Start(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started

	if res := svc.Cancel(id); !res.OK {
		t.Fatalf("Cancel: %+v", res)
	}

	got := collect(t, events)
	if len(got) != 1 {
		t.Fatalf("expected exactly one terminal, got %d: %+v", len(got), got)
	}
	if got[0].Type != domain.EventError || got[0].Code != domain.CodeCancelled {
		t.Fatalf("unexpected terminal: %+v", got[0])
	}

	if res := svc.Cancel(id); res.OK || res.Reason != "not-found" {
		t.Fatalf("second cancel should report not-found, got %+v", res)
	}
}

func TestTimeoutEmitsTimeoutTerminal(t *testing.T) {
	adapter := &stubAdapter{stream: func(ctx context.Context, _ domain.ChatRequest, _ ports.EmitFunc) {
		<-ctx.Done()
	}}
	svc := newTestService(adapter)

	id, events, err := svc.Start(context.Background(), domain.ChatRequest{TimeoutMS: 50})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := collect(t, events)
	if len(got) != 1 {
		t.Fatalf("expected exactly one terminal, got %d: %+v", len(got), got)
	}
	if got[0].Code != domain.CodeTimeout || got[0].Message != "Request timeout" {
		t.Fatalf("unexpected terminal: %+v", got[0])
	}

	if res := svc.Cancel(id); res.OK || res.Reason != "not-found" {
		t.Fatalf("cancel after timeout should be not-found: %+v", res)
	}
	if len(svc.Active()) != 0 {
		t.Fatalf("session should be removed after timeout: %v", svc.Active())
	}
}

func TestLateEventsAfterTerminalAreDropped(t *testing.T) {
	adapter := &stubAdapter{stream: func(_ context.Context, _ domain.ChatRequest, emit ports.EmitFunc) {
		emit(domain.Done(nil))
		emit(domain.Delta("late"))
		emit(domain.Done(nil))
	}}
	svc := newTestService(adapter)

	_, events, err := svc.Start(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := collect(t, events)
	if len(got) != 1 || got[0].Type != domain.EventDone {
		t.Fatalf("expected a single done event, got %+v", got)
	}
}

func TestTerminalDeliveredWhenBufferOverflows(t *testing.T) {
	finished := make(chan struct{})
	adapter := &stubAdapter{stream: func(_ context.Context, _ domain.ChatRequest, emit ports.EmitFunc) {
		for i := 0; i < eventBufferSize+32; i++ {
			emit(domain.Delta("x"))
		}
		emit(domain.Done(nil))
		close(finished)
	}}
	svc := newTestService(adapter)

	_, events, err := svc.Start(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Let the adapter flood the buffer before anything is consumed.
	<-finished

	got := collect(t, events)
	if len(got) == 0 {
		t.Fatal("expected buffered events")
	}
	last := got[len(got)-1]
	if last.Type != domain.EventDone {
		t.Fatalf("last event must be the terminal, got %+v", last)
	}
	for _, ev := range got[:len(got)-1] {
		if ev.Terminal() {
			t.Fatalf("only the last event may be terminal, got %+v", ev)
		}
	}
	if len(svc.Active()) != 0 {
		t.Fatalf("session still registered after terminal: %v", svc.Active())
	}
}

func TestConcurrentSessionsAreIsolated(t *testing.T) {
	release := make(chan struct{})
	adapter := &stubAdapter{stream: func(ctx context.Context, _ domain.ChatRequest, emit ports.EmitFunc) {
		select {
		case <-release:
			emit(domain.Delta("ok"))
			emit(domain.Done(nil))
		case <-ctx.Done():
			emit(domain.StreamError(domain.CodeCancelled, "Request cancelled"))
		}
	}}
	svc := newTestService(adapter)

	idA, eventsA, err := svc.Start(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Start A: %v", err)
	}
	_, eventsB, err := svc.Start(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Start B: %v", err)
	}
	if len(svc.Active()) != 2 {
		t.Fatalf("expected 2 active sessions, got %v", svc.Active())
	}

	if res := svc.Cancel(idA); !res.OK {
		t.Fatalf("Cancel A: %+v", res)
	}
	close(release)

	gotA := collect(t, eventsA)
	if len(gotA) != 1 || gotA[0].Code != domain.CodeCancelled {
		t.Fatalf("session A should only see the cancellation, got %+v", gotA)
	}

	gotB := collect(t, eventsB)
	if len(gotB) != 2 || gotB[1].Type != domain.EventDone {
		t.Fatalf("session B should complete normally, got %+v", gotB)
	}
}

func TestAdapterPanicBecomesErrorEvent(t *testing.T) {
	adapter := &stubAdapter{stream: func(context.Context, domain.ChatRequest, ports.EmitFunc) {
		panic("boom")
	}}
	svc := newTestService(adapter)

	_, events, err := svc.Start(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := collect(t, events)
	if len(got) != 1 || got[0].Code != domain.CodeUnexpectedError {
		t.Fatalf("expected an unexpected_error terminal, got %+v", got)
	}
}

func TestResolveTimeout(t *testing.T) {
	cfg := domain.AIConfig{}
	cfg.TimeoutMS = 30_000

	cases := []struct {
		name string
		req  domain.ChatRequest
		cfg  domain.AIConfig
		want int
	}{
		{"system prompt hint wins", domain.ChatRequest{System: "Be brief. timeout:120000", TimeoutMS: 5000}, cfg, 120_000},
		{"request field", domain.ChatRequest{TimeoutMS: 5000}, cfg, 5000},
		{"config default", domain.ChatRequest{}, cfg, 30_000},
		{"builtin default", domain.ChatRequest{}, domain.AIConfig{}, defaultTimeoutMS},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveTimeout(tc.req, tc.cfg); got != tc.want {
				t.Fatalf("resolveTimeout = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestTestConnectionSuccess(t *testing.T) {
	adapter := &stubAdapter{stream: func(ctx context.Context, req domain.ChatRequest, emit ports.EmitFunc) {
		if req.MaxTokens != 5 {
			t.Errorf("probe should request 5 tokens, got %d", req.MaxTokens)
		}
		emit(domain.Delta("pong"))
		<-ctx.Done()
	}}
	svc := newTestService(adapter)

	res := svc.TestConnection(context.Background())
	if !res.OK || res.Message != "Connection successful" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.LatencyMS < 0 {
		t.Fatalf("negative latency: %d", res.LatencyMS)
	}
}

func TestTestConnectionFailure(t *testing.T) {
	adapter := &stubAdapter{stream: func(_ context.Context, _ domain.ChatRequest, emit ports.EmitFunc) {
		emit(domain.StreamError(domain.CodeAuthError, "bad key"))
	}}
	svc := newTestService(adapter)

	res := svc.TestConnection(context.Background())
	if res.OK || res.Message != "bad key" {
		t.Fatalf("unexpected result: %+v", res)
	}
}
