// Package chat owns the registry of in-flight streaming sessions: it issues
// session ids, wires timeout and cancellation, and routes adapter events to
// the calling surface through a per-session channel.
package chat

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/ports"
)

const (
	defaultTimeoutMS = 60_000
	eventBufferSize  = 256
)

var (
	errTimeout    = errors.New("timeout")
	errUserCancel = errors.New("user-cancel")

	// The UI embeds a per-request timeout hint in the system prompt.
	timeoutHintRE = regexp.MustCompile(`timeout:(\d+)`)
)

type session struct {
	id     string
	events chan domain.StreamEvent
	cancel context.CancelCauseFunc
	timer  *time.Timer
}

// Service is the stream session manager. Many sessions may be active at
// once; the registry is the only shared state and is guarded by mu.
type Service struct {
	Config   ports.ProviderConfigSource
	Adapters ports.AdapterResolver
	Logger   *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*session
	newID    func() string
}

// NewService builds a session manager.
func NewService(config ports.ProviderConfigSource, adapters ports.AdapterResolver, log *logrus.Logger) *Service {
	return &Service{
		Config:   config,
		Adapters: adapters,
		Logger:   log,
		sessions: make(map[string]*session),
		newID:    uuid.NewString,
	}
}

// Start begins a streaming chat session and returns immediately. Events are
// delivered on the returned channel in stream order, ending with exactly one
// terminal event, after which the channel closes. An unknown provider returns
// the allocated id and an error without creating a session.
func (s *Service) Start(ctx context.Context, req domain.ChatRequest) (string, <-chan domain.StreamEvent, error) {
	id := s.newID()

	cfg, err := s.Config.AIConfig(ctx)
	if err != nil {
		return id, nil, err
	}
	adapter, err := s.Adapters.ForProvider(cfg.Provider)
	if err != nil {
		return id, nil, err
	}

	if req.Model == "" {
		req.Model = cfg.Model
	}
	timeoutMS := resolveTimeout(req, cfg)
	req.TimeoutMS = timeoutMS

	streamCtx, cancel := context.WithCancelCause(context.Background())
	sess := &session{
		id:     id,
		events: make(chan domain.StreamEvent, eventBufferSize),
		cancel: cancel,
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	sess.timer = time.AfterFunc(time.Duration(timeoutMS)*time.Millisecond, func() {
		s.expire(id)
	})

	s.Logger.WithFields(logrus.Fields{
		"session":   id,
		"provider":  cfg.Provider,
		"model":     req.Model,
		"timeoutMs": timeoutMS,
	}).Info("stream session started")

	go s.run(streamCtx, sess, adapter, req, cfg)
	return id, sess.events, nil
}

func (s *Service) run(ctx context.Context, sess *session, adapter ports.ProviderAdapter, req domain.ChatRequest, cfg domain.AIConfig) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.WithField("session", sess.id).WithField("panic", r).Error("adapter panicked")
			s.deliver(sess.id, domain.StreamError(domain.CodeUnexpectedError, "adapter failure"))
		}
	}()
	adapter.StreamChat(ctx, req, cfg, func(ev domain.StreamEvent) {
		s.deliver(sess.id, ev)
	})
}

// deliver routes one event to its session. The first terminal event removes
// the session, stops its timer, and closes the channel; anything arriving
// for an already-removed session is dropped silently. This single gate
// settles the race between natural completion, explicit cancel, and timeout:
// whichever terminal lands first wins.
func (s *Service) deliver(id string, ev domain.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return
	}

	// Send and close both happen under the lock so a concurrent delta can
	// never hit a closed channel. The send never blocks.
	select {
	case sess.events <- ev:
	default:
		if ev.Terminal() {
			// The terminal must land before the channel closes. deliver is
			// the only sender, so evicting one buffered event guarantees a
			// free slot.
			select {
			case <-sess.events:
			default:
			}
			sess.events <- ev
			s.Logger.WithField("session", id).Warn("event channel full, evicted an event for the terminal")
		} else {
			s.Logger.WithField("session", id).Warn("event channel full, dropping event")
		}
	}

	if ev.Terminal() {
		delete(s.sessions, id)
		if sess.timer != nil {
			sess.timer.Stop()
		}
		close(sess.events)
	}
}

// Cancel aborts an in-flight session. Cancelling an unknown or already
// finished id reports not-found without error.
func (s *Service) Cancel(id string) domain.CancelResult {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return domain.CancelResult{OK: false, Reason: "not-found"}
	}

	sess.cancel(errUserCancel)
	s.deliver(id, domain.StreamError(domain.CodeCancelled, "Request cancelled"))
	s.Logger.WithField("session", id).Info("stream session cancelled")
	return domain.CancelResult{OK: true}
}

// expire fires when a session outlives its deadline: it aborts the adapter
// and emits the timeout terminal. A session that already finished is left
// alone.
func (s *Service) expire(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	sess.cancel(errTimeout)
	s.deliver(id, domain.StreamError(domain.CodeTimeout, "Request timeout"))
	s.Logger.WithField("session", id).Warn("stream session timed out")
}

// Active returns the ids of sessions that have not yet delivered a terminal
// event.
func (s *Service) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// TestConnection issues a minimal probe against the configured provider and
// aborts as soon as the first delta or done event arrives, reporting the
// round-trip latency.
func (s *Service) TestConnection(ctx context.Context) domain.ConnectionTestResult {
	start := time.Now()

	cfg, err := s.Config.AIConfig(ctx)
	if err != nil {
		return domain.ConnectionTestResult{OK: false, Message: err.Error()}
	}
	adapter, err := s.Adapters.ForProvider(cfg.Provider)
	if err != nil {
		return domain.ConnectionTestResult{OK: false, Message: err.Error()}
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var (
		received bool
		failure  string
	)
	adapter.StreamChat(probeCtx, domain.ChatRequest{
		Messages:  []domain.ChatMessage{{Role: domain.RoleUser, Content: "test"}},
		Model:     cfg.Model,
		MaxTokens: 5,
	}, cfg, func(ev domain.StreamEvent) {
		switch ev.Type {
		case domain.EventDelta, domain.EventDone:
			if !received {
				received = true
				cancel()
			}
		case domain.EventError:
			if ev.Code != domain.CodeCancelled && failure == "" {
				failure = ev.Message
			}
		}
	})

	latency := time.Since(start).Milliseconds()
	switch {
	case received:
		return domain.ConnectionTestResult{OK: true, Message: "Connection successful", LatencyMS: latency}
	case failure != "":
		return domain.ConnectionTestResult{OK: false, Message: failure, LatencyMS: latency}
	default:
		return domain.ConnectionTestResult{OK: false, Message: "No response from provider", LatencyMS: latency}
	}
}

// resolveTimeout picks the session deadline: an explicit hint embedded in
// the system prompt wins, then the request field, then the configured
// provider default.
func resolveTimeout(req domain.ChatRequest, cfg domain.AIConfig) int {
	if m := timeoutHintRE.FindStringSubmatch(req.System); m != nil {
		if ms, err := strconv.Atoi(m[1]); err == nil && ms > 0 {
			return ms
		}
	}
	if req.TimeoutMS > 0 {
		return req.TimeoutMS
	}
	if cfg.TimeoutMS > 0 {
		return cfg.TimeoutMS
	}
	return defaultTimeoutMS
}
