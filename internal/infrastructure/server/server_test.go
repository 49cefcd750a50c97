package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/doeshing/stm-gateway/internal/application/chat"
	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/infrastructure/audit"
	"github.com/doeshing/stm-gateway/internal/infrastructure/command"
	"github.com/doeshing/stm-gateway/internal/infrastructure/config"
	"github.com/doeshing/stm-gateway/internal/infrastructure/permission"
	"github.com/doeshing/stm-gateway/internal/pkg/logger"
	"github.com/doeshing/stm-gateway/internal/ports"
)

type stubAdapter struct {
	stream func(ctx context.Context, req domain.ChatRequest, emit ports.EmitFunc)
}

func (s *stubAdapter) Name() string { return "stub" }

func (s *stubAdapter) StreamChat(ctx context.Context, req domain.ChatRequest, _ domain.AIConfig, emit ports.EmitFunc) {
	s.stream(ctx, req, emit)
}

type stubResolver struct {
	adapter ports.ProviderAdapter
}

func (s *stubResolver) ForProvider(domain.Provider) (ports.ProviderAdapter, error) {
	return s.adapter, nil
}

type stubSecrets struct {
	values map[string]string
}

func (s *stubSecrets) Get(provider, kind string) (string, error) {
	return s.values[provider+":"+kind], nil
}
func (s *stubSecrets) Set(provider, kind, value string) error {
	s.values[provider+":"+kind] = value
	return nil
}
func (s *stubSecrets) Delete(provider, kind string) error {
	delete(s.values, provider+":"+kind)
	return nil
}
func (s *stubSecrets) Status(provider string) (domain.SecretStatus, error) {
	return domain.SecretStatus{
		Provider:  provider,
		HasAPIKey: s.values[provider+":apiKey"] != "",
	}, nil
}

type fixture struct {
	server *Server
	ts     *httptest.Server
	perms  *permission.Engine
}

func newFixture(t *testing.T, adapter ports.ProviderAdapter) *fixture {
	t.Helper()
	log := logger.NewNop()
	dir := t.TempDir()

	loader, err := config.NewFileLoader(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("NewFileLoader: %v", err)
	}
	secrets := &stubSecrets{values: map[string]string{}}
	cfgSvc := config.NewService(loader, secrets)

	chatSvc := chat.NewService(cfgSvc, &stubResolver{adapter: adapter}, log)
	perms := permission.NewEngine(permission.NewMemoryStore(), nil, log)
	auditLog := audit.NewLog(filepath.Join(dir, "audit"))
	executor := command.NewExecutor(perms, auditLog, log)

	srv := New(chatSvc, executor, perms, cfgSvc, secrets, auditLog, log)
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)
	return &fixture{server: srv, ts: ts, perms: perms}
}

func postJSON(t *testing.T, url string, body interface{}, out interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func TestStreamThenEvents(t *testing.T) {
	adapter := &stubAdapter{stream: func(_ context.Context, _ domain.ChatRequest, emit ports.EmitFunc) {
		emit(domain.Delta("hel"))
		emit(domain.Delta("lo"))
		emit(domain.Done(nil))
	}}
	fx := newFixture(t, adapter)

	var started streamStartResponse
	postJSON(t, fx.ts.URL+"/api/ai/stream", domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
	}, &started)
	if started.ID == "" || started.Error != "" {
		t.Fatalf("unexpected start response: %+v", started)
	}

	resp, err := http.Get(fx.ts.URL + "/api/ai/events/" + started.ID)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type: %q", ct)
	}

	var events []domain.StreamEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev domain.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode frame %q: %v", line, err)
		}
		events = append(events, ev)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 frames, got %+v", events)
	}
	if events[0].Text+events[1].Text != "hello" || events[2].Type != domain.EventDone {
		t.Fatalf("unexpected frames: %+v", events)
	}
}

func TestEventsUnknownSession(t *testing.T) {
	fx := newFixture(t, &stubAdapter{stream: func(_ context.Context, _ domain.ChatRequest, emit ports.EmitFunc) {
		emit(domain.Done(nil))
	}})

	resp, err := http.Get(fx.ts.URL + "/api/ai/events/nope")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCancelEndpoint(t *testing.T) {
	started := make(chan struct{})
	adapter := &stubAdapter{stream: func(ctx context.Context, _ domain.ChatRequest, _ ports.EmitFunc) {
		close(started)
		<-ctx.Done()
	}}
	fx := newFixture(t, adapter)

	var startResp streamStartResponse
	postJSON(t, fx.ts.URL+"/api/ai/stream", domain.ChatRequest{}, &startResp)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("adapter never started")
	}

	var cancelResp domain.CancelResult
	postJSON(t, fx.ts.URL+"/api/ai/cancel", map[string]string{"id": startResp.ID}, &cancelResp)
	if !cancelResp.OK {
		t.Fatalf("cancel failed: %+v", cancelResp)
	}

	postJSON(t, fx.ts.URL+"/api/ai/cancel", map[string]string{"id": startResp.ID}, &cancelResp)
	if cancelResp.OK || cancelResp.Reason != "not-found" {
		t.Fatalf("second cancel should be not-found: %+v", cancelResp)
	}
}

func TestExecDeniedByDefault(t *testing.T) {
	fx := newFixture(t, &stubAdapter{})

	var result domain.CommandResult
	postJSON(t, fx.ts.URL+"/api/fs/exec", domain.Command{Type: domain.CommandDelete, Target: "/tmp/x"}, &result)
	if result.OK || result.Detail != "Permission denied" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestPermissionCheckAndRules(t *testing.T) {
	fx := newFixture(t, &stubAdapter{})
	if err := fx.perms.Grant(domain.DomainFSRead, "/home/*", true); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	var check map[string]bool
	getJSON(t, fx.ts.URL+"/api/permission/check?domain=fs.read&scope=/home/u/f", &check)
	if !check["granted"] {
		t.Fatalf("expected granted, got %+v", check)
	}
	getJSON(t, fx.ts.URL+"/api/permission/check?domain=fs.read&scope=/etc/passwd", &check)
	if check["granted"] {
		t.Fatalf("expected denied, got %+v", check)
	}

	var rules []domain.PermissionRule
	getJSON(t, fx.ts.URL+"/api/permission/rules", &rules)
	if len(rules) != 1 || rules[0].Scope != "/home/*" {
		t.Fatalf("unexpected rules: %+v", rules)
	}
}

func TestSecretPutAndStatus(t *testing.T) {
	fx := newFixture(t, &stubAdapter{})

	var ok map[string]bool
	resp := postJSONMethod(t, http.MethodPut, fx.ts.URL+"/api/secret", domain.SecretSetRequest{
		Provider: "anthropic", Kind: "apiKey", Value: "sk-ant",
	}, &ok)
	if resp.StatusCode != http.StatusOK || !ok["ok"] {
		t.Fatalf("put failed: %d %+v", resp.StatusCode, ok)
	}

	var status domain.SecretStatus
	getJSON(t, fx.ts.URL+"/api/secret/status/anthropic", &status)
	if !status.HasAPIKey {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func postJSONMethod(t *testing.T, method, url string, body interface{}, out interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func TestConfigGetAndPatch(t *testing.T) {
	fx := newFixture(t, &stubAdapter{})

	var cfg domain.Config
	getJSON(t, fx.ts.URL+"/api/config", &cfg)
	if cfg.AI.Provider != domain.ProviderOpenAICompat {
		t.Fatalf("unexpected default config: %+v", cfg.AI)
	}

	ai := cfg.AI
	ai.Provider = domain.ProviderGemini
	var patched domain.Config
	resp := postJSONMethod(t, http.MethodPatch, fx.ts.URL+"/api/config", domain.ConfigPatch{AI: &ai}, &patched)
	if resp.StatusCode != http.StatusOK || patched.AI.Provider != domain.ProviderGemini {
		t.Fatalf("patch failed: %d %+v", resp.StatusCode, patched.AI)
	}
}

func TestStatusReportsActiveSessions(t *testing.T) {
	release := make(chan struct{})
	adapter := &stubAdapter{stream: func(ctx context.Context, _ domain.ChatRequest, emit ports.EmitFunc) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		emit(domain.Done(nil))
	}}
	fx := newFixture(t, adapter)
	defer close(release)

	var started streamStartResponse
	postJSON(t, fx.ts.URL+"/api/ai/stream", domain.ChatRequest{}, &started)

	var status struct {
		Active   []string `json:"active"`
		Sessions int      `json:"sessions"`
	}
	getJSON(t, fx.ts.URL+"/api/status", &status)
	if status.Sessions != 1 || len(status.Active) != 1 || status.Active[0] != started.ID {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestAuditEndpointAfterExec(t *testing.T) {
	fx := newFixture(t, &stubAdapter{})

	var result domain.CommandResult
	postJSON(t, fx.ts.URL+"/api/fs/exec", domain.Command{Type: domain.CommandDelete, Target: "/tmp/x"}, &result)

	date := time.Now().UTC().Format("2006-01-02")
	var entries []domain.AuditEntry
	getJSON(t, fmt.Sprintf("%s/api/audit/%s", fx.ts.URL, date), &entries)
	if len(entries) != 1 || entries[0].Result != domain.AuditFailure {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}
}
