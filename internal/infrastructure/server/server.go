// Package server exposes the gateway over a local HTTP API: streaming chat
// with server-sent events, cancellation, command execution, permissions,
// configuration and secrets.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/doeshing/stm-gateway/internal/application/chat"
	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/infrastructure/audit"
	"github.com/doeshing/stm-gateway/internal/infrastructure/command"
	"github.com/doeshing/stm-gateway/internal/infrastructure/config"
	"github.com/doeshing/stm-gateway/internal/infrastructure/permission"
	"github.com/doeshing/stm-gateway/internal/ports"
)

// pendingTTL bounds how long a started stream waits for its events endpoint
// to attach before the session is cancelled and the channel discarded.
const pendingTTL = 60 * time.Second

// Server wires the application services to the HTTP surface.
type Server struct {
	echo     *echo.Echo
	chat     *chat.Service
	executor *command.Executor
	perms    *permission.Engine
	config   *config.Service
	secrets  ports.SecretStore
	audit    *audit.Log
	log      *logrus.Logger

	mu      sync.Mutex
	pending map[string]<-chan domain.StreamEvent
}

// New assembles the server and registers all routes.
func New(chatSvc *chat.Service, executor *command.Executor, perms *permission.Engine, cfg *config.Service, secrets ports.SecretStore, auditLog *audit.Log, log *logrus.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		chat:     chatSvc,
		executor: executor,
		perms:    perms,
		config:   cfg,
		secrets:  secrets,
		audit:    auditLog,
		log:      log,
		pending:  make(map[string]<-chan domain.StreamEvent),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.echo.Group("/api")

	api.POST("/ai/stream", s.handleStream)
	api.GET("/ai/events/:id", s.handleEvents)
	api.POST("/ai/cancel", s.handleCancel)

	api.POST("/fs/exec", s.handleExec)

	api.POST("/permission/request", s.handlePermissionRequest)
	api.GET("/permission/check", s.handlePermissionCheck)
	api.GET("/permission/rules", s.handlePermissionRules)

	api.GET("/config", s.handleConfigGet)
	api.PATCH("/config", s.handleConfigPatch)
	api.GET("/config/export", s.handleConfigExport)
	api.GET("/config/test", s.handleConfigTest)
	api.POST("/config/profiles", s.handleProfileSave)
	api.POST("/config/profiles/:id/apply", s.handleProfileApply)
	api.DELETE("/config/profiles/:id", s.handleProfileDelete)

	api.PUT("/secret", s.handleSecretPut)
	api.GET("/secret/status/:provider", s.handleSecretStatus)

	api.GET("/audit/:date", s.handleAuditRead)

	api.GET("/status", s.handleStatus)
}

// Start blocks serving on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.WithField("addr", addr).Info("http server listening")
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type streamStartResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// handleStream starts a session and parks its event channel until the client
// attaches to /api/ai/events/:id. A channel never claimed within pendingTTL
// is reaped and its session cancelled.
func (s *Server) handleStream(c echo.Context) error {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, streamStartResponse{Error: "invalid request body"})
	}

	id, events, err := s.chat.Start(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusOK, streamStartResponse{ID: id, Error: err.Error()})
	}

	s.mu.Lock()
	s.pending[id] = events
	s.mu.Unlock()

	time.AfterFunc(pendingTTL, func() {
		s.mu.Lock()
		_, orphaned := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()
		if orphaned {
			s.chat.Cancel(id)
			s.log.WithField("session", id).Warn("stream never attached, session reaped")
		}
	})

	return c.JSON(http.StatusOK, streamStartResponse{ID: id})
}

func (s *Server) claim(id string) (<-chan domain.StreamEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return events, ok
}

// handleEvents replays one session's events as SSE data frames and closes
// after the terminal event. Client disconnect cancels the session.
func (s *Server) handleEvents(c echo.Context) error {
	id := c.Param("id")
	events, ok := s.claim(id)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not-found"})
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	clientGone := c.Request().Context().Done()
	for {
		select {
		case ev, open := <-events:
			if !open {
				return nil
			}
			frame, err := json.Marshal(ev)
			if err != nil {
				s.log.WithError(err).Error("encode stream event")
				continue
			}
			fmt.Fprintf(resp, "data: %s\n\n", frame)
			resp.Flush()
			if ev.Terminal() {
				return nil
			}
		case <-clientGone:
			s.chat.Cancel(id)
			return nil
		}
	}
}

func (s *Server) handleCancel(c echo.Context) error {
	var body struct {
		ID string `json:"id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	// Drop any unclaimed channel so the reaper does not double-cancel.
	s.mu.Lock()
	delete(s.pending, body.ID)
	s.mu.Unlock()
	return c.JSON(http.StatusOK, s.chat.Cancel(body.ID))
}

func (s *Server) handleExec(c echo.Context) error {
	var cmd domain.Command
	if err := c.Bind(&cmd); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	return c.JSON(http.StatusOK, s.executor.Execute(cmd))
}

func (s *Server) handlePermissionRequest(c echo.Context) error {
	var req domain.PermissionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	resp, err := s.perms.Resolve(req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePermissionCheck(c echo.Context) error {
	dom := domain.PermissionDomain(c.QueryParam("domain"))
	scope := c.QueryParam("scope")
	return c.JSON(http.StatusOK, map[string]bool{"granted": s.perms.Check(dom, scope)})
}

func (s *Server) handlePermissionRules(c echo.Context) error {
	rules, err := s.perms.List()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if rules == nil {
		rules = []domain.PermissionRule{}
	}
	return c.JSON(http.StatusOK, rules)
}

func (s *Server) handleConfigGet(c echo.Context) error {
	cfg, err := s.config.Get(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleConfigPatch(c echo.Context) error {
	var patch domain.ConfigPatch
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	cfg, err := s.config.Patch(c.Request().Context(), patch)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleConfigExport(c echo.Context) error {
	cfg, err := s.config.Export(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleConfigTest(c echo.Context) error {
	return c.JSON(http.StatusOK, s.chat.TestConnection(c.Request().Context()))
}

func (s *Server) handleProfileSave(c echo.Context) error {
	var profile domain.Profile
	if err := c.Bind(&profile); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	saved, err := s.config.SaveProfile(c.Request().Context(), profile)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, saved)
}

func (s *Server) handleProfileApply(c echo.Context) error {
	cfg, err := s.config.ApplyProfile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleProfileDelete(c echo.Context) error {
	if err := s.config.DeleteProfile(c.Request().Context(), c.Param("id")); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSecretPut(c echo.Context) error {
	var req domain.SecretSetRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Provider == "" || req.Kind == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "provider and kind are required"})
	}
	if err := s.secrets.Set(req.Provider, req.Kind, req.Value); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSecretStatus(c echo.Context) error {
	status, err := s.secrets.Status(c.Param("provider"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleAuditRead(c echo.Context) error {
	entries, err := s.audit.Read(c.Param("date"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) handleStatus(c echo.Context) error {
	active := s.chat.Active()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"active":   active,
		"sessions": len(active),
	})
}
