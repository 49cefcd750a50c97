// Package app assembles the object graph.
package app

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/doeshing/stm-gateway/internal/application/chat"
	"github.com/doeshing/stm-gateway/internal/infrastructure/ai"
	"github.com/doeshing/stm-gateway/internal/infrastructure/audit"
	"github.com/doeshing/stm-gateway/internal/infrastructure/command"
	"github.com/doeshing/stm-gateway/internal/infrastructure/config"
	"github.com/doeshing/stm-gateway/internal/infrastructure/permission"
	"github.com/doeshing/stm-gateway/internal/infrastructure/secrets"
	"github.com/doeshing/stm-gateway/internal/pkg/logger"
	"github.com/doeshing/stm-gateway/internal/ports"
)

// Container holds the wired services. The permission prompter is injected by
// the surface (CLI terminal prompt or non-interactive deny) after build.
type Container struct {
	Logger     *logrus.Logger
	Config     *config.Service
	ConfigPath string
	ListenAddr string
	Secrets    ports.SecretStore
	Chat       *chat.Service
	Rules      ports.RuleStore
	Audit      *audit.Log

	promptMode string
}

// BuildContainer loads configuration and wires every service except the
// prompter-dependent ones; call Finish with a prompter to complete the graph.
func BuildContainer(ctx context.Context, verbose bool) (*Container, error) {
	log := logger.New(verbose)

	loader, err := config.NewFileLoader("")
	if err != nil {
		return nil, err
	}
	cfg, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	secretStore, err := secrets.NewKeyringStore("")
	if err != nil {
		return nil, err
	}
	cfgSvc := config.NewService(loader, secretStore)

	var rules ports.RuleStore
	if cfg.Permissions.RulesDB != "" {
		rules, err = permission.NewSQLiteStore(cfg.Permissions.RulesDB)
		if err != nil {
			return nil, err
		}
	} else {
		rules = permission.NewMemoryStore()
	}

	registry := ai.NewRegistry(&http.Client{}, ai.NewVertexTokenSource(), log)

	return &Container{
		Logger:     log,
		Config:     cfgSvc,
		ConfigPath: loader.Path(),
		ListenAddr: cfg.Server.ListenAddr,
		Secrets:    secretStore,
		Chat:       chat.NewService(cfgSvc, registry, log),
		Rules:      rules,
		Audit:      audit.NewLog(cfg.Permissions.AuditDir),
		promptMode: cfg.Permissions.PromptMode,
	}, nil
}

// Finish completes the graph with the given prompter. When prompt_mode is
// "deny" the prompter is dropped and unmatched requests are denied outright.
func (c *Container) Finish(prompter ports.Prompter) (*permission.Engine, *command.Executor) {
	if c.promptMode == "deny" {
		prompter = nil
	}
	engine := permission.NewEngine(c.Rules, prompter, c.Logger)
	executor := command.NewExecutor(engine, c.Audit, c.Logger)
	return engine, executor
}
