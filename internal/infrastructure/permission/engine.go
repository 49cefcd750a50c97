// Package permission evaluates privileged operations against stored rules
// and, when no rule covers a request, escalates to an interactive prompt.
package permission

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/ports"
)

// Engine is the rule evaluator. Rules are consulted in storage order and the
// first match decides; with no match the default is deny.
type Engine struct {
	store    ports.RuleStore
	prompter ports.Prompter
	log      *logrus.Logger

	mu    sync.Mutex
	rules []domain.PermissionRule
	fresh bool
}

// NewEngine builds an engine over a rule store. prompter may be nil, in which
// case unmatched requests are denied without interaction.
func NewEngine(store ports.RuleStore, prompter ports.Prompter, log *logrus.Logger) *Engine {
	return &Engine{store: store, prompter: prompter, log: log}
}

func (e *Engine) cached() ([]domain.PermissionRule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.fresh {
		rules, err := e.store.List()
		if err != nil {
			return nil, fmt.Errorf("load permission rules: %w", err)
		}
		e.rules = rules
		e.fresh = true
	}
	return e.rules, nil
}

func (e *Engine) invalidate() {
	e.mu.Lock()
	e.fresh = false
	e.mu.Unlock()
}

// Check reports whether stored rules authorize the operation. Storage errors
// deny.
func (e *Engine) Check(dom domain.PermissionDomain, scope string) bool {
	rules, err := e.cached()
	if err != nil {
		e.log.WithError(err).Error("permission check failed, denying")
		return false
	}
	for _, rule := range rules {
		if rule.Domain == dom && rule.Matches(scope) {
			return rule.Allow
		}
	}
	return false
}

// Grant persists a rule, displacing any existing rule for the same domain and
// scope. A scopeless rule displaces every rule for the domain.
func (e *Engine) Grant(dom domain.PermissionDomain, scope string, allow bool) error {
	err := e.store.Replace(domain.PermissionRule{
		Domain:    dom,
		Allow:     allow,
		Scope:     scope,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("persist permission rule: %w", err)
	}
	e.invalidate()
	e.log.WithFields(logrus.Fields{"domain": dom, "scope": scope, "allow": allow}).Info("permission rule stored")
	return nil
}

// Revoke removes stored rules. With a scope only the exact pair is removed;
// without one the whole domain is cleared.
func (e *Engine) Revoke(dom domain.PermissionDomain, scope string) error {
	if err := e.store.Delete(dom, scope); err != nil {
		return fmt.Errorf("revoke permission rule: %w", err)
	}
	e.invalidate()
	return nil
}

// List returns the stored rules in evaluation order.
func (e *Engine) List() ([]domain.PermissionRule, error) {
	return e.cached()
}

// Resolve authorizes one request end to end: stored rules first, then the
// interactive prompt. An allow-always answer is persisted before returning.
func (e *Engine) Resolve(req domain.PermissionRequest) (domain.PermissionResponse, error) {
	rules, err := e.cached()
	if err != nil {
		return domain.PermissionResponse{}, err
	}
	for _, rule := range rules {
		if rule.Domain == req.Domain && rule.Matches(req.Scope) {
			return domain.PermissionResponse{Granted: rule.Allow}, nil
		}
	}

	if e.prompter == nil {
		return domain.PermissionResponse{}, nil
	}
	resp, err := e.prompter.Request(req)
	if err != nil {
		return domain.PermissionResponse{}, fmt.Errorf("permission prompt: %w", err)
	}
	if resp.Granted && resp.Remember {
		if err := e.Grant(req.Domain, req.Scope, true); err != nil {
			return domain.PermissionResponse{}, err
		}
	}
	return resp, nil
}

var _ ports.PermissionChecker = (*Engine)(nil)
