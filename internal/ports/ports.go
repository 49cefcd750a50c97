// Package ports defines the interfaces (ports) for the hexagonal architecture.
//
// The application core depends on these abstractions; the infrastructure layer
// supplies the concrete adapters (HTTP providers, keyring, sqlite, NDJSON
// files). Tests substitute stubs at the same seams.
package ports

import (
	"context"

	"github.com/doeshing/stm-gateway/internal/domain"
)

// EmitFunc receives stream events from a provider adapter in stream order.
type EmitFunc func(domain.StreamEvent)

// ProviderAdapter translates a uniform chat request into one vendor call and
// emits a uniform event sequence: zero or more deltas, then exactly one
// terminal event. Adapters never panic past this boundary and never return
// errors; every failure becomes an error event. Cancelling ctx aborts the
// in-flight request and yields a single cancelled terminal.
type ProviderAdapter interface {
	Name() string
	StreamChat(ctx context.Context, req domain.ChatRequest, cfg domain.AIConfig, emit EmitFunc)
}

// AdapterResolver looks up the adapter for a configured provider.
type AdapterResolver interface {
	ForProvider(provider domain.Provider) (ProviderAdapter, error)
}

// ConfigProvider loads the latest configuration from persistent storage.
type ConfigProvider interface {
	Load(context.Context) (domain.Config, error)
}

// ProviderConfigSource assembles the merged provider configuration for a
// single call: non-secret settings plus the freshly fetched secret.
type ProviderConfigSource interface {
	AIConfig(context.Context) (domain.AIConfig, error)
}

// SecretStore is an opaque credential store keyed by (provider, kind).
// Get returns an empty string without error when no value is stored.
type SecretStore interface {
	Get(provider, kind string) (string, error)
	Set(provider, kind, value string) error
	Delete(provider, kind string) error
	Status(provider string) (domain.SecretStatus, error)
}

// RuleStore persists permission rules in storage order. Replace removes any
// rule for the exact (domain, scope) pair before appending; a rule without a
// scope displaces every rule for its domain.
type RuleStore interface {
	List() ([]domain.PermissionRule, error)
	Replace(rule domain.PermissionRule) error
	Delete(domain domain.PermissionDomain, scope string) error
}

// PermissionChecker answers whether an operation on a domain and scope is
// currently authorized by stored rules.
type PermissionChecker interface {
	Check(domain domain.PermissionDomain, scope string) bool
}

// Prompter presents an interactive permission disclosure and reports the
// user's decision: allow once, allow always (Remember), or deny.
type Prompter interface {
	Request(req domain.PermissionRequest) (domain.PermissionResponse, error)
}

// AuditSink appends one audit record per privileged operation attempt.
type AuditSink interface {
	Append(entry domain.AuditEntry) error
}
