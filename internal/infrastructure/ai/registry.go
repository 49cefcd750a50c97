// Package ai contains the provider adapters that translate uniform chat
// requests into vendor streaming calls and normalize the responses into one
// event shape.
package ai

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/ports"
)

// Registry is a closed map from provider identifier to adapter. Adding a
// provider means adding one entry here; dispatch never changes.
type Registry struct {
	adapters map[domain.Provider]ports.ProviderAdapter
}

// NewRegistry wires the three built-in adapters over a shared HTTP client.
// The client carries no global timeout: streams are bounded per session by
// the session manager, not by the transport.
func NewRegistry(client *http.Client, tokens *VertexTokenSource, log *logrus.Logger) *Registry {
	if client == nil {
		client = &http.Client{}
	}
	if tokens == nil {
		tokens = NewVertexTokenSource()
	}
	return &Registry{
		adapters: map[domain.Provider]ports.ProviderAdapter{
			domain.ProviderOpenAICompat: NewOpenAICompat(client, log),
			domain.ProviderAnthropic:    NewAnthropic(client, log),
			domain.ProviderGemini:       NewGemini(client, tokens, log),
		},
	}
}

// ForProvider implements ports.AdapterResolver.
func (r *Registry) ForProvider(provider domain.Provider) (ports.ProviderAdapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	return adapter, nil
}

var _ ports.AdapterResolver = (*Registry)(nil)
