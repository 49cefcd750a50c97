package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/ports"
)

// Store is the persistence seam the service needs: load plus save.
type Store interface {
	Load(context.Context) (domain.Config, error)
	Save(domain.Config) error
}

// Service is the configuration facade: it serves the stored settings,
// applies partial updates, manages profiles, and assembles the merged
// provider configuration with the secret injected for one call.
type Service struct {
	store   Store
	secrets ports.SecretStore

	mu sync.Mutex
}

// NewService builds the facade.
func NewService(store Store, secrets ports.SecretStore) *Service {
	return &Service{store: store, secrets: secrets}
}

// Get returns the current configuration. Secrets never live in it.
func (s *Service) Get(ctx context.Context) (domain.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Load(ctx)
}

// Patch applies the non-nil sections of the patch and persists the result.
func (s *Service) Patch(ctx context.Context, patch domain.ConfigPatch) (domain.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.Load(ctx)
	if err != nil {
		return domain.Config{}, err
	}
	if patch.AI != nil {
		cfg.AI = *patch.AI
	}
	if patch.Permissions != nil {
		cfg.Permissions = *patch.Permissions
	}
	if patch.Server != nil {
		cfg.Server = *patch.Server
	}
	if patch.Profiles != nil {
		cfg.Profiles = *patch.Profiles
	}
	hydrateDefaults(&cfg)
	if err := s.store.Save(cfg); err != nil {
		return domain.Config{}, err
	}
	return cfg, nil
}

// Export returns the configuration for backup. The stored file holds no
// secrets, so the export is safe to share as-is.
func (s *Service) Export(ctx context.Context) (domain.Config, error) {
	return s.Get(ctx)
}

// AIConfig implements ports.ProviderConfigSource: the stored settings plus
// the credential for the active provider, fetched fresh from the secret
// store so a rotated key applies to the next call.
func (s *Service) AIConfig(ctx context.Context) (domain.AIConfig, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return domain.AIConfig{}, err
	}

	merged := domain.AIConfig{AISettings: cfg.AI}
	switch cfg.AI.Provider {
	case domain.ProviderGemini:
		if cfg.AI.Gemini.UseVertex {
			if merged.Gemini.ServiceAccountJSONPath == "" {
				path, err := s.secrets.Get(string(cfg.AI.Provider), "serviceAccountJsonPath")
				if err != nil {
					return domain.AIConfig{}, err
				}
				merged.Gemini.ServiceAccountJSONPath = path
			}
		} else {
			key, err := s.secrets.Get(string(cfg.AI.Provider), "geminiApiKey")
			if err != nil {
				return domain.AIConfig{}, err
			}
			if key == "" {
				key, err = s.secrets.Get(string(cfg.AI.Provider), "apiKey")
				if err != nil {
					return domain.AIConfig{}, err
				}
			}
			merged.APIKey = key
		}
	default:
		key, err := s.secrets.Get(string(cfg.AI.Provider), "apiKey")
		if err != nil {
			return domain.AIConfig{}, err
		}
		merged.APIKey = key
	}
	return merged, nil
}

// SaveProfile inserts or updates a named settings snapshot.
func (s *Service) SaveProfile(ctx context.Context, profile domain.Profile) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.Load(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	replaced := false
	for i, existing := range cfg.Profiles {
		if existing.ID == profile.ID {
			cfg.Profiles[i] = profile
			replaced = true
			break
		}
	}
	if !replaced {
		cfg.Profiles = append(cfg.Profiles, profile)
	}
	if err := s.store.Save(cfg); err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

// DeleteProfile removes a snapshot by id. Unknown ids are not an error.
func (s *Service) DeleteProfile(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	kept := cfg.Profiles[:0]
	for _, profile := range cfg.Profiles {
		if profile.ID != id {
			kept = append(kept, profile)
		}
	}
	cfg.Profiles = kept
	return s.store.Save(cfg)
}

// ApplyProfile makes the named snapshot the active AI settings.
func (s *Service) ApplyProfile(ctx context.Context, id string) (domain.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.Load(ctx)
	if err != nil {
		return domain.Config{}, err
	}
	for _, profile := range cfg.Profiles {
		if profile.ID == id {
			if profile.AI != nil {
				cfg.AI = *profile.AI
				hydrateDefaults(&cfg)
			}
			if err := s.store.Save(cfg); err != nil {
				return domain.Config{}, err
			}
			return cfg, nil
		}
	}
	return domain.Config{}, fmt.Errorf("unknown profile: %s", id)
}

var _ ports.ProviderConfigSource = (*Service)(nil)
