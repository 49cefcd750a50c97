package permission

import (
	"sync"

	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/ports"
)

// MemoryStore keeps rules in process memory with the same replace and delete
// semantics as the sqlite store. Used when no rules database is configured
// and as a test double.
type MemoryStore struct {
	mu    sync.Mutex
	rules []domain.PermissionRule
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// List implements ports.RuleStore.
func (s *MemoryStore) List() ([]domain.PermissionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PermissionRule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

// Replace implements ports.RuleStore.
func (s *MemoryStore) Replace(rule domain.PermissionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rules[:0]
	for _, existing := range s.rules {
		if existing.Domain == rule.Domain && (rule.Scope == "" || existing.Scope == rule.Scope) {
			continue
		}
		kept = append(kept, existing)
	}
	s.rules = append(kept, rule)
	return nil
}

// Delete implements ports.RuleStore.
func (s *MemoryStore) Delete(dom domain.PermissionDomain, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rules[:0]
	for _, existing := range s.rules {
		if existing.Domain == dom && (scope == "" || existing.Scope == scope) {
			continue
		}
		kept = append(kept, existing)
	}
	s.rules = kept
	return nil
}

var _ ports.RuleStore = (*MemoryStore)(nil)
