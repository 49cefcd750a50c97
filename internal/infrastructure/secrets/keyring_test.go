package secrets

import (
	"testing"

	"github.com/99designs/keyring"
)

func newArrayStore() *KeyringStore {
	return &KeyringStore{ring: keyring.NewArrayKeyring(nil)}
}

func TestGetAbsentReturnsEmpty(t *testing.T) {
	store := newArrayStore()

	value, err := store.Get("anthropic", KindAPIKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if value != "" {
		t.Fatalf("expected empty value, got %q", value)
	}
}

func TestSetGetDelete(t *testing.T) {
	store := newArrayStore()

	if err := store.Set("anthropic", KindAPIKey, "sk-test"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, err := store.Get("anthropic", KindAPIKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if value != "sk-test" {
		t.Fatalf("got %q, want %q", value, "sk-test")
	}

	if err := store.Delete("anthropic", KindAPIKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	value, err = store.Get("anthropic", KindAPIKey)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if value != "" {
		t.Fatalf("expected secret gone, got %q", value)
	}
}

func TestProvidersDoNotCollide(t *testing.T) {
	store := newArrayStore()

	if err := store.Set("openai_compat", KindAPIKey, "sk-a"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set("gemini", KindAPIKey, "sk-b"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, err := store.Get("openai_compat", KindAPIKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if value != "sk-a" {
		t.Fatalf("got %q, want %q", value, "sk-a")
	}
}

func TestStatusReportsPresence(t *testing.T) {
	store := newArrayStore()

	if err := store.Set("gemini", KindGeminiAPIKey, "sk-g"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set("gemini", KindServiceAccountPath, "/tmp/sa.json"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	status, err := store.Status("gemini")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.HasAPIKey || !status.HasGeminiAPIKey || !status.HasServiceAccount || status.HasGroupID {
		t.Fatalf("unexpected status: %+v", status)
	}
}
