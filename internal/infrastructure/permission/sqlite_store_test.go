package permission

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/doeshing/stm-gateway/internal/domain"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "rules.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStorePreservesInsertionOrder(t *testing.T) {
	store := newSQLiteStore(t)

	want := []domain.PermissionRule{
		{Domain: domain.DomainFSRead, Scope: "/home/*", Allow: true},
		{Domain: domain.DomainFSRead, Scope: "/etc/*", Allow: false},
		{Domain: domain.DomainSysOpen, Scope: "", Allow: true},
	}
	for _, rule := range want {
		if err := store.Replace(rule); err != nil {
			t.Fatalf("Replace: %v", err)
		}
	}

	got, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	ignoreTS := cmpopts.IgnoreFields(domain.PermissionRule{}, "Timestamp")
	if diff := cmp.Diff(want, got, ignoreTS); diff != "" {
		t.Fatalf("rules mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteStoreReplaceSamePair(t *testing.T) {
	store := newSQLiteStore(t)

	if err := store.Replace(domain.PermissionRule{Domain: domain.DomainFSWrite, Scope: "/tmp/*", Allow: true}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := store.Replace(domain.PermissionRule{Domain: domain.DomainFSWrite, Scope: "/tmp/*", Allow: false}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Allow {
		t.Fatalf("expected the single replaced deny, got %+v", got)
	}
}

func TestSQLiteStoreScopelessReplaceClearsDomain(t *testing.T) {
	store := newSQLiteStore(t)

	if err := store.Replace(domain.PermissionRule{Domain: domain.DomainFSRead, Scope: "/a/*", Allow: true}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := store.Replace(domain.PermissionRule{Domain: domain.DomainFSRead, Scope: "/b/*", Allow: true}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := store.Replace(domain.PermissionRule{Domain: domain.DomainFSWrite, Scope: "/a/*", Allow: true}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if err := store.Replace(domain.PermissionRule{Domain: domain.DomainFSRead, Scope: "", Allow: false}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected other-domain rule plus the scopeless deny, got %+v", got)
	}
	if got[0].Domain != domain.DomainFSWrite {
		t.Fatalf("unrelated domain should survive, got %+v", got[0])
	}
	if got[1].Domain != domain.DomainFSRead || got[1].Scope != "" || got[1].Allow {
		t.Fatalf("expected the scopeless deny last, got %+v", got[1])
	}
}

func TestSQLiteStoreDelete(t *testing.T) {
	store := newSQLiteStore(t)

	if err := store.Replace(domain.PermissionRule{Domain: domain.DomainFSDelete, Scope: "/tmp/*", Allow: true}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := store.Delete(domain.DomainFSDelete, "/tmp/*"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty store, got %+v", got)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := store.Replace(domain.PermissionRule{Domain: domain.DomainFSRead, Scope: "/home/*", Allow: true}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Scope != "/home/*" {
		t.Fatalf("rules should persist across reopen, got %+v", got)
	}
}
