package permission

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS permission_rules (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	domain     TEXT    NOT NULL,
	scope      TEXT    NOT NULL DEFAULT '',
	allow      INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_permission_rules_domain ON permission_rules(domain);
`

// SQLiteStore persists permission rules. Insertion order is evaluation
// order, so rows are always read back ordered by id.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the rule database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create rules dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open rules db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init rules schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// List implements ports.RuleStore.
func (s *SQLiteStore) List() ([]domain.PermissionRule, error) {
	rows, err := s.db.Query(`SELECT domain, scope, allow, created_at FROM permission_rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.PermissionRule
	for rows.Next() {
		var (
			rule      domain.PermissionRule
			allow     int
			createdAt int64
		)
		if err := rows.Scan(&rule.Domain, &rule.Scope, &allow, &createdAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rule.Allow = allow != 0
		rule.Timestamp = time.UnixMilli(createdAt)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Replace implements ports.RuleStore. The delete and insert run in one
// transaction so a crash never loses the rule being replaced without storing
// the new one.
func (s *SQLiteStore) Replace(rule domain.PermissionRule) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace rule: %w", err)
	}
	defer tx.Rollback()

	if rule.Scope == "" {
		_, err = tx.Exec(`DELETE FROM permission_rules WHERE domain = ?`, rule.Domain)
	} else {
		_, err = tx.Exec(`DELETE FROM permission_rules WHERE domain = ? AND scope = ?`, rule.Domain, rule.Scope)
	}
	if err != nil {
		return fmt.Errorf("replace rule: %w", err)
	}

	allow := 0
	if rule.Allow {
		allow = 1
	}
	ts := rule.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = tx.Exec(`INSERT INTO permission_rules (domain, scope, allow, created_at) VALUES (?, ?, ?, ?)`,
		rule.Domain, rule.Scope, allow, ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("replace rule: %w", err)
	}
	return tx.Commit()
}

// Delete implements ports.RuleStore. An empty scope clears the whole domain.
func (s *SQLiteStore) Delete(dom domain.PermissionDomain, scope string) error {
	var err error
	if scope == "" {
		_, err = s.db.Exec(`DELETE FROM permission_rules WHERE domain = ?`, dom)
	} else {
		_, err = s.db.Exec(`DELETE FROM permission_rules WHERE domain = ? AND scope = ?`, dom, scope)
	}
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

var _ ports.RuleStore = (*SQLiteStore)(nil)
