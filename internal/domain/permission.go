package domain

import (
	"regexp"
	"strings"
	"time"
)

// PermissionDomain names a class of privileged operations.
type PermissionDomain string

const (
	DomainFSRead       PermissionDomain = "fs.read"
	DomainFSWrite      PermissionDomain = "fs.write"
	DomainFSDelete     PermissionDomain = "fs.delete"
	DomainSysOpen      PermissionDomain = "sys.open"
	DomainSysClipboard PermissionDomain = "sys.clipboard"
	DomainSysShortcut  PermissionDomain = "sys.shortcut"
)

// PermissionRule allows or denies a domain, optionally narrowed to a scope
// pattern. A rule without a scope applies to the whole domain.
type PermissionRule struct {
	Domain    PermissionDomain `json:"domain" yaml:"domain"`
	Allow     bool             `json:"allow" yaml:"allow"`
	Scope     string           `json:"scope,omitempty" yaml:"scope,omitempty"`
	Timestamp time.Time        `json:"timestamp" yaml:"timestamp"`
}

// Matches reports whether the rule applies to the requested scope. A rule or
// request without a scope matches unconditionally; otherwise the rule's
// pattern is tested with `*` expanding to zero or more characters, anchored
// at both ends.
func (r PermissionRule) Matches(scope string) bool {
	if scope == "" || r.Scope == "" {
		return true
	}
	return scopePattern(r.Scope).MatchString(scope)
}

func scopePattern(scope string) *regexp.Regexp {
	parts := strings.Split(scope, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

// PermissionRequest asks for an operation to be authorized, interactively if
// no stored rule covers it.
type PermissionRequest struct {
	Domain PermissionDomain `json:"domain"`
	Action string           `json:"action"`
	Scope  string           `json:"scope,omitempty"`
	Detail string           `json:"detail,omitempty"`
}

// PermissionResponse is the outcome of a permission request. Remember means
// an allow rule was persisted for the requested domain and scope.
type PermissionResponse struct {
	Granted  bool `json:"granted"`
	Remember bool `json:"remember,omitempty"`
}
