package domain

// AuditResult records whether a privileged operation succeeded.
type AuditResult string

const (
	AuditSuccess AuditResult = "success"
	AuditFailure AuditResult = "failure"
)

// AuditEntry is one append-only record of a privileged operation attempt.
// Timestamp is milliseconds since the Unix epoch.
type AuditEntry struct {
	Timestamp int64            `json:"timestamp"`
	Domain    PermissionDomain `json:"domain"`
	Action    string           `json:"action"`
	Params    interface{}      `json:"params"`
	Result    AuditResult      `json:"result"`
	Error     string           `json:"error,omitempty"`
}
