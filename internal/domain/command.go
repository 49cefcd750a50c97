package domain

// CommandType enumerates the local-system operations the executor performs.
type CommandType string

const (
	CommandOpen   CommandType = "open"
	CommandMove   CommandType = "move"
	CommandCopy   CommandType = "copy"
	CommandDelete CommandType = "delete"
	CommandRead   CommandType = "read"
	CommandWrite  CommandType = "write"
)

// Command is a single file-system or process operation request. Which fields
// are meaningful depends on Type: open/delete/read/write use Target, while
// move/copy use From and To (move optionally Rename).
type Command struct {
	Type    CommandType `json:"type"`
	Target  string      `json:"target,omitempty"`
	From    string      `json:"from,omitempty"`
	To      string      `json:"to,omitempty"`
	Rename  string      `json:"rename,omitempty"`
	Content string      `json:"content,omitempty"`
}

// Domain maps the command to the permission domain recorded in the audit log.
func (c Command) Domain() PermissionDomain {
	switch c.Type {
	case CommandRead:
		return DomainFSRead
	case CommandWrite, CommandMove, CommandCopy:
		return DomainFSWrite
	case CommandDelete:
		return DomainFSDelete
	default:
		return DomainSysOpen
	}
}

// CommandResult is the outcome of a command execution. Data carries file
// contents for read commands.
type CommandResult struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Data   string `json:"data,omitempty"`
}
