// Package command executes permission-gated local operations: open, move,
// copy, delete, read and write. Every invocation leaves exactly one audit
// entry regardless of outcome.
package command

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/ports"
)

// Resolver authorizes one operation, prompting interactively when no stored
// rule covers it.
type Resolver interface {
	Resolve(req domain.PermissionRequest) (domain.PermissionResponse, error)
}

// Executor dispatches commands. The opener is injectable so tests never
// launch real applications.
type Executor struct {
	perms  Resolver
	audit  ports.AuditSink
	log    *logrus.Logger
	opener func(target string) error
}

// NewExecutor builds an executor over the permission resolver and audit sink.
func NewExecutor(perms Resolver, audit ports.AuditSink, log *logrus.Logger) *Executor {
	return &Executor{
		perms:  perms,
		audit:  audit,
		log:    log,
		opener: systemOpen,
	}
}

// Execute runs one command. It never returns an error for an operation that
// was attempted: denial and execution failures are reported in the result
// and recorded in the audit log.
func (e *Executor) Execute(cmd domain.Command) domain.CommandResult {
	var result domain.CommandResult
	switch cmd.Type {
	case domain.CommandOpen:
		result = e.open(cmd)
	case domain.CommandMove:
		result = e.move(cmd)
	case domain.CommandCopy:
		result = e.copy(cmd)
	case domain.CommandDelete:
		result = e.remove(cmd)
	case domain.CommandRead:
		result = e.read(cmd)
	case domain.CommandWrite:
		result = e.write(cmd)
	default:
		result = domain.CommandResult{OK: false, Detail: fmt.Sprintf("unknown command type: %s", cmd.Type)}
	}

	entry := domain.AuditEntry{
		Domain: cmd.Domain(),
		Action: string(cmd.Type),
		Params: cmd,
		Result: domain.AuditSuccess,
	}
	if !result.OK {
		entry.Result = domain.AuditFailure
		entry.Error = result.Detail
	}
	if err := e.audit.Append(entry); err != nil {
		e.log.WithError(err).Error("audit append failed")
	}
	return result
}

// authorize asks the permission layer before any path handling, so denial is
// decided on the path exactly as requested.
func (e *Executor) authorize(dom domain.PermissionDomain, action, scope string) (bool, string) {
	resp, err := e.perms.Resolve(domain.PermissionRequest{
		Domain: dom,
		Action: action,
		Scope:  scope,
	})
	if err != nil {
		return false, fmt.Sprintf("permission resolution failed: %v", err)
	}
	if !resp.Granted {
		return false, "Permission denied"
	}
	return true, ""
}

// sanitizePath rejects traversal segments in the raw input, then resolves to
// an absolute path. Cleaning before the check would erase the very segments
// being rejected.
func sanitizePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return "", fmt.Errorf("path traversal not allowed: %s", path)
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	return abs, nil
}

func (e *Executor) open(cmd domain.Command) domain.CommandResult {
	if ok, detail := e.authorize(domain.DomainSysOpen, "open", cmd.Target); !ok {
		return domain.CommandResult{OK: false, Detail: detail}
	}
	target, err := sanitizePath(cmd.Target)
	if err != nil {
		return domain.CommandResult{OK: false, Detail: err.Error()}
	}
	if err := e.opener(target); err != nil {
		return domain.CommandResult{OK: false, Detail: fmt.Sprintf("open failed: %v", err)}
	}
	return domain.CommandResult{OK: true, Detail: "opened " + target}
}

func (e *Executor) move(cmd domain.Command) domain.CommandResult {
	if ok, detail := e.authorize(domain.DomainFSWrite, "move", cmd.From); !ok {
		return domain.CommandResult{OK: false, Detail: detail}
	}
	if ok, detail := e.authorize(domain.DomainFSWrite, "move", cmd.To); !ok {
		return domain.CommandResult{OK: false, Detail: detail}
	}
	from, err := sanitizePath(cmd.From)
	if err != nil {
		return domain.CommandResult{OK: false, Detail: err.Error()}
	}
	to, err := sanitizePath(cmd.To)
	if err != nil {
		return domain.CommandResult{OK: false, Detail: err.Error()}
	}
	if cmd.Rename != "" {
		to = filepath.Join(to, cmd.Rename)
	} else {
		to = filepath.Join(to, filepath.Base(from))
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return domain.CommandResult{OK: false, Detail: fmt.Sprintf("move failed: %v", err)}
	}
	if err := os.Rename(from, to); err != nil {
		return domain.CommandResult{OK: false, Detail: fmt.Sprintf("move failed: %v", err)}
	}
	return domain.CommandResult{OK: true, Detail: fmt.Sprintf("moved %s to %s", from, to)}
}

func (e *Executor) copy(cmd domain.Command) domain.CommandResult {
	if ok, detail := e.authorize(domain.DomainFSRead, "copy", cmd.From); !ok {
		return domain.CommandResult{OK: false, Detail: detail}
	}
	if ok, detail := e.authorize(domain.DomainFSWrite, "copy", cmd.To); !ok {
		return domain.CommandResult{OK: false, Detail: detail}
	}
	from, err := sanitizePath(cmd.From)
	if err != nil {
		return domain.CommandResult{OK: false, Detail: err.Error()}
	}
	to, err := sanitizePath(cmd.To)
	if err != nil {
		return domain.CommandResult{OK: false, Detail: err.Error()}
	}
	to = filepath.Join(to, filepath.Base(from))

	src, err := os.Open(from)
	if err != nil {
		return domain.CommandResult{OK: false, Detail: fmt.Sprintf("copy failed: %v", err)}
	}
	defer src.Close()
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return domain.CommandResult{OK: false, Detail: fmt.Sprintf("copy failed: %v", err)}
	}
	dst, err := os.Create(to)
	if err != nil {
		return domain.CommandResult{OK: false, Detail: fmt.Sprintf("copy failed: %v", err)}
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return domain.CommandResult{OK: false, Detail: fmt.Sprintf("copy failed: %v", err)}
	}
	return domain.CommandResult{OK: true, Detail: fmt.Sprintf("copied %s to %s", from, to)}
}

func (e *Executor) remove(cmd domain.Command) domain.CommandResult {
	if ok, detail := e.authorize(domain.DomainFSDelete, "delete", cmd.Target); !ok {
		return domain.CommandResult{OK: false, Detail: detail}
	}
	target, err := sanitizePath(cmd.Target)
	if err != nil {
		return domain.CommandResult{OK: false, Detail: err.Error()}
	}
	info, err := os.Stat(target)
	if err != nil {
		return domain.CommandResult{OK: false, Detail: fmt.Sprintf("delete failed: %v", err)}
	}
	// Directories are removed recursively, files with a plain unlink.
	if info.IsDir() {
		err = os.RemoveAll(target)
	} else {
		err = os.Remove(target)
	}
	if err != nil {
		return domain.CommandResult{OK: false, Detail: fmt.Sprintf("delete failed: %v", err)}
	}
	return domain.CommandResult{OK: true, Detail: "deleted " + target}
}

func (e *Executor) read(cmd domain.Command) domain.CommandResult {
	if ok, detail := e.authorize(domain.DomainFSRead, "read", cmd.Target); !ok {
		return domain.CommandResult{OK: false, Detail: detail}
	}
	target, err := sanitizePath(cmd.Target)
	if err != nil {
		return domain.CommandResult{OK: false, Detail: err.Error()}
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return domain.CommandResult{OK: false, Detail: fmt.Sprintf("read failed: %v", err)}
	}
	return domain.CommandResult{OK: true, Detail: "read " + target, Data: string(data)}
}

func (e *Executor) write(cmd domain.Command) domain.CommandResult {
	if ok, detail := e.authorize(domain.DomainFSWrite, "write", cmd.Target); !ok {
		return domain.CommandResult{OK: false, Detail: detail}
	}
	target, err := sanitizePath(cmd.Target)
	if err != nil {
		return domain.CommandResult{OK: false, Detail: err.Error()}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return domain.CommandResult{OK: false, Detail: fmt.Sprintf("write failed: %v", err)}
	}
	if err := os.WriteFile(target, []byte(cmd.Content), 0o644); err != nil {
		return domain.CommandResult{OK: false, Detail: fmt.Sprintf("write failed: %v", err)}
	}
	return domain.CommandResult{OK: true, Detail: "wrote " + target}
}

func systemOpen(target string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target).Start()
	default:
		return exec.Command("xdg-open", target).Start()
	}
}
