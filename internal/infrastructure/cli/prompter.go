package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/ports"
)

// Prompter implements the interactive permission disclosure on stdio.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter constructs a prompter referencing stdio.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Prompter{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Request presents one permission disclosure and reads the decision:
// allow once, allow always, or deny.
func (p *Prompter) Request(req domain.PermissionRequest) (domain.PermissionResponse, error) {
	fmt.Fprintf(p.out, "\n⚠️  Permission request: %s (%s)\n", req.Action, req.Domain)
	if req.Scope != "" {
		fmt.Fprintf(p.out, "Scope:\n  %s\n", req.Scope)
	}
	if req.Detail != "" {
		fmt.Fprintf(p.out, "Detail:\n  %s\n", req.Detail)
	}
	fmt.Fprint(p.out, "Allow? [y]es once / [a]lways / [N]o: ")

	line, err := p.in.ReadString('\n')
	if err != nil {
		return domain.PermissionResponse{}, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return domain.PermissionResponse{Granted: true}, nil
	case "a", "always":
		return domain.PermissionResponse{Granted: true, Remember: true}, nil
	default:
		return domain.PermissionResponse{}, nil
	}
}

var _ ports.Prompter = (*Prompter)(nil)
