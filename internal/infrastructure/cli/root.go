// Package cli wires the cobra command tree and the terminal permission
// prompter.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/doeshing/stm-gateway/internal/app"
	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/infrastructure/command"
	"github.com/doeshing/stm-gateway/internal/infrastructure/permission"
	"github.com/doeshing/stm-gateway/internal/infrastructure/server"
)

// Options holds CLI-level configuration.
type Options struct {
	Verbose bool
}

// NewRootCmd wires the cobra root command.
func NewRootCmd(ctx context.Context, opts Options) (*cobra.Command, error) {
	container, err := app.BuildContainer(ctx, opts.Verbose)
	if err != nil {
		return nil, err
	}
	engine, executor := container.Finish(NewPrompter(nil, nil))

	root := &cobra.Command{
		Use:   "stmgw",
		Short: "stmgw - local streaming LLM gateway",
		Long:  "stmgw streams chat completions from multiple providers and gates local command execution behind permissions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand(container, engine, executor))
	root.AddCommand(newConfigCommand(container))
	root.AddCommand(newPermissionsCommand(engine))
	root.AddCommand(newAuditCommand(container))
	root.AddCommand(newSecretCommand(container))
	return root, nil
}

func newServeCommand(container *app.Container, engine *permission.Engine, executor *command.Executor) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := server.New(container.Chat, executor, engine, container.Config, container.Secrets, container.Audit, container.Logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(addr)
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-stop:
			case <-cmd.Context().Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", container.ListenAddr, "Listen address")
	return cmd
}

func newConfigCommand(container *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and export configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := container.Config.Get(cmd.Context())
			if err != nil {
				return err
			}
			raw, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", container.ConfigPath, raw)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Export the configuration as JSON (secrets are never included)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := container.Config.Export(cmd.Context())
			if err != nil {
				return err
			}
			raw, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Probe the configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			result := container.Chat.TestConnection(cmd.Context())
			if result.OK {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%dms)\n", result.Message, result.LatencyMS)
				return nil
			}
			return fmt.Errorf("connection test failed: %s", result.Message)
		},
	})

	return cmd
}

func newPermissionsCommand(engine *permission.Engine) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Manage stored permission rules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := engine.List()
			if err != nil {
				return err
			}
			if len(rules) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no rules stored")
				return nil
			}
			for _, rule := range rules {
				verdict := "deny"
				if rule.Allow {
					verdict = "allow"
				}
				scope := rule.Scope
				if scope == "" {
					scope = "(any)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-6s %-14s %s\n", verdict, rule.Domain, scope)
			}
			return nil
		},
	})

	var deny bool
	grant := &cobra.Command{
		Use:   "grant <domain> [scope]",
		Short: "Store an allow (or deny) rule",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := ""
			if len(args) > 1 {
				scope = args[1]
			}
			return engine.Grant(domain.PermissionDomain(args[0]), scope, !deny)
		},
	}
	grant.Flags().BoolVar(&deny, "deny", false, "Store a deny rule instead of an allow")
	cmd.AddCommand(grant)

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <domain> [scope]",
		Short: "Remove rules (no scope clears the whole domain)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := ""
			if len(args) > 1 {
				scope = args[1]
			}
			return engine.Revoke(domain.PermissionDomain(args[0]), scope)
		},
	})

	return cmd
}

func newAuditCommand(container *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit trail",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [date]",
		Short: "Print the entries for a UTC date (default today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now().UTC().Format("2006-01-02")
			if len(args) > 0 {
				date = args[0]
			}
			entries, err := container.Audit.Read(date)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no entries for %s\n", date)
				return nil
			}
			for _, entry := range entries {
				ts := time.UnixMilli(entry.Timestamp).UTC().Format(time.RFC3339)
				line := fmt.Sprintf("%s %-7s %-14s %s", ts, entry.Result, entry.Domain, entry.Action)
				if entry.Error != "" {
					line += " (" + entry.Error + ")"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	})

	return cmd
}

func newSecretCommand(container *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage provider credentials",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <provider> <kind> <value>",
		Short: "Store one credential in the OS keychain",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return container.Secrets.Set(args[0], args[1], args[2])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status <provider>",
		Short: "Show which credentials are configured",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := container.Secrets.Status(args[0])
			if err != nil {
				return err
			}
			raw, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	})

	return cmd
}
