package main

import (
	"context"
	"fmt"
	"os"

	"github.com/doeshing/stm-gateway/internal/infrastructure/cli"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "stmgw: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	debug := os.Getenv("STMGW_DEBUG")
	root, err := cli.NewRootCmd(ctx, cli.Options{Verbose: debug == "1" || debug == "true"})
	if err != nil {
		return err
	}
	return root.ExecuteContext(ctx)
}
