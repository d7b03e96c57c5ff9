package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	log.Info("nfp-bootloader",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		log.Fatal("command failed", "error", err)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "nfp-bootloader",
		Short: "Boot a non-fungible package application from its on-chain token",
		Long: `nfp-bootloader connects to a Secret Network node, resolves the viewing key or
permit for one token, and loads the token's application packages from the contract.

Without a subcommand it starts the local control server, like "serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, f)
		},
	}
	f.register(root)

	root.AddCommand(
		newServeCmd(f),
		newBootCmd(f),
		newResetCmd(f),
		newRestoreCmd(f),
		newGamesCmd(f),
		newWatchCmd(f),
		newPermitCmd(f),
	)
	return root
}
