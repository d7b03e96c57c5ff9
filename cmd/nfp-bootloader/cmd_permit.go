package main

import (
	clientconfig "github.com/nfps-dev/nfp-bootloader/cmd/nfp-bootloader/config"
	"github.com/nfps-dev/nfp-bootloader/internal/auth"
	"github.com/nfps-dev/nfp-bootloader/internal/cache"
	"github.com/nfps-dev/nfp-bootloader/internal/tokenloc"
	"github.com/nfps-dev/nfp-bootloader/internal/wallet"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/spf13/cobra"
)

// withResolver opens the profile cache and a resolver for the configured token.
func withResolver(cmd *cobra.Command, f *flags, fn func(cfg *clientconfig.Config, store cache.Store, r *auth.Resolver) error) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	q, err := f.overrides(cmd)
	if err != nil {
		return err
	}
	loc, _ := tokenloc.FromQuery(cfg.Location(), q)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("cache close failed", "error", err)
		}
	}()
	return fn(cfg, store, &auth.Resolver{Store: store, Location: loc})
}

func newPermitCmd(f *flags) *cobra.Command {
	permit := &cobra.Command{
		Use:   "permit",
		Short: "Manage the query permit used instead of a viewing key",
	}

	var (
		name        string
		permissions []string
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a permit for the token's contract with the profile key and cache it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withResolver(cmd, f, func(cfg *clientconfig.Config, store cache.Store, r *auth.Resolver) error {
				w, created, err := wallet.Ensure(cmd.Context(), store, cfg.Network.HRP)
				if err != nil {
					return err
				}
				if created {
					log.Warn("new profile key created", "address", w.Address())
				}
				p, err := r.IssuePermit(cmd.Context(), w, name, permissions)
				if err != nil {
					return err
				}
				log.Info("permit cached", "name", name, "contract", r.Location.Contract, "token_id", r.Location.TokenID)
				return printJSON(p)
			})
		},
	}
	issue.Flags().StringVar(&name, "name", "nfp-bootloader", "permit name")
	issue.Flags().StringSliceVar(&permissions, "permission", []string{"owner"}, "permissions granted by the permit")

	forget := &cobra.Command{
		Use:   "forget",
		Short: "Drop the cached permit so boots use the viewing key again",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withResolver(cmd, f, func(_ *clientconfig.Config, _ cache.Store, r *auth.Resolver) error {
				if err := r.ForgetPermit(cmd.Context()); err != nil {
					return err
				}
				log.Info("permit forgotten", "contract", r.Location.Contract, "token_id", r.Location.TokenID)
				return nil
			})
		},
	}

	permit.AddCommand(issue, forget)
	return permit
}
