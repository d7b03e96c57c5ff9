package main

import (
	"github.com/cockroachdb/errors"
	"github.com/nfps-dev/nfp-bootloader/internal/auth"
	"github.com/nfps-dev/nfp-bootloader/internal/boot"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/spf13/cobra"
)

func askPassword(cmd *cobra.Command, label string) ([]byte, error) {
	pw, err := auth.NewTerminalPrompter().Prompt(cmd.Context(), auth.Request{
		Field:  "password",
		Label:  label,
		Secret: true,
	})
	if err != nil {
		return nil, err
	}
	if pw == "" {
		return nil, errors.New("password is required")
	}
	return []byte(pw), nil
}

func newResetCmd(f *flags) *cobra.Command {
	var (
		backupPath string
		noBackup   bool
		yes        bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the profile key and every cached credential",
		Long: `reset clears the local cache. An encrypted backup is written first unless
--no-backup is given; bring it back with "restore".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			if !yes {
				answer, err := auth.NewTerminalPrompter().Prompt(ctx, auth.Request{
					Field: "confirm",
					Label: `Type "yes" to clear the local cache`,
				})
				if err != nil {
					return err
				}
				if answer != "yes" {
					log.Info("reset cancelled")
					return nil
				}
			}

			var password []byte
			if !noBackup {
				if backupPath == "" {
					if backupPath, err = cfg.BackupPath(); err != nil {
						return err
					}
				}
				if password, err = askPassword(cmd, "Backup password"); err != nil {
					return err
				}
			} else {
				backupPath = ""
			}

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Error("cache close failed", "error", err)
				}
			}()
			return boot.ClearCache(ctx, store, backupPath, password)
		},
	}
	cmd.Flags().StringVar(&backupPath, "backup", "", "backup file (default: cache_backup.json in the profile dir)")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "clear without writing a backup")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newRestoreCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore [backup-file]",
		Short: "Load an encrypted cache backup written by reset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else if path, err = cfg.BackupPath(); err != nil {
				return err
			}
			password, err := askPassword(cmd, "Backup password")
			if err != nil {
				return err
			}

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Error("cache close failed", "error", err)
				}
			}()
			return boot.RestoreCache(ctx, store, path, password)
		},
	}
}
