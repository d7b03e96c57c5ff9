package main

import (
	"context"
	"net/url"

	"github.com/cockroachdb/errors"
	clientconfig "github.com/nfps-dev/nfp-bootloader/cmd/nfp-bootloader/config"
	"github.com/nfps-dev/nfp-bootloader/internal/auth"
	"github.com/nfps-dev/nfp-bootloader/internal/boot"
	"github.com/nfps-dev/nfp-bootloader/internal/cache"
	"github.com/nfps-dev/nfp-bootloader/internal/loader"
	"github.com/nfps-dev/nfp-bootloader/internal/metrics"
	"github.com/nfps-dev/nfp-bootloader/internal/tokenloc"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/spf13/cobra"
)

// flags shared by every command.
type flags struct {
	configPath string
	dev        bool
	form       bool
	query      string
	tokenID    string
	owner      string
	viewingKey string
}

func (f *flags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "config file (default: first config.yaml in the profile dir or .)")
	pf.BoolVar(&f.dev, "dev", false, "load packages from packages.dev_dir and boot immediately")
	pf.BoolVar(&f.form, "form", false, "ask for missing credentials with a terminal form")
	pf.StringVar(&f.query, "query", "", `page style overrides, e.g. "token-id=1&owner=secret1..."`)
	pf.StringVar(&f.tokenID, tokenloc.ParamTokenID, "", "token id override")
	pf.StringVar(&f.owner, tokenloc.ParamOwner, "", "owner address override")
	pf.StringVar(&f.viewingKey, tokenloc.ParamViewingKey, "", "viewing key override")
}

// overrides merges --query with the individual flags. Flags that were set win, even when empty.
func (f *flags) overrides(cmd *cobra.Command) (url.Values, error) {
	q, err := tokenloc.ParseQuery(f.query)
	if err != nil {
		return nil, errors.Wrap(err, "parse --query")
	}
	for name, v := range map[string]string{
		tokenloc.ParamTokenID:    f.tokenID,
		tokenloc.ParamOwner:      f.owner,
		tokenloc.ParamViewingKey: f.viewingKey,
	} {
		if cmd.Flags().Changed(name) {
			q.Set(name, v)
		}
	}
	return q, nil
}

type app struct {
	cfg      *clientconfig.Config
	store    cache.Store
	metrics  *metrics.Collector
	injector *loader.ScriptInjector
	booter   *boot.Booter
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Error("cache close failed", "error", err)
	}
}

func loadConfig(f *flags) (*clientconfig.Config, error) {
	cfg, err := clientconfig.Load(f.configPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if f.dev {
		cfg.Boot.Dev = true
		cfg.Boot.Autoboot = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.File != "" {
		log.Info("config loaded", "file", cfg.File)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *clientconfig.Config) (cache.Store, error) {
	cc, err := cfg.CacheConfig()
	if err != nil {
		return nil, err
	}
	store, err := cache.Open(ctx, cc)
	if err != nil {
		return nil, errors.Wrap(err, "open cache")
	}
	log.Info("cache opened", "backend", cc.Backend, "path", cc.Path)
	return store, nil
}

func newApp(cmd *cobra.Command, f *flags) (*app, error) {
	ctx := cmd.Context()
	cfg, err := loadConfig(f)
	if err != nil {
		return nil, err
	}
	q, err := f.overrides(cmd)
	if err != nil {
		return nil, err
	}
	loc, ov := tokenloc.FromQuery(cfg.Location(), q)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var prompter auth.Prompter = auth.NewTerminalPrompter()
	if f.form {
		prompter = auth.FormPrompter{}
	}

	m := metrics.NewCollector()
	inj := loader.NewScriptInjector()
	opts := boot.Options{
		Location:  loc,
		Overrides: ov,
		CodeHash:  cfg.Token.CodeHash,
		HRP:       cfg.Network.HRP,
		LCDs:      cfg.Network.LCDs,
		Comms:     cfg.Network.Comms,
		Main:      loader.Package{ID: cfg.Packages.Main, Tag: cfg.Packages.Tag},
		Dev:       cfg.Boot.Dev,
		DevDir:    cfg.Packages.DevDir,
		Autoboot:  cfg.Boot.Autoboot,
	}
	return &app{
		cfg:      cfg,
		store:    store,
		metrics:  m,
		injector: inj,
		booter:   boot.New(opts, store, prompter, inj, m),
	}, nil
}
