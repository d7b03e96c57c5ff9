package boot

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/nfps-dev/nfp-bootloader/internal/auth"
	"github.com/nfps-dev/nfp-bootloader/internal/cache"
	"github.com/nfps-dev/nfp-bootloader/internal/contract"
	"github.com/nfps-dev/nfp-bootloader/internal/loader"
	"github.com/nfps-dev/nfp-bootloader/internal/metrics"
	"github.com/nfps-dev/nfp-bootloader/internal/nfpx"
	"github.com/nfps-dev/nfp-bootloader/internal/securefile"
	"github.com/nfps-dev/nfp-bootloader/internal/tokenloc"
	"github.com/nfps-dev/nfp-bootloader/internal/wallet"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/spf13/afero"
)

type Options struct {
	Location  tokenloc.Location
	Overrides tokenloc.Overrides
	CodeHash  string
	HRP       string
	LCDs      []string
	Comms     []string

	Main loader.Package

	// Dev loads every package from DevDir instead of the contract and boots without a click.
	Dev      bool
	DevDir   string
	Autoboot bool
	Fs       afero.Fs

	HTTPClient *http.Client
}

type Booter struct {
	Machine *Machine

	store    cache.Store
	prompter auth.Prompter
	injector loader.Injector
	metrics  *metrics.Collector
	opts     Options

	mu         sync.Mutex
	registry   *loader.Registry
	credential auth.Credential
	source     loader.Source
}

func New(opts Options, store cache.Store, prompter auth.Prompter, injector loader.Injector, m *metrics.Collector) *Booter {
	b := &Booter{
		Machine:  NewMachine(),
		store:    store,
		prompter: prompter,
		injector: injector,
		metrics:  m,
		opts:     opts,
	}
	m.SetBootState(int(Idle))
	b.Machine.Subscribe(func(t Transition) {
		m.SetBootState(int(t.To))
		log.Info("boot state changed", "from", t.From.String(), "to", t.To.String(), "attempt", t.Attempt)
	})
	return b
}

// Boot runs one attempt: wallet, node, credential, namespace, main package. Any failing step
// leaves the machine in failed with the namespace unpublished. Nothing is retried.
func (b *Booter) Boot(ctx context.Context) (*nfpx.Namespace, error) {
	attempt := uuid.NewString()
	if err := b.Machine.Begin(attempt); err != nil {
		return nil, err
	}
	return b.run(ctx, attempt)
}

// Start begins a boot and finishes it in the background. The channel yields the outcome.
func (b *Booter) Start(ctx context.Context) (string, <-chan error, error) {
	attempt := uuid.NewString()
	if err := b.Machine.Begin(attempt); err != nil {
		return "", nil, err
	}
	done := make(chan error, 1)
	go func() {
		_, err := b.run(ctx, attempt)
		done <- err
	}()
	return attempt, done, nil
}

func (b *Booter) run(ctx context.Context, attempt string) (*nfpx.Namespace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	ns, err := b.connect(ctx, attempt)
	b.metrics.ObserveBoot(time.Since(start), err)
	if err != nil {
		log.Error("boot failed", "attempt", attempt, "error", err)
		if ferr := b.Machine.Fail(err); ferr != nil {
			return nil, errors.Join(err, ferr)
		}
		return nil, err
	}
	if err := b.Machine.Succeed(ns); err != nil {
		return nil, err
	}
	log.Info("boot complete", "attempt", attempt, "token", b.opts.Location.String(), "elapsed", time.Since(start).String())
	return ns, nil
}

func (b *Booter) connect(ctx context.Context, attempt string) (*nfpx.Namespace, error) {
	o := b.opts

	w, created, err := wallet.Ensure(ctx, b.store, o.HRP)
	if err != nil {
		return nil, errors.Wrap(err, "wallet")
	}
	log.Info("wallet ready", "attempt", attempt, "address", w.Address(), "created", created)

	client, err := wallet.Dial(ctx, w, o.Location.ChainID, o.LCDs, o.HTTPClient)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}

	k, err := contract.New(client, o.Location.Contract, o.CodeHash)
	if err != nil {
		return nil, err
	}

	resolver := &auth.Resolver{
		Store:     b.store,
		Prompter:  b.prompter,
		Location:  o.Location,
		Overrides: o.Overrides,
		ValidateOwner: func(addr string) error {
			return wallet.ValidateAddress(o.HRP, addr)
		},
	}
	cred, err := resolver.Resolve(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "credential")
	}

	ns, err := nfpx.NewBuilder().
		Location(o.Location).
		Wallet(client).
		Contract(k).
		Credential(cred).
		Comms(o.Comms).
		Extra("dev", o.Dev).
		Extra("main", o.Main.String()).
		Build()
	if err != nil {
		return nil, err
	}

	var src loader.Source = loader.ContractSource{Contract: k}
	if o.Dev {
		src = loader.FileSource{Fs: o.Fs, Dir: o.DevDir}
	}
	reg := loader.NewRegistry(b.injector, b.metrics)
	reg.Use(o.Main.ID, src)
	if l, ok := b.injector.(loader.Linker); ok {
		l.Link(loader.Host{
			Store: b.store,
			Load: func(pkg loader.Package) {
				reg.Use(pkg.ID, src)
				reg.Load(ctx, loader.Request{Package: pkg, Location: o.Location, Credential: cred}, ns)
			},
		})
	}

	h := reg.Load(ctx, loader.Request{Package: o.Main, Location: o.Location, Credential: cred}, ns)
	if _, err := h.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "main package")
	}

	b.registry, b.credential, b.source = reg, cred, src
	return ns, nil
}

// Load brings in another package once connected, from the same source as the main one.
func (b *Booter) Load(ctx context.Context, pkg loader.Package) (*loader.Module, error) {
	ns := b.Machine.Namespace()
	if ns == nil {
		return nil, loader.ErrNamespaceNotReady
	}
	b.mu.Lock()
	reg, cred, src := b.registry, b.credential, b.source
	b.mu.Unlock()

	reg.Use(pkg.ID, src)
	return reg.Load(ctx, loader.Request{Package: pkg, Location: b.opts.Location, Credential: cred}, ns).Wait(ctx)
}

// Autoboot boots right away in dev mode or when configured to.
func (b *Booter) Autoboot(ctx context.Context) (bool, error) {
	if !b.opts.Dev && !b.opts.Autoboot {
		return false, nil
	}
	_, err := b.Boot(ctx)
	return true, err
}

type ResetOptions struct {
	// ClearCache forgets the profile key and every cached credential.
	ClearCache bool
	// BackupPath, when set with ClearCache, receives an encrypted copy of the cache first.
	BackupPath string
	Password   []byte
}

// Reset returns a failed boot to idle, optionally clearing the local cache.
func (b *Booter) Reset(ctx context.Context, opts ResetOptions) error {
	if s := b.Machine.State(); s != Failed {
		return errors.Wrapf(ErrInvalidTransition, "reset from %s", s)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if opts.ClearCache {
		if err := ClearCache(ctx, b.store, opts.BackupPath, opts.Password); err != nil {
			return err
		}
	}
	return b.Machine.Reset()
}

// ClearCache wipes store, writing an encrypted snapshot to backupPath first when given.
func ClearCache(ctx context.Context, store cache.Store, backupPath string, password []byte) error {
	if backupPath != "" {
		snap, err := cache.Snapshot(ctx, store)
		if err != nil {
			return errors.Wrap(err, "snapshot cache")
		}
		if err := securefile.WriteEncryptedJSON(backupPath, snap, password, securefile.DefaultParams); err != nil {
			return errors.Wrap(err, "write cache backup")
		}
		log.Info("cache backup written", "path", backupPath, "entries", len(snap))
	}
	if err := store.Clear(ctx); err != nil {
		return errors.Wrap(err, "clear cache")
	}
	log.Warn("local cache cleared")
	return nil
}

// RestoreCache loads an encrypted snapshot written by ClearCache back into store.
func RestoreCache(ctx context.Context, store cache.Store, backupPath string, password []byte) error {
	snap, err := securefile.ReadEncryptedJSON[map[string]string](backupPath, password, securefile.DefaultParams)
	if err != nil {
		return errors.Wrap(err, "read cache backup")
	}
	if err := cache.Restore(ctx, store, snap); err != nil {
		return errors.Wrap(err, "restore cache")
	}
	log.Info("cache restored", "path", backupPath, "entries", len(snap))
	return nil
}
