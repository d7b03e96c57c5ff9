package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/nfps-dev/nfp-bootloader/internal/boot"
	"github.com/nfps-dev/nfp-bootloader/internal/comms"
	"github.com/nfps-dev/nfp-bootloader/internal/game"
	clienthttp "github.com/nfps-dev/nfp-bootloader/internal/http"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/spf13/cobra"
)

func newServeCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the local control server and wait for the boot click",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, f)
		},
	}
}

func serve(cmd *cobra.Command, f *flags) error {
	ctx := cmd.Context()
	a, err := newApp(cmd, f)
	if err != nil {
		return err
	}
	defer a.Close()

	a.booter.Machine.Subscribe(func(t boot.Transition) {
		if t.To == boot.Connected {
			go watchGames(ctx, a.booter)
		}
	})

	backupPath, err := a.cfg.BackupPath()
	if err != nil {
		return err
	}
	handler := clienthttp.NewRouter(
		clienthttp.NewHandler(ctx, a.booter, a.metrics, backupPath),
		a.cfg.Server.AllowedOrigins,
	)
	addr := net.JoinHostPort(a.cfg.Server.Host, a.cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("control server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	go func() {
		if booted, err := a.booter.Autoboot(ctx); booted && err != nil {
			log.Error("autoboot failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", "error", err)
	} else {
		log.Info("HTTP server gracefully stopped")
	}
	return nil
}

// watchGames logs contract notifications until ctx ends.
func watchGames(ctx context.Context, b *boot.Booter) {
	ns := b.Machine.Namespace()
	if ns == nil || len(ns.Comms()) == 0 {
		return
	}
	events := make(chan comms.Event)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				log.Info("contract notification", "channel", ev.Channel, "values", ev.Values, "endpoint", ev.Endpoint)
			}
		}
	}()
	if err := comms.FromNamespace(ns, game.Channels...).Run(ctx, events); err != nil && ctx.Err() == nil {
		log.Warn("notifications unavailable", "error", err)
	}
}
