// driftfs-serve exposes a local directory tree over HTTP and a WebSocket
// change stream, for driftfs-mount clients to mount remotely.
//
// Usage:
//
//	driftfs-serve [flags]
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftfs/driftfs/internal/config"
	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/internal/metrics"
	"github.com/driftfs/driftfs/internal/server/handlers"
	"github.com/driftfs/driftfs/internal/server/recentmods"
	"github.com/driftfs/driftfs/internal/server/watcher"
	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

const shutdownGrace = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:           "driftfs-serve [flags]",
		Short:         "Serve a directory tree over HTTP for driftfs-mount clients",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.Flags()
	var cfgFile string
	flags.StringVar(&cfgFile, "config-file", "", "optional YAML config file")

	v, err := config.BindServerFlags(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := config.LoadConfigFile(v, cfgFile); err != nil {
			return invalidArgs{err}
		}
		cfg, err := config.DecodeServer(v)
		if err != nil {
			return invalidArgs{err}
		}
		if err := cfg.Validate(); err != nil {
			return invalidArgs{err}
		}
		return serve(cmd.Context(), cfg)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, bad := err.(invalidArgs); bad {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type invalidArgs struct{ error }

func serve(ctx context.Context, cfg config.ServerConfig) error {
	logger.Init(cfg.LogFormat, cfg.LogLevel)
	structured := logger.Slog()

	mods := recentmods.New()
	bcast := watcher.NewBroadcaster()
	bcast.DropHook = metrics.BroadcastDropHook

	w, err := watcher.New(cfg.Root, mods, bcast, structured)
	if err != nil {
		return fmt.Errorf("starting watcher on %s: %w", cfg.Root, err)
	}

	stop := make(chan struct{})
	go w.Run(stop)
	defer func() {
		close(stop)
		w.Close()
	}()

	srv := handlers.New(cfg.Root, mods, bcast, structured)
	router := srv.Router()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			route := "unmatched"
			if rt := mux.CurrentRoute(r); rt != nil {
				if tmpl, err := rt.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.HTTPMiddleware(route, next).ServeHTTP(rw, r)
		})
	})

	top := http.NewServeMux()
	top.Handle("/", router)
	top.Handle("/metrics", metrics.Handler())

	handler := gorillahandlers.CompressHandler(
		gorillahandlers.LoggingHandler(os.Stdout, gorillahandlers.RecoveryHandler()(top)))

	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("driftfs-serve listening on %s, serving %s", cfg.Listen, cfg.Root)
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCtx, stopSig := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSig()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
		}
		return nil
	case <-sigCtx.Done():
		logger.Infof("received shutdown signal, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}
