// A FUSE client for a driftfs server: mounts a remote directory tree
// locally, serving reads and writes over the server's HTTP API and
// staying cache-coherent via its WebSocket change stream.
//
// Usage:
//
//	driftfs-mount [flags] mount-point
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftfs/driftfs/internal/client/attrcache"
	"github.com/driftfs/driftfs/internal/client/changestream"
	"github.com/driftfs/driftfs/internal/client/httpapi"
	"github.com/driftfs/driftfs/internal/client/registry"
	"github.com/driftfs/driftfs/internal/client/vfs"
	"github.com/driftfs/driftfs/internal/client/writebuffer"
	"github.com/driftfs/driftfs/internal/config"
	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/internal/metrics"
	"github.com/google/uuid"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/spf13/cobra"
)

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "driftfs-mount [flags] mount-point",
		Short:         "Mount a driftfs server's tree as a local FUSE file system",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config-file", "", "optional YAML config file")

	v, err := config.BindClientFlags(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := config.LoadConfigFile(v, cfgFile); err != nil {
			return invalidArgs{err}
		}
		cfg, err := config.DecodeClient(v)
		if err != nil {
			return invalidArgs{err}
		}
		cfg.MountPoint = args[0]
		if err := cfg.Validate(); err != nil {
			return invalidArgs{err}
		}
		return mount(cmd.Context(), cfg)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, bad := err.(invalidArgs); bad {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// invalidArgs marks an error as a usage/configuration problem rather than
// a mount-time failure, so main can tell spec.md's exit codes 1 and 2
// apart.
type invalidArgs struct{ error }

func mount(ctx context.Context, cfg config.ClientConfig) error {
	logger.Init(cfg.LogFormat, cfg.LogLevel)

	uid, gid, err := myUserAndGroup()
	if err != nil {
		return fmt.Errorf("determining uid/gid: %w", err)
	}

	clientID := uuid.NewString()

	reg := registry.New()
	cache := attrcache.New(attrcache.Config{
		Strategy:    attrcache.Strategy(cfg.CacheStrategy),
		TTLSeconds:  cfg.CacheTTLSeconds,
		LRUCapacity: cfg.CacheLRUCapacity,
	})
	api := httpapi.New(httpapi.Config{BaseURL: cfg.ServerURL})
	writes := writebuffer.NewPool()

	fileSys := vfs.New(vfs.Config{
		UID:      uid,
		GID:      gid,
		FileMode: 0o644,
		DirMode:  0o755,
		AttrTTL:  time.Duration(cfg.CacheTTLSeconds) * time.Second,
		ClientID: clientID,
	}, reg, cache, api, writes)

	var instrumented fuseutil.FileSystem = metrics.WithMetrics(fileSys)
	instrumented = vfs.WithErrorMapping(instrumented)
	server := fuseutil.NewFileSystemServer(instrumented)

	mountCfg := &fuse.MountConfig{
		FSName:      "driftfs",
		ReadOnly:    false,
		ErrorLogger: logger.NewStdLogger("fuse: ", slog.LevelError),
		DebugLogger: logger.NewStdLogger("fuse_debug: ", slog.LevelDebug),
	}

	mfs, err := fuse.Mount(cfg.MountPoint, server, mountCfg)
	if err != nil {
		return fmt.Errorf("mounting %s: %w", cfg.MountPoint, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream := changestream.New(api.WebSocketURL(), clientID, fileSys)
	go stream.Run(streamCtx)

	sigCtx, stop := signal.NotifyContext(streamCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		logger.Infof("received shutdown signal, unmounting %s", cfg.MountPoint)
		if err := fuse.Unmount(cfg.MountPoint); err != nil {
			logger.Errorf("unmount %s: %v", cfg.MountPoint, err)
		}
	}()

	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("waiting for unmount of %s: %w", cfg.MountPoint, err)
	}
	return nil
}
