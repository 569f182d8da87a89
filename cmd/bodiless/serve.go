package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bodiless/contentsync/internal/backend"
	"github.com/bodiless/contentsync/internal/config"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var addr, dsn string
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local content backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("content-dsn") {
				cfg.Server.ContentDSN = dsn
			}
			if noWatch {
				cfg.Server.Watch = false
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg.Server, nil)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (BODILESS_ADDR)")
	cmd.Flags().StringVar(&dsn, "content-dsn", "", "content store DSN: a directory, file://, memory://, sqlite:// or postgres:// (BODILESS_CONTENT_DSN)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not publish edits made directly to a file store")
	return cmd
}

// runServe blocks until ctx ends. ready, when set, receives the bound
// address once the listener is open.
func runServe(ctx context.Context, cfg config.ServerConfig, ready chan<- string) error {
	logger := glogLogger{}
	store, err := backend.BuildContentStoreFromDSN(cfg.ContentDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	validator, err := backend.NewValidatorFromFile(cfg.SchemaFile)
	if err != nil {
		return err
	}
	hub := backend.NewHub(store, logger)
	server := backend.NewServerWithConfig(store, hub, backend.ServerConfig{
		JWTSecret:      cfg.JWTSecret,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Validator:      validator,
		OriginPatterns: cfg.OriginPatterns,
		Logger:         logger,
	})

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	httpServer := &http.Server{Handler: server, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		glog.Infof("bodiless backend listening on %s (content %s)", listener.Addr(), cfg.ContentDSN)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if fileStore, ok := store.(*backend.FileContentStore); ok && cfg.Watch {
		watcher, err := backend.NewWatcher(fileStore, hub, logger)
		if err != nil {
			glog.Warningf("content watcher disabled: %v", err)
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}
	if ready != nil {
		ready <- listener.Addr().String()
	}
	return g.Wait()
}
