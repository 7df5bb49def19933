package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/songzhibin97/workflow-canvas/config"
	"github.com/songzhibin97/workflow-canvas/server"
	"github.com/songzhibin97/workflow-canvas/source"
	"github.com/songzhibin97/workflow-canvas/types"
)

func main() {
	configPath := flag.String("config", "", "config file (default $WFCANVAS_CONFIG or ~/.wfcanvas.yaml)")
	addr := flag.String("addr", "", "listen address, overrides server.addr")
	itemsPath := flag.String("items", "", "JSON file of items to serve at start")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stderr)
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := cfg.Store.Open(ctx)
	if err != nil {
		logger.Error("failed to open state store", "kind", cfg.Store.Kind, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	items := source.NewMemorySource()
	if *itemsPath != "" {
		n, err := loadItems(ctx, items, *itemsPath)
		if err != nil {
			logger.Error("failed to load items", "path", *itemsPath, "error", err)
			os.Exit(1)
		}
		logger.Info("loaded items", "count", n)
	}

	srv := server.New(items, store, server.WithLayout(cfg.Layout), server.WithLogger(logger))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(cfg.Server.Addr) }()

	select {
	case err := <-errCh:
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	done := make(chan struct{})
	go func() {
		if err := srv.Shutdown(); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("shutdown timed out")
	}
}

func loadItems(ctx context.Context, items *source.MemorySource, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var list []types.ExternalItem
	if err := json.Unmarshal(data, &list); err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for _, it := range list {
		if _, err := items.Put(ctx, it); err != nil {
			return 0, err
		}
	}
	return len(list), nil
}
