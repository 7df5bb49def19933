// Command wfcanvas edits a workflow canvas in the terminal. The mouse drags
// nodes and pans the canvas, the wheel zooms and the toolbar row drops new
// nodes.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/songzhibin97/gkit/generator"
	"github.com/songzhibin97/workflow-canvas/config"
	"github.com/songzhibin97/workflow-canvas/events"
	"github.com/songzhibin97/workflow-canvas/source"
	"github.com/songzhibin97/workflow-canvas/types"
	"github.com/songzhibin97/workflow-canvas/workflow"
)

func main() {
	configPath := flag.String("config", "", "config file (default $WFCANVAS_CONFIG or ~/.wfcanvas.yaml)")
	logPath := flag.String("log", "", "write logs to this file")
	demo := flag.Bool("demo", true, "seed an empty in-memory source with sample items")
	flag.Parse()

	if err := run(*configPath, *logPath, *demo); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, logPath string, demo bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var logOut io.Writer = io.Discard
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := cfg.NewLogger(logOut)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := cfg.Store.Open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	src, err := cfg.Source.Open()
	if err != nil {
		return err
	}
	if mem, ok := src.(*source.MemorySource); ok && demo && mem.Len() == 0 {
		seed(ctx, mem)
	}

	opts := append(cfg.EditorOptions(),
		workflow.WithLogger(logger),
		workflow.WithGenerator(generator.NewSnowflake(time.Now().Add(-1*time.Second), 1)),
	)
	ed, err := workflow.NewEditor(src, store, opts...)
	if err != nil {
		return err
	}
	defer ed.Close()

	if err := ed.Load(ctx); err != nil {
		logger.Warn("starting from an empty canvas", "error", err)
	}
	if err := ed.Sync(ctx); err != nil {
		logger.Warn("initial sync failed", "error", err)
	}
	if err := ed.Start(ctx); err != nil {
		return err
	}

	m := newModel(ctx, ed, cfg.Layout)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	ed.Subscribe(events.Wildcard, events.EventHandlerFunc(func(ctx context.Context, ev events.Event) error {
		p.Send(editorMsg(ev))
		return nil
	}))

	if _, err := p.Run(); err != nil {
		return err
	}
	if ed.SavePending() {
		return ed.Save(ctx)
	}
	return nil
}

func seed(ctx context.Context, mem *source.MemorySource) {
	items := []types.ExternalItem{
		{ID: "1", Name: "Fetch order"},
		{ID: "2", Name: "Check stock", ReturnValue: "in_stock"},
		{ID: "3", Name: "Charge card"},
		{ID: "4", Name: "Ship"},
	}
	for _, it := range items {
		_, _ = mem.Put(ctx, it)
	}
}
