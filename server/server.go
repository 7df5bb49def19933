// Package server exposes an item list and the canvas state store over a
// JSON HTTP API, plus SVG and PNG renderings of stored states.
package server

import (
	"bytes"
	"errors"
	"image/color"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/songzhibin97/workflow-canvas/graph"
	"github.com/songzhibin97/workflow-canvas/render"
	"github.com/songzhibin97/workflow-canvas/source"
	"github.com/songzhibin97/workflow-canvas/storage"
	"github.com/songzhibin97/workflow-canvas/types"
	"github.com/songzhibin97/workflow-canvas/workflow"
)

// Render size limits in pixels.
const (
	DefaultRenderWidth  = 1024
	DefaultRenderHeight = 768
	MaxRenderSize       = 8192
)

// Option configures a Server.
type Option func(*Server)

func WithLayout(l graph.Layout) Option {
	return func(s *Server) { s.layout = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server serves items from a MemorySource and states from a StateStore.
type Server struct {
	app    *fiber.App
	items  *source.MemorySource
	store  storage.StateStore
	layout graph.Layout
	logger *slog.Logger
}

// New builds the fiber app and registers every route.
func New(items *source.MemorySource, store storage.StateStore, opts ...Option) *Server {
	s := &Server{
		app:    fiber.New(),
		items:  items,
		store:  store,
		layout: graph.DefaultLayout(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error { return s.app.Shutdown() }

func param(c fiber.Ctx, name string) string {
	v := c.Params(name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func (s *Server) fail(c fiber.Ctx, err error) error {
	s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	return c.Status(500).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) routes() {
	app := s.app

	// items
	app.Get("/items", func(c fiber.Ctx) error {
		filter := source.Filter{Page: c.Query("page"), Expr: c.Query("filter")}
		items, err := s.items.List(c.Context(), filter)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(items)
	})

	app.Post("/items", func(c fiber.Ctx) error {
		var it types.ExternalItem
		if err := c.Bind().JSON(&it); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		created, err := s.items.Put(c.Context(), it)
		if err != nil {
			return s.fail(c, err)
		}
		return c.Status(201).JSON(created)
	})

	app.Get("/items/:id", func(c fiber.Ctx) error {
		it, err := s.items.Get(c.Context(), param(c, "id"))
		if errors.Is(err, source.ErrItemNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "item not found"})
		}
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(it)
	})

	app.Put("/items/:id", func(c fiber.Ctx) error {
		var it types.ExternalItem
		if err := c.Bind().JSON(&it); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		it.ID = param(c, "id")
		updated, err := s.items.Put(c.Context(), it)
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(updated)
	})

	app.Patch("/items/:id/position", func(c fiber.Ctx) error {
		var p types.Point
		if err := c.Bind().JSON(&p); err != nil || !p.IsFinite() {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		err := s.items.UpdatePosition(c.Context(), param(c, "id"), p)
		if errors.Is(err, source.ErrItemNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "item not found"})
		}
		if err != nil {
			return s.fail(c, err)
		}
		return c.SendStatus(204)
	})

	app.Delete("/items/:id", func(c fiber.Ctx) error {
		err := s.items.Delete(c.Context(), param(c, "id"))
		if errors.Is(err, source.ErrItemNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "item not found"})
		}
		if err != nil {
			return s.fail(c, err)
		}
		return c.SendStatus(204)
	})

	// states and renders
	app.Get("/state/:key", func(c fiber.Ctx) error {
		state, ok, err := s.loadState(c)
		if !ok {
			return err
		}
		return c.JSON(state)
	})

	app.Put("/state/:key", func(c fiber.Ctx) error {
		var state types.SavedState
		if err := c.Bind().JSON(&state); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		graph.PruneEdges(&state)
		graph.Repair(&state, s.layout)
		if err := graph.New(graph.WithLayout(s.layout)).Restore(state); err != nil {
			return c.Status(422).JSON(fiber.Map{"error": err.Error()})
		}
		err := s.store.Save(c.Context(), param(c, "key"), state)
		if errors.Is(err, storage.ErrInvalidKey) {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(state)
	})

	app.Delete("/state/:key", func(c fiber.Ctx) error {
		err := s.store.Delete(c.Context(), param(c, "key"))
		if errors.Is(err, storage.ErrStateNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "state not found"})
		}
		if err != nil {
			return s.fail(c, err)
		}
		return c.SendStatus(204)
	})

	app.Get("/state/:key/render.svg", func(c fiber.Ctx) error {
		state, ok, err := s.loadState(c)
		if !ok {
			return err
		}
		w, h := renderSize(c)
		var buf bytes.Buffer
		sf := render.NewSVG(&buf, w, h)
		if err := workflow.DrawState(sf, state, s.layout, color.White); err != nil {
			return s.fail(c, err)
		}
		sf.End()
		c.Set(fiber.HeaderContentType, "image/svg+xml")
		return c.Send(buf.Bytes())
	})

	app.Get("/state/:key/render.png", func(c fiber.Ctx) error {
		state, ok, err := s.loadState(c)
		if !ok {
			return err
		}
		w, h := renderSize(c)
		sf, err := render.NewRaster(w, h)
		if err != nil {
			return s.fail(c, err)
		}
		if err := workflow.DrawState(sf, state, s.layout, color.White); err != nil {
			return s.fail(c, err)
		}
		var buf bytes.Buffer
		if err := sf.EncodePNG(&buf); err != nil {
			return s.fail(c, err)
		}
		c.Set(fiber.HeaderContentType, "image/png")
		return c.Send(buf.Bytes())
	})
}

// loadState reads, prunes and repairs the state named by the key param. When
// ok is false the response has been written and err is the handler result.
func (s *Server) loadState(c fiber.Ctx) (types.SavedState, bool, error) {
	state, err := s.store.Get(c.Context(), param(c, "key"))
	if errors.Is(err, storage.ErrStateNotFound) {
		return state, false, c.Status(404).JSON(fiber.Map{"error": "state not found"})
	}
	if err != nil {
		return state, false, s.fail(c, err)
	}
	graph.PruneEdges(&state)
	graph.Repair(&state, s.layout)
	return state, true, nil
}

func renderSize(c fiber.Ctx) (int, int) {
	dim := func(name string, def int) int {
		v, err := strconv.Atoi(c.Query(name))
		if err != nil || v <= 0 {
			return def
		}
		if v > MaxRenderSize {
			return MaxRenderSize
		}
		return v
	}
	return dim("width", DefaultRenderWidth), dim("height", DefaultRenderHeight)
}
