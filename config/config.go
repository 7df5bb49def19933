// Package config loads the YAML configuration shared by the canvas binaries
// and turns it into stores, sources and editor options.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/songzhibin97/workflow-canvas/geom"
	"github.com/songzhibin97/workflow-canvas/graph"
	"github.com/songzhibin97/workflow-canvas/source"
	"github.com/songzhibin97/workflow-canvas/storage"
	"github.com/songzhibin97/workflow-canvas/workflow"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable holding the config path.
const EnvPath = "WFCANVAS_CONFIG"

// DefaultFile is looked up in the home directory when no path is given.
const DefaultFile = ".wfcanvas.yaml"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type SourceConfig struct {
	Kind         string        `yaml:"kind"` // memory or http
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Filter       source.Filter `yaml:"filter"`
}

type StoreConfig struct {
	Kind     string               `yaml:"kind"` // memory, file, redis or postgres
	Key      string               `yaml:"key"`
	Dir      string               `yaml:"dir"`
	Redis    storage.RedisOptions `yaml:"redis"`
	Postgres PostgresConfig       `yaml:"postgres"`
}

type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	CreateSchema bool   `yaml:"create_schema"`
}

type ViewportConfig struct {
	MinScale      float64 `yaml:"min_scale"`
	MaxScale      float64 `yaml:"max_scale"`
	ZoomIntensity float64 `yaml:"zoom_intensity"`
	ZoomStep      float64 `yaml:"zoom_step"`
}

type InteractionConfig struct {
	Grid        float64       `yaml:"grid"`
	SaveDelay   time.Duration `yaml:"save_delay"`
	ClickWindow time.Duration `yaml:"click_window"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the full configuration file.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Source      SourceConfig      `yaml:"source"`
	Store       StoreConfig       `yaml:"store"`
	Layout      graph.Layout      `yaml:"layout"`
	Viewport    ViewportConfig    `yaml:"viewport"`
	Interaction InteractionConfig `yaml:"interaction"`
	Server      ServerConfig      `yaml:"server"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Source: SourceConfig{Kind: "memory", Timeout: 5 * time.Second, PollInterval: source.DefaultPollInterval},
		Store: StoreConfig{
			Kind: "memory",
			Key:  storage.DefaultStateKey,
			Redis: storage.RedisOptions{
				Addr:         "localhost:6379",
				PoolSize:     10,
				MinIdleConns: 2,
				IdleTimeout:  5 * time.Minute,
				Prefix:       storage.DefaultRedisPrefix,
			},
		},
		Layout: graph.DefaultLayout(),
		Viewport: ViewportConfig{
			MinScale:      geom.DefaultMinScale,
			MaxScale:      geom.DefaultMaxScale,
			ZoomIntensity: geom.DefaultZoomIntensity,
			ZoomStep:      geom.DefaultZoomStep,
		},
		Interaction: InteractionConfig{
			Grid:        workflow.DefaultGrid,
			SaveDelay:   workflow.DefaultSaveDelay,
			ClickWindow: workflow.DefaultClickWindow,
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Path resolves the config file: the explicit path, then $WFCANVAS_CONFIG,
// then ~/.wfcanvas.yaml.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, DefaultFile)
}

// Load reads the config at Path(explicit). A missing default file yields
// the defaults; a missing explicit file is an error.
func Load(explicit string) (Config, error) {
	path := Path(explicit)
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) && explicit == "" && os.Getenv(EnvPath) == "" {
		return Default(), nil
	} else if err != nil {
		return Config{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Store.Dir = expandHome(cfg.Store.Dir)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate rejects values nothing could work with.
func (c Config) Validate() error {
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return invalid("log.format %q", c.Log.Format)
	}

	switch c.Source.Kind {
	case "memory":
	case "http":
		if c.Source.URL == "" {
			return invalid("source.url is required for the http source")
		}
	default:
		return invalid("source.kind %q", c.Source.Kind)
	}
	if c.Source.PollInterval < 0 || c.Source.Timeout < 0 {
		return invalid("source durations must not be negative")
	}

	switch c.Store.Kind {
	case "memory":
	case "file":
		if c.Store.Dir == "" {
			return invalid("store.dir is required for the file store")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return invalid("store.redis.addr is required for the redis store")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return invalid("store.postgres.dsn is required for the postgres store")
		}
	default:
		return invalid("store.kind %q", c.Store.Kind)
	}
	if c.Store.Key == "" {
		return invalid("store.key is empty")
	}

	if c.Layout.NodeWidth <= 0 || c.Layout.NodeHeight <= 0 || c.Layout.Spacing <= 0 {
		return invalid("layout node size and spacing must be positive")
	}
	if _, err := geom.NewViewport(c.viewportOptions()...); err != nil {
		return invalid("viewport: %v", err)
	}
	if c.Interaction.Grid < 0 || c.Interaction.SaveDelay < 0 || c.Interaction.ClickWindow < 0 {
		return invalid("interaction values must not be negative")
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, invalid("log.level %q", s)
	}
	return level, nil
}

// NewLogger builds the configured slog logger writing to w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (c Config) viewportOptions() []geom.Option {
	return []geom.Option{
		geom.WithScaleRange(c.Viewport.MinScale, c.Viewport.MaxScale),
		geom.WithZoomIntensity(c.Viewport.ZoomIntensity),
		geom.WithZoomStep(c.Viewport.ZoomStep),
	}
}

// EditorOptions maps the config onto workflow editor options.
func (c Config) EditorOptions() []workflow.Option {
	return []workflow.Option{
		workflow.WithLayout(c.Layout),
		workflow.WithViewport(c.viewportOptions()...),
		workflow.WithGrid(c.Interaction.Grid),
		workflow.WithSaveDelay(c.Interaction.SaveDelay),
		workflow.WithClickWindow(c.Interaction.ClickWindow),
		workflow.WithPollInterval(c.Source.PollInterval),
		workflow.WithStateKey(c.Store.Key),
		workflow.WithFilter(c.Source.Filter),
	}
}

// Open builds the configured item source. The memory source starts
// empty.
func (c SourceConfig) Open() (source.ItemSource, error) {
	switch c.Kind {
	case "memory", "":
		return source.NewMemorySource(), nil
	case "http":
		return source.NewHTTPSource(c.URL, c.Timeout), nil
	}
	return nil, invalid("source.kind %q", c.Kind)
}

// Open connects the configured state store. The returned close function
// releases its connections and is never nil.
func (c StoreConfig) Open(ctx context.Context) (storage.StateStore, func(), error) {
	noop := func() {}
	switch c.Kind {
	case "memory", "":
		return storage.NewMemoryStorage(), noop, nil
	case "file":
		s, err := storage.NewFileStorage(c.Dir)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case "redis":
		s, err := storage.NewRedisStorage(c.Redis)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		s, err := storage.ConnectPostgres(ctx, c.Postgres.DSN)
		if err != nil {
			return nil, noop, err
		}
		if c.Postgres.CreateSchema {
			if err := s.CreateSchema(ctx); err != nil {
				s.Close()
				return nil, noop, fmt.Errorf("failed to create schema: %w", err)
			}
		}
		return s, s.Close, nil
	}
	return nil, noop, invalid("store.kind %q", c.Kind)
}
