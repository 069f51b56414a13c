// Package extension provides the Forge extension adapter for payrun.
//
// It implements the forge.Extension interface to integrate payrun
// into a Forge application with route registration and lifecycle
// management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.payrun" or "payrun" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"github.com/xraph/forge"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/api"
	"github.com/payflux/payrun/backoff"
	"github.com/payflux/payrun/engine"
	"github.com/payflux/payrun/ext"
	mw "github.com/payflux/payrun/middleware"
	"github.com/payflux/payrun/store"
	"github.com/payflux/payrun/store/memory"
	pgstore "github.com/payflux/payrun/store/postgres"
	redisstore "github.com/payflux/payrun/store/redis"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "payrun"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Pay run finalization engine with durable item jobs and outbox delivery"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts payrun as a Forge extension. It implements the
// forge.Extension interface so payrun can be mounted into any Forge app.
type Extension struct {
	*forge.BaseExtension

	config     Config
	eng        *engine.Engine
	apiHandler *api.API
	logger     *slog.Logger
	nodeOpts   []payrun.Option
	engOpts    []engine.Option
	exts       []ext.Extension
	mws        []mw.Middleware
	ladder     *backoff.Ladder
	storer     payrun.Storer
}

// New creates a payrun Forge extension with the given options.
func New(opts ...ExtOption) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying payrun engine.
// This is nil until Register is called.
func (e *Extension) Engine() *engine.Engine { return e.eng }

// API returns the API handler.
func (e *Extension) API() *api.API { return e.apiHandler }

// Register implements [forge.Extension]. It initializes the node,
// builds the engine, and optionally registers HTTP routes.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	return e.init(fapp)
}

// init builds the node and engine.
func (e *Extension) init(fapp forge.App) error {
	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	s := e.storer
	if s == nil {
		built, err := e.buildStoreFromConfig(logger)
		if err != nil {
			return err
		}
		s = built
	}

	// Build node options.
	opts := make([]payrun.Option, 0, len(e.nodeOpts)+2)
	opts = append(opts, payrun.WithStore(s))
	opts = append(opts, payrun.WithLogger(logger))
	opts = append(opts, e.nodeOpts...)

	n, err := payrun.New(opts...)
	if err != nil {
		return fmt.Errorf("payrun: create node: %w", err)
	}

	// Build engine options.
	ladderCount := 0
	if e.ladder != nil {
		ladderCount = 1
	}
	engOpts := make([]engine.Option, 0, len(e.exts)+len(e.mws)+len(e.engOpts)+ladderCount)
	for _, x := range e.exts {
		engOpts = append(engOpts, engine.WithExtension(x))
	}
	for _, m := range e.mws {
		engOpts = append(engOpts, engine.WithMiddleware(m))
	}
	if e.ladder != nil {
		engOpts = append(engOpts, engine.WithLadder(e.ladder))
	}
	engOpts = append(engOpts, e.engOpts...)

	e.eng, err = engine.Build(n, engOpts...)
	if err != nil {
		return fmt.Errorf("payrun: build engine: %w", err)
	}

	// Create the API handler.
	apiOpts := make([]api.Option, 0, 1)
	if e.config.InternalToken != "" {
		apiOpts = append(apiOpts, api.WithInternalToken(e.config.InternalToken))
	}
	e.apiHandler = api.New(e.eng, fapp.Router(), apiOpts...)

	// Register HTTP routes unless disabled.
	if !e.config.DisableRoutes {
		e.apiHandler.RegisterRoutes(fapp.Router())
	}

	return nil
}

// buildStoreFromConfig constructs the store backend named in config.
func (e *Extension) buildStoreFromConfig(logger *slog.Logger) (payrun.Storer, error) {
	switch e.config.Store {
	case "", "memory":
		return memory.New(), nil
	case "postgres":
		if e.config.PostgresDSN == "" {
			return nil, errors.New("payrun: postgres store requires postgres_dsn")
		}
		return pgstore.New(context.Background(), e.config.PostgresDSN, pgstore.WithLogger(logger))
	case "hybrid":
		if e.config.PostgresDSN == "" || e.config.RedisAddr == "" {
			return nil, errors.New("payrun: hybrid store requires postgres_dsn and redis_addr")
		}
		pg, err := pgstore.New(context.Background(), e.config.PostgresDSN, pgstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		client := goredis.NewClient(&goredis.Options{Addr: e.config.RedisAddr})
		rd := redisstore.New(client, redisstore.WithLogger(logger))
		return store.NewHybrid(pg, rd), nil
	default:
		return nil, fmt.Errorf("payrun: unsupported store backend %q", e.config.Store)
	}
}

// Start begins job processing and runs auto-migration if enabled.
func (e *Extension) Start(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("payrun: extension not initialized")
	}

	// Run migrations unless disabled.
	if !e.config.DisableMigrate {
		if s := e.eng.Node().Store(); s != nil {
			if err := s.Migrate(ctx); err != nil {
				return fmt.Errorf("payrun: migration failed: %w", err)
			}
		}
	}

	if err := e.eng.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop gracefully shuts down the payrun engine.
func (e *Extension) Stop(ctx context.Context) error {
	if e.eng == nil {
		e.MarkStopped()
		return nil
	}
	err := e.eng.Stop(ctx)
	e.MarkStopped()
	return err
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("payrun: extension not initialized")
	}

	s := e.eng.Node().Store()
	if s == nil {
		return errors.New("payrun: no store configured")
	}

	return s.Ping(ctx)
}

// Handler returns the HTTP handler for all API routes.
// Convenience for standalone use outside Forge.
func (e *Extension) Handler() http.Handler {
	if e.apiHandler == nil {
		return http.NotFoundHandler()
	}
	return e.apiHandler.Handler()
}

// RegisterRoutes registers all payrun API routes into a Forge router.
func (e *Extension) RegisterRoutes(router forge.Router) {
	if e.apiHandler != nil {
		e.apiHandler.RegisterRoutes(router)
	}
}

// --- Config Loading (mirrors the shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("payrun: configuration is required but not found in config files; " +
				"ensure 'extensions.payrun' or 'payrun' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("payrun: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("store", e.config.Store),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.payrun" first (namespaced pattern).
	if cm.IsSet("extensions.payrun") {
		if err := cm.Bind("extensions.payrun", &cfg); err == nil {
			e.Logger().Debug("payrun: loaded config from file",
				forge.F("key", "extensions.payrun"),
			)
			return cfg, true
		}
		e.Logger().Warn("payrun: failed to bind extensions.payrun config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "payrun" key.
	if cm.IsSet("payrun") {
		if err := cm.Bind("payrun", &cfg); err == nil {
			e.Logger().Debug("payrun: loaded config from file",
				forge.F("key", "payrun"),
			)
			return cfg, true
		}
		e.Logger().Warn("payrun: failed to bind payrun config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.Store == "" {
		cfg.Store = defaults.Store
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.InternalToken == "" && programmaticConfig.InternalToken != "" {
		yamlConfig.InternalToken = programmaticConfig.InternalToken
	}
	if yamlConfig.Store == "" && programmaticConfig.Store != "" {
		yamlConfig.Store = programmaticConfig.Store
	}
	if yamlConfig.PostgresDSN == "" && programmaticConfig.PostgresDSN != "" {
		yamlConfig.PostgresDSN = programmaticConfig.PostgresDSN
	}
	if yamlConfig.RedisAddr == "" && programmaticConfig.RedisAddr != "" {
		yamlConfig.RedisAddr = programmaticConfig.RedisAddr
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
