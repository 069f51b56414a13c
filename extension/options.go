package extension

import (
	"log/slog"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/backoff"
	"github.com/payflux/payrun/engine"
	"github.com/payflux/payrun/ext"
	mw "github.com/payflux/payrun/middleware"
)

// ExtOption configures the payrun Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend directly, bypassing the
// config-driven store construction.
func WithStore(s payrun.Storer) ExtOption {
	return func(e *Extension) {
		e.storer = s
	}
}

// WithConcurrency sets the maximum number of concurrent job processors.
func WithConcurrency(n int) ExtOption {
	return func(e *Extension) {
		e.nodeOpts = append(e.nodeOpts, payrun.WithConcurrency(n))
	}
}

// WithQueues sets the queues the node will poll.
func WithQueues(queues []string) ExtOption {
	return func(e *Extension) {
		e.nodeOpts = append(e.nodeOpts, payrun.WithQueues(queues))
	}
}

// WithNodeOption appends an arbitrary node option.
func WithNodeOption(opt payrun.Option) ExtOption {
	return func(e *Extension) {
		e.nodeOpts = append(e.nodeOpts, opt)
	}
}

// WithEngineOption appends an arbitrary engine option.
func WithEngineOption(opt engine.Option) ExtOption {
	return func(e *Extension) {
		e.engOpts = append(e.engOpts, opt)
	}
}

// WithExtension registers a lifecycle hook extension.
func WithExtension(x ext.Extension) ExtOption {
	return func(e *Extension) {
		e.exts = append(e.exts, x)
	}
}

// WithMiddleware adds job middleware to the engine.
func WithMiddleware(m mw.Middleware) ExtOption {
	return func(e *Extension) {
		e.mws = append(e.mws, m)
	}
}

// WithLadder sets the retry ladder for failed item jobs.
func WithLadder(l *backoff.Ladder) ExtOption {
	return func(e *Extension) {
		e.ladder = l
	}
}

// WithBasePath sets the URL prefix for all payrun routes.
func WithBasePath(path string) ExtOption {
	return func(e *Extension) {
		e.config.BasePath = path
	}
}

// WithInternalToken sets the shared secret for the internal execute
// endpoint.
func WithInternalToken(token string) ExtOption {
	return func(e *Extension) {
		e.config.InternalToken = token
	}
}

// WithConfig sets the extension configuration directly.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithDisableRoutes disables the registration of HTTP routes.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) {
		e.config.DisableRoutes = true
	}
}

// WithDisableMigrate disables auto-migration on start.
func WithDisableMigrate() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrate = true
	}
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) ExtOption {
	return func(e *Extension) {
		e.config.RequireConfig = require
	}
}

// WithLogger sets the structured logger for the engine.
func WithLogger(l *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = l
	}
}
