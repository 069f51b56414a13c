package extension

// Config holds configuration for the payrun Forge extension.
type Config struct {
	// BasePath is the URL prefix for all payrun API routes.
	BasePath string `default:"/api/payrun" json:"base_path"`

	// DisableRoutes disables the registration of HTTP routes.
	// Useful when embedding payrun for background processing only.
	DisableRoutes bool `default:"false" json:"disable_routes"`

	// DisableMigrate disables auto-migration on start.
	DisableMigrate bool `default:"false" json:"disable_migrate"`

	// RequireConfig requires config to be present in YAML files.
	RequireConfig bool `default:"false" json:"require_config"`

	// InternalToken is the shared secret for the internal execute
	// endpoint. Empty disables token checking.
	InternalToken string `json:"internal_token"`

	// Store selects the persistence backend: "memory", "postgres", or
	// "hybrid" (postgres for run state and outbox, redis for jobs).
	// Ignored when a store is provided programmatically.
	Store string `default:"memory" json:"store"`

	// PostgresDSN is the connection string for the postgres and hybrid
	// backends.
	PostgresDSN string `json:"postgres_dsn"`

	// RedisAddr is the redis address for the hybrid backend.
	RedisAddr string `json:"redis_addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath: "/api/payrun",
		Store:    "memory",
	}
}
