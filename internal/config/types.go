// Package config loads configuration from files, env vars, and flags, and validates it.
package config

import (
	"time"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Server        ServerConfig        `mapstructure:"server"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Migrations    MigrationsConfig    `mapstructure:"migrations"`
	GraphQL       GraphQLConfig       `mapstructure:"graphql"`
	Swagger       SwaggerConfig       `mapstructure:"swagger"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	// ConnectionString is a complete postgres:// URL or key=value DSN.
	// When set, overrides Host/Port/User/Password/Database fields.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN. Supports "@-" for stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`
	// Schema is the introspected schema and the search_path of every connection.
	Schema string `mapstructure:"schema"`
	// SSLMode is passed through to the driver (disable, require, verify-ca, verify-full).
	SSLMode string `mapstructure:"sslmode"`

	Pool PoolConfig `mapstructure:"pool"`

	// ConnectionTimeout is the max time to wait for DB on startup.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// ConnectionRetryInterval is the initial interval between connection retries.
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Host                 string        `mapstructure:"host"`
	Port                 int           `mapstructure:"port"`
	RateLimitEnabled     bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRPS         float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst       int           `mapstructure:"rate_limit_burst"`
	CORSEnabled          bool          `mapstructure:"cors_enabled"`
	CORSAllowedOrigins   []string      `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods   []string      `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders   []string      `mapstructure:"cors_allowed_headers"`
	CORSExposeHeaders    []string      `mapstructure:"cors_expose_headers"`
	CORSAllowCredentials bool          `mapstructure:"cors_allow_credentials"`
	CORSMaxAge           int           `mapstructure:"cors_max_age"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckTimeout   time.Duration `mapstructure:"health_check_timeout"`
}

// EngineConfig controls how the REST surface is generated.
type EngineConfig struct {
	// APIPrefix is the mount point of every generated route (default "api/v1").
	APIPrefix string `mapstructure:"api_prefix"`
	// RelationsFile maps table names to relation descriptors (JSON).
	RelationsFile string `mapstructure:"relations_file"`
	// ModelsFile holds per-model options (YAML). Optional.
	ModelsFile string `mapstructure:"models_file"`
	// InferRelations adds relations derived from single-column foreign keys;
	// the relations file wins on alias clashes.
	InferRelations bool `mapstructure:"infer_relations"`
	// DisableAPIHandlers skips CRUD route registration (auth, GraphQL and docs stay).
	DisableAPIHandlers bool `mapstructure:"disable_api_handlers"`
	// Pagination is the default for models that do not set it.
	Pagination bool `mapstructure:"pagination"`
	// StrictFilters answers 400 when a filter fails instead of running the
	// query unfiltered.
	StrictFilters bool `mapstructure:"strict_filters"`
	// DefaultPageSize applies when a request sends no view.
	DefaultPageSize int `mapstructure:"default_page_size"`
	// IntrospectionConcurrency bounds parallel per-table catalog queries.
	IntrospectionConcurrency int `mapstructure:"introspection_concurrency"`
	// StrictIntrospection fails startup on catalog errors instead of serving an empty model set.
	StrictIntrospection bool `mapstructure:"strict_introspection"`
}

// TokenConfig configures one JWT kind.
type TokenConfig struct {
	Secret     string        `mapstructure:"secret"`
	SecretFile string        `mapstructure:"secret_file"`
	ExpiresIn  time.Duration `mapstructure:"expires_in"`
	Algorithm  string        `mapstructure:"algorithm"`
}

// OIDCConfig enables verifying access tokens against an external issuer.
type OIDCConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	IssuerURL     string        `mapstructure:"issuer_url"`
	Audience      string        `mapstructure:"audience"`
	ClockSkew     time.Duration `mapstructure:"clock_skew"`
	SkipTLSVerify bool          `mapstructure:"skip_tls_verify"`
}

// AuthConfig holds login/register/refresh settings.
type AuthConfig struct {
	Enabled          bool        `mapstructure:"enabled"`
	URL              string      `mapstructure:"url"`
	Table            string      `mapstructure:"table"`
	PrimaryKeys      []string    `mapstructure:"primary_keys"`
	IdentityField    string      `mapstructure:"identity_field"`
	CredentialsField string      `mapstructure:"credentials_field"`
	BcryptCost       int         `mapstructure:"bcrypt_cost"`
	AccessToken      TokenConfig `mapstructure:"access_token"`
	RefreshToken     TokenConfig `mapstructure:"refresh_token"`
	OIDC             OIDCConfig  `mapstructure:"oidc"`
}

// MigrationsConfig controls the JSON migrations directory.
type MigrationsConfig struct {
	Dir string `mapstructure:"dir"`
	// Apply runs pending migrations at startup.
	Apply bool `mapstructure:"apply"`
	// Reset drops the schema and the migrations directory before applying.
	Reset bool `mapstructure:"reset"`
	// Additional migrations are recorded once, matched by their up statement,
	// before pending files are applied.
	Additional []MigrationSpec `mapstructure:"additional"`
}

// MigrationSpec is one configured migration.
type MigrationSpec struct {
	Up   string `mapstructure:"up"`
	Down string `mapstructure:"down"`
}

// GraphQLConfig controls the optional GraphQL endpoint.
type GraphQLConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Path            string `mapstructure:"path"`
	GraphiQLEnabled bool   `mapstructure:"graphiql_enabled"`
	DefaultLimit    int    `mapstructure:"default_limit"`
	// MaxDepth rejects operations nested deeper than this; 0 disables the check.
	MaxDepth int `mapstructure:"max_depth"`
	// RequireAuth puts the endpoint behind the bearer token check.
	RequireAuth bool `mapstructure:"require_auth"`
	// SDLPath, when set, receives the generated schema in SDL form at startup.
	SDLPath string `mapstructure:"sdl_path"`
}

// SwaggerConfig controls the generated OpenAPI document.
type SwaggerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Endpoint     string `mapstructure:"endpoint"`
	Title        string `mapstructure:"title"`
	Description  string `mapstructure:"description"`
	Version      string `mapstructure:"version"`
	ContactName  string `mapstructure:"contact_name"`
	ContactEmail string `mapstructure:"contact_email"`
	// OutputFile, when set, receives the document at startup.
	OutputFile string `mapstructure:"output_file"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName         string        `mapstructure:"service_name"`
	ServiceVersion      string        `mapstructure:"service_version"`
	Environment         string        `mapstructure:"environment"`
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`
	TracingEnabled      bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio    float64       `mapstructure:"trace_sample_ratio"`
	SQLCommenterEnabled bool          `mapstructure:"sqlcommenter_enabled"`
	Logging             LoggingConfig `mapstructure:"logging"`

	// Global OTLP settings (defaults for all signals)
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides (optional)
	Traces  *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs    *OTLPConfig `mapstructure:"logs,omitempty"`
	Metrics *OTLPConfig `mapstructure:"metrics,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the effective OTLP config for traces
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// GetLogsConfig returns the effective OTLP config for logs
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// GetMetricsConfig returns the effective OTLP config for metrics
func (c *ObservabilityConfig) GetMetricsConfig() OTLPConfig {
	if c.Metrics != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Metrics)
	}
	return c.OTLP
}

// mergeOTLPConfigs merges signal-specific config over global defaults.
// Insecure always follows the override because a false value cannot be told apart from unset.
func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	merged := base

	if override.Endpoint != "" {
		merged.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		merged.Protocol = override.Protocol
	}
	merged.Insecure = override.Insecure

	if override.TLSCertFile != "" {
		merged.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		merged.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		merged.TLSClientKeyFile = override.TLSClientKeyFile
	}

	if override.Headers != nil {
		merged.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			merged.Headers[k] = v
		}
		for k, v := range override.Headers {
			merged.Headers[k] = v
		}
	}

	if override.Timeout != 0 {
		merged.Timeout = override.Timeout
	}
	if override.Compression != "" {
		merged.Compression = override.Compression
	}
	if override.RetryMaxAttempts != 0 {
		merged.RetryEnabled = override.RetryEnabled
		merged.RetryMaxAttempts = override.RetryMaxAttempts
	}

	return merged
}
