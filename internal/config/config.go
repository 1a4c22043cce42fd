package config

type Config struct {
	Environment string `mapstructure:"environment" yaml:"environment"`
	Port        int    `mapstructure:"port" yaml:"port"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`

	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Cache        CacheConfig        `mapstructure:"cache" yaml:"cache"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit" yaml:"rate_limit"`
	PolicyEngine PolicyEngineConfig `mapstructure:"policy_engine" yaml:"policy_engine"`
	OIDC         OIDCConfig         `mapstructure:"oidc" yaml:"oidc"`
	Audit        AuditConfig        `mapstructure:"audit" yaml:"audit"`
	RBAC         RBACConfig         `mapstructure:"rbac" yaml:"rbac"`
	CORS         CORSConfig         `mapstructure:"cors" yaml:"cors"`

	// APIKeys maps shared-secret API keys to tenant ids.
	APIKeys map[string]string `mapstructure:"api_keys" yaml:"api_keys"`
}

// DatabaseConfig holds the relational store connection settings.
type DatabaseConfig struct {
	URL             string `mapstructure:"url" yaml:"url"`
	MaxConns        int    `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int    `mapstructure:"min_conns" yaml:"min_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"` // seconds
}

// CacheConfig configures the two-tier decision cache.
type CacheConfig struct {
	L1 L1CacheConfig `mapstructure:"l1" yaml:"l1"`
	L2 L2CacheConfig `mapstructure:"l2" yaml:"l2"`
}

type L1CacheConfig struct {
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries"`
	TTL        int `mapstructure:"ttl" yaml:"ttl"` // seconds
}

type L2CacheConfig struct {
	Addrs    []string `mapstructure:"addrs" yaml:"addrs"`
	Password string   `mapstructure:"password" yaml:"password"`
	DB       int      `mapstructure:"db" yaml:"db"`
	TTL      int      `mapstructure:"ttl" yaml:"ttl"` // seconds
}

// RateLimitConfig configures the per-credential token bucket.
type RateLimitConfig struct {
	Capacity     int `mapstructure:"capacity" yaml:"capacity"`
	RefillTokens int `mapstructure:"refill_tokens" yaml:"refill_tokens"`
	RefillPeriod int `mapstructure:"refill_period" yaml:"refill_period"` // seconds
}

// PolicyEngineConfig configures the external OPA decision endpoint.
type PolicyEngineConfig struct {
	Enabled          bool   `mapstructure:"enabled" yaml:"enabled"`
	BaseURL          string `mapstructure:"base_url" yaml:"base_url"`
	PolicyPath       string `mapstructure:"policy_path" yaml:"policy_path"`
	CompilePath      string `mapstructure:"compile_path" yaml:"compile_path"`
	TimeoutMs        int    `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	ConnectTimeoutMs int    `mapstructure:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	RetryAttempts    int    `mapstructure:"retry_attempts" yaml:"retry_attempts"`
}

// OIDCConfig configures bearer-token verification.
type OIDCConfig struct {
	Enabled          bool   `mapstructure:"enabled" yaml:"enabled"`
	Issuer           string `mapstructure:"issuer" yaml:"issuer"`
	JWKSURI          string `mapstructure:"jwks_uri" yaml:"jwks_uri"`
	Audience         string `mapstructure:"audience" yaml:"audience"`
	ClockSkewSeconds int    `mapstructure:"clock_skew_seconds" yaml:"clock_skew_seconds"`
	JWKSCacheTTL     int    `mapstructure:"jwks_cache_ttl" yaml:"jwks_cache_ttl"` // seconds
}

// AuditConfig configures the asynchronous audit recorder.
type AuditConfig struct {
	QueueSize     int `mapstructure:"queue_size" yaml:"queue_size"`
	Workers       int `mapstructure:"workers" yaml:"workers"`
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days"`
}

// RBACConfig configures evaluator bounds.
type RBACConfig struct {
	MaxHierarchyDepth int `mapstructure:"max_hierarchy_depth" yaml:"max_hierarchy_depth"`
}

// CORSConfig handles cross-origin resource sharing.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers" yaml:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age" yaml:"max_age"`
}
