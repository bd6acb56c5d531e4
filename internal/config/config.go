// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
	"github.com/JakeFAU/movie-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/movie-ingest/internal/policy/scope"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Scope     scope.Config    `mapstructure:"scope"`
	Redis     RedisConfig     `mapstructure:"redis"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Seeds     []SeedConfig    `mapstructure:"seeds"`
}

// SeedConfig is a URL enqueued at start-up.
type SeedConfig struct {
	Address     string `mapstructure:"address"`
	FetchMethod string `mapstructure:"fetch_method"`
	PageKind    string `mapstructure:"page_kind"`
}

// Seed converts s into a pipeline seed.
func (s SeedConfig) Seed() pipeline.Seed {
	return pipeline.Seed{
		Address:     s.Address,
		FetchMethod: pipeline.FetchMethod(strings.ToUpper(s.FetchMethod)),
		PageKind:    pipeline.PageKind(strings.ToUpper(s.PageKind)),
	}
}

// PipelineSeeds returns the configured seeds.
func (c Config) PipelineSeeds() []pipeline.Seed {
	out := make([]pipeline.Seed, 0, len(c.Seeds))
	for _, s := range c.Seeds {
		out = append(out, s.Seed())
	}
	return out
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to Postgres. An explicit DSN wins over the individual fields.
type DBConfig struct {
	RawDSN             string `mapstructure:"dsn"`
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	Name               string `mapstructure:"name"`
	SSLMode            string `mapstructure:"sslmode"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate            bool   `mapstructure:"migrate"`
}

// DSN returns the connection string.
func (c DBConfig) DSN() string {
	if c.RawDSN != "" {
		return c.RawDSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// StorageConfig selects the store driver and the optional raw HTML archive.
type StorageConfig struct {
	// Driver is "postgres" or "memory".
	Driver      string `mapstructure:"driver"`
	Archive     string `mapstructure:"archive"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PipelineConfig governs coordinator and dispatcher behavior.
type PipelineConfig struct {
	BatchSize         int `mapstructure:"batch_size"`
	LeaseSeconds      int `mapstructure:"lease_seconds"`
	MaxFetchRetries   int `mapstructure:"max_fetch_retries"`
	MaxProcessRetries int `mapstructure:"max_process_retries"`
	Parallelism       int `mapstructure:"parallelism"`
	FetchWorkers      int `mapstructure:"fetch_workers"`
	ProcessWorkers    int `mapstructure:"process_workers"`
	PollMs            int `mapstructure:"poll_ms"`
	ErrorBackoffMs    int `mapstructure:"error_backoff_ms"`
	StatsSeconds      int `mapstructure:"stats_seconds"`
	RetryBaseSeconds  int `mapstructure:"retry_base_seconds"`
	RetryMaxSeconds   int `mapstructure:"retry_max_seconds"`
}

// HTTPConfig configures the PLAIN_REQUEST fetcher.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the BROWSER fetcher.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	WaitSelector  string `mapstructure:"wait_selector"`
	SettleMs      int    `mapstructure:"settle_ms"`
}

// RateLimitConfig sets per-host politeness.
type RateLimitConfig struct {
	DefaultRPS   float64              `mapstructure:"default_rps"`
	DefaultBurst int                  `mapstructure:"default_burst"`
	Hosts        []HostLimit `mapstructure:"hosts"`
}

// HostLimit overrides the default rate for one host. Hosts are listed rather than keyed
// because Viper splits map keys on dots.
type HostLimit struct {
	Host  string  `mapstructure:"host"`
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Limiter converts the section into the ratelimit package's config.
func (c RateLimitConfig) Limiter() ratelimit.Config {
	hosts := make(map[string]ratelimit.HostLimit, len(c.Hosts))
	for _, h := range c.Hosts {
		hosts[h.Host] = ratelimit.HostLimit{RPS: h.RPS, Burst: h.Burst}
	}
	return ratelimit.Config{DefaultRPS: c.DefaultRPS, DefaultBurst: c.DefaultBurst, Hosts: hosts}
}

// ExtractorConfig holds selectors and link classification patterns.
type ExtractorConfig struct {
	ListingContainer string `mapstructure:"listing_container"`
	LinkSelector     string `mapstructure:"link_selector"`
	DetailPattern    string `mapstructure:"detail_pattern"`
	BrowserPattern   string `mapstructure:"browser_pattern"`
	TitleSelector    string `mapstructure:"title_selector"`
	RatingSelector   string `mapstructure:"rating_selector"`
	RatingAttr       string `mapstructure:"rating_attr"`
}

// RedisConfig enables the Redis discovery cache when Addr is set.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	Prefix     string `mapstructure:"prefix"`
	TTLMinutes int    `mapstructure:"ttl_minutes"`
}

// PubSubConfig holds metadata for movie notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MOVIEINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "movies")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.migrate", true)
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.archive", "none")
	v.SetDefault("storage.local_dir", "data/html")
	v.SetDefault("storage.prefix", "html")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("pipeline.batch_size", 10)
	v.SetDefault("pipeline.lease_seconds", 300)
	v.SetDefault("pipeline.max_fetch_retries", 3)
	v.SetDefault("pipeline.max_process_retries", 3)
	v.SetDefault("pipeline.parallelism", 4)
	v.SetDefault("pipeline.fetch_workers", 2)
	v.SetDefault("pipeline.process_workers", 1)
	v.SetDefault("pipeline.poll_ms", 2000)
	v.SetDefault("pipeline.error_backoff_ms", 5000)
	v.SetDefault("pipeline.stats_seconds", 30)
	v.SetDefault("pipeline.retry_base_seconds", 30)
	v.SetDefault("pipeline.retry_max_seconds", 1800)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "movie-ingest/0.1")
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("http.max_body_bytes", 5<<20)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("ratelimit.default_rps", 1.0)
	v.SetDefault("ratelimit.default_burst", 1)
	v.SetDefault("extractor.link_selector", "a[href]")
	v.SetDefault("extractor.detail_pattern", `/movie/`)
	v.SetDefault("extractor.title_selector", "h1")
	v.SetDefault("scope.allow_domains", []string{})
	v.SetDefault("scope.deny_domains", []string{})
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.prefix", "movieingest:seen:")
	v.SetDefault("redis.ttl_minutes", 1440)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Storage.Driver {
	case "postgres":
		if c.DB.RawDSN == "" && (c.DB.Host == "" || c.DB.Name == "") {
			return fmt.Errorf("db.dsn or db.host and db.name are required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver)
	}
	switch c.Storage.Archive {
	case "", "none", "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required when storage.archive is gcs")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required when storage.archive is local")
		}
	default:
		return fmt.Errorf("storage.archive must be none, memory, local or gcs, got %q", c.Storage.Archive)
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Pipeline.LeaseSeconds <= 0 {
		return fmt.Errorf("pipeline.lease_seconds must be > 0")
	}
	if c.Pipeline.MaxFetchRetries <= 0 || c.Pipeline.MaxProcessRetries <= 0 {
		return fmt.Errorf("pipeline max retries must be > 0")
	}
	if c.Pipeline.FetchWorkers < 0 || c.Pipeline.ProcessWorkers < 0 {
		return fmt.Errorf("pipeline worker counts must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	for i, h := range c.RateLimit.Hosts {
		if h.Host == "" {
			return fmt.Errorf("ratelimit.hosts[%d].host is required", i)
		}
	}
	for i, seed := range c.Seeds {
		if _, err := pipeline.NormalizeSeed(seed.Seed()); err != nil {
			return fmt.Errorf("seeds[%d]: %w", i, err)
		}
	}
	return nil
}

// Lease returns the claim lease duration.
func (c PipelineConfig) Lease() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

// PollInterval returns the idle sleep between empty cycles.
func (c PipelineConfig) PollInterval() time.Duration {
	return time.Duration(c.PollMs) * time.Millisecond
}

// ErrorBackoff returns the sleep after an aborted cycle.
func (c PipelineConfig) ErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoffMs) * time.Millisecond
}

// FetchTimeout returns the PLAIN_REQUEST timeout.
func (c HTTPConfig) FetchTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
