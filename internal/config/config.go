// Package config loads process configuration from an optional YAML file and
// environment variable overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pushgate/pushgate/internal/database"
)

// EnvConfigPath names the variable pointing at the YAML config file.
const EnvConfigPath = "PUSHGATE_CONFIG"

// Config is the complete configuration of the API server and the worker.
type Config struct {
	Env         string `yaml:"env"`
	Port        string `yaml:"port"`
	TenantsFile string `yaml:"tenants_file"`

	// AutoMigrate applies the embedded schema on startup.
	AutoMigrate bool `yaml:"auto_migrate"`

	// RequireTLS rejects requests a proxy reports as plain HTTP.
	RequireTLS bool `yaml:"require_tls"`

	Database  database.Config `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	FCM       FCMConfig       `yaml:"fcm"`
	APNs      APNsConfig      `yaml:"apns"`
	WebPush   WebPushConfig   `yaml:"webpush"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Leeway                  time.Duration `yaml:"leeway"`
	KeySetCooldown          time.Duration `yaml:"key_set_cooldown"`
	KeySetCacheSize         int           `yaml:"key_set_cache_size"`
	RequireApplicationClaim bool          `yaml:"require_application_claim"`
}

// RateLimitConfig configures per-application request limits.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// RedisConfig configures the optional sweep lease store.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PubSubConfig configures the optional on-demand sweep trigger.
type PubSubConfig struct {
	ProjectID    string `yaml:"project_id"`
	Subscription string `yaml:"subscription"`
}

// Enabled reports whether the trigger subscription is configured.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.Subscription != ""
}

// SweeperConfig configures the schedule sweeper.
type SweeperConfig struct {
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// FCMConfig configures Firebase Cloud Messaging.
type FCMConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
}

// Enabled reports whether FCM is configured.
func (c FCMConfig) Enabled() bool {
	return c.ProjectID != ""
}

// APNsConfig configures Apple Push Notification service token authentication.
type APNsConfig struct {
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	BundleID   string `yaml:"bundle_id"`
	KeyFile    string `yaml:"key_file"`
	Production bool   `yaml:"production"`
}

// Enabled reports whether APNs is configured.
func (c APNsConfig) Enabled() bool {
	return c.KeyID != "" && c.TeamID != "" && c.KeyFile != ""
}

// WebPushConfig configures VAPID web push.
type WebPushConfig struct {
	Subscriber      string `yaml:"subscriber"`
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	TTL             int    `yaml:"ttl"`
}

// Enabled reports whether web push is configured.
func (c WebPushConfig) Enabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Env:      "development",
		Port:     "8080",
		Database: database.DefaultConfig(),
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
		},
		Auth: AuthConfig{
			Leeway:          5 * time.Second,
			KeySetCooldown:  60 * time.Second,
			KeySetCacheSize: 1024,
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 600},
		Sweeper: SweeperConfig{
			Interval:    60 * time.Second,
			BatchSize:   100,
			Concurrency: 4,
			Timeout:     30 * time.Second,
		},
		WebPush: WebPushConfig{TTL: 86400},
	}
}

// Load reads the file named by PUSHGATE_CONFIG, if set, and applies environment
// overrides.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvConfigPath))
}

// LoadFile reads path, if non-empty, over the defaults and applies environment
// overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(raw, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	// An empty file decodes to io.EOF and leaves the defaults in place.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// Validate checks the settings that have no safe fallback.
func (c *Config) Validate() error {
	var problems []string

	if c.Port == "" {
		problems = append(problems, "port is required")
	}
	if c.Auth.KeySetCooldown < 0 {
		problems = append(problems, "auth.key_set_cooldown must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		problems = append(problems, "telemetry.sample_ratio must be between 0 and 1")
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		problems = append(problems, "rate_limit.requests_per_minute must not be negative")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required when redis is enabled")
	}
	if c.APNs.KeyFile != "" && c.APNs.BundleID == "" {
		problems = append(problems, "apns.bundle_id is required when apns is configured")
	}
	if c.WebPush.Enabled() && c.WebPush.Subscriber == "" {
		problems = append(problems, "webpush.subscriber is required when web push is configured")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func applyEnv(c *Config) {
	c.Env = getEnvOrDefault("APP_ENV", c.Env)
	c.Port = getEnvOrDefault("APP_PORT", c.Port)
	c.TenantsFile = getEnvOrDefault("TENANTS_FILE", c.TenantsFile)
	c.AutoMigrate = getEnvBool("DB_AUTO_MIGRATE", c.AutoMigrate)
	c.RequireTLS = getEnvBool("REQUIRE_TLS", c.RequireTLS)

	c.Database.ApplyEnv()

	c.Telemetry.Enabled = getEnvBool("OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.OTLPEndpoint = getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	if v, err := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64); err == nil {
		c.Telemetry.SampleRatio = v
	}

	c.Auth.Leeway = getEnvDuration("AUTH_LEEWAY", c.Auth.Leeway)
	c.Auth.KeySetCooldown = getEnvDuration("AUTH_KEY_SET_COOLDOWN", c.Auth.KeySetCooldown)
	c.Auth.KeySetCacheSize = getEnvInt("AUTH_KEY_SET_CACHE_SIZE", c.Auth.KeySetCacheSize)
	c.Auth.RequireApplicationClaim = getEnvBool("AUTH_REQUIRE_APP_CLAIM", c.Auth.RequireApplicationClaim)

	c.RateLimit.RequestsPerMinute = getEnvInt("RATE_LIMIT_RPM", c.RateLimit.RequestsPerMinute)

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
		c.Redis.Enabled = true
	}
	c.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)

	c.PubSub.ProjectID = getEnvOrDefault("PUBSUB_PROJECT_ID", c.PubSub.ProjectID)
	c.PubSub.Subscription = getEnvOrDefault("PUBSUB_SUBSCRIPTION", c.PubSub.Subscription)

	c.Sweeper.Interval = getEnvDuration("SWEEP_INTERVAL", c.Sweeper.Interval)
	c.Sweeper.BatchSize = getEnvInt("SWEEP_BATCH_SIZE", c.Sweeper.BatchSize)
	c.Sweeper.Concurrency = getEnvInt("SWEEP_CONCURRENCY", c.Sweeper.Concurrency)
	c.Sweeper.Timeout = getEnvDuration("SWEEP_TIMEOUT", c.Sweeper.Timeout)

	c.FCM.ProjectID = getEnvOrDefault("FCM_PROJECT_ID", c.FCM.ProjectID)
	c.FCM.CredentialsFile = getEnvOrDefault("FCM_CREDENTIALS_FILE", c.FCM.CredentialsFile)
	c.FCM.Endpoint = getEnvOrDefault("FCM_ENDPOINT", c.FCM.Endpoint)

	c.APNs.KeyID = getEnvOrDefault("APNS_KEY_ID", c.APNs.KeyID)
	c.APNs.TeamID = getEnvOrDefault("APNS_TEAM_ID", c.APNs.TeamID)
	c.APNs.BundleID = getEnvOrDefault("APNS_BUNDLE_ID", c.APNs.BundleID)
	c.APNs.KeyFile = getEnvOrDefault("APNS_KEY_FILE", c.APNs.KeyFile)
	c.APNs.Production = getEnvBool("APNS_PRODUCTION", c.APNs.Production)

	c.WebPush.Subscriber = getEnvOrDefault("VAPID_SUBSCRIBER", c.WebPush.Subscriber)
	c.WebPush.VAPIDPublicKey = getEnvOrDefault("VAPID_PUBLIC_KEY", c.WebPush.VAPIDPublicKey)
	c.WebPush.VAPIDPrivateKey = getEnvOrDefault("VAPID_PRIVATE_KEY", c.WebPush.VAPIDPrivateKey)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
