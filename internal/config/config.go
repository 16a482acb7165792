package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/triage/internal/domain/triage"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is json, console or ecs. Empty picks console in development.
	LogFormat string `mapstructure:"LOG_FORMAT"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	RedisURL         string        `mapstructure:"REDIS_URL"`
	SnapshotCacheTTL time.Duration `mapstructure:"SNAPSHOT_CACHE_TTL"`

	NATSURL           string `mapstructure:"NATS_URL"`
	NATSSubjectPrefix string `mapstructure:"NATS_SUBJECT_PREFIX"`

	MQTTBroker   string `mapstructure:"MQTT_BROKER"`
	MQTTClientID string `mapstructure:"MQTT_CLIENT_ID"`
	MQTTTopic    string `mapstructure:"MQTT_TOPIC"`

	ScoringURL     string        `mapstructure:"SCORING_URL"`
	ScoringAPIKey  string        `mapstructure:"SCORING_API_KEY"`
	ScoringTimeout time.Duration `mapstructure:"SCORING_TIMEOUT"`
	ScoringRetries int           `mapstructure:"SCORING_RETRIES"`

	AlertPollInterval   time.Duration `mapstructure:"ALERT_POLL_INTERVAL"`
	AlertWorkers        int           `mapstructure:"ALERT_WORKERS"`
	DepartedRetention   time.Duration `mapstructure:"DEPARTED_RETENTION"`
	CompactionThreshold float64       `mapstructure:"COMPACTION_THRESHOLD"`
	ServiceTimesRaw     string        `mapstructure:"SERVICE_TIMES"`

	WebhookURLs   []string `mapstructure:"WEBHOOK_URLS"`
	WebhookSecret string   `mapstructure:"WEBHOOK_SECRET"`
	WebhookEvents []string `mapstructure:"WEBHOOK_EVENTS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	CORSOrigins           []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout        time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	MetricsEnabled        bool          `mapstructure:"METRICS_ENABLED"`
	SystemMetricsInterval time.Duration `mapstructure:"SYSTEM_METRICS_INTERVAL"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "SNAPSHOT_CACHE_TTL",
	"NATS_URL", "NATS_SUBJECT_PREFIX",
	"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_TOPIC",
	"SCORING_URL", "SCORING_API_KEY", "SCORING_TIMEOUT", "SCORING_RETRIES",
	"ALERT_POLL_INTERVAL", "ALERT_WORKERS", "DEPARTED_RETENTION",
	"COMPACTION_THRESHOLD", "SERVICE_TIMES",
	"WEBHOOK_URLS", "WEBHOOK_SECRET", "WEBHOOK_EVENTS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "REQUEST_TIMEOUT", "METRICS_ENABLED", "SYSTEM_METRICS_INTERVAL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SNAPSHOT_CACHE_TTL", "10m")
	v.SetDefault("NATS_SUBJECT_PREFIX", "triage")
	v.SetDefault("MQTT_CLIENT_ID", "triage-server")
	v.SetDefault("MQTT_TOPIC", "triage/vitals/+")
	v.SetDefault("SCORING_TIMEOUT", "15s")
	v.SetDefault("SCORING_RETRIES", 2)
	v.SetDefault("ALERT_POLL_INTERVAL", "30s")
	v.SetDefault("ALERT_WORKERS", 4)
	v.SetDefault("DEPARTED_RETENTION", "24h")
	v.SetDefault("COMPACTION_THRESHOLD", 0.5)
	v.SetDefault("WEBHOOK_EVENTS", "alert.*")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("SYSTEM_METRICS_INTERVAL", "15s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.WebhookURLs = splitList(v.GetString("WEBHOOK_URLS"))
	cfg.WebhookEvents = splitList(v.GetString("WEBHOOK_EVENTS"))
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
		if cfg.IsDev() {
			cfg.LogFormat = "console"
		}
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ServiceTimes parses SERVICE_TIMES over the default table.
func (c *Config) ServiceTimes() (triage.ServiceTimes, error) {
	return triage.ParseServiceTimes(c.ServiceTimesRaw)
}

// Validate checks that the configuration is safe to run. Outside
// development a token verifier must be configured.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("one of AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.ScoringURL == "" {
		return fmt.Errorf("SCORING_URL is required")
	}
	if c.CompactionThreshold <= 0 || c.CompactionThreshold > 1 {
		return fmt.Errorf("COMPACTION_THRESHOLD must be in (0,1], got %v", c.CompactionThreshold)
	}
	if c.AlertPollInterval <= 0 {
		return fmt.Errorf("ALERT_POLL_INTERVAL must be positive, got %v", c.AlertPollInterval)
	}
	if c.AlertWorkers <= 0 {
		return fmt.Errorf("ALERT_WORKERS must be positive, got %d", c.AlertWorkers)
	}
	switch c.LogFormat {
	case "json", "console", "ecs":
	default:
		return fmt.Errorf("LOG_FORMAT must be json, console or ecs, got %q", c.LogFormat)
	}
	if len(c.WebhookURLs) > 0 && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_URLS is set")
	}
	if _, err := c.ServiceTimes(); err != nil {
		return fmt.Errorf("SERVICE_TIMES: %w", err)
	}
	return nil
}
