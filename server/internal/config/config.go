package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort          = 50051
	DefaultHTTPPort          = 8080
	DefaultReportTTL         = 30 * time.Minute
	DefaultTransitionHistory = 50
	DefaultBroadcastInterval = 5 * time.Second
	DefaultAlertCooldown     = 6 * time.Hour
	DefaultHistoryBatchSize  = 100
	DefaultHistoryFlush      = 5 * time.Second
)

// Config holds the `server:` section of config.yaml. The `agent:` key in the
// same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// GRPCPort is the port the report receiver listens on.
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort is the port of the REST API and websocket hub.
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// Auth applies to both the gRPC receiver and the REST API.
	Auth AuthConfig `yaml:"auth"`

	Store   StoreConfig   `yaml:"store"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	History HistoryConfig `yaml:"history"`

	// BroadcastInterval is how often websocket clients receive the snapshot.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv names the environment variable holding the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key and HTTP header carrying the key.
	// Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	return lookupEnv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// StoreConfig controls in-memory report retention.
type StoreConfig struct {
	// TTL is how long a pile's latest report stays live without a refresh.
	// It should exceed the agents' evaluation interval.
	TTL time.Duration `yaml:"ttl"`

	// TransitionHistory bounds the phase transitions kept per pile.
	TransitionHistory int `yaml:"transition_history"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one condition evaluated against every received report.
type AlertRule struct {
	// Name identifies the rule; together with the pile id it deduplicates alerts.
	Name string `yaml:"name"`

	// Condition is "<field> <op> <value>", e.g. "days_remaining < 7",
	// "avg_temperature > 70" or "phase == Possible sensor error or overheating".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires after the alert fires. Defaults to 6h.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv names the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	return lookupEnv(w.URLEnv)
}

// HistoryConfig configures the InfluxDB history writer. An empty URL
// disables it.
type HistoryConfig struct {
	URL      string `yaml:"url"`
	TokenEnv string `yaml:"token_env"`
	Org      string `yaml:"org"`
	Bucket   string `yaml:"bucket"`

	BatchSize     uint          `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Token returns the InfluxDB token resolved from the environment.
func (h HistoryConfig) Token() string {
	return lookupEnv(h.TokenEnv)
}

func lookupEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			LogLevel: "info",
			Store: StoreConfig{
				TTL:               DefaultReportTTL,
				TransitionHistory: DefaultTransitionHistory,
			},
			History: HistoryConfig{
				BatchSize:     DefaultHistoryBatchSize,
				FlushInterval: DefaultHistoryFlush,
			},
			BroadcastInterval: DefaultBroadcastInterval,
		},
	}
}

func validate(cfg *Config) error {
	s := &cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level: unknown level %q", s.LogLevel)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Store.TTL <= 0 {
		return fmt.Errorf("server.store.ttl must be positive")
	}
	if s.Store.TransitionHistory <= 0 {
		return fmt.Errorf("server.store.transition_history must be positive")
	}
	if s.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive")
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name is required", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d] %q: condition is required", i, r.Name)
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("server.alerts.rules[%d] %q: unknown severity %q", i, r.Name, r.Severity)
		}
	}
	for i, w := range s.Alerts.Webhooks {
		switch w.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}
	if s.History.URL != "" && (s.History.Org == "" || s.History.Bucket == "") {
		return fmt.Errorf("server.history: org and bucket are required with url")
	}
	return nil
}
