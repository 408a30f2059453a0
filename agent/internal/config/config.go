package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultEvaluationInterval   = 5 * time.Minute
	DefaultBufferSize           = 100
	DefaultMaxConcurrent        = 4
	DefaultFutureStartTolerance = 24 * time.Hour
	DefaultMovingAverageWindow  = 6
	DefaultTrendWindow          = 70
	DefaultHysteresis           = 2.0
	DefaultLockTTL              = 10 * time.Minute
	DefaultTokenTTL             = 50 * time.Minute
	DefaultSourceTimeout        = 30 * time.Second
)

// StartDateLayout is the format of piles[].start_date.
const StartDateLayout = "2006-01-02"

// Config is the agent configuration. The `server:` key of a shared
// config.yaml is ignored here.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the gRPC address of compostwatch-server (host:port).
	ServerEndpoint string `yaml:"server_endpoint"`

	// EvaluationInterval controls how often every pile is evaluated.
	EvaluationInterval time.Duration `yaml:"evaluation_interval"`

	// BufferSize is the maximum number of report envelopes held in memory
	// while the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// MaxConcurrent bounds the number of piles evaluated in parallel.
	MaxConcurrent int `yaml:"max_concurrent"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// ServerAuth configures how the agent authenticates to compostwatch-server.
	// Supports: mtls | apikey | none.
	ServerAuth AuthConfig `yaml:"server_auth"`

	Analysis     AnalysisConfig     `yaml:"analysis"`
	Sources      []Source           `yaml:"sources"`
	Piles        []PileConfig       `yaml:"piles"`
	Gatekeeper   GatekeeperConfig   `yaml:"gatekeeper"`
	Weather      WeatherConfig      `yaml:"weather"`
	FarmCalendar FarmCalendarConfig `yaml:"farm_calendar"`
	Storage      StorageConfig      `yaml:"storage"`
	Coordination CoordinationConfig `yaml:"coordination"`
}

// AnalysisConfig tunes the analytics engine. It is hot-reloadable.
type AnalysisConfig struct {
	// Strict fails an evaluation when a daily statistic is missing instead of
	// producing a partial report.
	Strict bool `yaml:"strict"`

	// PrecipitationRules enables the rain advisories (default true).
	PrecipitationRules bool `yaml:"precipitation_rules"`

	// FutureStartTolerance is how far in the future a start date may be
	// before the pile is rejected.
	FutureStartTolerance time.Duration `yaml:"future_start_tolerance"`

	MovingAverageWindow int `yaml:"moving_average_window"`
	TrendWindow         int `yaml:"trend_window"`

	// Hysteresis is the dead band in °C used by the transition tracker.
	Hysteresis float64 `yaml:"hysteresis"`

	// Channels overrides the channel-name keyword rules. Order matters:
	// the first rule whose keyword is contained in the channel name wins.
	Channels []ChannelRule `yaml:"channels"`
}

// ChannelRule maps channels containing Keyword to Variable.
type ChannelRule struct {
	Keyword  string `yaml:"keyword"`
	Variable string `yaml:"variable"`
}

// Source describes one telemetry platform.
type Source struct {
	// ID is a unique, human-readable identifier for this source.
	ID string `yaml:"id"`

	// Type is the platform type: thingsboard | datacake | prometheus.
	Type string `yaml:"type"`

	// Endpoint is the platform base URL (thingsboard), GraphQL URL (datacake)
	// or exporter metrics URL (prometheus).
	Endpoint string `yaml:"endpoint"`

	// Auth configures how the agent authenticates to this source.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`

	// Timeout bounds each HTTP request to the source.
	Timeout time.Duration `yaml:"timeout"`

	// Devices lists the sensor devices read from this source.
	Devices []Device `yaml:"devices"`

	// Retention bounds how many samples per channel the prometheus source
	// keeps between evaluations.
	Retention int `yaml:"retention"`
}

// Device is one sensor device on a source platform.
type Device struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Keys are the telemetry channel names read from the device.
	Keys []string `yaml:"keys"`

	// Pile restricts the device to one pile. Empty means the source decides
	// (thingsboard asset relations) or the device serves every pile.
	Pile string `yaml:"pile"`
}

// AuthConfig specifies the authentication mode for a source or the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | token | basic | login | none.
	// token sends "Authorization: Token <token>"; login exchanges
	// Username/Password for a session token (thingsboard only).
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the header or gRPC metadata key the API key is sent in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is the name of the environment variable that holds the token.
	TokenEnv string `yaml:"token_env"`

	// Username is the literal username (safe to store in config).
	Username string `yaml:"username"`
	// PasswordEnv is the name of the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	return lookupEnv(a.KeyEnv)
}

// Token returns the token value resolved from the environment.
func (a AuthConfig) Token() string {
	return lookupEnv(a.TokenEnv)
}

// Password returns the password resolved from the environment.
func (a AuthConfig) Password() string {
	return lookupEnv(a.PasswordEnv)
}

// TLSConfig holds per-source TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// PileConfig registers one compost pile.
type PileConfig struct {
	// ID is the pile identifier; for thingsboard piles it is the asset id.
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Source is the id of the source that carries the pile's telemetry.
	Source string `yaml:"source"`

	// Attributes selects where the pile metadata comes from:
	// static (this block) | source (platform attributes) | postgres.
	Attributes string `yaml:"attributes"`

	StartDate string  `yaml:"start_date"`
	GreensKg  float64 `yaml:"greens_kg"`
	BrownsKg  float64 `yaml:"browns_kg"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`

	// CompostOperationID is the farm calendar operation observations are
	// posted to. Empty looks the operation up by pile name.
	CompostOperationID string `yaml:"compost_operation_id"`
}

// Start parses StartDate.
func (p PileConfig) Start() (time.Time, error) {
	return time.Parse(StartDateLayout, p.StartDate)
}

// GatekeeperConfig configures the login service shared by the weather and
// farm calendar APIs.
type GatekeeperConfig struct {
	LoginURL    string        `yaml:"login_url"`
	Username    string        `yaml:"username"`
	PasswordEnv string        `yaml:"password_env"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
}

// Password returns the gatekeeper password resolved from the environment.
func (g GatekeeperConfig) Password() string {
	return lookupEnv(g.PasswordEnv)
}

// WeatherConfig configures the forecast client. An empty Endpoint disables
// weather advisories.
type WeatherConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// FarmCalendarConfig configures observation posting. An empty Endpoint
// disables it.
type FarmCalendarConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`

	// ActivityTypes maps a normalized variable to its farm activity type id.
	ActivityTypes map[string]string `yaml:"activity_types"`
}

// StorageConfig configures the Postgres pile registry and observation outbox.
type StorageConfig struct {
	// PostgresDSNEnv is the environment variable holding the connection string.
	// Empty disables Postgres.
	PostgresDSNEnv string `yaml:"postgres_dsn_env"`
}

// DSN returns the Postgres connection string resolved from the environment.
func (s StorageConfig) DSN() string {
	return lookupEnv(s.PostgresDSNEnv)
}

// CoordinationConfig selects where per-pile locks and transition state live.
type CoordinationConfig struct {
	// Backend is one of: memory | redis.
	Backend string `yaml:"backend"`

	RedisAddr        string `yaml:"redis_addr"`
	RedisDB          int    `yaml:"redis_db"`
	RedisPasswordEnv string `yaml:"redis_password_env"`

	// LockTTL bounds how long a crashed evaluation can hold a pile's lock.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// RedisPassword returns the Redis password resolved from the environment.
func (c CoordinationConfig) RedisPassword() string {
	return lookupEnv(c.RedisPasswordEnv)
}

func lookupEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			EvaluationInterval: DefaultEvaluationInterval,
			BufferSize:         DefaultBufferSize,
			MaxConcurrent:      DefaultMaxConcurrent,
			LogLevel:           "info",
			Analysis: AnalysisConfig{
				PrecipitationRules:   true,
				FutureStartTolerance: DefaultFutureStartTolerance,
				MovingAverageWindow:  DefaultMovingAverageWindow,
				TrendWindow:          DefaultTrendWindow,
				Hysteresis:           DefaultHysteresis,
			},
			Gatekeeper:   GatekeeperConfig{TokenTTL: DefaultTokenTTL},
			Weather:      WeatherConfig{Timeout: DefaultSourceTimeout},
			FarmCalendar: FarmCalendarConfig{Timeout: DefaultSourceTimeout},
			Coordination: CoordinationConfig{Backend: "memory", LockTTL: DefaultLockTTL},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := &cfg.Agent
	if a.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if a.EvaluationInterval <= 0 {
		return fmt.Errorf("agent.evaluation_interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	if a.MaxConcurrent <= 0 {
		return fmt.Errorf("agent.max_concurrent must be positive")
	}
	switch a.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent.log_level: unknown level %q", a.LogLevel)
	}
	if a.Analysis.FutureStartTolerance < 0 {
		return fmt.Errorf("agent.analysis.future_start_tolerance must not be negative")
	}
	if a.Analysis.MovingAverageWindow <= 0 || a.Analysis.TrendWindow <= 0 {
		return fmt.Errorf("agent.analysis: windows must be positive")
	}
	for i, r := range a.Analysis.Channels {
		if r.Keyword == "" {
			return fmt.Errorf("agent.analysis.channels[%d]: keyword is required", i)
		}
		switch r.Variable {
		case "temperature", "moisture", "ph":
		default:
			return fmt.Errorf("agent.analysis.channels[%d]: unknown variable %q", i, r.Variable)
		}
	}

	sources := make(map[string]bool, len(a.Sources))
	for i, src := range a.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if sources[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		sources[src.ID] = true
		if src.Endpoint == "" {
			return fmt.Errorf("sources[%d] %q: endpoint is required", i, src.ID)
		}
		switch src.Type {
		case "thingsboard", "datacake", "prometheus":
		default:
			return fmt.Errorf("sources[%d] %q: unknown type %q", i, src.ID, src.Type)
		}
		switch src.Auth.Mode {
		case "mtls", "apikey", "bearer", "token", "basic", "none", "":
		case "login":
			if src.Type != "thingsboard" {
				return fmt.Errorf("sources[%d] %q: auth mode login is only supported by thingsboard", i, src.ID)
			}
		default:
			return fmt.Errorf("sources[%d] %q: unknown auth mode %q", i, src.ID, src.Auth.Mode)
		}
	}

	piles := make(map[string]bool, len(a.Piles))
	for i, p := range a.Piles {
		if p.ID == "" {
			return fmt.Errorf("piles[%d]: id is required", i)
		}
		if piles[p.ID] {
			return fmt.Errorf("piles[%d]: duplicate id %q", i, p.ID)
		}
		piles[p.ID] = true
		if !sources[p.Source] {
			return fmt.Errorf("piles[%d] %q: unknown source %q", i, p.ID, p.Source)
		}
		switch p.Attributes {
		case "", "static":
			if _, err := p.Start(); err != nil {
				return fmt.Errorf("piles[%d] %q: start_date: %w", i, p.ID, err)
			}
		case "postgres":
			if p.StartDate != "" {
				if _, err := p.Start(); err != nil {
					return fmt.Errorf("piles[%d] %q: start_date: %w", i, p.ID, err)
				}
			}
		case "source":
		default:
			return fmt.Errorf("piles[%d] %q: unknown attributes %q", i, p.ID, p.Attributes)
		}
		if p.Attributes == "postgres" && a.Storage.PostgresDSNEnv == "" {
			return fmt.Errorf("piles[%d] %q: attributes postgres requires storage.postgres_dsn_env", i, p.ID)
		}
	}

	switch a.Coordination.Backend {
	case "memory":
	case "redis":
		if a.Coordination.RedisAddr == "" {
			return fmt.Errorf("agent.coordination.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("agent.coordination: unknown backend %q", a.Coordination.Backend)
	}
	if a.Coordination.LockTTL <= 0 {
		return fmt.Errorf("agent.coordination.lock_ttl must be positive")
	}
	if (a.Weather.Endpoint != "" || a.FarmCalendar.Endpoint != "") && a.Gatekeeper.LoginURL == "" {
		return fmt.Errorf("agent.gatekeeper.login_url is required when weather or farm_calendar is enabled")
	}
	return nil
}
