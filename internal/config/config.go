package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Seed      SeedConfig      `yaml:"seed" envconfig:"SEED"`
	Payload   PayloadConfig   `yaml:"payload" envconfig:"PAYLOAD"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Monitor   MonitorConfig   `yaml:"monitor" envconfig:"MONITOR"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects and configures the durable backend
type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres, redis. memory disables the durable backend.
	Driver      string        `yaml:"driver" envconfig:"DRIVER"`
	DSN         string        `yaml:"dsn" envconfig:"DSN"`
	DataDir     string        `yaml:"data_dir" envconfig:"DATA_DIR"`
	PingTimeout time.Duration `yaml:"ping_timeout" envconfig:"PING_TIMEOUT"`

	// PrepareTimeout bounds schema migration and seeding on first contact
	PrepareTimeout time.Duration `yaml:"prepare_timeout" envconfig:"PREPARE_TIMEOUT"`

	Redis RedisConfig `yaml:"redis" envconfig:"REDIS"`
}

// RedisConfig configures the redis durable backend
type RedisConfig struct {
	Addr        string        `yaml:"addr" envconfig:"ADDR"`
	Password    string        `yaml:"password" envconfig:"PASSWORD"`
	DB          int           `yaml:"db" envconfig:"DB"`
	Prefix      string        `yaml:"prefix" envconfig:"PREFIX"`
	DialTimeout time.Duration `yaml:"dial_timeout" envconfig:"DIAL_TIMEOUT"`
	InMemory    bool          `yaml:"in_memory" envconfig:"IN_MEMORY"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Admin          AdminConfig     `yaml:"admin" envconfig:"ADMIN"`
}

// RateLimitConfig contains per-client rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// AdminConfig contains the operator credential settings
type AdminConfig struct {
	// PasswordHash is a bcrypt hash of the operator password.
	PasswordHash string        `yaml:"password_hash" envconfig:"PASSWORD_HASH"`
	APIToken     string        `yaml:"api_token" envconfig:"API_TOKEN"`
	JWTSecret    string        `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	TokenTTL     time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL"`
	LoginLimit   int           `yaml:"login_limit" envconfig:"LOGIN_LIMIT"`
	LoginWindow  time.Duration `yaml:"login_window" envconfig:"LOGIN_WINDOW"`
}

// Enabled reports whether any operator credential is configured
func (a AdminConfig) Enabled() bool {
	return a.PasswordHash != "" || a.APIToken != ""
}

// LicenseConfig contains activation rules
type LicenseConfig struct {
	NicknameMax int `yaml:"nickname_max" envconfig:"NICKNAME_MAX"`

	// MaxFailedAttempts rejected activations per client within AttemptWindow
	// block the client for BlockDuration. Zero disables the guard.
	MaxFailedAttempts int           `yaml:"max_failed_attempts" envconfig:"MAX_FAILED_ATTEMPTS"`
	AttemptWindow     time.Duration `yaml:"attempt_window" envconfig:"ATTEMPT_WINDOW"`
	BlockDuration     time.Duration `yaml:"block_duration" envconfig:"BLOCK_DURATION"`
}

// SeedConfig lists the keys provisioned into both backends at start
type SeedConfig struct {
	File string    `yaml:"file" envconfig:"FILE"`
	Keys []SeedKey `yaml:"keys" ignored:"true"`
}

// PayloadConfig describes the script served by /api/script
type PayloadConfig struct {
	ScriptFile string   `yaml:"script_file" envconfig:"SCRIPT_FILE"`
	Version    string   `yaml:"version" envconfig:"VERSION"`
	Roles      []string `yaml:"roles" envconfig:"ROLES"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// MonitorConfig configures the uptime monitor
type MonitorConfig struct {
	URL              string        `yaml:"url" envconfig:"URL"`
	Interval         time.Duration `yaml:"interval" envconfig:"INTERVAL"`
	Timeout          time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	FailureThreshold int           `yaml:"failure_threshold" envconfig:"FAILURE_THRESHOLD"`
	WebhookURL       string        `yaml:"webhook_url" envconfig:"WEBHOOK_URL"`
}

// Load builds the configuration from defaults, an optional YAML file and
// LOADER_* environment variables, in increasing order of precedence.
// An empty path searches the usual locations.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if cfg.Seed.File != "" {
		keys, err := LoadSeedFile(cfg.Seed.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load seed file: %w", err)
		}
		cfg.Seed.Keys = append(cfg.Seed.Keys, keys...)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file at filePath onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server request timeout must be positive")
	}

	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverRedis:
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}

	if c.Storage.Driver == DriverPostgres && c.Storage.DSN == "" {
		return fmt.Errorf("storage dsn is required for postgres")
	}

	if c.Storage.PingTimeout <= 0 {
		return fmt.Errorf("storage ping timeout must be positive")
	}

	if c.Storage.PrepareTimeout <= 0 {
		return fmt.Errorf("storage prepare timeout must be positive")
	}

	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.RPS <= 0 || c.Security.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive")
	}

	if c.Security.Admin.PasswordHash != "" && c.Security.Admin.JWTSecret == "" {
		return fmt.Errorf("admin jwt secret is required when a password hash is set")
	}

	if c.License.NicknameMax <= 0 {
		return fmt.Errorf("license nickname max must be positive")
	}

	if c.License.MaxFailedAttempts > 0 && (c.License.AttemptWindow <= 0 || c.License.BlockDuration <= 0) {
		return fmt.Errorf("license attempt window and block duration must be positive")
	}

	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}

	if c.Monitor.FailureThreshold < 1 {
		return fmt.Errorf("monitor failure threshold must be at least 1")
	}

	// Logs are always structured JSON
	c.Logging.Format = "json"

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		c.Logging.Output = "console"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = DefaultLogFile
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"cloudloader.yaml",
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            DefaultPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  DefaultRequestTimeout,
		},
		Storage: StorageConfig{
			Driver:         DriverSQLite,
			DataDir:        "data",
			PingTimeout:    DefaultPingTimeout,
			PrepareTimeout: DefaultPrepareTimeout,
			Redis: RedisConfig{
				Addr:        "127.0.0.1:6379",
				Prefix:      "loader:",
				DialTimeout: 2 * time.Second,
			},
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     2,
				Burst:   10,
			},
			Admin: AdminConfig{
				TokenTTL:    12 * time.Hour,
				LoginLimit:  5,
				LoginWindow: time.Minute,
			},
		},
		License: LicenseConfig{
			NicknameMax:       DefaultNicknameMax,
			MaxFailedAttempts: 10,
			AttemptWindow:     15 * time.Minute,
			BlockDuration:     15 * time.Minute,
		},
		Payload: PayloadConfig{
			Version: "1.0.0",
			Roles:   []string{"premium", "beta", "friend", "coder", "trial"},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: DefaultLogFile,
		},
		Telemetry: TelemetryConfig{
			Environment:    "production",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		Monitor: MonitorConfig{
			URL:              fmt.Sprintf("http://localhost:%d/api/health", DefaultPort),
			Interval:         60 * time.Second,
			Timeout:          10 * time.Second,
			FailureThreshold: 3,
		},
	}
}
