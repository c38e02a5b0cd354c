// Package config loads the tradealert configuration with viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// MinPollInterval is the shortest accepted poll_interval
const MinPollInterval = 50 * time.Millisecond

// UpstreamServerConfig holds bot server client settings
type UpstreamServerConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DispatchConfig controls outgoing alerts
type DispatchConfig struct {
	MaxInFlight    int           `mapstructure:"max_in_flight" yaml:"max_in_flight"`
	QueueSize      int           `mapstructure:"queue_size" yaml:"queue_size"`
	RatePerMinute  int           `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
	Burst          int           `mapstructure:"burst" yaml:"burst"`
	SenderCooldown time.Duration `mapstructure:"sender_cooldown" yaml:"sender_cooldown"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
}

// MTLSConfig holds optional TLS material for the bot server
type MTLSConfig struct {
	CACert     string `mapstructure:"ca_cert" yaml:"ca_cert"`
	ClientCert string `mapstructure:"client_cert" yaml:"client_cert"`
	ClientKey  string `mapstructure:"client_key" yaml:"client_key"`
	ServerName string `mapstructure:"server_name" yaml:"server_name"`
}

// TokenStoreConfig selects where the token pair is persisted
type TokenStoreConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	Encrypt    bool   `mapstructure:"encrypt" yaml:"encrypt"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI                string        `mapstructure:"uri" yaml:"uri"`
	Database           string        `mapstructure:"database" yaml:"database"`
	Collection         string        `mapstructure:"collection" yaml:"collection"`
	CertificateKeyFile string        `mapstructure:"certificate_key_file" yaml:"certificate_key_file"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// StatusConfig holds the local status server settings
type StatusConfig struct {
	Enabled           bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddress     string `mapstructure:"listen_address" yaml:"listen_address"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int    `mapstructure:"burst" yaml:"burst"`
}

// Config represents the complete configuration
type Config struct {
	LogFilePath          string               `mapstructure:"log_file_path" yaml:"log_file_path"`
	BotServerURL         string               `mapstructure:"bot_server_url" yaml:"bot_server_url"`
	NotificationEndpoint string               `mapstructure:"notification_endpoint" yaml:"notification_endpoint"`
	RefreshEndpoint      string               `mapstructure:"refresh_endpoint" yaml:"refresh_endpoint"`
	PollInterval         time.Duration        `mapstructure:"poll_interval" yaml:"poll_interval"`
	Server               UpstreamServerConfig `mapstructure:"server" yaml:"server"`
	Dispatch             DispatchConfig       `mapstructure:"dispatch" yaml:"dispatch"`
	MTLS                 MTLSConfig           `mapstructure:"mtls" yaml:"mtls"`
	TokenStore           TokenStoreConfig     `mapstructure:"token_store" yaml:"token_store"`
	MongoDB              MongoDBConfig        `mapstructure:"mongodb" yaml:"mongodb"`
	Status               StatusConfig         `mapstructure:"status" yaml:"status"`
	LogLevel             string               `mapstructure:"log_level" yaml:"log_level"`
	LogFormat            string               `mapstructure:"log_format" yaml:"log_format"`
}

// Settings is the part of the configuration a monitoring session runs on.
// A change to it requires a restart of the session.
type Settings struct {
	LogFilePath          string
	NotificationEndpoint string
	PollInterval         time.Duration
}

// Settings extracts the session settings
func (c *Config) Settings() Settings {
	return Settings{
		LogFilePath:          c.LogFilePath,
		NotificationEndpoint: c.NotificationEndpoint,
		PollInterval:         c.PollInterval,
	}
}

// Loader reads the configuration file and the environment
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader prepares a loader for configPath. An empty path uses
// DefaultConfigPath. A missing file is created with the defaults, and a .env
// file in the working directory is loaded into the environment.
func NewLoader(configPath string) (*Loader, error) {
	if configPath == "" {
		configPath = DefaultConfigPath()
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := WriteDefault(configPath); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("TRADEALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// names kept for existing .env files
	if err := v.BindEnv("log_file_path", "TRADEALERT_LOG_FILE_PATH", "POE2_LOG_PATH"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}
	if err := v.BindEnv("bot_server_url", "TRADEALERT_BOT_SERVER_URL", "BOT_SERVER_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	return &Loader{v: v, path: configPath}, nil
}

// Path returns the config file in use
func (l *Loader) Path() string {
	return l.path
}

// Load reads, resolves and validates the configuration
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.resolve()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Watch calls onChange with the new configuration whenever the file changes.
// Invalid edits are logged and skipped.
func (l *Loader) Watch(logger *zap.Logger, onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("Config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))

		config, err := l.Load()
		if err != nil {
			logger.Warn("Ignoring invalid config change", zap.Error(err))
			return
		}
		onChange(config)
	})
	l.v.WatchConfig()
}

// Load reads the configuration at configPath
func Load(configPath string) (*Config, error) {
	loader, err := NewLoader(configPath)
	if err != nil {
		return nil, err
	}
	return loader.Load()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_file_path", DefaultLogPath())
	v.SetDefault("bot_server_url", "http://localhost:5050")
	v.SetDefault("notification_endpoint", "")
	v.SetDefault("refresh_endpoint", "")
	v.SetDefault("poll_interval", "1s")
	v.SetDefault("server.timeout", "10s")
	v.SetDefault("dispatch.max_in_flight", 8)
	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("dispatch.rate_per_minute", 0)
	v.SetDefault("dispatch.burst", 1)
	v.SetDefault("dispatch.sender_cooldown", "0s")
	v.SetDefault("dispatch.drain_timeout", "2s")
	v.SetDefault("mtls.ca_cert", "")
	v.SetDefault("mtls.client_cert", "")
	v.SetDefault("mtls.client_key", "")
	v.SetDefault("mtls.server_name", "")
	v.SetDefault("token_store.backend", "file")
	v.SetDefault("token_store.dir", DefaultDir())
	v.SetDefault("token_store.sqlite_path", "")
	v.SetDefault("token_store.encrypt", true)
	v.SetDefault("mongodb.uri", "")
	v.SetDefault("mongodb.database", "tradealert")
	v.SetDefault("mongodb.collection", "kv")
	v.SetDefault("mongodb.certificate_key_file", "")
	v.SetDefault("mongodb.timeout", "10s")
	v.SetDefault("status.enabled", true)
	v.SetDefault("status.listen_address", "127.0.0.1:5051")
	v.SetDefault("status.requests_per_minute", 120)
	v.SetDefault("status.burst", 20)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
}

// resolve expands paths and derives endpoints from bot_server_url
func (c *Config) resolve() {
	c.LogFilePath = ResolvePath(c.LogFilePath)
	c.TokenStore.Dir = ResolvePath(c.TokenStore.Dir)
	c.TokenStore.SQLitePath = ResolvePath(c.TokenStore.SQLitePath)
	c.MTLS.CACert = ResolvePath(c.MTLS.CACert)
	c.MTLS.ClientCert = ResolvePath(c.MTLS.ClientCert)
	c.MTLS.ClientKey = ResolvePath(c.MTLS.ClientKey)
	c.MongoDB.CertificateKeyFile = ResolvePath(c.MongoDB.CertificateKeyFile)

	c.BotServerURL = strings.TrimRight(strings.TrimSpace(c.BotServerURL), "/")
	if c.NotificationEndpoint == "" && c.BotServerURL != "" {
		c.NotificationEndpoint = c.BotServerURL + "/trade-alert"
	}
	if c.RefreshEndpoint == "" && c.BotServerURL != "" {
		c.RefreshEndpoint = c.BotServerURL + "/auth/refresh"
	}
	if c.TokenStore.SQLitePath == "" {
		c.TokenStore.SQLitePath = filepath.Join(c.TokenStore.Dir, "tokens.db")
	}
}

// Validate checks required fields and ranges
func (c *Config) Validate() error {
	if c.LogFilePath == "" {
		return fmt.Errorf("log_file_path is required")
	}
	if c.NotificationEndpoint == "" {
		return fmt.Errorf("bot_server_url or notification_endpoint is required")
	}
	if c.RefreshEndpoint == "" {
		return fmt.Errorf("bot_server_url or refresh_endpoint is required")
	}
	if c.PollInterval < MinPollInterval {
		return fmt.Errorf("poll_interval must be at least %s", MinPollInterval)
	}
	if c.Dispatch.MaxInFlight < 1 {
		return fmt.Errorf("dispatch.max_in_flight must be at least 1")
	}
	if c.Dispatch.RatePerMinute < 0 || c.Dispatch.SenderCooldown < 0 {
		return fmt.Errorf("dispatch.rate_per_minute and dispatch.sender_cooldown must not be negative")
	}
	if c.Dispatch.DrainTimeout < 0 {
		return fmt.Errorf("dispatch.drain_timeout must not be negative")
	}
	if (c.MTLS.ClientCert == "") != (c.MTLS.ClientKey == "") {
		return fmt.Errorf("mtls.client_cert and mtls.client_key must be set together")
	}

	switch c.TokenStore.Backend {
	case "file", "sqlite":
	case "mongodb":
		if c.MongoDB.URI == "" {
			return fmt.Errorf("mongodb.uri is required for the mongodb token store")
		}
	default:
		return fmt.Errorf("token_store.backend must be file, sqlite or mongodb, got %q", c.TokenStore.Backend)
	}
	if c.TokenStore.Dir == "" {
		return fmt.Errorf("token_store.dir is required")
	}

	if c.Status.Enabled && c.Status.ListenAddress == "" {
		return fmt.Errorf("status.listen_address is required when the status server is enabled")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("log_format must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// Default returns the configuration written to a new config file
func Default() Config {
	return Config{
		LogFilePath:  DefaultLogPath(),
		BotServerURL: "http://localhost:5050",
		PollInterval: time.Second,
		Server:       UpstreamServerConfig{Timeout: 10 * time.Second},
		Dispatch: DispatchConfig{
			MaxInFlight:  8,
			QueueSize:    256,
			Burst:        1,
			DrainTimeout: 2 * time.Second,
		},
		TokenStore: TokenStoreConfig{
			Backend: "file",
			Dir:     DefaultDir(),
			Encrypt: true,
		},
		MongoDB: MongoDBConfig{
			Database:   "tradealert",
			Collection: "kv",
			Timeout:    10 * time.Second,
		},
		Status: StatusConfig{
			Enabled:           true,
			ListenAddress:     "127.0.0.1:5051",
			RequestsPerMinute: 120,
			Burst:             20,
		},
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// WriteDefault writes the default configuration as YAML to path
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	// existing environment variables win over the file
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
