package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Keygen   KeygenConfig   `yaml:"keygen" envconfig:"KEYGEN"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s" validate:"gt=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"stdout"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// KeygenConfig contains everything needed to talk to the upstream
// licensing service. AccountID, ProductToken, PolicyID and Secret are
// required; Load returns an error rather than terminating the process
// so callers stay testable.
type KeygenConfig struct {
	BaseURL      string        `yaml:"base_url" envconfig:"BASE_URL" default:"https://api.keygen.sh/v1" validate:"required,url"`
	AccountID    string        `yaml:"account_id" envconfig:"ACCOUNT_ID" validate:"required"`
	ProductToken string        `yaml:"product_token" envconfig:"PRODUCT_TOKEN" validate:"required"`
	PolicyID     string        `yaml:"policy_id" envconfig:"POLICY_ID" validate:"required"`
	Secret       string        `yaml:"secret" envconfig:"SECRET" validate:"required"`
	Timeout      time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"30s" validate:"gt=0"`
}

// DatabaseConfig contains the tenant store connection settings
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" envconfig:"DSN" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME" default:"15m"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	// Load from environment variables first
	if err := envconfig.Process("KEYBROKER", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// Load from config file if exists
	configFile := getConfigFilePath()
	if configFile != "" {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Server.Port == 0 {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if envConfig.Keygen.AccountID == "" {
		envConfig.Keygen.AccountID = fileConfig.Keygen.AccountID
	}
	if envConfig.Keygen.ProductToken == "" {
		envConfig.Keygen.ProductToken = fileConfig.Keygen.ProductToken
	}
	if envConfig.Keygen.PolicyID == "" {
		envConfig.Keygen.PolicyID = fileConfig.Keygen.PolicyID
	}
	if envConfig.Keygen.Secret == "" {
		envConfig.Keygen.Secret = fileConfig.Keygen.Secret
	}
	if envConfig.Database.DSN == "" {
		envConfig.Database.DSN = fileConfig.Database.DSN
	}

	return envConfig
}

var structValidator = validator.New()

// validate checks the configuration against its struct tags and
// normalizes the logging settings.
func (c *Config) validate() error {
	if c.Logging.Format != "json" {
		// Structured logs are always JSON; text output exists only for
		// local debugging and is never the default.
		c.Logging.Format = "json"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/app.log"
	}

	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, formatFieldError(fe))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// formatFieldError turns a validator field error into a readable
// message, e.g. "keygen account id is required" or
// "invalid server port: 0".
func formatFieldError(fe validator.FieldError) string {
	name := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return name + " is required"
	default:
		return fmt.Sprintf("invalid %s: %v", name, fe.Value())
	}
}

// fieldPath lowercases a struct namespace like Keygen.AccountID into
// "keygen account id".
func fieldPath(fe validator.FieldError) string {
	ns := strings.TrimPrefix(fe.StructNamespace(), "Config.")
	ns = strings.ReplaceAll(ns, ".", " ")

	var b strings.Builder
	runes := []rune(ns)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteRune(' ')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration with placeholder credentials.
// Intended for tests; validate() rejects it until the Keygen and
// database fields are filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: "logs/app.log",
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Keygen: KeygenConfig{
			BaseURL: "https://api.keygen.sh/v1",
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 15 * time.Minute,
		},
	}
}
