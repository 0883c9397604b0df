// Package config loads service configuration from an optional YAML file
// with environment variables layered on top. Secrets only ever come from
// the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Sanitize  SanitizeConfig  `yaml:"sanitize"`
	Providers ProvidersConfig `yaml:"providers"`
	LLM       LLMConfig       `yaml:"llm"`
	Audit     AuditConfig     `yaml:"audit"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"-"`
	JWTExpiry     time.Duration `yaml:"jwt_expiry"`
	EncryptionKey string        `yaml:"-"`
}

type SanitizeConfig struct {
	MaxStringLength   int  `yaml:"max_string_length"`
	MaxMessageLength  int  `yaml:"max_message_length"`
	StripHTML         bool `yaml:"strip_html"`
	LogViolations     bool `yaml:"log_violations"`
	BlockOnInjection  bool `yaml:"block_on_injection"`
}

type ProvidersConfig struct {
	FinnhubKey     string `yaml:"-"`
	OpenWeatherKey string `yaml:"-"`
	FetchTimeoutMs int    `yaml:"fetch_timeout_ms"`
	MaxRetries     int    `yaml:"max_retries"`
}

type LLMConfig struct {
	OpenAIKey string `yaml:"-"`
	GeminiKey string `yaml:"-"`
	Model     string `yaml:"model"`
}

type AuditConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// Defaults returns the configuration used when no file and no overrides
// are present.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Auth:   AuthConfig{JWTExpiry: 24 * time.Hour},
		Sanitize: SanitizeConfig{
			MaxStringLength:  10000,
			MaxMessageLength: 8000,
			StripHTML:        true,
			LogViolations:    true,
			BlockOnInjection: true,
		},
		Providers: ProvidersConfig{FetchTimeoutMs: 5000, MaxRetries: 2},
		LLM:       LLMConfig{Model: "gpt-4o-mini"},
		Audit:     AuditConfig{RetentionDays: 90},
	}
}

// Load reads the YAML file at path (skipped when empty or missing),
// applies .env if present, then overlays process environment variables.
func Load(path string) (*Config, error) {
	// Missing .env is fine outside local development.
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, cfg.validate()
}

func (c *Config) applyEnv() {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.Env, "ENV")
	setString(&c.Redis.URL, "REDIS_URL")

	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.EncryptionKey, "ENCRYPTION_KEY")
	if v := os.Getenv("JWT_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Auth.JWTExpiry = d
		}
	}

	setInt(&c.Sanitize.MaxStringLength, "MAX_STRING_LENGTH")
	setInt(&c.Sanitize.MaxMessageLength, "MAX_MESSAGE_LENGTH")
	setBool(&c.Sanitize.StripHTML, "STRIP_HTML")
	setBool(&c.Sanitize.LogViolations, "LOG_SANITIZATION_VIOLATIONS")

	setString(&c.Providers.FinnhubKey, "FINNHUB_API_KEY")
	setString(&c.Providers.OpenWeatherKey, "OPENWEATHERMAP_API_KEY")

	setString(&c.LLM.OpenAIKey, "OPENAI_API_KEY")
	setString(&c.LLM.GeminiKey, "GEMINI_API_KEY")
	setString(&c.LLM.Model, "LLM_MODEL")
}

func (c *Config) validate() error {
	if c.Server.Env == "production" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required in production")
	}
	if c.Sanitize.MaxMessageLength <= 0 || c.Sanitize.MaxStringLength <= 0 {
		return fmt.Errorf("config: sanitizer length limits must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs with production hardening.
func (c *Config) IsProduction() bool { return c.Server.Env == "production" }

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
