// Package config loads application configuration from an optional YAML
// file layered under ASSISTANT_-prefixed environment variables, then
// validates the result.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	LLM       LLMConfig       `koanf:"llm"`
	Session   SessionConfig   `koanf:"session"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Tools     ToolsConfig     `koanf:"tools"`
	LogLevel  string          `koanf:"log_level" validate:"oneof=debug info warn error"`
}

type ServerConfig struct {
	Port           int           `koanf:"port" validate:"min=1,max=65535"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"min=1s"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type LLMConfig struct {
	BaseURL     string `koanf:"base_url" validate:"url"`
	APIKey      string `koanf:"api_key"`
	Model       string `koanf:"model" validate:"required"`
	TokenBudget int    `koanf:"token_budget" validate:"min=256,max=200000"`
}

type SessionConfig struct {
	CookieName string        `koanf:"cookie_name" validate:"required"`
	TTL        time.Duration `koanf:"ttl" validate:"min=1m"`
}

// Budget is one rate-limit bucket: at most Max admissions per Window.
type Budget struct {
	Max    int           `koanf:"max" validate:"min=1"`
	Window time.Duration `koanf:"window" validate:"min=1s"`
}

type RateLimitConfig struct {
	API   Budget `koanf:"api"`
	Chat  Budget `koanf:"chat"`
	Auth  Budget `koanf:"auth"`
	Tools Budget `koanf:"tools"`
}

type ToolsConfig struct {
	GeocodeURL  string `koanf:"geocode_url" validate:"url"`
	ForecastURL string `koanf:"forecast_url" validate:"url"`
	ErgastURL   string `koanf:"ergast_url" validate:"url"`
	FinnhubURL  string `koanf:"finnhub_url" validate:"url"`
	FinnhubKey  string `koanf:"finnhub_key"`
}

// Load reads the optional config file, applies ASSISTANT_ environment
// overrides on top, fills defaults, and validates. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	// ASSISTANT_SERVER__PORT maps to server.port.
	if err := k.Load(env.Provider("ASSISTANT_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "ASSISTANT_")), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":            8080,
		"server.request_timeout": "60s",

		"database.path": "assistant.db",

		"llm.base_url":     "https://api.openai.com/v1",
		"llm.model":        "gpt-4o-mini",
		"llm.token_budget": 8000,

		"session.cookie_name": "assistant_session",
		"session.ttl":         "168h",

		"ratelimit.api.max":      100,
		"ratelimit.api.window":   "1m",
		"ratelimit.chat.max":     60,
		"ratelimit.chat.window":  "1m",
		"ratelimit.auth.max":     10,
		"ratelimit.auth.window":  "15m",
		"ratelimit.tools.max":    100,
		"ratelimit.tools.window": "1h",

		"tools.geocode_url":  "https://geocoding-api.open-meteo.com",
		"tools.forecast_url": "https://api.open-meteo.com",
		"tools.ergast_url":   "https://api.jolpi.ca/ergast",
		"tools.finnhub_url":  "https://finnhub.io/api/v1",

		"log_level": "info",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}
