package model

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete ecowatch configuration
type Config struct {
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Sources      SourcesConfig      `yaml:"sources" mapstructure:"sources"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
}

// CacheConfig holds the freshness window of every cached data kind
type CacheConfig struct {
	WeatherTTL           time.Duration  `yaml:"weather_ttl" mapstructure:"weather_ttl"`
	NewsTTL              time.Duration  `yaml:"news_ttl" mapstructure:"news_ttl"`
	SatelliteTTL         time.Duration  `yaml:"satellite_ttl" mapstructure:"satellite_ttl"`
	CriticalIssuesTTL    time.Duration  `yaml:"critical_issues_ttl" mapstructure:"critical_issues_ttl"`
	EnvironmentalDataTTL time.Duration  `yaml:"environmental_data_ttl" mapstructure:"environmental_data_ttl"`
	DefaultTTL           time.Duration  `yaml:"default_ttl" mapstructure:"default_ttl"`
	CleanupInterval      time.Duration  `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
	Fallback             FallbackConfig `yaml:"fallback" mapstructure:"fallback"`
}

// FallbackConfig controls the last-known-good store used when upstreams fail
type FallbackConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	TTL             time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Dir             string        `yaml:"dir,omitempty" mapstructure:"dir"` // Empty keeps it in memory only
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// HTTPConfig configures outbound requests
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	HTTPProxy    string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy   string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy      string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// RateLimitingConfig limits outbound calls per upstream domain
type RateLimitingConfig struct {
	RequestsPerSecond float64      `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int          `yaml:"burst_size" mapstructure:"burst_size"`
	Domains           []DomainRate `yaml:"domains,omitempty" mapstructure:"domains"`
}

// DomainRate overrides the default rate for one upstream domain and its subdomains
type DomainRate struct {
	Domain            string  `yaml:"domain" mapstructure:"domain"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// SourcesConfig holds upstream URL templates.
// Placeholders: {city}, {country}, {key}. An empty template disables the source.
type SourcesConfig struct {
	Weather   string `yaml:"weather" mapstructure:"weather"`
	News      string `yaml:"news" mapstructure:"news"`
	Satellite string `yaml:"satellite" mapstructure:"satellite"`
}

// LLMConfig configures critical-issue derivation
type LLMConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"` // openai, ollama, "" (disabled)
	Model     string `yaml:"model" mapstructure:"model"`
	BaseURL   string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout   int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	APIKey    string `yaml:"-" mapstructure:"-"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// ConcurrencyConfig sizes the warm-up worker pool
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// OutputConfig controls logging output
type OutputConfig struct {
	Verbose   bool   `yaml:"verbose" mapstructure:"verbose"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format"` // console, json
}

// Secrets are read from the environment only and never written to disk
type Secrets struct {
	WeatherAPIKey   string `env:"ECOWATCH_WEATHER_API_KEY"`
	NewsAPIKey      string `env:"ECOWATCH_NEWS_API_KEY"`
	SatelliteAPIKey string `env:"ECOWATCH_SATELLITE_API_KEY"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	OllamaBaseURL   string `env:"OLLAMA_BASE_URL"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			WeatherTTL:           10 * time.Minute,
			NewsTTL:              30 * time.Minute,
			SatelliteTTL:         60 * time.Minute,
			CriticalIssuesTTL:    15 * time.Minute,
			EnvironmentalDataTTL: 5 * time.Minute,
			DefaultTTL:           5 * time.Minute,
			CleanupInterval:      5 * time.Minute,
			Fallback: FallbackConfig{
				Enabled:         true,
				TTL:             24 * time.Hour,
				CleanupInterval: 30 * time.Minute,
			},
		},
		HTTP: HTTPConfig{
			Timeout:      15 * time.Second,
			UserAgent:    "ecowatch/0.1 (+https://github.com/ppiankov/ecowatch)",
			MaxBodyBytes: 2_000_000,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 2,
			BurstSize:         5,
		},
		Sources: SourcesConfig{
			Weather: "https://api.openweathermap.org/data/2.5/weather?q={city},{country}&units=metric&appid={key}",
			News:    "https://newsapi.org/v2/everything?q={city}+environment&sortBy=publishedAt&pageSize=10&apiKey={key}",
			// No keyless city-addressable imagery API exists; point this at your provider.
			Satellite: "",
		},
		LLM: LLMConfig{
			Provider:  "",
			Model:     "gpt-4o-mini",
			Timeout:   30,
			MaxTokens: 800,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		Output: OutputConfig{
			LogFormat: "console",
		},
	}
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	ttls := map[string]time.Duration{
		"cache.weather_ttl":            c.Cache.WeatherTTL,
		"cache.news_ttl":               c.Cache.NewsTTL,
		"cache.satellite_ttl":          c.Cache.SatelliteTTL,
		"cache.critical_issues_ttl":    c.Cache.CriticalIssuesTTL,
		"cache.environmental_data_ttl": c.Cache.EnvironmentalDataTTL,
		"cache.default_ttl":            c.Cache.DefaultTTL,
	}
	for name, ttl := range ttls {
		if ttl < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, ttl)
		}
	}

	for i, d := range c.RateLimiting.Domains {
		if strings.TrimSpace(d.Domain) == "" {
			return fmt.Errorf("rate_limiting.domains[%d].domain must not be empty", i)
		}
	}

	if c.Concurrency.Workers <= 0 {
		return fmt.Errorf("concurrency.workers must be positive, got %d", c.Concurrency.Workers)
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "", "openai", "ollama":
	default:
		return fmt.Errorf("unknown llm.provider %q (supported: openai, ollama)", c.LLM.Provider)
	}

	switch c.Output.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown output.log_format %q (supported: console, json)", c.Output.LogFormat)
	}

	return nil
}
