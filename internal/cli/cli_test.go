package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/ecowatch/internal/llm"
	"github.com/ppiankov/ecowatch/internal/model"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Setenv("HOME", t.TempDir())
	cfgFile = ""
	t.Cleanup(viper.Reset)
}

func TestLoadConfig_Defaults(t *testing.T) {
	resetViper(t)
	initConfig()

	cfg, _, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Cache.WeatherTTL != 10*time.Minute || cfg.Cache.SatelliteTTL != time.Hour {
		t.Errorf("Unexpected TTLs: %+v", cfg.Cache)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Expected default addr, got %s", cfg.Server.Addr)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	resetViper(t)
	t.Setenv("ECOWATCH_CACHE_WEATHER_TTL", "90s")
	t.Setenv("ECOWATCH_SERVER_ADDR", ":9999")
	t.Setenv("ECOWATCH_WEATHER_API_KEY", "wkey")
	initConfig()

	cfg, secrets, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Cache.WeatherTTL != 90*time.Second {
		t.Errorf("Expected weather TTL from env, got %v", cfg.Cache.WeatherTTL)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("Expected addr from env, got %s", cfg.Server.Addr)
	}
	if secrets.WeatherAPIKey != "wkey" {
		t.Errorf("Expected weather key from env, got %q", secrets.WeatherAPIKey)
	}
}

func TestLoadConfig_File(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "cache:\n  news_ttl: 45m\nllm:\n  provider: bard\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfgFile = path
	defer func() { cfgFile = "" }()
	initConfig()

	if _, _, err := loadConfig(); err == nil || !strings.Contains(err.Error(), "llm.provider") {
		t.Errorf("Expected provider validation error, got %v", err)
	}
}

func TestApplySecrets(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.LLM.Provider = "openai"
	applySecrets(cfg, model.Secrets{OpenAIAPIKey: "sk-test"})
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("Expected OpenAI key, got %q", cfg.LLM.APIKey)
	}

	cfg = model.DefaultConfig()
	cfg.LLM.Provider = "ollama"
	applySecrets(cfg, model.Secrets{OllamaBaseURL: "http://gpu-box:11434/"})
	if cfg.LLM.BaseURL != "http://gpu-box:11434/v1" {
		t.Errorf("Expected /v1 base URL, got %q", cfg.LLM.BaseURL)
	}

	cfg = model.DefaultConfig()
	applySecrets(cfg, model.Secrets{OpenAIAPIKey: "sk-test"})
	if cfg.LLM.APIKey != "" {
		t.Error("Key must not be set when no provider is configured")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, model.OutputConfig{LogFormat: "json"})
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Debug output without --verbose")
	}
	if !strings.Contains(out, `"message":"shown"`) {
		t.Errorf("Expected JSON log line, got %q", out)
	}

	buf.Reset()
	log = newLogger(&buf, model.OutputConfig{LogFormat: "json", Verbose: true})
	log.Debug().Msg("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("Expected debug output with verbose")
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ecowatch", "config.yaml")

	if err := writeDefaultConfig(path); err != nil {
		t.Fatalf("writeDefaultConfig failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}

	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Cache.WeatherTTL != 10*time.Minute {
		t.Errorf("Expected default weather TTL, got %v", cfg.Cache.WeatherTTL)
	}
	if strings.Contains(string(data), "api_key") {
		t.Error("API keys must not be written")
	}

	if err := writeDefaultConfig(path); err == nil {
		t.Error("Expected error when the file exists")
	}
}

type fakeProvider struct {
	available bool
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Text: `{"issues":[]}`}, nil
}

func (f *fakeProvider) IsAvailable(ctx context.Context) bool { return f.available }

func TestCheckAnalyzer(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	if checkAnalyzer(context.Background(), nil, log) {
		t.Error("No analyzer should not report available")
	}
	if buf.Len() != 0 {
		t.Errorf("No analyzer should log nothing, got %s", buf.String())
	}

	offline := llm.NewAnalyzerWithProvider(&fakeProvider{}, llm.Config{}, zerolog.Nop())
	if checkAnalyzer(context.Background(), offline, log) {
		t.Error("Unreachable provider reported available")
	}
	if !strings.Contains(buf.String(), "not reachable") || !strings.Contains(buf.String(), `"provider":"fake"`) {
		t.Errorf("Expected a warning naming the provider, got %s", buf.String())
	}

	online := llm.NewAnalyzerWithProvider(&fakeProvider{available: true}, llm.Config{}, zerolog.Nop())
	if !checkAnalyzer(context.Background(), online, zerolog.Nop()) {
		t.Error("Reachable provider reported unavailable")
	}
}
