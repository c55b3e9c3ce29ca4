package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ppiankov/ecowatch/internal/model"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Version is overridden at build time with -ldflags "-X ...cli.Version=..."
var Version = "0.1.0"

var (
	cfgFile   string
	verbose   bool
	logFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ecowatch",
	Short: "ecowatch - cached environmental data for cities",
	Long: `ecowatch serves weather, environmental news, satellite observations and
derived critical issues for a city, keeping each kind of data in an
in-memory cache for its own freshness window.

Upstream APIs are called only when the cached copy is missing or stale.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ecowatch v%s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.ecowatch/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("output.log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	registerDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		viper.AddConfigPath(home + "/.ecowatch")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// ECOWATCH_CACHE_WEATHER_TTL overrides cache.weather_ttl
	viper.SetEnvPrefix("ECOWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// registerDefaults makes every config key known to viper so environment
// variables apply even without a config file.
func registerDefaults() {
	data, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return
	}
	var defaults map[string]any
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return
	}
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}
}

// loadConfig merges defaults, config file, environment and flags. Secrets
// come from the environment only.
func loadConfig() (*model.Config, model.Secrets, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, model.Secrets{}, fmt.Errorf("parse config: %w", err)
	}

	secrets, err := env.ParseAs[model.Secrets]()
	if err != nil {
		return nil, model.Secrets{}, fmt.Errorf("parse environment: %w", err)
	}
	applySecrets(cfg, secrets)

	if err := cfg.Validate(); err != nil {
		return nil, model.Secrets{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, secrets, nil
}

func applySecrets(cfg *model.Config, secrets model.Secrets) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "openai":
		cfg.LLM.APIKey = secrets.OpenAIAPIKey
	case "ollama":
		if cfg.LLM.BaseURL == "" && secrets.OllamaBaseURL != "" {
			base := strings.TrimSuffix(secrets.OllamaBaseURL, "/")
			if !strings.HasSuffix(base, "/v1") {
				base += "/v1"
			}
			cfg.LLM.BaseURL = base
		}
	}
}

// newLogger builds the root logger every component derives from
func newLogger(out io.Writer, cfg model.OutputConfig) zerolog.Logger {
	if cfg.LogFormat != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	level := zerolog.InfoLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
