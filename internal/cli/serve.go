package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ppiankov/ecowatch/internal/cache"
	"github.com/ppiankov/ecowatch/internal/llm"
	"github.com/ppiankov/ecowatch/internal/model"
	"github.com/ppiankov/ecowatch/internal/pipeline"
	"github.com/ppiankov/ecowatch/internal/server"
	"github.com/ppiankov/ecowatch/internal/store"
	"github.com/ppiankov/ecowatch/internal/worker"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var warmFile string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API with an in-memory response cache.

Expired entries are swept in the background. With --warm, every location in
the file ("City, CC" per line, # comments allowed) is loaded into the cache
right after startup.

Examples:
  ecowatch serve
  ecowatch serve --addr :9090 --warm cities.txt`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&warmFile, "warm", "", "file of locations to pre-load")

	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

// buildPipeline wires the cache, fallback store and analyzer into a pipeline
func buildPipeline(cfg *model.Config, secrets model.Secrets, log zerolog.Logger) *pipeline.Pipeline {
	c := cache.New(
		cache.WithTTLs(cache.TTLsFromConfig(cfg.Cache)),
		cache.WithLogger(log),
	)

	opts := []pipeline.Option{
		pipeline.WithLogger(log),
		pipeline.WithSecrets(secrets),
	}

	if fallback := store.New(cfg.Cache.Fallback); fallback != nil {
		opts = append(opts, pipeline.WithStore(fallback))
	}

	analyzer, err := llm.NewAnalyzer(llm.ConfigFromModel(cfg.LLM, cfg.HTTP), log)
	if err != nil {
		// Serve without critical issues rather than not at all
		log.Warn().Err(err).Msg("LLM provider unavailable, critical issues disabled")
	} else if analyzer.IsEnabled() {
		log.Info().
			Str("provider", analyzer.ProviderName()).
			Str("model", analyzer.Model()).
			Msg("critical issue analysis enabled")
		opts = append(opts, pipeline.WithAnalyzer(analyzer))
	}

	return pipeline.NewPipeline(cfg, c, opts...)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(os.Stderr, cfg.Output)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := buildPipeline(cfg, secrets, log)

	stopSweep := p.Cache().StartCleanup(ctx, cfg.Cache.CleanupInterval)
	defer stopSweep()

	go checkAnalyzer(ctx, p.Analyzer(), log)

	if warmFile != "" {
		go warm(ctx, p, cfg.Concurrency.Workers, warmFile, log)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(p, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// checkAnalyzer probes the LLM provider once. An unreachable provider only
// makes critical issues fail per request, so it is a warning.
func checkAnalyzer(ctx context.Context, a *llm.Analyzer, log zerolog.Logger) bool {
	if !a.IsEnabled() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if !a.CheckAvailable(ctx) {
		log.Warn().
			Str("provider", a.ProviderName()).
			Msg("LLM provider not reachable, critical issues will fail until it is")
		return false
	}
	log.Debug().Str("provider", a.ProviderName()).Msg("LLM provider reachable")
	return true
}

func warm(ctx context.Context, p *pipeline.Pipeline, workers int, path string, log zerolog.Logger) {
	start := time.Now()
	results, err := worker.NewWarmer(p, workers).WarmFile(ctx, path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("warm-up failed")
		return
	}

	failed := 0
	for _, r := range results {
		if r.Error != nil {
			failed++
			log.Warn().Err(r.Error).Str("location", r.Location.String()).Msg("warm-up location failed")
		}
	}
	log.Info().
		Int("locations", len(results)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("cache warm-up finished")
}
