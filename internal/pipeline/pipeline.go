package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/ecowatch/internal/cache"
	"github.com/ppiankov/ecowatch/internal/llm"
	"github.com/ppiankov/ecowatch/internal/model"
	"github.com/ppiankov/ecowatch/internal/store"
	"github.com/ppiankov/ecowatch/internal/worker"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAllSourcesFailed is returned when weather, news and satellite all fail
	ErrAllSourcesFailed = errors.New("all sources failed")
	// ErrUnknownKind is returned by Fetch for a kind it cannot serve
	ErrUnknownKind = errors.New("unknown data kind")
)

// Pipeline serves every data kind for a location, cache first
type Pipeline struct {
	cache    *cache.Cache
	rt       *ReadThroughCache
	fetcher  *Fetcher
	analyzer *llm.Analyzer // Optional; nil or disabled yields no issues
	fallback store.Store
	secrets  model.Secrets
	sources  map[cache.Kind]Template
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the pipeline logger
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithAnalyzer enables critical-issue derivation
func WithAnalyzer(a *llm.Analyzer) Option {
	return func(p *Pipeline) { p.analyzer = a }
}

// WithStore sets the last-known-good fallback store
func WithStore(s store.Store) Option {
	return func(p *Pipeline) { p.fallback = s }
}

// WithSecrets sets the upstream API keys
func WithSecrets(s model.Secrets) Option {
	return func(p *Pipeline) { p.secrets = s }
}

// NewPipeline wires the fetcher, rate limiter and read-through layer around c
func NewPipeline(cfg *model.Config, c *cache.Cache, opts ...Option) *Pipeline {
	p := &Pipeline{
		cache: c,
		sources: map[cache.Kind]Template{
			cache.KindWeather:   Template(cfg.Sources.Weather),
			cache.KindNews:      Template(cfg.Sources.News),
			cache.KindSatellite: Template(cfg.Sources.Satellite),
		},
		log: zerolog.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
	for _, d := range cfg.RateLimiting.Domains {
		limiter.SetDomainRate(d.Domain, d.RequestsPerSecond, d.BurstSize)
	}
	p.fetcher = NewFetcher(cfg.HTTP, limiter, p.log)
	p.rt = NewReadThroughCache(c, p.fallback, cfg.Cache.Fallback.TTL, p.log)

	return p
}

// Cache returns the response cache the pipeline reads through
func (p *Pipeline) Cache() *cache.Cache {
	return p.cache
}

// Analyzer returns the critical-issue analyzer, nil when none is set
func (p *Pipeline) Analyzer() *llm.Analyzer {
	return p.analyzer
}

// Weather returns current conditions for loc
func (p *Pipeline) Weather(ctx context.Context, loc model.Location) (*model.Snapshot, Origin, error) {
	return p.snapshot(ctx, cache.KindWeather, loc)
}

// News returns recent environmental news for loc
func (p *Pipeline) News(ctx context.Context, loc model.Location) (*model.Snapshot, Origin, error) {
	return p.snapshot(ctx, cache.KindNews, loc)
}

// Satellite returns satellite observations for loc
func (p *Pipeline) Satellite(ctx context.Context, loc model.Location) (*model.Snapshot, Origin, error) {
	return p.snapshot(ctx, cache.KindSatellite, loc)
}

func (p *Pipeline) snapshot(ctx context.Context, kind cache.Kind, loc model.Location) (*model.Snapshot, Origin, error) {
	return ReadThrough(ctx, p.rt, kind, loc, func(ctx context.Context) (*model.Snapshot, error) {
		return p.fetchSnapshot(ctx, kind, loc)
	})
}

func (p *Pipeline) fetchSnapshot(ctx context.Context, kind cache.Kind, loc model.Location) (*model.Snapshot, error) {
	rawURL, host, err := p.sources[kind].Expand(loc, p.apiKey(kind))
	if err != nil {
		return nil, err
	}

	start := p.now()
	body, err := p.fetcher.FetchJSON(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	p.log.Debug().
		Str("kind", string(kind)).
		Str("location", loc.String()).
		Str("source", host).
		Dur("duration", p.now().Sub(start)).
		Msg("fetched upstream")

	return &model.Snapshot{
		Kind:      string(kind),
		Location:  loc,
		Source:    host,
		FetchedAt: p.now().UTC(),
		Body:      body,
	}, nil
}

func (p *Pipeline) apiKey(kind cache.Kind) string {
	switch kind {
	case cache.KindWeather:
		return p.secrets.WeatherAPIKey
	case cache.KindNews:
		return p.secrets.NewsAPIKey
	case cache.KindSatellite:
		return p.secrets.SatelliteAPIKey
	default:
		return ""
	}
}

// baseData holds the three upstream snapshots for a location.
// A nil snapshot has its error in errs; stale lists the parts that came from
// the fallback store.
type baseData struct {
	weather   *model.Snapshot
	news      *model.Snapshot
	satellite *model.Snapshot
	errs      map[cache.Kind]error
	stale     []cache.Kind
}

func (b baseData) isStale() bool {
	return len(b.stale) > 0
}

func (b baseData) allFailed() bool {
	return b.weather == nil && b.news == nil && b.satellite == nil
}

func (b baseData) joinedErr() error {
	var errs []error
	for _, kind := range []cache.Kind{cache.KindWeather, cache.KindNews, cache.KindSatellite} {
		if err, ok := b.errs[kind]; ok {
			errs = append(errs, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
}

// gather reads the three base kinds concurrently. Part failures are recorded,
// not returned.
func (p *Pipeline) gather(ctx context.Context, loc model.Location) baseData {
	kinds := [3]cache.Kind{cache.KindWeather, cache.KindNews, cache.KindSatellite}
	var (
		g       errgroup.Group
		snaps   [3]*model.Snapshot
		origins [3]Origin
		errs    [3]error
	)

	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			snaps[i], origins[i], errs[i] = p.snapshot(ctx, kind, loc)
			return nil
		})
	}
	_ = g.Wait()

	data := baseData{
		weather:   snaps[0],
		news:      snaps[1],
		satellite: snaps[2],
		errs:      make(map[cache.Kind]error),
	}
	for i, kind := range kinds {
		switch {
		case errs[i] != nil:
			data.errs[kind] = errs[i]
		case origins[i] == OriginFallback:
			data.stale = append(data.stale, kind)
		}
	}
	return data
}

// CriticalIssues returns the issues derived from the location's base data.
// Without an analyzer the result is an empty list from provider "none".
func (p *Pipeline) CriticalIssues(ctx context.Context, loc model.Location) (*model.CriticalIssues, Origin, error) {
	return ReadThroughDerived(ctx, p.rt, cache.KindCriticalIssues, loc, func(ctx context.Context) (*model.CriticalIssues, bool, error) {
		if !p.analyzer.IsEnabled() {
			issues, err := p.deriveIssues(ctx, loc, baseData{})
			return issues, false, err
		}
		base := p.gather(ctx, loc)
		if base.allFailed() {
			return nil, false, base.joinedErr()
		}
		issues, err := p.deriveIssues(ctx, loc, base)
		return issues, base.isStale(), err
	})
}

func (p *Pipeline) deriveIssues(ctx context.Context, loc model.Location, base baseData) (*model.CriticalIssues, error) {
	result := &model.CriticalIssues{
		Location:    loc,
		Provider:    "none",
		GeneratedAt: p.now().UTC(),
		Issues:      []model.CriticalIssue{},
	}
	if !p.analyzer.IsEnabled() {
		return result, nil
	}

	issues, err := p.analyzer.DeriveIssues(ctx, llm.IssueInput{
		Location:  loc,
		Weather:   base.weather,
		News:      base.news,
		Satellite: base.satellite,
	})
	if err != nil {
		return nil, err
	}

	result.Provider = p.analyzer.ProviderName()
	result.Model = p.analyzer.Model()
	result.Issues = issues
	return result, nil
}

// Environmental returns the aggregate bundle for loc. Part failures are listed
// in Errors; the call fails only when weather, news and satellite all fail.
func (p *Pipeline) Environmental(ctx context.Context, loc model.Location) (*model.EnvironmentalData, Origin, error) {
	return ReadThroughDerived(ctx, p.rt, cache.KindEnvironmentalData, loc, func(ctx context.Context) (*model.EnvironmentalData, bool, error) {
		base := p.gather(ctx, loc)
		if base.allFailed() {
			return nil, false, base.joinedErr()
		}

		data := &model.EnvironmentalData{
			Location:    loc,
			GeneratedAt: p.now().UTC(),
			Weather:     base.weather,
			News:        base.news,
			Satellite:   base.satellite,
		}
		errs := make(map[string]string)
		for kind, err := range base.errs {
			errs[string(kind)] = err.Error()
		}
		for _, kind := range base.stale {
			data.Stale = append(data.Stale, string(kind))
		}

		issues, origin, err := ReadThroughDerived(ctx, p.rt, cache.KindCriticalIssues, loc, func(ctx context.Context) (*model.CriticalIssues, bool, error) {
			issues, err := p.deriveIssues(ctx, loc, base)
			return issues, base.isStale() && p.analyzer.IsEnabled(), err
		})
		switch {
		case err != nil:
			errs[string(cache.KindCriticalIssues)] = err.Error()
		case origin == OriginFallback:
			data.CriticalIssues = issues
			data.Stale = append(data.Stale, string(cache.KindCriticalIssues))
		default:
			data.CriticalIssues = issues
		}

		if len(errs) > 0 {
			data.Errors = errs
			p.log.Warn().
				Str("location", loc.String()).
				Int("failed_parts", len(errs)).
				Msg("partial environmental data")
		}
		return data, len(data.Stale) > 0, nil
	})
}

// Fetch dispatches on kind. The value is one of *model.Snapshot,
// *model.CriticalIssues or *model.EnvironmentalData.
func (p *Pipeline) Fetch(ctx context.Context, kind cache.Kind, loc model.Location) (any, Origin, error) {
	switch kind {
	case cache.KindWeather, cache.KindNews, cache.KindSatellite:
		return p.snapshot(ctx, kind, loc)
	case cache.KindCriticalIssues:
		return p.CriticalIssues(ctx, loc)
	case cache.KindEnvironmentalData:
		return p.Environmental(ctx, loc)
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// Invalidate drops every cached kind for loc. The fallback store is kept.
func (p *Pipeline) Invalidate(loc model.Location) {
	for _, kind := range cache.Kinds {
		p.cache.Delete(kind, loc)
	}
	p.log.Debug().Str("location", loc.String()).Msg("location invalidated")
}

// Warm loads the aggregate bundle for loc into the cache
func (p *Pipeline) Warm(ctx context.Context, loc model.Location) error {
	_, _, err := p.Environmental(ctx, loc)
	return err
}
