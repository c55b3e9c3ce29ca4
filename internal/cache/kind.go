package cache

import (
	"strings"
	"time"

	"github.com/ppiankov/ecowatch/internal/model"
)

// Kind is the category of cached data. Each kind has its own freshness window.
type Kind string

const (
	KindWeather           Kind = "weather"
	KindNews              Kind = "news"
	KindSatellite         Kind = "satellite"
	KindCriticalIssues    Kind = "critical_issues"
	KindEnvironmentalData Kind = "environmental_data"
)

// Kinds lists every known kind in display order
var Kinds = []Kind{KindWeather, KindNews, KindSatellite, KindCriticalIssues, KindEnvironmentalData}

// ParseKind maps a user-supplied name onto a Kind.
// Hyphenated and short aliases are accepted. Unknown names are returned as-is
// (with ok=false) and are still usable: they get the default TTL.
func ParseKind(s string) (Kind, bool) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "-", "_")

	switch name {
	case "weather":
		return KindWeather, true
	case "news":
		return KindNews, true
	case "satellite":
		return KindSatellite, true
	case "critical_issues", "issues":
		return KindCriticalIssues, true
	case "environmental_data", "environment", "environmental":
		return KindEnvironmentalData, true
	default:
		return Kind(name), false
	}
}

// TTLs holds the freshness window for every kind
type TTLs struct {
	Weather           time.Duration
	News              time.Duration
	Satellite         time.Duration
	CriticalIssues    time.Duration
	EnvironmentalData time.Duration
	Default           time.Duration
}

// DefaultTTLs returns the built-in windows
func DefaultTTLs() TTLs {
	return TTLs{
		Weather:           10 * time.Minute,
		News:              30 * time.Minute,
		Satellite:         60 * time.Minute,
		CriticalIssues:    15 * time.Minute,
		EnvironmentalData: 5 * time.Minute,
		Default:           5 * time.Minute,
	}
}

// TTLsFromConfig converts the cache section of the configuration
func TTLsFromConfig(cfg model.CacheConfig) TTLs {
	return TTLs{
		Weather:           cfg.WeatherTTL,
		News:              cfg.NewsTTL,
		Satellite:         cfg.SatelliteTTL,
		CriticalIssues:    cfg.CriticalIssuesTTL,
		EnvironmentalData: cfg.EnvironmentalDataTTL,
		Default:           cfg.DefaultTTL,
	}
}

// For returns the TTL of a kind. It depends on nothing but the kind.
func (t TTLs) For(kind Kind) time.Duration {
	switch kind {
	case KindWeather:
		return t.Weather
	case KindNews:
		return t.News
	case KindSatellite:
		return t.Satellite
	case KindCriticalIssues:
		return t.CriticalIssues
	case KindEnvironmentalData:
		return t.EnvironmentalData
	default:
		return t.Default
	}
}
