package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Location identifies a place the way callers type it (e.g. "New York", "US").
// Matching between locations is done on the normalized cache key, not here.
type Location struct {
	City    string `json:"city"`
	Country string `json:"country,omitempty"`
}

// String returns "City, Country" or just the city when no country is set
func (l Location) String() string {
	if l.Country == "" {
		return l.City
	}
	return l.City + ", " + l.Country
}

// ParseLocation parses "City" or "City, Country". The last comma separates
// the country, so "Washington, D.C., US" keeps "Washington, D.C." as the city.
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Location{}, fmt.Errorf("empty location")
	}

	city, country := s, ""
	if idx := strings.LastIndex(s, ","); idx >= 0 {
		city = strings.TrimSpace(s[:idx])
		country = strings.TrimSpace(s[idx+1:])
	}
	if city == "" {
		return Location{}, fmt.Errorf("location %q has no city", s)
	}

	return Location{City: city, Country: country}, nil
}

// Snapshot is an upstream payload kept as raw JSON.
// The service does not interpret weather/news/satellite bodies beyond passing
// them to the analyzer; consumers decode them themselves.
type Snapshot struct {
	Kind      string          `json:"kind"`
	Location  Location        `json:"location"`
	Source    string          `json:"source,omitempty"` // Upstream host
	FetchedAt time.Time       `json:"fetched_at"`
	Body      json.RawMessage `json:"body"`
}

// IssueSeverity grades a critical issue
type IssueSeverity string

const (
	SeverityLow      IssueSeverity = "low"
	SeverityMedium   IssueSeverity = "medium"
	SeverityHigh     IssueSeverity = "high"
	SeverityCritical IssueSeverity = "critical"
)

// ParseSeverity maps free-form model output onto a known severity.
// Anything unrecognized is treated as medium.
func ParseSeverity(s string) IssueSeverity {
	switch IssueSeverity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return IssueSeverity(s)
	}
	switch s {
	case "minor", "info":
		return SeverityLow
	case "severe", "major":
		return SeverityHigh
	case "extreme", "emergency":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// CriticalIssue is one environmental concern derived from the snapshots
type CriticalIssue struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Category string        `json:"category,omitempty"` // air, water, heat, storm, ...
	Severity IssueSeverity `json:"severity"`
	Summary  string        `json:"summary,omitempty"`
}

// CriticalIssues is the cached result of issue derivation for a location
type CriticalIssues struct {
	Location    Location        `json:"location"`
	Provider    string          `json:"provider"` // "none" when no analyzer is configured
	Model       string          `json:"model,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
	Issues      []CriticalIssue `json:"issues"`
}

// EnvironmentalData is the aggregate bundle served to dashboards
type EnvironmentalData struct {
	Location       Location          `json:"location"`
	GeneratedAt    time.Time         `json:"generated_at"`
	Weather        *Snapshot         `json:"weather,omitempty"`
	News           *Snapshot         `json:"news,omitempty"`
	Satellite      *Snapshot         `json:"satellite,omitempty"`
	CriticalIssues *CriticalIssues   `json:"critical_issues,omitempty"`
	Errors         map[string]string `json:"errors,omitempty"` // Per-part failures, keyed by kind
	Stale          []string          `json:"stale,omitempty"`  // Parts served from the last known good copy
}
