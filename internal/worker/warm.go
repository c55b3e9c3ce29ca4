package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/ecowatch/internal/cache"
	"github.com/ppiankov/ecowatch/internal/model"
)

// Target populates the response cache for one location
type Target interface {
	Warm(ctx context.Context, loc model.Location) error
}

// WarmJob warms one location
type WarmJob struct {
	Location model.Location
	Target   Target
}

// Execute runs the warm-up for the job's location
func (j *WarmJob) Execute(ctx context.Context) Result {
	start := time.Now()
	err := j.Target.Warm(ctx, j.Location)
	return &WarmResult{
		Location: j.Location,
		Duration: time.Since(start),
		Error:    err,
	}
}

// WarmResult is the outcome of one warm-up
type WarmResult struct {
	Location model.Location
	Duration time.Duration
	Error    error
}

// GetError returns the error from the warm-up
func (r *WarmResult) GetError() error {
	return r.Error
}

// Warmer pre-populates the cache for a list of locations concurrently
type Warmer struct {
	target      Target
	concurrency int
}

// NewWarmer creates a new warmer
func NewWarmer(target Target, concurrency int) *Warmer {
	return &Warmer{
		target:      target,
		concurrency: concurrency,
	}
}

// WarmLocations warms every location and returns one result per location
func (w *Warmer) WarmLocations(ctx context.Context, locations []model.Location) []*WarmResult {
	if len(locations) == 0 {
		return []*WarmResult{}
	}

	pool := NewPool(ctx, w.concurrency)
	pool.Start()

	for _, loc := range locations {
		if !pool.Submit(&WarmJob{Location: loc, Target: w.target}) {
			break
		}
	}

	results := pool.Wait()

	warmResults := make([]*WarmResult, len(results))
	for i, result := range results {
		warmResults[i] = result.(*WarmResult)
	}

	return warmResults
}

// WarmFile reads locations from a file and warms them
func (w *Warmer) WarmFile(ctx context.Context, filePath string) ([]*WarmResult, error) {
	locations, err := ReadLocationsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read locations: %w", err)
	}

	return w.WarmLocations(ctx, locations), nil
}

// ReadLocationsFromFile reads "City, Country" lines from a file.
// Blank lines and # comments are skipped; locations that share a cache key
// are listed once.
func ReadLocationsFromFile(filePath string) ([]model.Location, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var locations []model.Location
	seen := make(map[cache.Key]bool)

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		loc, err := model.ParseLocation(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		key := cache.NewKey(cache.KindEnvironmentalData, loc)
		if !seen[key] {
			seen[key] = true
			locations = append(locations, loc)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return locations, nil
}
