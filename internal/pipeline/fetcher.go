package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ppiankov/ecowatch/internal/model"
	"github.com/ppiankov/ecowatch/internal/util"
	"github.com/ppiankov/ecowatch/internal/worker"
	"github.com/rs/zerolog"
)

const (
	maxFetchAttempts = 3
	maxRetryAfter    = 30 * time.Second
)

// fetchSleepFunc is replaced in tests to skip backoff delays
var fetchSleepFunc = sleepContext

var (
	// ErrInvalidJSON is returned when an upstream answers 2xx with a body that is not JSON
	ErrInvalidJSON = errors.New("upstream returned non-JSON body")
	// ErrBodyTooLarge is returned when a body exceeds http.max_body_bytes
	ErrBodyTooLarge = errors.New("upstream body exceeds limit")
)

// StatusError is a non-2xx upstream answer
type StatusError struct {
	StatusCode int
	Status     string
	RetryAfter time.Duration // From a 429 Retry-After header, capped
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.StatusCode, e.Status)
}

// Fetcher calls upstream JSON APIs
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	limiter    *worker.Limiter // Optional
	log        zerolog.Logger
}

// NewFetcher creates a Fetcher from the outbound HTTP settings.
// A nil limiter disables per-domain rate limiting.
func NewFetcher(cfg model.HTTPConfig, limiter *worker.Limiter, log zerolog.Logger) *Fetcher {
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 2_000_000
	}

	return &Fetcher{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent: cfg.UserAgent,
		maxBytes:  maxBytes,
		limiter:   limiter,
		log:       log.With().Str("component", "fetcher").Logger(),
	}
}

// FetchJSON retrieves a JSON document, retrying transient failures with
// exponential backoff (1s, 2s). A 429 Retry-After stretches the next wait.
func (f *Fetcher) FetchJSON(ctx context.Context, rawURL string) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		var hold time.Duration
		if attempt > 0 {
			delay := time.Second << (attempt - 1)
			if ra := retryAfterOf(lastErr); ra > delay {
				// The limiter holds the whole domain, not just this request
				if f.limiter != nil {
					hold = ra - delay
				} else {
					delay = ra
				}
			}
			f.log.Warn().
				Err(lastErr).
				Int("attempt", attempt+1).
				Dur("backoff", delay+hold).
				Msg("retrying upstream fetch")
			if err := fetchSleepFunc(ctx, delay); err != nil {
				return nil, err
			}
		}

		body, err := f.fetchOnce(ctx, rawURL, hold)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isRetryableFetchError(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxFetchAttempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string, hold time.Duration) (json.RawMessage, error) {
	if f.limiter != nil {
		if err := f.limiter.WaitWithDelay(ctx, rawURL, hold); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		// url.Error repeats the URL, and with it the API key
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("fetch %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
		if resp.StatusCode == http.StatusTooManyRequests {
			statusErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, f.maxBytes)
	}
	if !json.Valid(body) {
		return nil, ErrInvalidJSON
	}

	return json.RawMessage(body), nil
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryAfterOf(err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	return 0
}

// parseRetryAfter reads delay-seconds or an HTTP date, capped at maxRetryAfter.
// Missing or malformed values yield zero.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	}

	if d <= 0 {
		return 0
	}
	return min(d, maxRetryAfter)
}

// isRetryableFetchError reports whether a failed attempt may succeed on retry:
// 5xx, 429 and connection-level failures.
func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
