package worker

import (
	"context"
	"testing"
	"time"
)

// allow takes a token for rawURL's bucket without waiting
func allow(l *Limiter, rawURL string) bool {
	domain, err := extractDomain(rawURL)
	if err != nil {
		return false
	}
	return l.getLimiter(domain).Allow()
}

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "http://example.com/foo"); err != nil {
		t.Errorf("wait failed: %v", err)
	}

	if err := limiter.Wait(ctx, "http://newsapi.org"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestLimiter_WaitWithDelay(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	start := time.Now()
	err := limiter.WaitWithDelay(ctx, "http://example.com", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitWithDelay failed: %v", err)
	}

	if duration := time.Since(start); duration < 50*time.Millisecond {
		t.Errorf("expected delay >= 50ms, got %v", duration)
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	limiter := NewLimiter(1, 1)
	ctx := context.Background()
	url := "http://example.com"

	if err := limiter.Wait(ctx, url); err != nil {
		t.Errorf("first wait failed: %v", err)
	}

	// Burst of 1 is used up
	if allow(limiter, url) {
		t.Errorf("expected allow to fail (exhausted tokens)")
	}

	if !allow(limiter, "http://other.com") {
		t.Errorf("expected allow for other domain")
	}
}

func TestLimiter_SubdomainsShareBucket(t *testing.T) {
	limiter := NewLimiter(0.1, 1)

	if !allow(limiter, "https://api.openweathermap.org/data/2.5/weather") {
		t.Fatal("first request should pass")
	}
	if allow(limiter, "https://openweathermap.org/") {
		t.Error("sibling host should share the exhausted bucket")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !allow(limiter, "http://example.com") {
			t.Fatalf("request %d blocked with limiting disabled", i)
		}
	}
}

func TestLimiter_SetDomainRate(t *testing.T) {
	limiter := NewLimiter(10, 10)
	limiter.SetDomainRate("slow.com", 0.1, 1)

	if !allow(limiter, "http://api.slow.com") {
		t.Errorf("first request should pass")
	}
	if allow(limiter, "http://slow.com") {
		t.Errorf("second request should fail")
	}
	if !allow(limiter, "http://fast.com") {
		t.Errorf("other domain should pass")
	}

	limiter.SetDomainRate("free.org", 0, 1)
	for i := 0; i < 10; i++ {
		if !allow(limiter, "http://free.org") {
			t.Fatalf("request %d blocked on an unlimited domain", i)
		}
	}
}

func TestLimiter_WaitCancelled(t *testing.T) {
	limiter := NewLimiter(0.01, 1)
	ctx, cancel := context.WithCancel(context.Background())

	_ = limiter.Wait(ctx, "http://example.com")
	cancel()

	if err := limiter.Wait(ctx, "http://example.com"); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://example.com/foo", "example.com"},
		{"https://api.openweathermap.org/data", "openweathermap.org"},
		{"https://news.bbc.co.uk/", "bbc.co.uk"},
		{"http://127.0.0.1:8080/x", "127.0.0.1"},
		{"http://localhost:11434/v1", "localhost"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := extractDomain(tt.url)
			if err != nil {
				t.Fatalf("extractDomain failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := extractDomain("::invalid"); err == nil {
		t.Errorf("expected error for invalid URL")
	}
	if _, err := extractDomain("/relative/path"); err == nil {
		t.Errorf("expected error for URL without host")
	}
}
