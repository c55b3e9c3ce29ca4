package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ppiankov/ecowatch/internal/model"
)

// ErrSourceNotConfigured is returned for a data kind whose URL template is empty
var ErrSourceNotConfigured = errors.New("source not configured")

// Template is an upstream URL with {city}, {country} and {key} placeholders
type Template string

// Expand substitutes the query-escaped location and API key and returns the
// URL together with its host.
func (t Template) Expand(loc model.Location, apiKey string) (string, string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", "", ErrSourceNotConfigured
	}

	r := strings.NewReplacer(
		"{city}", url.QueryEscape(strings.TrimSpace(loc.City)),
		"{country}", url.QueryEscape(strings.TrimSpace(loc.Country)),
		"{key}", url.QueryEscape(apiKey),
	)
	expanded := r.Replace(string(t))

	// Parse errors echo the URL, which carries the key
	u, err := url.Parse(expanded)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("invalid source template %q: want an absolute URL", string(t))
	}

	return expanded, u.Host, nil
}
