package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ppiankov/ecowatch/internal/model"
	"github.com/rs/zerolog"
)

const (
	// maxSnapshotBytes bounds how much of each upstream body goes into the prompt
	maxSnapshotBytes = 4000
	maxIssues        = 10
)

const issueSystemPrompt = "You are an environmental analyst. You only report issues supported by the data you are given and you answer in JSON."

// IssueInput is the data critical issues are derived from. Nil snapshots are
// sources that were unavailable.
type IssueInput struct {
	Location  model.Location
	Weather   *model.Snapshot
	News      *model.Snapshot
	Satellite *model.Snapshot
}

// Empty reports whether there is nothing to analyze
func (in IssueInput) Empty() bool {
	return in.Weather == nil && in.News == nil && in.Satellite == nil
}

// Analyzer derives critical issues through an LLM provider.
// A nil provider disables it.
type Analyzer struct {
	provider Provider
	config   Config
	log      zerolog.Logger
	newID    func() string
}

// NewAnalyzer builds an analyzer from configuration
func NewAnalyzer(config Config, log zerolog.Logger) (*Analyzer, error) {
	provider, err := NewProvider(config)
	if err != nil {
		return nil, err
	}
	return NewAnalyzerWithProvider(provider, config, log), nil
}

// NewAnalyzerWithProvider builds an analyzer around an existing provider
func NewAnalyzerWithProvider(provider Provider, config Config, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		provider: provider,
		config:   config,
		log:      log.With().Str("component", "analyzer").Logger(),
		newID:    uuid.NewString,
	}
}

// IsEnabled reports whether a provider is configured
func (a *Analyzer) IsEnabled() bool {
	return a != nil && a.provider != nil
}

// ProviderName returns the provider name, or "" when disabled
func (a *Analyzer) ProviderName() string {
	if !a.IsEnabled() {
		return ""
	}
	return a.provider.Name()
}

// Model returns the configured model name
func (a *Analyzer) Model() string {
	if !a.IsEnabled() {
		return ""
	}
	return a.config.Model
}

// CheckAvailable probes the provider
func (a *Analyzer) CheckAvailable(ctx context.Context) bool {
	return a.IsEnabled() && a.provider.IsAvailable(ctx)
}

// DeriveIssues asks the provider for the critical issues in the input.
// A disabled analyzer or empty input yields no issues and no error.
func (a *Analyzer) DeriveIssues(ctx context.Context, in IssueInput) ([]model.CriticalIssue, error) {
	if !a.IsEnabled() || in.Empty() {
		return []model.CriticalIssue{}, nil
	}

	resp, err := a.provider.Complete(ctx, CompletionRequest{
		System:    issueSystemPrompt,
		Prompt:    BuildIssuePrompt(in),
		MaxTokens: a.config.MaxTokens,
		JSON:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("derive issues: %w", err)
	}

	issues, err := ParseIssues(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("parse issues: %w", err)
	}

	for i := range issues {
		issues[i].ID = a.newID()
	}

	a.log.Debug().
		Str("location", in.Location.String()).
		Int("issues", len(issues)).
		Int("tokens", resp.TokensUsed).
		Msg("derived critical issues")

	return issues, nil
}

// BuildIssuePrompt renders the snapshots into the analysis prompt
func BuildIssuePrompt(in IssueInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Location: %s\n\n", in.Location)
	writeSnapshot(&b, "Current weather", in.Weather)
	writeSnapshot(&b, "Recent news", in.News)
	writeSnapshot(&b, "Satellite observations", in.Satellite)

	b.WriteString(`List up to 10 environmental issues for this location that the data above supports.
Reply with a JSON object of the form:
{"issues":[{"title":"...","category":"air|water|heat|cold|storm|flood|fire|drought|pollution|other","severity":"low|medium|high|critical","summary":"..."}]}
Return {"issues":[]} when the data shows nothing of concern.`)

	return b.String()
}

func writeSnapshot(b *strings.Builder, title string, snap *model.Snapshot) {
	fmt.Fprintf(b, "## %s\n", title)
	if snap == nil || len(snap.Body) == 0 {
		b.WriteString("(unavailable)\n\n")
		return
	}

	b.WriteString(truncateBody(string(snap.Body), maxSnapshotBytes))
	b.WriteString("\n\n")
}

// truncateBody cuts body to at most limit bytes on a rune boundary
func truncateBody(body string, limit int) string {
	if len(body) <= limit {
		return body
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "…(truncated)"
}

type rawIssue struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Severity string `json:"severity"`
	Summary  string `json:"summary"`
}

// ParseIssues reads the model's answer. It accepts {"issues":[...]} or a bare
// array, optionally wrapped in a Markdown code fence.
func ParseIssues(text string) ([]model.CriticalIssue, error) {
	text = stripCodeFence(text)

	var raw []rawIssue
	if strings.HasPrefix(text, "[") {
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return nil, err
		}
	} else {
		var wrapper struct {
			Issues []rawIssue `json:"issues"`
		}
		if err := json.Unmarshal([]byte(text), &wrapper); err != nil {
			return nil, err
		}
		raw = wrapper.Issues
	}

	issues := make([]model.CriticalIssue, 0, len(raw))
	for _, r := range raw {
		title := strings.TrimSpace(r.Title)
		if title == "" {
			continue
		}
		issues = append(issues, model.CriticalIssue{
			Title:    title,
			Category: strings.ToLower(strings.TrimSpace(r.Category)),
			Severity: model.ParseSeverity(strings.ToLower(strings.TrimSpace(r.Severity))),
			Summary:  strings.TrimSpace(r.Summary),
		})
		if len(issues) == maxIssues {
			break
		}
	}

	return issues, nil
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:] // drop the language tag line
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
