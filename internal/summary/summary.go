package summary

import (
	"context"
	"log"
	"strings"
	"time"
)

const (
	// NoContextSummary is returned for empty histories without touching the
	// provider, so transfers started immediately after call setup stay cheap
	// and deterministic.
	NoContextSummary = "No prior conversation context available."

	// FallbackSummary replaces the handoff summary when the provider fails.
	// Summarization is an enhancement, never a blocking dependency: the
	// transfer proceeds and the receiving agent recaps manually.
	FallbackSummary = "Unable to generate call summary. Please recap the concern briefly."
)

const systemPrompt = "Create a concise handoff summary for the next agent."

// Provider generates text from a system + user prompt pair.
type Provider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Summarizer produces a short natural-language handoff summary from a
// speaker-tagged conversation log.
type Summarizer interface {
	Summarize(ctx context.Context, history []string) string
}

// Service wraps a Provider with the empty-input sentinel, a bounded timeout
// and the fallback-on-failure policy.
type Service struct {
	provider Provider
	timeout  time.Duration
}

func NewService(provider Provider, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{provider: provider, timeout: timeout}
}

func (s *Service) Summarize(ctx context.Context, history []string) string {
	joined := strings.TrimSpace(strings.Join(history, "\n"))
	if joined == "" {
		return NoContextSummary
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user := "Summarize this call context for warm transfer:\n\n" + joined
	text, err := s.provider.Complete(ctx, systemPrompt, user)
	if err != nil {
		log.Printf("summary provider failed, using fallback: %v", err)
		return FallbackSummary
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return FallbackSummary
	}
	return text
}

// Config controls provider construction.
type Config struct {
	Mode   string
	URL    string
	APIKey string
	Model  string
}

// NewProvider selects a provider: http when an API key is configured, mock
// otherwise. Explicit modes override autodetection.
func NewProvider(cfg Config) Provider {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "http":
		return NewHTTPProvider(cfg.URL, cfg.APIKey, cfg.Model)
	case "mock":
		return NewMockProvider()
	default:
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewHTTPProvider(cfg.URL, cfg.APIKey, cfg.Model)
		}
		return NewMockProvider()
	}
}
