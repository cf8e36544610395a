package summary

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider produces deterministic local summaries when no provider
// credentials are configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Complete(ctx context.Context, system, user string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	lines := strings.Split(strings.TrimSpace(user), "\n")
	last := ""
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			last = s
			break
		}
	}
	if last == "" {
		return "Brief call with no substantive content.", nil
	}
	return fmt.Sprintf("Handoff summary: customer conversation in progress. Most recent exchange: %s", last), nil
}
