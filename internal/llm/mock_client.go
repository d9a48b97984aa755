package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockClient is an offline Generator for local runs and tests.
// Prompts registered with Fail return their error; everything else is echoed.
type MockClient struct {
	mu        sync.Mutex
	responses map[string]string
	failures  map[string]error
	calls     int
}

// NewMockClient creates a new mock generator.
func NewMockClient() *MockClient {
	return &MockClient{
		responses: make(map[string]string),
		failures:  make(map[string]error),
	}
}

// Respond makes prompt return text.
func (m *MockClient) Respond(prompt, text string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = text
	return m
}

// Fail makes prompt return err.
func (m *MockClient) Fail(prompt string, err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[prompt] = err
	return m
}

// Calls returns how many times Generate ran.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate returns the registered response, failure, or an echo of prompt.
func (m *MockClient) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if err, ok := m.failures[prompt]; ok {
		return "", err
	}
	if text, ok := m.responses[prompt]; ok {
		return text, nil
	}
	return fmt.Sprintf("[MOCK] Received your question: %q. This is a mock response.", truncate(strings.TrimSpace(prompt), 100)), nil
}

// truncate keeps at most maxLen runes of s.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
