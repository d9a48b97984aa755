// Package llm provides the upstream text generation clients.
package llm

import "context"

// Generator produces text for a prompt.
type Generator interface {
	// Generate sends prompt upstream and returns the model text.
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

var (
	_ Generator = (*GeminiClient)(nil)
	_ Generator = (*MockClient)(nil)
)
