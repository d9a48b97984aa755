package llm

import (
	"context"
	"log/slog"

	"github.com/ashureev/qa-demo/internal/config"
)

// NewGenerator creates the generator selected by cfg.
// LLM_MODE=MOCK returns a MockClient; otherwise a GeminiClient is built.
func NewGenerator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Generator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IsMock() {
		logger.Info("LLM_MODE=MOCK detected, using mock generator")
		return NewMockClient(), nil
	}
	client, err := NewGeminiClient(ctx, cfg.APIKey, cfg.ModelName, cfg.UpstreamTimeout, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Gemini generator ready", "model", client.Model(), "timeout", cfg.UpstreamTimeout)
	return client, nil
}
