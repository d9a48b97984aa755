package answer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashureev/qa-demo/internal/llm"
)

// ErrorPrefix starts every answer produced from an upstream failure.
const ErrorPrefix = "An error occurred: "

// Service resolves questions through the cache and the upstream generator.
type Service struct {
	gen     llm.Generator
	cache   *Cache
	group   singleflight.Group
	metrics *Metrics
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records lookups and upstream calls on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService wires gen behind cache. A nil cache gets the defaults.
func NewService(gen llm.Generator, cache *Cache, opts ...Option) *Service {
	if cache == nil {
		cache = NewCache(DefaultTTL, DefaultMaxEntries, nil)
	}
	s := &Service{
		gen:    gen,
		cache:  cache,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache returns the underlying cache.
func (s *Service) Cache() *Cache {
	return s.cache
}

// PurgeExpired drops expired cache entries.
func (s *Service) PurgeExpired() int {
	return s.cache.PurgeExpired()
}

// GetAnswer returns the cached answer for question or asks the generator.
// Upstream failures come back as ErrorPrefix followed by the failure text and
// are cached like any other answer. Concurrent calls for the same question
// share one upstream call.
func (s *Service) GetAnswer(ctx context.Context, question string) string {
	if text, ok := s.cache.Get(question); ok {
		s.metrics.observeLookup(true)
		return text
	}
	s.metrics.observeLookup(false)

	v, _, _ := s.group.Do(question, func() (any, error) {
		if text, ok := s.cache.Get(question); ok {
			return text, nil
		}
		text := s.generate(ctx, question)
		s.cache.Put(question, text)
		return text, nil
	})
	return v.(string)
}

func (s *Service) generate(ctx context.Context, question string) (text string) {
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
			text = FormatError(err)
		}
		s.metrics.observeUpstream(err, time.Since(start))
		if err != nil {
			s.logger.Warn("Upstream generation failed",
				"question_length", len(question),
				"duration", time.Since(start),
				"error", err)
		}
	}()

	text, err = s.gen.Generate(ctx, question)
	if err != nil {
		return FormatError(err)
	}
	return text
}

// FormatError renders err as answer text.
func FormatError(err error) string {
	if err == nil {
		return ErrorPrefix + "unknown error"
	}
	return ErrorPrefix + err.Error()
}
