package generation

import (
	"context"
	"log/slog"

	"rulegate/internal/catalog"
	"rulegate/internal/rules"
)

// Service fronts the generation collaborator with the content-hash cache
// and the per-caller rate limiter. Cache hits are served without spending
// rate-limit budget or a collaborator call.
type Service struct {
	generator Generator
	cache     Cache
	limiter   *RateLimiter
}

// NewService wires a generator with its cache and limiter. Both cache and
// limiter may be nil, which disables them.
func NewService(generator Generator, cache Cache, limiter *RateLimiter) *Service {
	return &Service{generator: generator, cache: cache, limiter: limiter}
}

// Generate returns a structured rule proposal for the instruction.
func (s *Service) Generate(ctx context.Context, instruction, caller string, cat *catalog.Catalog) (*rules.Rule, error) {
	hash := ContentHash(instruction)

	if s.cache != nil {
		if rule, ok := s.cache.Get(ctx, hash); ok {
			slog.Debug("generation served from cache", "content_hash", hash)
			return rule, nil
		}
	}

	if s.limiter != nil {
		allowed, remaining, resetTime := s.limiter.Allow(caller)
		if !allowed {
			slog.Warn("generation rate limit exceeded",
				"caller", caller,
				"content_hash", hash,
				"reset", resetTime,
			)
			return nil, newFailure(ReasonRateLimited, hash, nil)
		}
		slog.Debug("generation allowed", "caller", caller, "remaining", remaining)
	}

	rule, err := s.generator.Generate(ctx, instruction, cat)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Put(ctx, hash, rule)
	}
	return rule, nil
}
