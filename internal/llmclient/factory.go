// Package llmclient implements the provider boundary. The agent loop only
// sees schemas.LLMClient; provider selection, credentials, retries and rate
// limiting all live here.
package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
	"github.com/xkilldash9x/nexus-agent/internal/config"
)

// NewClient builds an LLMClient for the configured provider.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	case config.ProviderOpenAI, config.ProviderOpenRouter, config.ProviderDeepSeek:
		return NewOpenAIClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider %q, supported: [%s %s %s %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI,
			config.ProviderOpenRouter, config.ProviderDeepSeek)
	}
}

// newLimiter builds the shared request throttle. A nil limiter means
// unlimited.
func newLimiter(requestsPerMinute float64) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), 1)
}

func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// providerError wraps any terminal provider failure so the loop can map it
// onto the PROVIDER_ERROR kind.
type providerError struct {
	err error
}

func (e *providerError) Error() string { return e.err.Error() }
func (e *providerError) Unwrap() error { return e.err }

// IsProviderError reports whether err is a terminal provider failure.
func IsProviderError(err error) bool {
	var pe *providerError
	return errors.As(err, &pe)
}
