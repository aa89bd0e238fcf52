package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhisek/sheetsolver/internal/fault"
	"github.com/abhisek/sheetsolver/internal/resilience"
	"github.com/abhisek/sheetsolver/internal/store"
)

// NewProvider creates a Provider from configuration.
// It returns the provider wrapped with retry and logging middleware.
// eventRepo may be nil.
func NewProvider(ctx context.Context, cfg Config, eventRepo store.EventRepo, log zerolog.Logger) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fault.Wrap(fault.MissingConfiguration, "llm", err)
	}

	var base Provider
	var err error

	switch cfg.Provider {
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "openrouter":
		base, err = NewOpenRouterProvider(cfg.OpenRouter)
	case "mock":
		base = NewMockProvider()
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	return Decorate(base, cfg, eventRepo, log), nil
}

// Decorate wraps base with the standard middleware:
// caller → timeout → retry → logging → base.
func Decorate(base Provider, cfg Config, eventRepo store.EventRepo, log zerolog.Logger) Provider {
	policy := cfg.Retry
	if policy.OnRetry == nil {
		policy.OnRetry = func(err error, attempt int, delay time.Duration) {
			log.Warn().Err(err).
				Str("provider", cfg.Provider).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("llm.retry")
		}
	}

	logged := WithLogging(base, cfg.Provider, eventRepo, log)
	retried := WithRetry(logged, policy)
	if cfg.Timeout <= 0 {
		return retried
	}
	return &timeoutProvider{inner: retried, timeout: cfg.Timeout}
}

// timeoutProvider bounds each Generate call, retries included.
type timeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

func (t *timeoutProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	return resilience.WithTimeout(ctx, t.timeout, func(ctx context.Context) (*Response, error) {
		return t.inner.Generate(ctx, req)
	})
}

func (t *timeoutProvider) ModelID() string {
	return t.inner.ModelID()
}
