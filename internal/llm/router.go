package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/seenimoa/finreport/internal/config"
	"github.com/seenimoa/finreport/internal/infra"
)

// Router sends requests to the primary provider and falls back through the
// configured chain. It implements LLMProvider itself.
type Router struct {
	mu         sync.RWMutex
	providers  map[string]LLMProvider
	primary    string
	fallbacks  []string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// RouterOption configures the router.
type RouterOption func(*Router)

// WithFallbacks sets the fallback provider chain.
func WithFallbacks(providers ...string) RouterOption {
	return func(r *Router) { r.fallbacks = providers }
}

// WithMaxRetries sets the maximum number of retry attempts per provider.
func WithMaxRetries(n int) RouterOption {
	return func(r *Router) { r.maxRetries = n }
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) RouterOption {
	return func(r *Router) { r.retryDelay = d }
}

// WithRouterLogger sets the logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a new LLM router with the given primary provider.
func NewRouter(primary string, opts ...RouterOption) *Router {
	r := &Router{
		providers:  make(map[string]LLMProvider),
		primary:    primary,
		maxRetries: 2,
		retryDelay: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = infra.LoggerOrDefault(r.logger).With("component", "llm")
	return r
}

// RegisterProvider adds a provider to the router.
func (r *Router) RegisterProvider(provider LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = provider
}

// GetProvider returns a registered provider by name.
func (r *Router) GetProvider(name string) (LLMProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Primary returns the primary provider.
func (r *Router) Primary() (LLMProvider, error) {
	p, ok := r.GetProvider(r.primary)
	if !ok {
		return nil, fmt.Errorf("%w: primary provider %q not registered", ErrNoProviders, r.primary)
	}
	return p, nil
}

// Chat routes a chat request through the provider chain with fallback.
func (r *Router) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	chain := r.providerChain()

	var lastErr error
	tried := 0
	for _, name := range chain {
		provider, ok := r.GetProvider(name)
		if !ok {
			continue
		}
		tried++

		resp, err := r.chatWithRetry(ctx, provider, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("provider failed", "provider", name, "error", err)
	}

	if tried == 0 {
		return nil, ErrNoProviders
	}
	return nil, fmt.Errorf("all %d providers failed, last error: %w", tried, lastErr)
}

// HealthCheck pings all registered providers and returns their status.
func (r *Router) HealthCheck(ctx context.Context) map[string]error {
	r.mu.RLock()
	providers := make(map[string]LLMProvider, len(r.providers))
	for k, v := range r.providers {
		providers[k] = v
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(providers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, provider := range providers {
		wg.Add(1)
		go func(n string, p LLMProvider) {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			err := p.Ping(pingCtx)
			mu.Lock()
			results[n] = err
			mu.Unlock()
		}(name, provider)
	}

	wg.Wait()
	return results
}

// Name returns the name of the primary provider (satisfies LLMProvider).
func (r *Router) Name() string {
	return "router/" + r.primary
}

// Models returns the primary provider's models (satisfies LLMProvider).
func (r *Router) Models() []string {
	p, err := r.Primary()
	if err != nil {
		return nil
	}
	return p.Models()
}

// ModelsByProvider returns the models of every registered provider in the
// chain, keyed by provider name.
func (r *Router) ModelsByProvider() map[string][]string {
	out := make(map[string][]string)
	for _, n := range r.ProviderNames() {
		if p, ok := r.GetProvider(n); ok {
			out[n] = p.Models()
		}
	}
	return out
}

// Ping checks the primary provider's health (satisfies LLMProvider).
func (r *Router) Ping(ctx context.Context) error {
	p, err := r.Primary()
	if err != nil {
		return err
	}
	return p.Ping(ctx)
}

// ProviderNames returns the provider chain, primary first, limited to
// registered providers.
func (r *Router) ProviderNames() []string {
	var names []string
	for _, n := range r.providerChain() {
		if _, ok := r.GetProvider(n); ok {
			names = append(names, n)
		}
	}
	return names
}

// ── Internal Helpers ──

func (r *Router) providerChain() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := []string{r.primary}
	for _, fb := range r.fallbacks {
		if fb != r.primary {
			chain = append(chain, fb)
		}
	}
	return chain
}

func (r *Router) chatWithRetry(ctx context.Context, provider LLMProvider, messages []Message, opts *ChatOptions) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := r.retryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := provider.Chat(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil || isNonRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// NewRouterFromConfig registers every provider the config enables. The
// configured primary leads; the others follow as fallbacks in the order
// deepseek, openai, ollama. Ollama is only registered when it is the
// primary or a URL is set explicitly.
func NewRouterFromConfig(cfg config.LLMConfig, logger *slog.Logger) (*Router, error) {
	router := NewRouter(cfg.Primary,
		WithMaxRetries(2),
		WithRetryDelay(time.Second),
		WithRouterLogger(logger),
	)

	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.Timeout <= 0 {
		client.Timeout = 120 * time.Second
	}
	modelFor := func(name string) string {
		if name == cfg.Primary {
			return cfg.Model
		}
		return ""
	}

	var fallbacks []string
	register := func(p LLMProvider) {
		router.RegisterProvider(p)
		if p.Name() != cfg.Primary {
			fallbacks = append(fallbacks, p.Name())
		}
	}

	if cfg.DeepSeekKey != "" {
		p, err := NewDeepSeekProvider(cfg.DeepSeekKey,
			WithOpenAIBaseURL(cfg.DeepSeekURL),
			WithOpenAIModel(modelFor(ProviderDeepSeek)),
			WithOpenAIHTTPClient(client),
		)
		if err == nil {
			register(p)
		}
	}

	if cfg.OpenAIKey != "" {
		p, err := NewOpenAIProvider(cfg.OpenAIKey,
			WithOpenAIBaseURL(cfg.OpenAIURL),
			WithOpenAIModel(modelFor(ProviderOpenAI)),
			WithOpenAIHTTPClient(client),
		)
		if err == nil {
			register(p)
		}
	}

	if cfg.Primary == ProviderOllama || cfg.OllamaURL != "" {
		ollamaClient := &http.Client{Timeout: client.Timeout}
		if ollamaClient.Timeout < 300*time.Second {
			ollamaClient.Timeout = 300 * time.Second
		}
		register(NewOllamaProvider(cfg.OllamaURL,
			WithOllamaModel(modelFor(ProviderOllama)),
			WithOllamaHTTPClient(ollamaClient),
		))
	}

	if len(router.providers) == 0 {
		return nil, fmt.Errorf("%w: set FINREPORT_LLM_DEEPSEEK_KEY, FINREPORT_LLM_OPENAI_KEY or llm.ollama_url", ErrNoAPIKey)
	}
	if _, ok := router.GetProvider(cfg.Primary); !ok {
		router.logger.Warn("primary provider not configured, using fallbacks", "primary", cfg.Primary, "fallbacks", fallbacks)
	}

	router.fallbacks = fallbacks
	return router, nil
}
