// Package app wires the report pipeline from configuration. The API server
// and the CLI share one Services value.
package app

import (
	"log/slog"
	"sync"

	"github.com/seenimoa/finreport/internal/agent"
	"github.com/seenimoa/finreport/internal/config"
	"github.com/seenimoa/finreport/internal/datasource"
	"github.com/seenimoa/finreport/internal/extract"
	"github.com/seenimoa/finreport/internal/fetch"
	"github.com/seenimoa/finreport/internal/infra"
	"github.com/seenimoa/finreport/internal/llm"
	"github.com/seenimoa/finreport/internal/store"
)

// Services holds the pipeline components. The LLM router may be nil when no
// provider is configured; analysis then fails with an analysis provider
// error while acquisition keeps working.
type Services struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *store.Store
	Source    datasource.Source
	Fetcher   *fetch.Orchestrator
	Extractor *extract.Extractor
	LLM       *llm.Router
	Chat      llm.LLMProvider // LLM, or the provider given to WithLLM; nil when none
	Analyst   *agent.Analyst

	mu        sync.RWMutex
	observers []fetch.Observer
}

// Option customises New.
type Option func(*options)

type options struct {
	source datasource.Source
	store  *store.Store
	llm    llm.LLMProvider
	xopts  []extract.Option
}

// WithSource replaces the configured disclosure source.
func WithSource(src datasource.Source) Option {
	return func(o *options) { o.source = src }
}

// WithStore replaces the configured store.
func WithStore(st *store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithLLM replaces the configured chat provider.
func WithLLM(p llm.LLMProvider) Option {
	return func(o *options) { o.llm = p }
}

// WithExtractOptions passes options to the text extractor.
func WithExtractOptions(opts ...extract.Option) Option {
	return func(o *options) { o.xopts = append(o.xopts, opts...) }
}

// New builds every component from cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Services {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger = infra.LoggerOrDefault(logger)

	s := &Services{Config: cfg, Logger: logger}

	s.Source = o.source
	if s.Source == nil {
		s.Source = NewSource(cfg.Source, logger)
	}
	s.Store = o.store
	if s.Store == nil {
		s.Store = store.New(cfg.Storage.DataDir, store.WithLogger(logger))
	}

	s.Fetcher = fetch.New(fetch.Config{
		Source:      s.Source,
		Store:       s.Store,
		Observer:    s.notify,
		Logger:      logger,
		Concurrency: cfg.Fetch.Concurrency,
		Timeout:     cfg.Fetch.Timeout,
	})
	s.Extractor = extract.New(s.Store, append([]extract.Option{extract.WithLogger(logger)}, o.xopts...)...)

	var provider agent.Provider
	chat := o.llm
	if chat == nil {
		router, err := llm.NewRouterFromConfig(cfg.LLM, logger)
		if err != nil {
			logger.Warn("analysis provider unavailable", "error", err)
		} else {
			s.LLM = router
			chat = router
		}
	}
	s.Chat = chat
	if chat != nil {
		provider = agent.NewLLMAnalyzer(chat,
			agent.WithChatOptions(llm.ChatOptions{
				Model:       cfg.LLM.Model,
				Temperature: cfg.LLM.Temperature,
				MaxTokens:   cfg.LLM.MaxTokens,
			}),
			agent.WithMaxInputChars(cfg.LLM.MaxInputChars),
			agent.WithAnalyzerLogger(logger),
		)
	}

	s.Analyst = agent.NewAnalyst(agent.AnalystConfig{
		Fetcher:      s.Fetcher,
		Texts:        s.Extractor,
		Provider:     provider,
		Logger:       logger,
		MaxRiskChars: cfg.Extract.MaxRiskChars,
	})
	return s
}

// NewSource builds the cninfo client, chained with the announcement feed
// when one is configured.
func NewSource(cfg config.SourceConfig, logger *slog.Logger) datasource.Source {
	cc := datasource.CninfoConfigFromConfig(cfg)
	cc.Logger = logger
	cninfo := datasource.NewCninfo(cc)
	if cfg.FeedURL == "" {
		return cninfo
	}
	fc := datasource.FeedConfigFromConfig(cfg)
	fc.Logger = logger
	return datasource.NewAggregator(logger, cninfo, datasource.NewFeed(fc))
}

// Subscribe registers an observer for fetch events.
func (s *Services) Subscribe(o fetch.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Services) notify(e fetch.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.observers {
		o(e)
	}
}
