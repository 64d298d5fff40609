package service

import (
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/mononoSaya/auto-novel/internal/assemble"
	"github.com/mononoSaya/auto-novel/internal/cache"
	"github.com/mononoSaya/auto-novel/internal/config"
	"github.com/mononoSaya/auto-novel/internal/jobs"
	"github.com/mononoSaya/auto-novel/internal/library"
	"github.com/mononoSaya/auto-novel/internal/llm"
	"github.com/mononoSaya/auto-novel/internal/metrics"
	"github.com/mononoSaya/auto-novel/internal/persistence"
	"github.com/mononoSaya/auto-novel/internal/provider"
	"github.com/mononoSaya/auto-novel/internal/translator"
	"github.com/mononoSaya/auto-novel/pkg/log"
)

// Context holds the process-wide collaborators. It is built once at start
// and passed to every component that needs it.
type Context struct {
	Config    *config.Config
	Store     cache.Store
	Providers *provider.Registry
	Engines   *translator.Registry
	Ledger    *jobs.Ledger
	Metrics   *metrics.Collector
	Books     *assemble.TXT
	Catalog   *library.Scanner

	flights singleflight.Group
	closers []func() error
}

// NewContext wires every collaborator from cfg.
func NewContext(cfg *config.Config) (*Context, error) {
	store, err := cache.NewStore(cfg.Cache.Dir)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector()

	providers := provider.NewRegistry()
	for _, pc := range cfg.Providers {
		fetcher := provider.NewJSONFetcher(pc, cfg.Translate.FetchTimeout)
		if err := providers.Register(provider.New(pc, fetcher)); err != nil {
			return nil, err
		}
	}

	engines, err := newEngines(cfg)
	if err != nil {
		return nil, err
	}

	sc := &Context{
		Config:    cfg,
		Store:     store,
		Providers: providers,
		Engines:   engines,
		Metrics:   collector,
		Books:     assemble.NewTXT(cfg.Cache.BooksDir),
	}

	var jobStore jobs.Store
	if cfg.Jobs.DBPath != "" {
		sqlite, err := persistence.NewSQLiteStore(cfg.Jobs.DBPath)
		if err != nil {
			return nil, err
		}
		sc.closers = append(sc.closers, sqlite.Close)
		jobStore = sqlite
	} else {
		log.Warn("jobs.db_path is empty, the job ledger is kept in memory")
		jobStore = jobs.NewMemoryStore()
	}
	sc.Ledger = jobs.NewLedger(jobStore, cfg.Jobs.Config, jobs.WithRecorder(collector))

	sc.Catalog = library.NewScanner(store,
		library.WithCacheTTL(cfg.Cache.ListSnapshot),
		library.WithProviderFilter(func(id string) bool {
			_, err := providers.Get(id)
			return err == nil
		}),
	)

	log.Info("context ready: providers=%v engines=%v default=%s", providers.IDs(), engines.Names(), engines.DefaultEngine())
	return sc, nil
}

func newEngines(cfg *config.Config) (*translator.Registry, error) {
	engines := translator.NewRegistry(cfg.Translate.Engine)
	if err := engines.Register(translator.IdentityEngine{}); err != nil {
		return nil, err
	}

	if cfg.LLM.APIKey != "" {
		client, err := llm.NewClient(&cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm client: %w", err)
		}
		if err := engines.Register(translator.NewLLMEngine(client)); err != nil {
			return nil, err
		}
	}

	if cfg.Baidu.AppID != "" {
		baidu, err := translator.NewBaiduEngine(cfg.Baidu)
		if err != nil {
			return nil, err
		}
		if err := engines.Register(baidu); err != nil {
			return nil, err
		}
	}

	if _, err := engines.Engine(""); err != nil {
		return nil, err
	}
	return engines, nil
}

// BookCache opens the cache of one book. Provider metadata read through it
// expires after cache.metadata_max_age.
func (c *Context) BookCache(providerID, bookID string) *cache.BookCache {
	opts := []cache.Option{cache.WithMetadataMaxAge(c.Config.Cache.MetadataMaxAge)}
	if c.Metrics != nil {
		opts = append(opts, cache.WithRecorder(c.Metrics))
	}
	return cache.NewBookCache(c.Store, providerID, bookID, opts...)
}

// Translator returns a translator for the configured engine. Translators
// built from the same Context share one in-flight group.
func (c *Context) Translator(from, to string) (*translator.Translator, error) {
	engine, err := c.Engines.Engine(c.Config.Translate.Engine)
	if err != nil {
		return nil, err
	}
	opts := []translator.Option{
		translator.WithBatchChars(c.Config.Translate.BatchChars),
		translator.WithGroup(&c.flights),
	}
	if c.Metrics != nil {
		opts = append(opts, translator.WithRecorder(c.Metrics))
	}
	return translator.New(from, to, engine, opts...), nil
}

// TargetLanguages lists the languages books are offered in besides their
// source language.
func (c *Context) TargetLanguages() []string {
	return c.Config.Translate.TargetLanguages
}

func (c *Context) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}
