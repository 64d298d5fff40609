package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mononoSaya/auto-novel/internal/assemble"
	"github.com/mononoSaya/auto-novel/internal/cache"
	"github.com/mononoSaya/auto-novel/internal/config"
	"github.com/mononoSaya/auto-novel/internal/jobs"
	"github.com/mononoSaya/auto-novel/internal/library"
	"github.com/mononoSaya/auto-novel/internal/model"
	"github.com/mononoSaya/auto-novel/internal/provider"
	"github.com/mononoSaya/auto-novel/internal/translator"
)

type fakeFetcher struct {
	mu       sync.Mutex
	books    map[string]model.BookMetadata
	episodes map[string]model.Episode
	err      error

	metadataCalls atomic.Int32
	episodeCalls  atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		books: map[string]model.BookMetadata{
			"n1": {
				Title:        "転生したら",
				Introduction: "あらすじ",
				Toc: []model.TocToken{
					model.SectionToken("第一章"),
					model.EpisodeToken("1", "始まり"),
					model.EpisodeToken("2", "出会い"),
					model.EpisodeToken("3", "別れ"),
				},
			},
		},
		episodes: map[string]model.Episode{
			"1": {Paragraphs: []string{"一行目", "", "二行目"}},
			"2": {Paragraphs: []string{"三行目"}},
			"3": {Paragraphs: []string{"四行目", "五行目"}},
		},
	}
}

func (f *fakeFetcher) FetchMetadata(_ context.Context, bookID string) (model.BookMetadata, error) {
	f.metadataCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.BookMetadata{}, f.err
	}
	md, ok := f.books[bookID]
	if !ok {
		return model.BookMetadata{}, fmt.Errorf("book %s not found", bookID)
	}
	return md.Clone(), nil
}

func (f *fakeFetcher) FetchEpisode(_ context.Context, _, episodeID string) (model.Episode, error) {
	f.episodeCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Episode{}, f.err
	}
	ep, ok := f.episodes[episodeID]
	if !ok {
		return model.Episode{}, fmt.Errorf("episode %s not found", episodeID)
	}
	return ep, nil
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// prefixEngine "translates" by prefixing every query.
type prefixEngine struct {
	calls   atomic.Int32
	queries atomic.Int32
	drop    bool
}

func (e *prefixEngine) Name() string { return "prefix" }

func (e *prefixEngine) Translate(_ context.Context, _, to string, queries []string) ([]string, error) {
	e.calls.Add(1)
	e.queries.Add(int32(len(queries)))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		out = append(out, to+":"+q)
	}
	if e.drop && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func newTestContext(t *testing.T, fetcher provider.Fetcher, engine translator.Engine) *Context {
	t.Helper()

	cfg := &config.Config{}
	cfg.Cache.Dir = t.TempDir()
	cfg.Cache.BooksDir = t.TempDir()
	cfg.Cache.MetadataMaxAge = time.Hour
	cfg.Cache.ListMaxAge = time.Hour
	cfg.Cache.ListPageSize = 10
	cfg.Translate.Engine = engine.Name()
	cfg.Translate.BatchChars = translator.DefaultBatchChars
	cfg.Translate.Concurrency = 2
	cfg.Translate.TargetLanguages = []string{"zh"}

	store, err := cache.NewStore(cfg.Cache.Dir)
	require.NoError(t, err)

	engines := translator.NewRegistry(engine.Name())
	require.NoError(t, engines.Register(engine))

	providers := provider.NewRegistry(provider.New(provider.Config{
		ID:      "syosetu",
		Lang:    "jp",
		BookURL: "https://ncode.syosetu.com/{book}/",
	}, fetcher))

	ledger := jobs.NewLedger(jobs.NewMemoryStore(), jobs.Config{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
	})
	t.Cleanup(ledger.Stop)

	return &Context{
		Config:    cfg,
		Store:     store,
		Providers: providers,
		Engines:   engines,
		Ledger:    ledger,
		Books:     assemble.NewTXT(cfg.Cache.BooksDir),
		Catalog:   library.NewScanner(store, library.WithCacheTTL(time.Nanosecond)),
	}
}
