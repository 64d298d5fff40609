package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mononoSaya/auto-novel/internal/apperr"
	"github.com/mononoSaya/auto-novel/internal/jobs"
)

func TestUpdater_SourceLanguage(t *testing.T) {
	fetcher := newFakeFetcher()
	engine := &prefixEngine{}
	sc := newTestContext(t, fetcher, engine)
	ctx := context.Background()

	res, err := NewUpdater(sc).Update(ctx, jobs.Request{
		ProviderID: "syosetu", BookID: "n1", Lang: "jp", StartIndex: 0, EndIndex: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, "jp", res.Lang)
	assert.Equal(t, 3, res.TotalEpisodes)
	assert.Equal(t, 2, res.CachedEpisodes)
	assert.Equal(t, int32(2), fetcher.episodeCalls.Load())
	assert.Zero(t, engine.calls.Load())
	require.Len(t, res.Files, 1)
	assert.FileExists(t, filepath.Join(sc.Books.Dir(), "syosetu.n1.jp.txt"))
}

func TestUpdater_TranslatesRangeAndIsIdempotent(t *testing.T) {
	fetcher := newFakeFetcher()
	engine := &prefixEngine{}
	sc := newTestContext(t, fetcher, engine)
	ctx := context.Background()
	u := NewUpdater(sc)
	req := jobs.Request{ProviderID: "syosetu", BookID: "n1", Lang: "zh", StartIndex: 0, EndIndex: 2}

	res, err := u.Update(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "zh", res.Lang)
	assert.Equal(t, 2, res.CachedEpisodes)
	require.Len(t, res.Files, 2)

	c := sc.BookCache("syosetu", "n1")
	md, ok, err := c.GetMetadata(ctx, "zh")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "zh:転生したら", md.Title)

	ep, ok, err := c.GetEpisode(ctx, "zh", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"zh:一行目", "", "zh:二行目"}, ep.Paragraphs)

	_, ok, err = c.GetEpisode(ctx, "zh", "3")
	require.NoError(t, err)
	assert.False(t, ok)

	calls := engine.calls.Load()
	_, err = u.Update(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, calls, engine.calls.Load())

	mixed, err := os.ReadFile(filepath.Join(sc.Books.Dir(), "syosetu.n1.zh.mixed.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(mixed), "一行目\nzh:一行目\n")
}

func TestUpdater_AssembleOnlyReadsCache(t *testing.T) {
	fetcher := newFakeFetcher()
	engine := &prefixEngine{}
	sc := newTestContext(t, fetcher, engine)
	ctx := context.Background()
	u := NewUpdater(sc)

	_, err := u.Update(ctx, jobs.Request{ProviderID: "syosetu", BookID: "n1", Lang: "zh", StartIndex: 0, EndIndex: 1})
	require.NoError(t, err)

	metadataCalls, episodeCalls, engineCalls := fetcher.metadataCalls.Load(), fetcher.episodeCalls.Load(), engine.calls.Load()
	res, err := u.Update(ctx, jobs.Request{ProviderID: "syosetu", BookID: "n1", Lang: "zh", StartIndex: -1, EndIndex: -1})
	require.NoError(t, err)

	assert.Equal(t, 1, res.CachedEpisodes)
	assert.Equal(t, metadataCalls, fetcher.metadataCalls.Load())
	assert.Equal(t, episodeCalls, fetcher.episodeCalls.Load())
	assert.Equal(t, engineCalls, engine.calls.Load())
}

func TestUpdater_AssembleOnlyWithoutCachedMetadata(t *testing.T) {
	sc := newTestContext(t, newFakeFetcher(), &prefixEngine{})

	_, err := NewUpdater(sc).Update(context.Background(), jobs.Request{
		ProviderID: "syosetu", BookID: "n1", Lang: "zh", StartIndex: -1, EndIndex: -1,
	})
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrNotFound))
}

func TestUpdater_RejectsBadRequests(t *testing.T) {
	sc := newTestContext(t, newFakeFetcher(), &prefixEngine{})
	u := NewUpdater(sc)
	ctx := context.Background()

	_, err := u.Update(ctx, jobs.Request{ProviderID: "missing", BookID: "n1", Lang: "zh", EndIndex: 1})
	assert.True(t, apperr.IsType(err, apperr.ErrValidation))

	_, err = u.Update(ctx, jobs.Request{ProviderID: "syosetu", BookID: "n1", Lang: "!!", EndIndex: 1})
	assert.True(t, apperr.IsType(err, apperr.ErrValidation))
}

func TestUpdater_FetchErrorPropagates(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.fail(errors.New("connection reset"))
	sc := newTestContext(t, fetcher, &prefixEngine{})

	_, err := NewUpdater(sc).Update(context.Background(), jobs.Request{
		ProviderID: "syosetu", BookID: "n1", Lang: "zh", EndIndex: 3,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.Fetch)
}

func TestUpdater_ArityErrorLeavesCacheUntouched(t *testing.T) {
	engine := &prefixEngine{drop: true}
	sc := newTestContext(t, newFakeFetcher(), engine)
	ctx := context.Background()

	_, err := NewUpdater(sc).Update(ctx, jobs.Request{
		ProviderID: "syosetu", BookID: "n1", Lang: "zh", EndIndex: 3,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.TranslationArity)

	c := sc.BookCache("syosetu", "n1")
	_, ok, err := c.GetMetadata(ctx, "zh")
	require.NoError(t, err)
	assert.False(t, ok)
	n, err := c.CountEpisode(ctx, "zh")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdater_RunsAsLedgerJob(t *testing.T) {
	sc := newTestContext(t, newFakeFetcher(), &prefixEngine{})
	ctx := context.Background()
	u := NewUpdater(sc)
	require.NoError(t, sc.Ledger.Start(u.Execute))

	rec, err := sc.Ledger.Enqueue(ctx, jobs.Request{ProviderID: "syosetu", BookID: "n1", Lang: "zh", EndIndex: 3})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := sc.Ledger.Status(ctx, rec.ID)
		return err == nil && status == jobs.StatusAbsent
	}, 5*time.Second, 10*time.Millisecond)

	assert.FileExists(t, filepath.Join(sc.Books.Dir(), "syosetu.n1.zh.txt"))
	n, err := sc.BookCache("syosetu", "n1").CountEpisode(ctx, "zh")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
