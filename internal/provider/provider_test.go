package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mononoSaya/auto-novel/internal/apperr"
	"github.com/mononoSaya/auto-novel/internal/cache"
	"github.com/mononoSaya/auto-novel/internal/model"
)

type stubFetcher struct {
	metadataCalls atomic.Int32
	episodeCalls  atomic.Int32
	md            model.BookMetadata
	err           error
}

func (s *stubFetcher) FetchMetadata(context.Context, string) (model.BookMetadata, error) {
	s.metadataCalls.Add(1)
	return s.md, s.err
}

func (s *stubFetcher) FetchEpisode(_ context.Context, _, episodeID string) (model.Episode, error) {
	s.episodeCalls.Add(1)
	if s.err != nil {
		return model.Episode{}, s.err
	}
	return model.Episode{Paragraphs: []string{"source " + episodeID}}, nil
}

func newProviderCache(t *testing.T) *cache.BookCache {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	return cache.NewBookCache(store, "syosetu", "n1")
}

func TestProvider_MetadataCacheFirst(t *testing.T) {
	ctx := context.Background()
	fetcher := &stubFetcher{md: model.BookMetadata{Title: "t", Toc: []model.TocToken{model.EpisodeToken("1", "one")}}}
	p := New(Config{ID: "syosetu", Lang: "jp", BookURL: "https://ncode.syosetu.com/{book}"}, fetcher)
	c := newProviderCache(t)

	md, err := p.GetMetadata(ctx, "n1", c)
	require.NoError(t, err)
	assert.Equal(t, fetcher.md, md)

	md, err = p.GetMetadata(ctx, "n1", c)
	require.NoError(t, err)
	assert.Equal(t, fetcher.md, md)
	assert.Equal(t, int32(1), fetcher.metadataCalls.Load())
	assert.Equal(t, "https://ncode.syosetu.com/n1", p.BookURL("n1"))
}

func TestProvider_EpisodeAllowRequest(t *testing.T) {
	ctx := context.Background()
	fetcher := &stubFetcher{}
	p := New(Config{ID: "syosetu", Lang: "jp"}, fetcher)
	c := newProviderCache(t)

	_, ok, err := p.GetEpisode(ctx, "n1", "1", c, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, fetcher.episodeCalls.Load())

	ep, ok, err := p.GetEpisode(ctx, "n1", "1", c, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"source 1"}, ep.Paragraphs)

	ep, ok, err = p.GetEpisode(ctx, "n1", "1", c, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"source 1"}, ep.Paragraphs)
	assert.Equal(t, int32(1), fetcher.episodeCalls.Load())
}

func TestProvider_FetchErrorsAreTyped(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")
	p := New(Config{ID: "syosetu", Lang: "jp"}, &stubFetcher{err: boom})
	c := newProviderCache(t)

	_, err := p.GetMetadata(ctx, "n1", c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Fetch))
	assert.ErrorIs(t, err, boom)

	_, _, err = p.GetEpisode(ctx, "n1", "1", c, true)
	assert.True(t, apperr.IsType(err, apperr.ErrFetch))

	_, ok, err := c.GetMetadata(ctx, "jp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry(t *testing.T) {
	a := New(Config{ID: "syosetu", Lang: "jp"}, &stubFetcher{})
	b := New(Config{ID: "kakuyomu", Lang: "jp"}, &stubFetcher{})
	r := NewRegistry(a)
	require.NoError(t, r.Register(b))
	assert.Error(t, r.Register(b))

	got, err := r.Get("kakuyomu")
	require.NoError(t, err)
	assert.Equal(t, "kakuyomu", got.ID())

	_, err = r.Get("pixiv")
	assert.True(t, apperr.IsType(err, apperr.ErrNotFound))
	assert.Equal(t, []string{"kakuyomu", "syosetu"}, r.IDs())
}
