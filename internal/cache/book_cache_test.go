package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mononoSaya/auto-novel/internal/model"
)

func newTestCache(t *testing.T, opts ...Option) (*BookCache, Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	return NewBookCache(store, "kakuyomu", "1177354054", opts...), store, dir
}

func sampleMetadata() model.BookMetadata {
	return model.BookMetadata{
		Title:        "タイトル",
		Introduction: "紹介",
		Toc: []model.TocToken{
			model.SectionToken("第一章"),
			model.EpisodeToken("e1", "一話"),
			model.EpisodeToken("e2", "二話"),
		},
	}
}

func TestBookCache_MetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	_, ok, err := c.GetMetadata(ctx, "jp")
	require.NoError(t, err)
	assert.False(t, ok)

	md := sampleMetadata()
	require.NoError(t, c.SaveMetadata(ctx, "jp", md))

	got, ok, err := c.GetMetadata(ctx, "jp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, md, got)

	_, ok, err = c.GetMetadata(ctx, "zh")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBookCache_EpisodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _, dir := newTestCache(t)

	ep := model.Episode{Paragraphs: []string{"一", "", "三"}}
	require.NoError(t, c.SaveEpisode(ctx, "zh", "e/1", ep))

	got, ok, err := c.GetEpisode(ctx, "zh", "e/1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ep, got)

	_, err = os.Stat(filepath.Join(dir, "kakuyomu.1177354054", "zh", "episode", "e%2F1.json"))
	assert.NoError(t, err)
}

func TestBookCache_MetadataMaxAge(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c, _, _ := newTestCache(t, WithClock(func() time.Time { return now }))

	require.NoError(t, c.SaveMetadata(ctx, "jp", sampleMetadata()))

	now = now.Add(2 * time.Hour)

	_, ok, err := c.GetMetadata(ctx, "jp")
	require.NoError(t, err)
	assert.True(t, ok, "no limit by default")

	_, ok, err = c.GetMetadata(ctx, "jp", WithMaxAge(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.GetMetadata(ctx, "jp", WithMaxAge(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	savedAt, ok, err := c.MetadataSavedAt(ctx, "jp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, now.Add(-2*time.Hour), savedAt, 5*time.Second)
}

func TestBookCache_DefaultMaxAgeCanBeLifted(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c, _, _ := newTestCache(t,
		WithMetadataMaxAge(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, c.SaveMetadata(ctx, "jp", sampleMetadata()))
	now = now.Add(time.Hour)

	_, ok, err := c.GetMetadata(ctx, "jp")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.GetMetadata(ctx, "jp", WithMaxAge(0))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBookCache_CountEpisodeMonotonic(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	n, err := c.CountEpisode(ctx, "zh")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	prev := 0
	for i := range 5 {
		id := fmt.Sprintf("e%d", i)
		require.NoError(t, c.SaveEpisode(ctx, "zh", id, model.Episode{Paragraphs: []string{id}}))
		n, err := c.CountEpisode(ctx, "zh")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, prev)
		prev = n
	}
	assert.Equal(t, 5, prev)

	// Re-saving an existing id does not change the count.
	require.NoError(t, c.SaveEpisode(ctx, "zh", "e0", model.Episode{Paragraphs: []string{"changed"}}))
	n, err = c.CountEpisode(ctx, "zh")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = c.CountEpisode(ctx, "jp")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBookCache_SaveEpisodeIdenticalIsNoop(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestCache(t)
	ep := model.Episode{Paragraphs: []string{"a", "b"}}

	require.NoError(t, c.SaveEpisode(ctx, "zh", "e1", ep))
	key := Key{ProviderID: "kakuyomu", BookID: "1177354054", Lang: "zh", Unit: EpisodeUnit("e1")}
	first, err := store.Get(ctx, key)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.SaveEpisode(ctx, "zh", "e1", ep))
	second, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.SavedAt, second.SavedAt)

	changed := model.Episode{Paragraphs: []string{"a", "c"}}
	require.NoError(t, c.SaveEpisode(ctx, "zh", "e1", changed))
	got, ok, err := c.GetEpisode(ctx, "zh", "e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, changed, got)
}

type lookupCounter struct {
	mu     sync.Mutex
	hits   map[string]int
	misses map[string]int
}

func (l *lookupCounter) RecordCacheLookup(unit string, hit bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if hit {
		l.hits[unit]++
	} else {
		l.misses[unit]++
	}
}

func TestBookCache_RecordsLookups(t *testing.T) {
	ctx := context.Background()
	rec := &lookupCounter{hits: map[string]int{}, misses: map[string]int{}}
	c, _, _ := newTestCache(t, WithRecorder(rec))

	_, _, err := c.GetEpisode(ctx, "zh", "e1")
	require.NoError(t, err)
	require.NoError(t, c.SaveMetadata(ctx, "zh", sampleMetadata()))
	_, _, err = c.GetMetadata(ctx, "zh")
	require.NoError(t, err)

	assert.Equal(t, 1, rec.misses["episode"])
	assert.Equal(t, 1, rec.hits["metadata"])
}
