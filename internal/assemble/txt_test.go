package assemble

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mononoSaya/auto-novel/internal/cache"
	"github.com/mononoSaya/auto-novel/internal/model"
)

func newBookCache(t *testing.T) *cache.BookCache {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	return cache.NewBookCache(store, "syosetu", "n1234")
}

func sourceMetadata() model.BookMetadata {
	return model.BookMetadata{
		Title: "転生したら",
		Toc: []model.TocToken{
			model.SectionToken("第一章"),
			model.EpisodeToken("1", "始まり"),
			model.EpisodeToken("2", "出会い"),
		},
	}
}

func translatedMetadata() model.BookMetadata {
	return model.BookMetadata{
		Title: "转生之后",
		Toc: []model.TocToken{
			model.SectionToken("第一章"),
			model.EpisodeToken("1", "开始"),
			model.EpisodeToken("2", "相遇"),
		},
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestTXT_SourceBook(t *testing.T) {
	ctx := context.Background()
	c := newBookCache(t)
	require.NoError(t, c.SaveEpisode(ctx, "jp", "1", model.Episode{Paragraphs: []string{"一行目", "二行目"}}))

	dir := t.TempDir()
	w := NewTXT(dir)
	res, err := w.Assemble(ctx, Book{
		ProviderID: "syosetu",
		BookID:     "n1234",
		SourceLang: "jp",
		Lang:       "jp",
		Source:     sourceMetadata(),
		Metadata:   sourceMetadata(),
		Cache:      c,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Episodes)
	assert.Equal(t, 1, res.Skipped)
	require.Equal(t, []string{filepath.Join(dir, "syosetu.n1234.jp.txt")}, res.Files)

	content := readFile(t, res.Files[0])
	assert.Contains(t, content, "転生したら")
	assert.Contains(t, content, "# 第一章")
	assert.Contains(t, content, "## 始まり\n\n一行目\n二行目\n")
	assert.NotContains(t, content, "出会い")
	assert.NoFileExists(t, filepath.Join(dir, "syosetu.n1234.jp.mixed.txt"))
}

func TestTXT_TranslatedBookWritesMixed(t *testing.T) {
	ctx := context.Background()
	c := newBookCache(t)
	require.NoError(t, c.SaveEpisode(ctx, "jp", "1", model.Episode{Paragraphs: []string{"一行目", ""}}))
	require.NoError(t, c.SaveEpisode(ctx, "zh", "1", model.Episode{Paragraphs: []string{"第一行", ""}}))
	require.NoError(t, c.SaveEpisode(ctx, "jp", "2", model.Episode{Paragraphs: []string{"未翻訳"}}))

	dir := t.TempDir()
	w := NewTXT(dir)
	res, err := w.Assemble(ctx, Book{
		ProviderID: "syosetu",
		BookID:     "n1234",
		SourceLang: "jp",
		Lang:       "zh",
		Source:     sourceMetadata(),
		Metadata:   translatedMetadata(),
		Cache:      c,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Episodes)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Files, 2)
	assert.Equal(t, w.Path("syosetu", "n1234", "zh", false), res.Files[0])
	assert.Equal(t, w.Path("syosetu", "n1234", "zh", true), res.Files[1])

	plain := readFile(t, res.Files[0])
	assert.Contains(t, plain, "## 开始\n\n第一行\n")
	assert.NotContains(t, plain, "一行目")
	assert.NotContains(t, plain, "未翻訳")

	mixed := readFile(t, res.Files[1])
	assert.Contains(t, mixed, "転生したら\n转生之后\n")
	assert.Contains(t, mixed, "## 始まり\n## 开始\n\n一行目\n第一行\n\n")
}

func TestTXT_ReassembleReplacesFile(t *testing.T) {
	ctx := context.Background()
	c := newBookCache(t)
	w := NewTXT(t.TempDir())
	book := Book{
		ProviderID: "syosetu",
		BookID:     "n1234",
		SourceLang: "jp",
		Lang:       "jp",
		Source:     sourceMetadata(),
		Metadata:   sourceMetadata(),
		Cache:      c,
	}

	_, err := w.Assemble(ctx, book)
	require.NoError(t, err)
	require.NoError(t, c.SaveEpisode(ctx, "jp", "2", model.Episode{Paragraphs: []string{"追加"}}))

	res, err := w.Assemble(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Episodes)
	assert.Contains(t, readFile(t, res.Files[0]), "追加")

	entries, err := os.ReadDir(w.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTXT_StaleTranslatedTocFallsBackToSourceTitles(t *testing.T) {
	ctx := context.Background()
	c := newBookCache(t)
	require.NoError(t, c.SaveEpisode(ctx, "zh", "2", model.Episode{Paragraphs: []string{"第二话"}}))

	stale := translatedMetadata()
	stale.Toc = stale.Toc[:2]

	res, err := NewTXT(t.TempDir()).Assemble(ctx, Book{
		ProviderID: "syosetu",
		BookID:     "n1234",
		SourceLang: "jp",
		Lang:       "zh",
		Source:     sourceMetadata(),
		Metadata:   stale,
		Cache:      c,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Episodes)

	plain := readFile(t, res.Files[0])
	assert.Contains(t, plain, "转生之后")
	assert.Contains(t, plain, "## 出会い\n\n第二话\n")
}
