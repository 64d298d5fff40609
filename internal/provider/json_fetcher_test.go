package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/mononoSaya/auto-novel/internal/model"
)

func newJSONServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/books/n1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"title": "異世界の物語",
			"introduction": "これはテストです。",
			"toc": [
				{"kind": "section", "title": "第一章"},
				{"kind": "episode", "title": "はじまり", "episode_id": "1"}
			]
		}`))
	})
	mux.HandleFunc("/books/n1/episodes/1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"paragraphs": ["一行目", "", "三行目"]}`))
	})
	mux.HandleFunc("/books/bad", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"title": "x", "toc": [{"kind": "image", "title": "x"}]}`))
	})
	mux.HandleFunc("/books/dup", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"title": "重複",
			"toc": [
				{"kind": "episode", "title": "一話", "episode_id": "1"},
				{"kind": "section", "title": "第二章"},
				{"kind": "episode", "title": "一話again", "episode_id": "1"}
			]
		}`))
	})
	return httptest.NewServer(mux)
}

func TestJSONFetcher(t *testing.T) {
	server := newJSONServer(t)
	defer server.Close()
	ctx := context.Background()
	f := NewJSONFetcher(Config{ID: "syosetu", Lang: "jp", BaseURL: server.URL + "/"}, 0)

	md, err := f.FetchMetadata(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "異世界の物語", md.Title)
	assert.Equal(t, []string{"1"}, md.EpisodeIDs())
	assert.Equal(t, model.TocSection, md.Toc[0].Kind)

	ep, err := f.FetchEpisode(ctx, "n1", "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"一行目", "", "三行目"}, ep.Paragraphs)

	_, err = f.FetchEpisode(ctx, "n1", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = f.FetchMetadata(ctx, "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestJSONFetcher_RejectsDuplicateEpisodeIDs(t *testing.T) {
	server := newJSONServer(t)
	defer server.Close()
	f := NewJSONFetcher(Config{ID: "syosetu", Lang: "jp", BaseURL: server.URL}, 0)

	_, err := f.FetchMetadata(context.Background(), "dup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `toc tokens 0 and 2 share episode id "1"`)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, language.Und, detectLanguage(nil))
	assert.Equal(t, language.Und, detectLanguage([]string{"", "  "}))

	tag := detectLanguage([]string{"これは日本語の文章です。", "ひらがなとカタカナ"})
	base, _ := tag.Base()
	assert.Equal(t, "ja", base.String())
}
