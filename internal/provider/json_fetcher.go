package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"

	"github.com/mononoSaya/auto-novel/internal/model"
	"github.com/mononoSaya/auto-novel/pkg/log"
)

// JSONFetcher reads books from a JSON API:
//
//	GET {base}/books/{book}                     -> BookMetadata
//	GET {base}/books/{book}/episodes/{episode}  -> Episode
type JSONFetcher struct {
	baseURL    string
	lang       string
	httpClient *http.Client
}

func NewJSONFetcher(cfg Config, timeout time.Duration) *JSONFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &JSONFetcher{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		lang:       cfg.Lang,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (f *JSONFetcher) FetchMetadata(ctx context.Context, bookID string) (model.BookMetadata, error) {
	var md model.BookMetadata
	if err := f.getJSON(ctx, "/books/"+url.PathEscape(bookID), &md); err != nil {
		return model.BookMetadata{}, err
	}
	if md.Title == "" {
		return model.BookMetadata{}, fmt.Errorf("metadata for %s has no title", bookID)
	}
	// Episode ids key the cache, so each may appear once.
	seen := make(map[string]int, len(md.Toc))
	for i, token := range md.Toc {
		if token.Kind != model.TocEpisode && token.Kind != model.TocSection {
			return model.BookMetadata{}, fmt.Errorf("toc token %d has unknown kind %q", i, token.Kind)
		}
		if token.Kind != model.TocEpisode {
			continue
		}
		if token.EpisodeID == "" {
			return model.BookMetadata{}, fmt.Errorf("toc token %d has no episode id", i)
		}
		if first, ok := seen[token.EpisodeID]; ok {
			return model.BookMetadata{}, fmt.Errorf("toc tokens %d and %d share episode id %q", first, i, token.EpisodeID)
		}
		seen[token.EpisodeID] = i
	}
	f.checkLanguage(bookID, md.ToQueryList())
	return md, nil
}

func (f *JSONFetcher) FetchEpisode(ctx context.Context, bookID, episodeID string) (model.Episode, error) {
	var ep model.Episode
	path := "/books/" + url.PathEscape(bookID) + "/episodes/" + url.PathEscape(episodeID)
	if err := f.getJSON(ctx, path, &ep); err != nil {
		return model.Episode{}, err
	}
	return ep, nil
}

func (f *JSONFetcher) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// checkLanguage warns when fetched text does not look like the configured
// source language.
func (f *JSONFetcher) checkLanguage(bookID string, texts []string) {
	detected := detectLanguage(texts)
	if detected == language.Und || model.SameLang(detected.String(), f.lang) {
		return
	}
	log.Warn("book %s: detected language %s, provider is configured as %s", bookID, detected, f.lang)
}

// detectLanguage returns the most frequent reliably detected language.
func detectLanguage(texts []string) language.Tag {
	counts := make(map[string]int)
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		info := whatlanggo.Detect(text)
		if !info.IsReliable() {
			continue
		}
		counts[info.Lang.Iso6391()]++
	}

	var top string
	var topCount int
	for lang, count := range counts {
		if count > topCount || (count == topCount && lang < top) {
			top, topCount = lang, count
		}
	}
	if top == "" {
		return language.Und
	}
	tag, err := language.Parse(top)
	if err != nil {
		return language.Und
	}
	return tag
}
