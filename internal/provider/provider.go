package provider

import (
	"context"
	"strings"

	"github.com/mononoSaya/auto-novel/internal/apperr"
	"github.com/mononoSaya/auto-novel/internal/cache"
	"github.com/mononoSaya/auto-novel/internal/model"
	"github.com/mononoSaya/auto-novel/pkg/log"
)

// Provider serves source-language content for one content source,
// consulting the cache before the network.
type Provider interface {
	ID() string
	// Lang is the source language code of every book on this provider.
	Lang() string
	BookURL(bookID string) string
	GetMetadata(ctx context.Context, bookID string, c *cache.BookCache) (model.BookMetadata, error)
	// GetEpisode returns ok=false when the episode is not cached and
	// allowRequest is false.
	GetEpisode(ctx context.Context, bookID, episodeID string, c *cache.BookCache, allowRequest bool) (model.Episode, bool, error)
}

// Fetcher is the source-specific adapter that talks to the remote site.
type Fetcher interface {
	FetchMetadata(ctx context.Context, bookID string) (model.BookMetadata, error)
	FetchEpisode(ctx context.Context, bookID, episodeID string) (model.Episode, error)
}

type Config struct {
	ID      string `mapstructure:"id"`
	Lang    string `mapstructure:"lang"`
	BaseURL string `mapstructure:"base_url"`
	// BookURL is a template for the human-facing book page; "{book}" is
	// replaced by the book id.
	BookURL string `mapstructure:"book_url"`
}

type cachedProvider struct {
	id      string
	lang    string
	bookURL string
	fetcher Fetcher
}

// New wraps fetcher with cache-first reads and writes.
func New(cfg Config, fetcher Fetcher) Provider {
	return &cachedProvider{
		id:      cfg.ID,
		lang:    cfg.Lang,
		bookURL: cfg.BookURL,
		fetcher: fetcher,
	}
}

func (p *cachedProvider) ID() string   { return p.id }
func (p *cachedProvider) Lang() string { return p.lang }

func (p *cachedProvider) BookURL(bookID string) string {
	if p.bookURL == "" {
		return ""
	}
	return strings.ReplaceAll(p.bookURL, "{book}", bookID)
}

// GetMetadata reads metadata through the cache's default max age, so stale
// provider metadata is refetched.
func (p *cachedProvider) GetMetadata(ctx context.Context, bookID string, c *cache.BookCache) (model.BookMetadata, error) {
	if md, ok, err := c.GetMetadata(ctx, p.lang); err != nil || ok {
		return md, err
	}

	md, err := p.fetcher.FetchMetadata(ctx, bookID)
	if err != nil {
		return model.BookMetadata{}, fetchError(err, "fetch metadata", p.id, bookID)
	}
	if err := c.SaveMetadata(ctx, p.lang, md); err != nil {
		return model.BookMetadata{}, err
	}

	log.With(log.BookFields(p.id, bookID, p.lang)).
		Info("fetched metadata: %d toc tokens, %d episodes", len(md.Toc), md.EpisodeCount())
	return md, nil
}

func (p *cachedProvider) GetEpisode(ctx context.Context, bookID, episodeID string, c *cache.BookCache, allowRequest bool) (model.Episode, bool, error) {
	if ep, ok, err := c.GetEpisode(ctx, p.lang, episodeID); err != nil || ok {
		return ep, ok, err
	}
	if !allowRequest {
		return model.Episode{}, false, nil
	}

	ep, err := p.fetcher.FetchEpisode(ctx, bookID, episodeID)
	if err != nil {
		return model.Episode{}, false, fetchError(err, "fetch episode", p.id, bookID).
			WithContext("episode", episodeID)
	}
	if err := c.SaveEpisode(ctx, p.lang, episodeID, ep); err != nil {
		return model.Episode{}, false, err
	}
	return ep, true, nil
}

func fetchError(err error, msg, providerID, bookID string) *apperr.Error {
	return apperr.Wrap(err, apperr.ErrFetch, msg).
		WithContext("provider", providerID).
		WithContext("book", bookID)
}
