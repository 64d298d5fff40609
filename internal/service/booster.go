package service

import (
	"context"
	"errors"
	"sync"

	"github.com/mononoSaya/auto-novel/internal/apperr"
	"github.com/mononoSaya/auto-novel/internal/cache"
	"github.com/mononoSaya/auto-novel/internal/jobs"
	"github.com/mononoSaya/auto-novel/internal/provider"
	"github.com/mononoSaya/auto-novel/pkg/log"
)

// ErrAlreadyTranslated is returned when an uploaded translation targets an
// episode that already has one.
var ErrAlreadyTranslated = errors.New("episode already translated")

// Booster accepts translations produced outside the process, for example
// by a user running a translator in the browser.
type Booster struct {
	sc      *Context
	updater *Updater
	lang    string

	// uploads serializes the already-translated check with the save.
	uploads sync.Mutex
}

func NewBooster(sc *Context, updater *Updater, lang string) *Booster {
	return &Booster{sc: sc, updater: updater, lang: lang}
}

func (b *Booster) Lang() string { return b.lang }

type PendingWork struct {
	Metadata   []string `json:"metadata"`
	EpisodeIDs []string `json:"episode_ids"`
}

// Pending returns the metadata query list and the ids of episodes in
// [start, end) that have no translation yet.
func (b *Booster) Pending(ctx context.Context, providerID, bookID string, start, end int) (*PendingWork, error) {
	p, c, err := b.open(providerID, bookID)
	if err != nil {
		return nil, err
	}
	md, err := p.GetMetadata(ctx, bookID, c)
	if err != nil {
		return nil, err
	}

	ret := &PendingWork{
		Metadata:   md.ToQueryList(),
		EpisodeIDs: make([]string, 0),
	}
	for _, id := range md.EpisodeRange(start, end) {
		_, ok, err := c.GetEpisode(ctx, b.lang, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			ret.EpisodeIDs = append(ret.EpisodeIDs, id)
		}
	}
	return ret, nil
}

// SubmitMetadata stores an uploaded metadata translation, replacing any
// previous one.
func (b *Booster) SubmitMetadata(ctx context.Context, providerID, bookID string, results []string) error {
	p, c, err := b.open(providerID, bookID)
	if err != nil {
		return err
	}
	md, err := p.GetMetadata(ctx, bookID, c)
	if err != nil {
		return err
	}
	translated, err := md.ApplyTranslatedResult(results)
	if err != nil {
		return err
	}
	return c.SaveMetadata(ctx, b.lang, translated)
}

// SourceEpisode returns the source paragraphs of an episode, fetching it
// when it is not cached.
func (b *Booster) SourceEpisode(ctx context.Context, providerID, bookID, episodeID string) ([]string, error) {
	p, c, err := b.open(providerID, bookID)
	if err != nil {
		return nil, err
	}
	md, err := p.GetMetadata(ctx, bookID, c)
	if err != nil {
		return nil, err
	}
	if !md.HasEpisode(episodeID) {
		return nil, invalidUnit(episodeID)
	}
	ep, _, err := p.GetEpisode(ctx, bookID, episodeID, c, true)
	if err != nil {
		return nil, err
	}
	return ep.Paragraphs, nil
}

// SubmitEpisode stores an uploaded episode translation. The episode must be
// listed in the table of contents and its source must be cached so the
// paragraph count can be checked.
func (b *Booster) SubmitEpisode(ctx context.Context, providerID, bookID, episodeID string, results []string) error {
	p, c, err := b.open(providerID, bookID)
	if err != nil {
		return err
	}
	md, err := p.GetMetadata(ctx, bookID, c)
	if err != nil {
		return err
	}
	if !md.HasEpisode(episodeID) {
		return invalidUnit(episodeID)
	}

	b.uploads.Lock()
	defer b.uploads.Unlock()

	if _, ok, err := c.GetEpisode(ctx, b.lang, episodeID); err != nil {
		return err
	} else if ok {
		return ErrAlreadyTranslated
	}

	src, ok, err := c.GetEpisode(ctx, p.Lang(), episodeID)
	if err != nil {
		return err
	}
	if !ok {
		return invalidUnit(episodeID)
	}
	translated, err := src.Translated(results)
	if err != nil {
		return err
	}
	if err := c.SaveEpisode(ctx, b.lang, episodeID, translated); err != nil {
		return err
	}

	log.With(log.BookFields(providerID, bookID, b.lang)).Info("accepted uploaded translation of episode %s", episodeID)
	return nil
}

// Make reassembles the book from cache without fetching or translating.
func (b *Booster) Make(ctx context.Context, providerID, bookID string) (*UpdateResult, error) {
	if _, _, err := b.open(providerID, bookID); err != nil {
		return nil, err
	}
	return b.updater.Update(ctx, jobs.Request{
		ProviderID: providerID,
		BookID:     bookID,
		Lang:       b.lang,
		StartIndex: -1,
		EndIndex:   -1,
	})
}

func (b *Booster) open(providerID, bookID string) (provider.Provider, *cache.BookCache, error) {
	p, err := b.sc.Providers.Get(providerID)
	if err != nil {
		return nil, nil, err
	}
	return p, b.sc.BookCache(p.ID(), bookID), nil
}

func invalidUnit(episodeID string) error {
	return apperr.New(apperr.ErrInvalidUnit, "episode is not in the table of contents").
		WithContext("episode_id", episodeID)
}
