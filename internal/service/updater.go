package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mononoSaya/auto-novel/internal/apperr"
	"github.com/mononoSaya/auto-novel/internal/assemble"
	"github.com/mononoSaya/auto-novel/internal/cache"
	"github.com/mononoSaya/auto-novel/internal/jobs"
	"github.com/mononoSaya/auto-novel/internal/model"
	"github.com/mononoSaya/auto-novel/internal/provider"
	"github.com/mononoSaya/auto-novel/internal/translator"
	"github.com/mononoSaya/auto-novel/pkg/log"
)

// Assembler renders a book from cached content.
type Assembler interface {
	Assemble(ctx context.Context, book assemble.Book) (*assemble.Result, error)
}

type UpdateResult struct {
	Lang           string   `json:"lang"`
	TotalEpisodes  int      `json:"total_episode_number"`
	CachedEpisodes int      `json:"cached_episode_number"`
	Files          []string `json:"files"`
}

// Updater refreshes one language of a book: metadata, the requested range
// of episodes, their translations, and finally the book files.
type Updater struct {
	sc          *Context
	assembler   Assembler
	concurrency int
}

type UpdaterOption func(*Updater)

func WithAssembler(a Assembler) UpdaterOption {
	return func(u *Updater) {
		u.assembler = a
	}
}

func NewUpdater(sc *Context, opts ...UpdaterOption) *Updater {
	u := &Updater{
		sc:          sc,
		assembler:   sc.Books,
		concurrency: max(sc.Config.Translate.Concurrency, 1),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Execute runs the update described by a ledger record.
func (u *Updater) Execute(ctx context.Context, rec *jobs.Record) error {
	start := time.Now()
	res, err := u.Update(ctx, rec.Request())
	if err != nil {
		return err
	}
	log.With(log.JobFields(rec.ID, rec.RunID)).
		Info("update finished in %s: %d/%d episodes cached", time.Since(start).Round(time.Millisecond), res.CachedEpisodes, res.TotalEpisodes)
	return nil
}

// Update episodes with index in [StartIndex, EndIndex) are fetched and
// translated eagerly. Episodes outside the range only contribute what is
// already cached. A negative index skips fetching and translating and only
// reassembles the book from cache.
func (u *Updater) Update(ctx context.Context, req jobs.Request) (*UpdateResult, error) {
	if _, err := model.ParseLang(req.Lang); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrValidation, "invalid language")
	}
	p, err := u.sc.Providers.Get(req.ProviderID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrValidation, "unknown provider").WithContext("provider", req.ProviderID)
	}

	c := u.sc.BookCache(p.ID(), req.BookID)
	assembleOnly := req.StartIndex < 0 || req.EndIndex < 0
	logger := log.With(log.BookFields(p.ID(), req.BookID, req.Lang))

	source, err := u.sourceMetadata(ctx, p, req.BookID, c, assembleOnly)
	if err != nil {
		return nil, err
	}

	var eager []string
	if !assembleOnly {
		eager = source.EpisodeRange(req.StartIndex, req.EndIndex)
	}

	book := assemble.Book{
		ProviderID: p.ID(),
		BookID:     req.BookID,
		SourceLang: p.Lang(),
		Lang:       p.Lang(),
		Source:     source,
		Metadata:   source,
		Cache:      c,
	}

	if model.SameLang(req.Lang, p.Lang()) {
		err = u.forEach(ctx, eager, func(ctx context.Context, episodeID string) error {
			_, _, err := p.GetEpisode(ctx, req.BookID, episodeID, c, true)
			return err
		})
		if err != nil {
			return nil, err
		}
	} else {
		book.Lang = req.Lang
		tr, err := u.sc.Translator(p.Lang(), req.Lang)
		if err != nil {
			return nil, err
		}
		if book.Metadata, err = u.translatedMetadata(ctx, tr, source, c, assembleOnly); err != nil {
			return nil, err
		}
		if err := u.translateEpisodes(ctx, p, tr, req.BookID, c, eager); err != nil {
			return nil, err
		}
	}

	logger.Info("updating %d of %d episodes", len(eager), source.EpisodeCount())

	assembled, err := u.assembler.Assemble(ctx, book)
	if err != nil {
		return nil, err
	}
	cached, err := c.CountEpisode(ctx, book.Lang)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{
		Lang:           book.Lang,
		TotalEpisodes:  source.EpisodeCount(),
		CachedEpisodes: cached,
		Files:          assembled.Files,
	}, nil
}

func (u *Updater) sourceMetadata(
	ctx context.Context,
	p provider.Provider,
	bookID string,
	c *cache.BookCache,
	assembleOnly bool,
) (model.BookMetadata, error) {
	if !assembleOnly {
		return p.GetMetadata(ctx, bookID, c)
	}
	md, ok, err := c.GetMetadata(ctx, p.Lang(), cache.WithMaxAge(0))
	if err != nil {
		return model.BookMetadata{}, err
	}
	if !ok {
		return model.BookMetadata{}, apperr.New(apperr.ErrNotFound, "book metadata is not cached").
			WithContext("provider", p.ID()).
			WithContext("book", bookID)
	}
	return md, nil
}

// translatedMetadata falls back to the source metadata when reassembling a
// book whose metadata was never translated.
func (u *Updater) translatedMetadata(
	ctx context.Context,
	tr *translator.Translator,
	source model.BookMetadata,
	c *cache.BookCache,
	assembleOnly bool,
) (model.BookMetadata, error) {
	if !assembleOnly {
		return tr.TranslateMetadata(ctx, source, c)
	}
	md, ok, err := c.GetMetadata(ctx, tr.To(), cache.WithMaxAge(0))
	if err != nil || !ok {
		return source, err
	}
	return md, nil
}

func (u *Updater) translateEpisodes(
	ctx context.Context,
	p provider.Provider,
	tr *translator.Translator,
	bookID string,
	c *cache.BookCache,
	episodeIDs []string,
) error {
	return u.forEach(ctx, episodeIDs, func(ctx context.Context, episodeID string) error {
		src, ok, err := p.GetEpisode(ctx, bookID, episodeID, c, true)
		if err != nil || !ok {
			return err
		}
		_, _, err = tr.TranslateEpisode(ctx, episodeID, &src, c, true)
		return err
	})
}

// forEach runs fn for every id with bounded concurrency and stops at the
// first error.
func (u *Updater) forEach(ctx context.Context, ids []string, fn func(ctx context.Context, id string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			return fn(gctx, id)
		})
	}
	return g.Wait()
}
