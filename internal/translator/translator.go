package translator

import (
	"context"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/mononoSaya/auto-novel/internal/apperr"
	"github.com/mononoSaya/auto-novel/internal/cache"
	"github.com/mononoSaya/auto-novel/internal/model"
	"github.com/mononoSaya/auto-novel/pkg/log"
)

const DefaultBatchChars = 2000

// Translator runs the cache-or-compute contract for one language pair.
// Cached translations are returned as is and never recomputed.
type Translator struct {
	from   string
	to     string
	engine Engine

	batchChars int
	group      *singleflight.Group
	recorder   Recorder
}

type Option func(*Translator)

// WithBatchChars bounds the characters sent per engine call. A single query
// longer than the bound is sent alone.
func WithBatchChars(n int) Option {
	return func(t *Translator) {
		if n > 0 {
			t.batchChars = n
		}
	}
}

// WithGroup shares call collapsing across Translators in one process.
func WithGroup(g *singleflight.Group) Option {
	return func(t *Translator) {
		if g != nil {
			t.group = g
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(t *Translator) {
		t.recorder = r
	}
}

func New(from, to string, engine Engine, opts ...Option) *Translator {
	t := &Translator{
		from:       from,
		to:         to,
		engine:     engine,
		batchChars: DefaultBatchChars,
		group:      &singleflight.Group{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Translator) From() string   { return t.from }
func (t *Translator) To() string     { return t.to }
func (t *Translator) Engine() Engine { return t.engine }

// TranslateMetadata returns the cached translation of md for the target
// language, translating and saving it first when none is cached.
func (t *Translator) TranslateMetadata(ctx context.Context, md model.BookMetadata, c *cache.BookCache) (model.BookMetadata, error) {
	if cached, ok, err := c.GetMetadata(ctx, t.to, cache.WithMaxAge(0)); err != nil || ok {
		return cached, err
	}

	v, err, _ := t.group.Do(t.flightKey(c, cache.MetadataUnit()), func() (any, error) {
		if cached, ok, err := c.GetMetadata(ctx, t.to, cache.WithMaxAge(0)); err != nil || ok {
			return cached, err
		}

		results, err := t.translate(ctx, md.ToQueryList())
		if err != nil {
			return nil, err
		}
		translated, err := md.ApplyTranslatedResult(results)
		if err != nil {
			return nil, err
		}
		if err := c.SaveMetadata(ctx, t.to, translated); err != nil {
			return nil, err
		}

		log.With(log.BookFields(c.ProviderID(), c.BookID(), t.to)).
			Info("translated metadata with %s: %d fields", t.engine.Name(), len(results))
		return translated, nil
	})
	if err != nil {
		return model.BookMetadata{}, err
	}
	return v.(model.BookMetadata), nil
}

// TranslateEpisode returns the cached translation of an episode. Without a
// cached translation it translates source when allowRequest is set and
// source is non-nil; otherwise ok is false and no engine call happens.
func (t *Translator) TranslateEpisode(
	ctx context.Context,
	episodeID string,
	source *model.Episode,
	c *cache.BookCache,
	allowRequest bool,
) (model.Episode, bool, error) {
	if cached, ok, err := c.GetEpisode(ctx, t.to, episodeID); err != nil || ok {
		return cached, ok, err
	}
	if !allowRequest || source == nil {
		return model.Episode{}, false, nil
	}

	v, err, _ := t.group.Do(t.flightKey(c, cache.EpisodeUnit(episodeID)), func() (any, error) {
		if cached, ok, err := c.GetEpisode(ctx, t.to, episodeID); err != nil || ok {
			return cached, err
		}

		results, err := t.translate(ctx, source.Paragraphs)
		if err != nil {
			return nil, err
		}
		translated, err := source.Translated(results)
		if err != nil {
			return nil, err
		}
		if err := c.SaveEpisode(ctx, t.to, episodeID, translated); err != nil {
			return nil, err
		}

		log.With(log.BookFields(c.ProviderID(), c.BookID(), t.to)).
			Debug("translated episode %s with %s: %d paragraphs", episodeID, t.engine.Name(), len(results))
		return translated, nil
	})
	if err != nil {
		return model.Episode{}, false, err
	}
	return v.(model.Episode), true, nil
}

func (t *Translator) flightKey(c *cache.BookCache, unit cache.Unit) string {
	return cache.Key{
		ProviderID: c.ProviderID(),
		BookID:     c.BookID(),
		Lang:       t.to,
		Unit:       unit,
	}.String()
}

// translate sends the non-blank queries to the engine in batches and splices
// results back. Blank queries translate to themselves.
func (t *Translator) translate(ctx context.Context, queries []string) ([]string, error) {
	results := make([]string, len(queries))
	var (
		pending []int
		batch   []string
		size    int
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		out, err := t.engine.Translate(ctx, t.from, t.to, batch)
		if err == nil && len(out) != len(batch) {
			err = apperr.ArityError(len(batch), len(out))
		}
		if t.recorder != nil {
			t.recorder.RecordTranslation(t.engine.Name(), len(batch), err)
		}
		if err != nil {
			return err
		}
		for i, idx := range pending {
			results[idx] = out[i]
		}
		pending, batch, size = nil, nil, 0
		return nil
	}

	for i, q := range queries {
		if strings.TrimSpace(q) == "" {
			results[i] = q
			continue
		}
		n := len([]rune(q))
		if len(batch) > 0 && size+n > t.batchChars {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		pending = append(pending, i)
		batch = append(batch, q)
		size += n
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return results, nil
}
