package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mononoSaya/auto-novel/internal/apperr"
	"github.com/mononoSaya/auto-novel/internal/model"
)

// Recorder receives cache lookup outcomes.
type Recorder interface {
	RecordCacheLookup(unit string, hit bool)
}

// BookCache is the cache view of a single book across languages.
// Reads observe every save made through any BookCache on the same Store.
type BookCache struct {
	store      Store
	providerID string
	bookID     string

	metadataMaxAge time.Duration
	recorder       Recorder
	now            func() time.Time
}

type Option func(*BookCache)

// WithMetadataMaxAge sets the default staleness limit for GetMetadata.
// Zero means cached metadata never expires.
func WithMetadataMaxAge(d time.Duration) Option {
	return func(c *BookCache) {
		c.metadataMaxAge = d
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *BookCache) {
		c.recorder = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *BookCache) {
		c.now = now
	}
}

func NewBookCache(store Store, providerID, bookID string, opts ...Option) *BookCache {
	c := &BookCache{
		store:      store,
		providerID: providerID,
		bookID:     bookID,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *BookCache) ProviderID() string { return c.providerID }
func (c *BookCache) BookID() string     { return c.bookID }

type readOptions struct {
	maxAge    time.Duration
	hasMaxAge bool
}

type ReadOption func(*readOptions)

// WithMaxAge overrides the cache default for one read. Zero disables the limit.
func WithMaxAge(d time.Duration) ReadOption {
	return func(o *readOptions) {
		o.maxAge = d
		o.hasMaxAge = true
	}
}

// GetMetadata returns the metadata saved for lang. ok is false when nothing
// was saved or the entry is older than the effective max age.
func (c *BookCache) GetMetadata(ctx context.Context, lang string, opts ...ReadOption) (model.BookMetadata, bool, error) {
	ro := readOptions{maxAge: c.metadataMaxAge}
	for _, opt := range opts {
		opt(&ro)
	}

	var md model.BookMetadata
	entry, err := c.load(ctx, c.key(lang, MetadataUnit()), &md)
	if err != nil || entry == nil {
		return model.BookMetadata{}, false, err
	}
	if ro.maxAge > 0 && c.now().Sub(entry.SavedAt) > ro.maxAge {
		return model.BookMetadata{}, false, nil
	}
	return md, true, nil
}

// MetadataSavedAt reports when metadata for lang was last saved.
func (c *BookCache) MetadataSavedAt(ctx context.Context, lang string) (time.Time, bool, error) {
	entry, err := c.store.Get(ctx, c.key(lang, MetadataUnit()))
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, apperr.Wrap(err, apperr.ErrStorage, "read metadata timestamp")
	}
	return entry.SavedAt, true, nil
}

func (c *BookCache) SaveMetadata(ctx context.Context, lang string, md model.BookMetadata) error {
	return c.save(ctx, c.key(lang, MetadataUnit()), md)
}

func (c *BookCache) GetEpisode(ctx context.Context, lang, episodeID string) (model.Episode, bool, error) {
	var ep model.Episode
	entry, err := c.load(ctx, c.key(lang, EpisodeUnit(episodeID)), &ep)
	if err != nil || entry == nil {
		return model.Episode{}, false, err
	}
	return ep, true, nil
}

// SaveEpisode stores ep. Saving content identical to what is stored is a no-op.
func (c *BookCache) SaveEpisode(ctx context.Context, lang, episodeID string, ep model.Episode) error {
	key := c.key(lang, EpisodeUnit(episodeID))

	var existing model.Episode
	entry, err := c.load(ctx, key, &existing)
	if err != nil {
		return err
	}
	if entry != nil && existing.Equal(ep) {
		return nil
	}
	return c.save(ctx, key, ep)
}

// CountEpisode returns the number of distinct cached episodes for lang.
func (c *BookCache) CountEpisode(ctx context.Context, lang string) (int, error) {
	n, err := c.store.CountEpisodes(ctx, c.providerID, c.bookID, lang)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.ErrStorage, "count episodes")
	}
	return n, nil
}

func (c *BookCache) key(lang string, unit Unit) Key {
	return Key{
		ProviderID: c.providerID,
		BookID:     c.bookID,
		Lang:       lang,
		Unit:       unit,
	}
}

// load decodes the entry at key into out. It returns a nil entry when the
// key is absent.
func (c *BookCache) load(ctx context.Context, key Key, out any) (*Entry, error) {
	entry, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		c.record(key.Unit, false)
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrStorage, "read cache entry").
			WithContext("key", key.String())
	}
	if err := json.Unmarshal(entry.Content, out); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrStorage, "decode cache entry").
			WithContext("key", key.String())
	}
	c.record(key.Unit, true)
	return entry, nil
}

func (c *BookCache) save(ctx context.Context, key Key, value any) error {
	content, err := json.Marshal(value)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrStorage, "encode cache entry")
	}
	if _, err := c.store.Put(ctx, key, content); err != nil {
		return apperr.Wrap(err, apperr.ErrStorage, "write cache entry").
			WithContext("key", key.String())
	}
	return nil
}

func (c *BookCache) record(unit Unit, hit bool) {
	if c.recorder != nil {
		c.recorder.RecordCacheLookup(unit.Name(), hit)
	}
}
