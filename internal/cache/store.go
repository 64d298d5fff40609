package cache

import (
	"context"
	"errors"
	"time"
)

// Store persists serialized cache entries. Layout on disk:
//
//	<base>/<provider>.<book>/<lang>/metadata.json
//	<base>/<provider>.<book>/<lang>/episode/<episode>.json
//
// Put replaces an entry atomically (temp file + rename) so a crash never
// leaves a truncated entry behind.
type Store interface {
	// Get returns ErrNotFound when the entry was never written.
	Get(ctx context.Context, key Key) (*Entry, error)
	Put(ctx context.Context, key Key, content []byte) (*Entry, error)
	Remove(ctx context.Context, key Key) error
	// CountEpisodes counts distinct cached episodes for a book and language.
	CountEpisodes(ctx context.Context, providerID, bookID, lang string) (int, error)
	// Books lists cached books, most recently written first.
	Books(ctx context.Context) ([]BookRef, error)
}

type Entry struct {
	Key     Key
	SavedAt time.Time
	Content []byte
}

type BookRef struct {
	ProviderID string
	BookID     string
	UpdatedAt  time.Time
}

var ErrNotFound = errors.New("cache entry not found")
