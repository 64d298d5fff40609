package library

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mononoSaya/auto-novel/internal/cache"
)

// BookSource enumerates the books held by a content store.
type BookSource interface {
	Books(ctx context.Context) ([]cache.BookRef, error)
}

type scannerOptions struct {
	cacheTTL time.Duration
	filter   func(providerID string) bool
	now      func() time.Time
}

type Option func(*scannerOptions)

func WithCacheTTL(ttl time.Duration) Option {
	return func(o *scannerOptions) {
		o.cacheTTL = ttl
	}
}

// WithProviderFilter hides books whose provider is rejected by keep.
func WithProviderFilter(keep func(providerID string) bool) Option {
	return func(o *scannerOptions) {
		o.filter = keep
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *scannerOptions) {
		o.now = now
	}
}

type scanCache struct {
	version uint64
	scanned time.Time
	books   []Book
}

// Scanner keeps a short-lived snapshot of the cached books so paging
// through the list does not walk the store on every request.
type Scanner struct {
	source BookSource
	filter func(string) bool
	now    func() time.Time

	mu       sync.RWMutex
	cacheTTL time.Duration
	cache    *scanCache
	version  uint64
}

func NewScanner(source BookSource, opts ...Option) *Scanner {
	options := scannerOptions{
		cacheTTL: 5 * time.Second,
		filter:   func(string) bool { return true },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Scanner{
		source:   source,
		filter:   options.filter,
		now:      options.now,
		cacheTTL: options.cacheTTL,
	}
}

// Invalidate drops the snapshot; the next Scan reads the store again.
func (s *Scanner) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.version++
	s.mu.Unlock()
}

func (s *Scanner) Scan(ctx context.Context) ([]Book, error) {
	s.mu.RLock()
	version := s.version
	if s.cache != nil && s.cache.version == version && (s.cacheTTL <= 0 || s.now().Sub(s.cache.scanned) < s.cacheTTL) {
		books := slices.Clone(s.cache.books)
		s.mu.RUnlock()
		return books, nil
	}
	s.mu.RUnlock()

	refs, err := s.source.Books(ctx)
	if err != nil {
		return nil, err
	}

	books := make([]Book, 0, len(refs))
	for _, ref := range refs {
		if !s.filter(ref.ProviderID) {
			continue
		}
		books = append(books, Book{
			ProviderID: ref.ProviderID,
			BookID:     ref.BookID,
			UpdatedAt:  ref.UpdatedAt,
		})
	}
	slices.SortStableFunc(books, compareBooks)

	s.mu.Lock()
	// A concurrent Invalidate wins over this scan.
	if s.version == version {
		s.cache = &scanCache{
			version: version,
			scanned: s.now(),
			books:   books,
		}
	}
	s.mu.Unlock()

	return slices.Clone(books), nil
}

// Page returns page (1-based) of the catalog. Pages below 1 are treated
// as the first page.
func (s *Scanner) Page(ctx context.Context, page, size int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}

	books, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}

	start := min(size*(page-1), len(books))
	end := min(start+size, len(books))
	return &Page{
		Page:  page,
		Total: len(books),
		Books: books[start:end],
	}, nil
}

func compareBooks(a, b Book) int {
	if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
		return c
	}
	if c := strings.Compare(a.ProviderID, b.ProviderID); c != 0 {
		return c
	}
	return strings.Compare(a.BookID, b.BookID)
}
