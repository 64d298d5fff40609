package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mononoSaya/auto-novel/pkg/file"
)

const entryExt = ".json"

// NewStore builds a filesystem store rooted at basePath.
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("cache dir required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[Key]*entryLock),
		now:      time.Now,
	}, nil
}

// fileStore serializes writers of the same key in-process; cross-process
// writers are kept safe by the rename.
type fileStore struct {
	basePath string
	now      func() time.Time

	mu    sync.Mutex
	locks map[Key]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type envelope struct {
	SavedAt time.Time       `json:"saved_at"`
	Content json.RawMessage `json:"content"`
}

func (s *fileStore) Get(ctx context.Context, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if file.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return &Entry{
		Key:     key,
		SavedAt: env.SavedAt,
		Content: env.Content,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, key Key, content []byte) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !json.Valid(content) {
		return nil, fmt.Errorf("cache entry %s is not valid json", key)
	}

	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	unlock := s.lockEntry(key)
	defer unlock()

	savedAt := s.now().UTC()
	data, err := json.Marshal(envelope{SavedAt: savedAt, Content: content})
	if err != nil {
		return nil, err
	}
	if err := file.WriteAtomic(path, data, 0o644); err != nil {
		return nil, err
	}

	// Touch the book directory so listings sort by last write.
	bookDir := filepath.Join(s.basePath, s.bookDirName(key))
	_ = os.Chtimes(bookDir, savedAt, savedAt)

	return &Entry{
		Key:     key,
		SavedAt: savedAt,
		Content: content,
	}, nil
}

func (s *fileStore) Remove(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(key)
	defer unlock()

	if err := os.Remove(path); err != nil && !file.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *fileStore) CountEpisodes(ctx context.Context, providerID, bookID, lang string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key := Key{ProviderID: providerID, BookID: bookID, Lang: lang, Unit: EpisodeUnit("_")}
	path, err := s.path(key)
	if err != nil {
		return 0, err
	}
	return file.CountFiles(filepath.Dir(path), entryExt)
}

func (s *fileStore) Books(ctx context.Context) ([]BookRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirs, err := file.ListDirsByModTime(s.basePath)
	if err != nil {
		return nil, err
	}

	ret := make([]BookRef, 0, len(dirs))
	for _, dir := range dirs {
		providerID, bookID, ok := strings.Cut(filepath.Base(dir.Path), ".")
		if !ok || providerID == "" || bookID == "" {
			continue
		}
		ret = append(ret, BookRef{
			ProviderID: providerID,
			BookID:     unsegment(bookID),
			UpdatedAt:  dir.ModTime,
		})
	}
	return ret, nil
}

func (s *fileStore) lockEntry(key Key) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) bookDirName(key Key) string {
	book, _ := segment(key.BookID)
	return key.ProviderID + "." + book
}

func (s *fileStore) path(key Key) (string, error) {
	if err := key.validate(); err != nil {
		return "", err
	}

	lang, _ := segment(key.Lang)
	dir := filepath.Join(s.basePath, s.bookDirName(key), lang)
	if !key.Unit.IsEpisode() {
		return filepath.Join(dir, "metadata"+entryExt), nil
	}
	episode, _ := segment(key.Unit.EpisodeID())
	return filepath.Join(dir, "episode", episode+entryExt), nil
}
