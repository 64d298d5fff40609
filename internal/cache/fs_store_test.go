package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_GetMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), Key{ProviderID: "p", BookID: "b", Lang: "jp", Unit: MetadataUnit()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_RejectsUnsafeKeys(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	cases := []Key{
		{ProviderID: "", BookID: "b", Lang: "jp"},
		{ProviderID: "a.b", BookID: "b", Lang: "jp"},
		{ProviderID: "p", BookID: "..", Lang: "jp"},
		{ProviderID: "p", BookID: "b", Lang: ""},
		{ProviderID: "p", BookID: "b", Lang: "jp", Unit: EpisodeUnit("")},
	}
	for _, key := range cases {
		_, err := store.Put(ctx, key, []byte(`{}`))
		assert.Error(t, err, key.String())
	}
}

func TestFileStore_ConcurrentSameKeyWrites(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	ctx := context.Background()
	key := Key{ProviderID: "p", BookID: "b", Lang: "zh", Unit: EpisodeUnit("e1")}

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := fmt.Sprintf(`{"paragraphs":["writer-%d"]}`, i)
			_, err := store.Put(ctx, key, []byte(payload))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entry, err := store.Get(ctx, key)
	require.NoError(t, err)
	var decoded struct {
		Paragraphs []string `json:"paragraphs"`
	}
	require.NoError(t, json.Unmarshal(entry.Content, &decoded))
	require.Len(t, decoded.Paragraphs, 1)

	entries, err := os.ReadDir(filepath.Join(dir, "p.b", "zh", "episode"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_RemoveAndBooks(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	a := Key{ProviderID: "syosetu", BookID: "n1234", Lang: "jp", Unit: MetadataUnit()}
	b := Key{ProviderID: "kakuyomu", BookID: "99", Lang: "jp", Unit: MetadataUnit()}
	_, err = store.Put(ctx, a, []byte(`{"title":"a"}`))
	require.NoError(t, err)
	_, err = store.Put(ctx, b, []byte(`{"title":"b"}`))
	require.NoError(t, err)

	books, err := store.Books(ctx)
	require.NoError(t, err)
	require.Len(t, books, 2)
	ids := []string{books[0].ProviderID + "/" + books[0].BookID, books[1].ProviderID + "/" + books[1].BookID}
	assert.ElementsMatch(t, []string{"syosetu/n1234", "kakuyomu/99"}, ids)

	require.NoError(t, store.Remove(ctx, a))
	require.NoError(t, store.Remove(ctx, a))
	_, err = store.Get(ctx, a)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_PutRejectsInvalidJSON(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Put(context.Background(), Key{ProviderID: "p", BookID: "b", Lang: "jp"}, []byte("{"))
	assert.Error(t, err)
}

func TestBookFileName(t *testing.T) {
	assert.Equal(t, "syosetu.n1234.zh.txt", BookFileName("syosetu", "n1234", "zh", "txt", false))
	assert.Equal(t, "syosetu.n1234.zh.mixed.epub", BookFileName("syosetu", "n1234", "zh", "epub", true))
}
