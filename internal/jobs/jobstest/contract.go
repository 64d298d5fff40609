// Package jobstest holds behaviour checks shared by every jobs.Store
// implementation.
package jobstest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mononoSaya/auto-novel/internal/apperr"
	"github.com/mononoSaya/auto-novel/internal/jobs"
)

// NewRecord builds a queued record for provider/book/lang.
func NewRecord(providerID, bookID, lang string, createdAt time.Time) *jobs.Record {
	return &jobs.Record{
		ID:         jobs.JobID(providerID, bookID, lang),
		ProviderID: providerID,
		BookID:     bookID,
		Lang:       lang,
		StartIndex: 0,
		EndIndex:   65536,
		Status:     jobs.StatusQueued,
		RunID:      "run-" + bookID + "-" + lang,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

// RunStoreContract exercises newStore against the Store contract. Each
// subtest gets a fresh store.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) jobs.Store) {
	t.Run("insert and get", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Millisecond)

		_, ok, err := s.Get(ctx, "p/b/zh")
		require.NoError(t, err)
		assert.False(t, ok)

		rec := NewRecord("p", "b", "zh", now)
		rec.StartIndex, rec.EndIndex = 3, 9
		require.NoError(t, s.Insert(ctx, rec, 100))

		got, ok, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, jobs.StatusQueued, got.Status)
		assert.Equal(t, 3, got.StartIndex)
		assert.Equal(t, 9, got.EndIndex)
		assert.Equal(t, rec.RunID, got.RunID)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("duplicate while queued, started or failed", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := time.Now().UTC()
		rec := NewRecord("p", "b", "zh", now)
		require.NoError(t, s.Insert(ctx, rec, 100))

		err := s.Insert(ctx, rec, 100)
		assert.True(t, apperr.IsType(err, apperr.ErrDuplicateJob))

		claimed, ok, err := s.ClaimNext(ctx, now, now.Add(time.Hour))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, jobs.StatusStarted, claimed.Status)
		assert.True(t, apperr.IsType(s.Insert(ctx, rec, 100), apperr.ErrDuplicateJob))

		require.NoError(t, s.MarkFailed(ctx, rec.ID, rec.RunID, "boom", now))
		got, _, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusFailed, got.Status)
		assert.Equal(t, "boom", got.Error)
		assert.True(t, apperr.IsType(s.Insert(ctx, rec, 100), apperr.ErrDuplicateJob))

		removed, err := s.DeleteFailed(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, removed)
		require.NoError(t, s.Insert(ctx, rec, 100))
	})

	t.Run("saturation counts queued and started only", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := time.Now().UTC()

		require.NoError(t, s.Insert(ctx, NewRecord("p", "1", "zh", now), 2))
		require.NoError(t, s.Insert(ctx, NewRecord("p", "2", "zh", now.Add(time.Millisecond)), 2))
		err := s.Insert(ctx, NewRecord("p", "3", "zh", now), 2)
		assert.True(t, apperr.IsType(err, apperr.ErrQueueSaturated))

		claimed, ok, err := s.ClaimNext(ctx, now, now.Add(time.Hour))
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, s.MarkFailed(ctx, claimed.ID, claimed.RunID, "x", now))

		require.NoError(t, s.Insert(ctx, NewRecord("p", "3", "zh", now), 2))
	})

	t.Run("claim order and completion", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := time.Now().UTC()

		second := NewRecord("p", "second", "zh", now.Add(time.Second))
		first := NewRecord("p", "first", "zh", now)
		require.NoError(t, s.Insert(ctx, second, 100))
		require.NoError(t, s.Insert(ctx, first, 100))

		got, ok, err := s.ClaimNext(ctx, now, now.Add(time.Hour))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, first.ID, got.ID)

		require.NoError(t, s.Complete(ctx, got.ID, "other-run"))
		_, ok, err = s.Get(ctx, got.ID)
		require.NoError(t, err)
		assert.True(t, ok, "completion of a different run is ignored")

		require.NoError(t, s.Complete(ctx, got.ID, got.RunID))
		_, ok, err = s.Get(ctx, got.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		got, ok, err = s.ClaimNext(ctx, now, now.Add(time.Hour))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, second.ID, got.ID)

		_, ok, err = s.ClaimNext(ctx, now, now.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent inserts of one id", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := time.Now().UTC()

		var (
			wg         sync.WaitGroup
			succeeded  atomic.Int32
			duplicates atomic.Int32
		)
		for i := range 16 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := NewRecord("providerA", "book1", "zh", now)
				rec.RunID = fmt.Sprintf("run-%d", i)
				err := s.Insert(ctx, rec, 100)
				switch {
				case err == nil:
					succeeded.Add(1)
				case apperr.IsType(err, apperr.ErrDuplicateJob):
					duplicates.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), succeeded.Load())
		assert.Equal(t, int32(15), duplicates.Load())
	})

	t.Run("retention", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := time.Now().UTC()

		old := NewRecord("p", "old", "zh", now.Add(-2*time.Hour))
		fresh := NewRecord("p", "fresh", "zh", now)
		for _, rec := range []*jobs.Record{old, fresh} {
			require.NoError(t, s.Insert(ctx, rec, 100))
		}
		require.NoError(t, s.MarkFailed(ctx, old.ID, old.RunID, "x", now.Add(-2*time.Hour)))
		require.NoError(t, s.MarkFailed(ctx, fresh.ID, fresh.RunID, "x", now))

		n, err := s.DeleteFailedBefore(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		records, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, fresh.ID, records[0].ID)
	})

	t.Run("requeue only past the lease with a new run id", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Millisecond)

		expired := NewRecord("p", "expired", "zh", now.Add(-time.Hour))
		leased := NewRecord("p", "leased", "zh", now)
		require.NoError(t, s.Insert(ctx, expired, 100))
		require.NoError(t, s.Insert(ctx, leased, 100))

		_, ok, err := s.ClaimNext(ctx, now.Add(-time.Hour), now.Add(-time.Minute))
		require.NoError(t, err)
		require.True(t, ok)
		claimed, ok, err := s.ClaimNext(ctx, now, now.Add(time.Minute))
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, now.Add(time.Minute).Equal(claimed.LeaseUntil))

		n, err := s.RequeueExpired(ctx, now, func() string { return "run-requeued" })
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, _, err := s.Get(ctx, expired.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusQueued, got.Status)
		assert.Equal(t, "run-requeued", got.RunID)
		assert.True(t, got.LeaseUntil.IsZero())

		got, _, err = s.Get(ctx, leased.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusStarted, got.Status)
		assert.Equal(t, leased.RunID, got.RunID)

		// The lost run no longer owns the record.
		require.NoError(t, s.Complete(ctx, expired.ID, expired.RunID))
		require.NoError(t, s.MarkFailed(ctx, expired.ID, expired.RunID, "late", now))
		got, ok, err = s.Get(ctx, expired.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, jobs.StatusQueued, got.Status)
	})

	t.Run("insert as started", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Millisecond)

		rec := NewRecord("p", "inline", "zh", now)
		rec.Status = jobs.StatusStarted
		rec.LeaseUntil = now.Add(time.Minute)
		require.NoError(t, s.Insert(ctx, rec, 100))

		got, ok, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, jobs.StatusStarted, got.Status)
		assert.True(t, rec.LeaseUntil.Equal(got.LeaseUntil))

		_, ok, err = s.ClaimNext(ctx, now, now.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "a started record is not claimable")
		assert.True(t, apperr.IsType(s.Insert(ctx, NewRecord("p", "inline", "zh", now), 100), apperr.ErrDuplicateJob))
	})
}
