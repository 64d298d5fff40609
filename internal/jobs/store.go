package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mononoSaya/auto-novel/internal/apperr"
)

// Store is the durable ledger shared by request handlers and workers.
// Every method must be atomic with respect to concurrent callers, including
// callers in other processes for shared implementations.
type Store interface {
	// Insert adds rec as queued, or as started with its lease when
	// rec.Status is started. It fails with apperr.DuplicateJob when any
	// record exists for rec.ID and with apperr.QueueSaturated when
	// maxInFlight queued or started records exist.
	Insert(ctx context.Context, rec *Record, maxInFlight int) error
	Get(ctx context.Context, id string) (*Record, bool, error)
	// ClaimNext moves the oldest queued record to started, leased until
	// leaseUntil, and returns it.
	ClaimNext(ctx context.Context, now, leaseUntil time.Time) (*Record, bool, error)
	// MarkFailed and Complete only touch the record of the given run.
	MarkFailed(ctx context.Context, id, runID, reason string, now time.Time) error
	Complete(ctx context.Context, id, runID string) error
	// DeleteFailed removes a failed record and reports whether it did.
	DeleteFailed(ctx context.Context, id string) (bool, error)
	DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int, error)
	// RequeueExpired moves started records whose lease ended before now back
	// to queued under a fresh run id, so the lost run can no longer complete
	// or fail them.
	RequeueExpired(ctx context.Context, now time.Time, newRunID func() string) (int, error)
	List(ctx context.Context) ([]*Record, error)
}

// MemoryStore is a Store for a single process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Insert(_ context.Context, rec *Record, maxInFlight int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.ID]; exists {
		return DuplicateError(rec.ID)
	}
	inFlight := 0
	for _, r := range m.records {
		if r.InFlight() {
			inFlight++
		}
	}
	if maxInFlight > 0 && inFlight >= maxInFlight {
		return SaturatedError(maxInFlight)
	}

	stored := cloneRecord(rec)
	if stored.Status != StatusStarted {
		stored.Status = StatusQueued
		stored.LeaseUntil = time.Time{}
	}
	m.records[rec.ID] = stored
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return cloneRecord(r), ok, nil
}

func (m *MemoryStore) ClaimNext(_ context.Context, now, leaseUntil time.Time) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *Record
	for _, r := range m.records {
		if r.Status != StatusQueued {
			continue
		}
		if next == nil || r.CreatedAt.Before(next.CreatedAt) ||
			(r.CreatedAt.Equal(next.CreatedAt) && r.ID < next.ID) {
			next = r
		}
	}
	if next == nil {
		return nil, false, nil
	}
	next.Status = StatusStarted
	next.UpdatedAt = now
	next.LeaseUntil = leaseUntil
	return cloneRecord(next), true, nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, id, runID, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.RunID != runID {
		return nil
	}
	r.Status = StatusFailed
	r.Error = reason
	r.UpdatedAt = now
	r.LeaseUntil = time.Time{}
	return nil
}

func (m *MemoryStore) Complete(_ context.Context, id, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok && r.RunID == runID {
		delete(m.records, id)
	}
	return nil
}

func (m *MemoryStore) DeleteFailed(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.Status != StatusFailed {
		return false, nil
	}
	delete(m.records, id)
	return true, nil
}

func (m *MemoryStore) DeleteFailedBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.records {
		if r.Status == StatusFailed && r.UpdatedAt.Before(cutoff) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) RequeueExpired(_ context.Context, now time.Time, newRunID func() string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Status == StatusStarted && r.LeaseUntil.Before(now) {
			r.Status = StatusQueued
			r.RunID = newRunID()
			r.LeaseUntil = time.Time{}
			r.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		ret = append(ret, cloneRecord(r))
	}
	sortRecords(ret)
	return ret, nil
}

// DuplicateError is returned by Store.Insert when a record exists for id.
func DuplicateError(id string) error {
	return apperr.New(apperr.ErrDuplicateJob, "update job already queued").
		WithContext("job_id", id)
}

// SaturatedError is returned by Store.Insert when the in-flight cap is reached.
func SaturatedError(maxInFlight int) error {
	return apperr.Newf(apperr.ErrQueueSaturated, "update queue is full (limit %d)", maxInFlight)
}

func sortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}
