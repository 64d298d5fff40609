package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mononoSaya/auto-novel/internal/apperr"
	"github.com/mononoSaya/auto-novel/pkg/log"
)

const (
	DefaultMaxInFlight  = 100
	DefaultJobTimeout   = 10 * time.Minute
	DefaultPollInterval = 2 * time.Second
	DefaultLeaseGrace   = time.Minute
)

type Config struct {
	Workers     int           `mapstructure:"workers"`
	MaxInFlight int           `mapstructure:"max_in_flight"`
	JobTimeout  time.Duration `mapstructure:"job_timeout"`
	// FailureRetention is how long failed records stay visible before Sweep
	// removes them. Zero keeps them until cleared.
	FailureRetention time.Duration `mapstructure:"failure_retention"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	// LeaseGrace is added to JobTimeout to form the lease of a started job.
	// It absorbs clock skew between processes sharing a store.
	LeaseGrace time.Duration `mapstructure:"lease_grace"`
}

// Executor runs one job. ctx carries the job deadline.
type Executor func(ctx context.Context, rec *Record) error

// Recorder receives ledger events.
type Recorder interface {
	RecordJobEnqueued()
	RecordJobRejected(reason string)
	RecordJobStarted()
	RecordJobFinished(outcome string, elapsed time.Duration)
}

// Ledger admits at most one tracked job per provider/book/lang and runs
// queued jobs on a worker pool. All state lives in the Store, so several
// processes can share one ledger.
type Ledger struct {
	store    Store
	cfg      Config
	recorder Recorder
	now      func() time.Time

	wake     chan struct{}
	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type LedgerOption func(*Ledger)

func WithRecorder(r Recorder) LedgerOption {
	return func(l *Ledger) {
		l.recorder = r
	}
}

func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

func NewLedger(store Store, cfg Config, opts ...LedgerOption) *Ledger {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.LeaseGrace <= 0 {
		cfg.LeaseGrace = DefaultLeaseGrace
	}

	l := &Ledger{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		wake:   make(chan struct{}, cfg.Workers),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) MaxInFlight() int {
	return l.cfg.MaxInFlight
}

// Enqueue records req as queued. It fails with a DuplicateJob error while any
// record (queued, started or failed) exists for the same id, and with a
// QueueSaturated error when the in-flight cap is reached.
func (l *Ledger) Enqueue(ctx context.Context, req Request) (*Record, error) {
	if req.ProviderID == "" || req.BookID == "" || req.Lang == "" {
		return nil, apperr.New(apperr.ErrValidation, "provider, book and lang are required")
	}

	rec, err := l.admit(ctx, req, StatusQueued)
	if err != nil {
		return nil, err
	}
	log.With(log.JobFields(rec.ID, rec.RunID)).Info("job queued: range [%d, %d)", rec.StartIndex, rec.EndIndex)

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return rec, nil
}

// RunNow admits req as already started and runs exec in the calling
// goroutine. Admission follows Enqueue, so a tracked job for the same id in
// any process sharing the store fails it with DuplicateJob. The outcome is
// recorded like a worker run: the record is deleted on success and marked
// failed otherwise.
func (l *Ledger) RunNow(ctx context.Context, req Request, exec Executor) error {
	rec, err := l.admit(ctx, req, StatusStarted)
	if err != nil {
		return err
	}
	return l.run(ctx, exec, rec)
}

func (l *Ledger) admit(ctx context.Context, req Request, status Status) (*Record, error) {
	if req.ProviderID == "" || req.BookID == "" || req.Lang == "" {
		return nil, apperr.New(apperr.ErrValidation, "provider, book and lang are required")
	}

	now := l.now().UTC()
	rec := &Record{
		ID:         req.ID(),
		ProviderID: req.ProviderID,
		BookID:     req.BookID,
		Lang:       req.Lang,
		StartIndex: req.StartIndex,
		EndIndex:   req.EndIndex,
		Status:     status,
		RunID:      uuid.NewString(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if status == StatusStarted {
		rec.LeaseUntil = l.leaseUntil(now)
	}

	if err := l.store.Insert(ctx, rec, l.cfg.MaxInFlight); err != nil {
		l.recordRejected(err)
		return nil, err
	}
	if l.recorder != nil {
		l.recorder.RecordJobEnqueued()
	}
	return rec, nil
}

func (l *Ledger) leaseUntil(now time.Time) time.Time {
	return now.Add(l.cfg.JobTimeout + l.cfg.LeaseGrace)
}

// Status reports the caller-visible status of id. Stored states outside the
// recognised set are reported as unknown.
func (l *Ledger) Status(ctx context.Context, id string) (Status, error) {
	rec, ok, err := l.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return StatusAbsent, nil
	}
	return narrow(rec.Status), nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*Record, bool, error) {
	rec, ok, err := l.store.Get(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	rec.Status = narrow(rec.Status)
	return rec, true, nil
}

func (l *Ledger) List(ctx context.Context) ([]*Record, error) {
	records, err := l.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		rec.Status = narrow(rec.Status)
	}
	return records, nil
}

// Clear removes a failed record so the job can be enqueued again.
func (l *Ledger) Clear(ctx context.Context, id string) error {
	removed, err := l.store.DeleteFailed(ctx, id)
	if err != nil {
		return err
	}
	if removed {
		log.Info("cleared failed job %s", id)
		return nil
	}

	status, err := l.Status(ctx, id)
	if err != nil {
		return err
	}
	if status == StatusAbsent {
		return apperr.Newf(apperr.ErrNotFound, "job %s not found", id)
	}
	return apperr.Newf(apperr.ErrValidation, "job %s is %s; only failed jobs can be cleared", id, status)
}

// Sweep drops failed records older than the retention window.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	if l.cfg.FailureRetention <= 0 {
		return 0, nil
	}
	n, err := l.store.DeleteFailedBefore(ctx, l.now().UTC().Add(-l.cfg.FailureRetention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info("swept %d failed jobs", n)
	}
	return n, nil
}

// Start requeues jobs whose lease has run out and launches the pool.
func (l *Ledger) Start(exec Executor) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil
	}

	ctx := context.Background()
	n, err := l.store.RequeueExpired(ctx, l.now().UTC(), uuid.NewString)
	if err != nil {
		return fmt.Errorf("requeue expired jobs: %w", err)
	}
	if n > 0 {
		log.Warn("requeued %d jobs with an expired lease", n)
	}

	l.started = true
	for range l.cfg.Workers {
		l.wg.Add(1)
		go l.worker(exec)
	}
	return nil
}

// Stop waits for running jobs to finish and stops the pool.
func (l *Ledger) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.wg.Wait()
	})
}

func (l *Ledger) worker(exec Executor) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		now := l.now().UTC()
		rec, ok, err := l.store.ClaimNext(context.Background(), now, l.leaseUntil(now))
		if err != nil {
			log.Error("claim job: %v", err)
		}
		if ok {
			_ = l.run(context.Background(), exec, rec)
			continue
		}

		select {
		case <-l.stopCh:
			return
		case <-l.wake:
		case <-ticker.C:
		}
	}
}

func (l *Ledger) run(parent context.Context, exec Executor, rec *Record) error {
	logger := log.With(log.JobFields(rec.ID, rec.RunID))
	logger.Info("job started")
	if l.recorder != nil {
		l.recorder.RecordJobStarted()
	}

	begin := time.Now()
	err := l.execute(parent, exec, rec)
	elapsed := time.Since(begin)

	ctx := context.WithoutCancel(parent)
	if err != nil {
		logger.Error("job failed after %s: %v", elapsed.Round(time.Millisecond), err)
		if markErr := l.store.MarkFailed(ctx, rec.ID, rec.RunID, err.Error(), l.now().UTC()); markErr != nil {
			logger.Error("mark job failed: %v", markErr)
		}
		l.recordFinished("failed", elapsed)
		return err
	}

	if err := l.store.Complete(ctx, rec.ID, rec.RunID); err != nil {
		logger.Error("complete job: %v", err)
	}
	logger.Info("job completed in %s", elapsed.Round(time.Millisecond))
	l.recordFinished("completed", elapsed)
	return nil
}

func (l *Ledger) execute(parent context.Context, exec Executor, rec *Record) (err error) {
	ctx, cancel := context.WithTimeout(parent, l.cfg.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	err = exec(ctx, cloneRecord(rec))
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("job exceeded timeout of %s", l.cfg.JobTimeout)
	}
	return err
}

func (l *Ledger) recordRejected(err error) {
	if l.recorder == nil {
		return
	}
	switch apperr.TypeOf(err) {
	case apperr.ErrDuplicateJob:
		l.recorder.RecordJobRejected("duplicate")
	case apperr.ErrQueueSaturated:
		l.recorder.RecordJobRejected("saturated")
	default:
		l.recorder.RecordJobRejected("error")
	}
}

func (l *Ledger) recordFinished(outcome string, elapsed time.Duration) {
	if l.recorder != nil {
		l.recorder.RecordJobFinished(outcome, elapsed)
	}
}
