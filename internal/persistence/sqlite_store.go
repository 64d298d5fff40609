package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mononoSaya/auto-novel/internal/jobs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const recordColumns = `id, provider_id, book_id, lang, start_index, end_index, status, error, run_id, created_at, updated_at, lease_until`

// insertAttempts bounds Insert retries when the conflicting record vanishes
// between the insert and the follow-up check.
const insertAttempts = 3

// SQLiteStore is a jobs.Store backed by a SQLite file. Several processes
// may open the same file; every state transition is a single statement.
type SQLiteStore struct {
	db *sql.DB
}

var _ jobs.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// Insert relies on one conditional INSERT so that concurrent callers, in
// this process or another, cannot both admit the same id.
func (s *SQLiteStore) Insert(ctx context.Context, rec *jobs.Record, maxInFlight int) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if maxInFlight <= 0 {
		maxInFlight = int(^uint(0) >> 1)
	}

	status, leaseUntil := jobs.StatusQueued, int64(0)
	if rec.Status == jobs.StatusStarted {
		status, leaseUntil = jobs.StatusStarted, unixNano(rec.LeaseUntil)
	}

	for range insertAttempts {
		res, err := s.db.ExecContext(
			ctx,
			`INSERT INTO jobs (`+recordColumns+`)
			SELECT ?, ?, ?, ?, ?, ?, ?, '', ?, ?, ?, ?
			WHERE (SELECT COUNT(*) FROM jobs WHERE status IN (?, ?)) < ?
			ON CONFLICT(id) DO NOTHING`,
			rec.ID,
			rec.ProviderID,
			rec.BookID,
			rec.Lang,
			rec.StartIndex,
			rec.EndIndex,
			string(status),
			rec.RunID,
			rec.CreatedAt.UnixNano(),
			rec.UpdatedAt.UnixNano(),
			leaseUntil,
			string(jobs.StatusQueued),
			string(jobs.StatusStarted),
			maxInFlight,
		)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}

		// Both conditions are read in one statement so they describe the
		// same state of the table.
		var exists, inFlight int
		err = s.db.QueryRowContext(
			ctx,
			`SELECT
				(SELECT COUNT(*) FROM jobs WHERE id = ?),
				(SELECT COUNT(*) FROM jobs WHERE status IN (?, ?))`,
			rec.ID, string(jobs.StatusQueued), string(jobs.StatusStarted),
		).Scan(&exists, &inFlight)
		if err != nil {
			return fmt.Errorf("check job conflict: %w", err)
		}
		switch {
		case exists > 0:
			return jobs.DuplicateError(rec.ID)
		case inFlight >= maxInFlight:
			return jobs.SaturatedError(maxInFlight)
		}
	}
	// Every attempt lost to a record for the same id that finished before
	// it could be seen.
	return jobs.DuplicateError(rec.ID)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*jobs.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM jobs WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) ClaimNext(ctx context.Context, now, leaseUntil time.Time) (*jobs.Record, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ?, lease_until = ?
		WHERE id = (
			SELECT id FROM jobs WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1
		) AND status = ?
		RETURNING `+recordColumns,
		string(jobs.StatusStarted),
		now.UnixNano(),
		leaseUntil.UnixNano(),
		string(jobs.StatusQueued),
		string(jobs.StatusQueued),
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim job: %w", err)
	}
	return rec, true, nil
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id, runID, reason string, now time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error = ?, updated_at = ?, lease_until = 0 WHERE id = ? AND run_id = ?`,
		string(jobs.StatusFailed), reason, now.UnixNano(), id, runID,
	)
	return err
}

func (s *SQLiteStore) Complete(ctx context.Context, id, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ? AND run_id = ?`, id, runID)
	return err
}

func (s *SQLiteStore) DeleteFailed(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ? AND status = ?`, id, string(jobs.StatusFailed))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM jobs WHERE status = ? AND updated_at < ?`,
		string(jobs.StatusFailed), cutoff.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RequeueExpired rotates the run id of each expired record with its own
// guarded UPDATE, so a record claimed again in between is left alone.
func (s *SQLiteStore) RequeueExpired(ctx context.Context, now time.Time, newRunID func() string) (int, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id FROM jobs WHERE status = ? AND lease_until < ?`,
		string(jobs.StatusStarted), now.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	type expired struct{ id, runID string }
	var found []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.runID); err != nil {
			rows.Close()
			return 0, err
		}
		found = append(found, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	n := 0
	for _, e := range found {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, run_id = ?, lease_until = 0, updated_at = ?
			WHERE id = ? AND run_id = ? AND status = ? AND lease_until < ?`,
			string(jobs.StatusQueued), newRunID(), now.UnixNano(),
			e.id, e.runID, string(jobs.StatusStarted), now.UnixNano(),
		)
		if err != nil {
			return n, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return n, err
		}
		n += int(affected)
	}
	return n, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*jobs.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM jobs ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*jobs.Record, error) {
	var (
		rec        jobs.Record
		status     string
		createdAt  int64
		updatedAt  int64
		leaseUntil int64
	)
	if err := row.Scan(
		&rec.ID,
		&rec.ProviderID,
		&rec.BookID,
		&rec.Lang,
		&rec.StartIndex,
		&rec.EndIndex,
		&status,
		&rec.Error,
		&rec.RunID,
		&createdAt,
		&updatedAt,
		&leaseUntil,
	); err != nil {
		return nil, err
	}
	rec.Status = jobs.Status(status)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if leaseUntil > 0 {
		rec.LeaseUntil = time.Unix(0, leaseUntil).UTC()
	}
	return &rec, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
