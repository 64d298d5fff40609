package jobs

import (
	"strings"
	"time"
)

type Status string

const (
	StatusAbsent  Status = "absent"
	StatusQueued  Status = "queued"
	StatusStarted Status = "started"
	StatusFailed  Status = "failed"
	StatusUnknown Status = "unknown"
)

// Request asks for one book update. Negative indexes mean the book is only
// reassembled from cache.
type Request struct {
	ProviderID string `json:"provider_id"`
	BookID     string `json:"book_id"`
	Lang       string `json:"lang"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

func (r Request) ID() string {
	return JobID(r.ProviderID, r.BookID, r.Lang)
}

// Record is the ledger entry of a job. A completed job has no record.
type Record struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"provider_id"`
	BookID     string    `json:"book_id"`
	Lang       string    `json:"lang"`
	StartIndex int       `json:"start_index"`
	EndIndex   int       `json:"end_index"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	RunID      string    `json:"run_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	// LeaseUntil is set while started. Past it the run is presumed dead.
	LeaseUntil time.Time `json:"lease_until,omitzero"`
}

func (r *Record) Request() Request {
	return Request{
		ProviderID: r.ProviderID,
		BookID:     r.BookID,
		Lang:       r.Lang,
		StartIndex: r.StartIndex,
		EndIndex:   r.EndIndex,
	}
}

func (r *Record) InFlight() bool {
	return r.Status == StatusQueued || r.Status == StatusStarted
}

// JobID is provider/book/lang.
func JobID(providerID, bookID, lang string) string {
	return strings.Join([]string{providerID, bookID, lang}, "/")
}

// narrow maps a stored status onto the statuses exposed to callers.
func narrow(s Status) Status {
	switch s {
	case StatusQueued, StatusStarted, StatusFailed:
		return s
	default:
		return StatusUnknown
	}
}

func cloneRecord(r *Record) *Record {
	if r == nil {
		return nil
	}
	tmp := *r
	return &tmp
}
