package aggregator

import (
	"errors"
	"fmt"
	"time"
)

// Status is the outcome of one category within a sync.
type Status string

const (
	StatusOK          Status = "ok"
	StatusUnavailable Status = "unavailable"  // provider cannot serve it; stored data kept
	StatusFailed      Status = "failed"       // transient provider failure; stored data kept
	StatusStoreFailed Status = "store_failed" // fetched, but the durable write failed
	StatusDerived     Status = "derived"      // unavailable upstream, filled from position totals
)

// Section names beyond the four ledger categories.
const (
	SectionBalance   = "balance"
	SectionPositions = "positions"
)

// CategoryResult reports one category of a sync.
type CategoryResult struct {
	Category string `json:"category"`
	Status   Status `json:"status"`
	Count    int    `json:"count"`
	Changed  bool   `json:"changed"`
	Error    string `json:"error,omitempty"`

	err error
}

// Err returns the underlying failure, if any.
func (c CategoryResult) Err() error {
	if c.err == nil {
		return nil
	}
	return &CategoryError{Category: c.Category, Status: c.Status, Err: c.err}
}

// CategoryError ties a failure to the category it affected.
type CategoryError struct {
	Category string
	Status   Status
	Err      error
}

func (e *CategoryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Category, e.Status, e.Err)
}

func (e *CategoryError) Unwrap() error { return e.Err }

// SyncResult carries the per-category outcome of one SyncWallet call.
type SyncResult struct {
	SyncID     string           `json:"sync_id"`
	Wallet     string           `json:"wallet"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Categories []CategoryResult `json:"categories"`
}

// Category returns the result for one category name.
func (r SyncResult) Category(name string) (CategoryResult, bool) {
	for _, c := range r.Categories {
		if c.Category == name {
			return c, true
		}
	}
	return CategoryResult{}, false
}

// Err joins the category failures of the sync. Unavailable categories are
// reported but are not failures.
func (r SyncResult) Err() error {
	var errs []error
	for _, c := range r.Categories {
		if c.Status == StatusFailed || c.Status == StatusStoreFailed {
			errs = append(errs, c.Err())
		}
	}
	return errors.Join(errs...)
}
