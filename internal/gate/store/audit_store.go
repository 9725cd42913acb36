package store

import (
	"context"
	"time"
)

// Auto-block audit actions.
const (
	ActionAutoBlock   = "auto_block"
	ActionAutoUnblock = "auto_unblock"
)

// AutoBlockLogEntry is one append-only audit line for a block or
// unblock driven by the orchestrator.
type AutoBlockLogEntry struct {
	EntryID       string // uuid
	UserID        string
	Action        string
	Reason        string
	NewExpiration string // set for unblocks
	At            time.Time
}

// AuditStore persists the monotonically growing auto-block log plus
// the timestamp of the last reconciliation sweep.
type AuditStore interface {
	Append(ctx context.Context, e AutoBlockLogEntry) error
	Entries(ctx context.Context) ([]AutoBlockLogEntry, error)
	SetLastSync(ctx context.Context, t time.Time) error
	LastSync(ctx context.Context) (time.Time, bool, error)
}
