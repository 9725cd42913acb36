package store

import (
	"context"
	"time"
)

// MemberStatus is the membership lifecycle state.
type MemberStatus string

const (
	StatusActive   MemberStatus = "active"
	StatusExpired  MemberStatus = "expired"
	StatusInactive MemberStatus = "inactive"
	StatusBlocked  MemberStatus = "blocked"
)

// DateLayout is the calendar-date format used for membership expiry.
// Expiry carries no time component; comparisons happen against local
// midnight of the stored date.
const DateLayout = "2006-01-02"

// MemberRecord is one member's durable membership state.  Records are
// never physically deleted by normal operation.
type MemberRecord struct {
	UserID      string
	Name        string
	Expiration  string // DateLayout, empty when no expiry is on record
	Status      MemberStatus
	LastVisit   *time.Time
	VisitCount  int
	BlockReason string
	AutoBlocked bool

	CreatedAt     time.Time
	BlockedAt     *time.Time
	UnblockedAt   *time.Time
	DeactivatedAt *time.Time
	ReactivatedAt *time.Time
	UpdatedAt     time.Time
}

// MembershipStore persists membership records keyed by external userID.
// Put writes the full record synchronously; there is no batching.
type MembershipStore interface {
	Get(ctx context.Context, userID string) (MemberRecord, bool, error)
	Put(ctx context.Context, rec MemberRecord) error
	List(ctx context.Context) ([]MemberRecord, error)
}
