package store

import (
	"context"
	"time"
)

// DeviceIdentity captures the terminal-side attributes needed to
// re-enroll a user exactly as they were.
type DeviceIdentity struct {
	UID       int
	Name      string
	Privilege int
	Password  string
	GroupID   string
	Card      int
}

// TemplateItem is one backed-up biometric payload.
type TemplateItem struct {
	Slot    int
	Valid   bool
	Payload []byte
	Mark    string
}

// TemplateBackup is a user's durable snapshot: device identity plus
// every template captured from the terminal.  Unversioned — a new
// backup overwrites the prior one.
type TemplateBackup struct {
	UserID     string
	Identity   DeviceIdentity
	Templates  []TemplateItem
	CapturedAt time.Time
}

// TemplateStore persists snapshots keyed by external userID.  It never
// talks to the device; that is the vault's job.
type TemplateStore interface {
	Get(ctx context.Context, userID string) (TemplateBackup, bool, error)
	Put(ctx context.Context, b TemplateBackup) error
	Delete(ctx context.Context, userID string) (bool, error)
	Has(ctx context.Context, userID string) (bool, error)
	List(ctx context.Context) ([]TemplateBackup, error)
}
