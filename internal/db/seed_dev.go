package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// Days of membership granted to the seeded members.
	MembershipDays int
}

// SeedDev inserts a couple of demo members so a fresh dev environment
// has something for the simulator to punch against.
func SeedDev(ctx context.Context, conn *sql.DB, opt SeedDevOptions) error {
	days := opt.MembershipDays
	if days <= 0 {
		days = 30
	}

	now := time.Now().UTC()
	nowMs := now.UnixMilli()
	expiration := now.AddDate(0, 0, days).Format("2006-01-02")

	seed := []struct {
		userID string
		name   string
	}{
		{"1001", "Dev Member One"},
		{"1002", "Dev Member Two"},
	}

	for _, m := range seed {
		if _, err := conn.ExecContext(ctx, `
INSERT INTO members(
  user_id, name, expiration, status, visit_count, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, 'active', 0, ?, ?)
ON CONFLICT(user_id) DO NOTHING;
`, m.userID, m.name, expiration, nowMs, nowMs); err != nil {
			return fmt.Errorf("seed member %s: %w", m.userID, err)
		}
	}

	return nil
}
