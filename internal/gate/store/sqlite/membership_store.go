package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/gymgate/agent/internal/db"
	"github.com/gymgate/agent/internal/gate/store"
)

type MembershipStore struct {
	conn   *sql.DB
	writer *dbpkg.Worker
}

func NewMembershipStore(conn *sql.DB, writer *dbpkg.Worker) *MembershipStore {
	return &MembershipStore{conn: conn, writer: writer}
}

const memberColumns = `
user_id, name, expiration, status, last_visit_ms, visit_count,
block_reason, auto_blocked, created_at_ms, blocked_at_ms,
unblocked_at_ms, deactivated_at_ms, reactivated_at_ms, updated_at_ms`

func (s *MembershipStore) Get(ctx context.Context, userID string) (store.MemberRecord, bool, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE user_id = ?;`, userID)

	rec, err := scanMember(row)
	if err == sql.ErrNoRows {
		return store.MemberRecord{}, false, nil
	}
	if err != nil {
		return store.MemberRecord{}, false, fmt.Errorf("Get member %s: %w", userID, err)
	}
	return rec, true, nil
}

func (s *MembershipStore) Put(ctx context.Context, rec store.MemberRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO members(
  user_id, name, expiration, status, last_visit_ms, visit_count,
  block_reason, auto_blocked, created_at_ms, blocked_at_ms,
  unblocked_at_ms, deactivated_at_ms, reactivated_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
  name = excluded.name,
  expiration = excluded.expiration,
  status = excluded.status,
  last_visit_ms = excluded.last_visit_ms,
  visit_count = excluded.visit_count,
  block_reason = excluded.block_reason,
  auto_blocked = excluded.auto_blocked,
  blocked_at_ms = excluded.blocked_at_ms,
  unblocked_at_ms = excluded.unblocked_at_ms,
  deactivated_at_ms = excluded.deactivated_at_ms,
  reactivated_at_ms = excluded.reactivated_at_ms,
  updated_at_ms = excluded.updated_at_ms;
`,
			rec.UserID, rec.Name, strOrNil(rec.Expiration), string(rec.Status),
			msOrNil(rec.LastVisit), rec.VisitCount, strOrNil(rec.BlockReason),
			boolToInt(rec.AutoBlocked), rec.CreatedAt.UTC().UnixMilli(),
			msOrNil(rec.BlockedAt), msOrNil(rec.UnblockedAt),
			msOrNil(rec.DeactivatedAt), msOrNil(rec.ReactivatedAt),
			rec.UpdatedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("Put member %s: %w", rec.UserID, err)
		}
		return nil
	})
}

func (s *MembershipStore) List(ctx context.Context) ([]store.MemberRecord, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members ORDER BY user_id;`)
	if err != nil {
		return nil, fmt.Errorf("List members: %w", err)
	}
	defer rows.Close()

	var out []store.MemberRecord
	for rows.Next() {
		rec, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("List members scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (store.MemberRecord, error) {
	var (
		rec           store.MemberRecord
		expiration    sql.NullString
		status        string
		lastVisit     sql.NullInt64
		blockReason   sql.NullString
		autoBlocked   int
		createdMs     int64
		blockedMs     sql.NullInt64
		unblockedMs   sql.NullInt64
		deactivatedMs sql.NullInt64
		reactivatedMs sql.NullInt64
		updatedMs     int64
	)

	err := row.Scan(
		&rec.UserID, &rec.Name, &expiration, &status, &lastVisit,
		&rec.VisitCount, &blockReason, &autoBlocked, &createdMs,
		&blockedMs, &unblockedMs, &deactivatedMs, &reactivatedMs, &updatedMs,
	)
	if err != nil {
		return store.MemberRecord{}, err
	}

	rec.Expiration = expiration.String
	rec.Status = store.MemberStatus(status)
	rec.LastVisit = timeFromMs(lastVisit)
	rec.BlockReason = blockReason.String
	rec.AutoBlocked = autoBlocked != 0
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	rec.BlockedAt = timeFromMs(blockedMs)
	rec.UnblockedAt = timeFromMs(unblockedMs)
	rec.DeactivatedAt = timeFromMs(deactivatedMs)
	rec.ReactivatedAt = timeFromMs(reactivatedMs)
	rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return rec, nil
}
