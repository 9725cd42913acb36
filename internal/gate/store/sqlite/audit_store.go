package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/gymgate/agent/internal/db"
	"github.com/gymgate/agent/internal/gate/store"
)

type AuditStore struct {
	conn   *sql.DB
	writer *dbpkg.Worker
}

func NewAuditStore(conn *sql.DB, writer *dbpkg.Worker) *AuditStore {
	return &AuditStore{conn: conn, writer: writer}
}

func (s *AuditStore) Append(ctx context.Context, e store.AutoBlockLogEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO autoblock_log(entry_id, user_id, action, reason, new_expiration, at_ms)
VALUES (?, ?, ?, ?, ?, ?);
`,
			e.EntryID, e.UserID, e.Action, e.Reason, e.NewExpiration,
			e.At.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("Append audit entry: %w", err)
		}
		return nil
	})
}

func (s *AuditStore) Entries(ctx context.Context) ([]store.AutoBlockLogEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
SELECT entry_id, user_id, action, reason, new_expiration, at_ms
FROM autoblock_log ORDER BY id;
`)
	if err != nil {
		return nil, fmt.Errorf("Entries: %w", err)
	}
	defer rows.Close()

	var out []store.AutoBlockLogEntry
	for rows.Next() {
		var (
			e    store.AutoBlockLogEntry
			atMs int64
		)
		if err := rows.Scan(&e.EntryID, &e.UserID, &e.Action, &e.Reason, &e.NewExpiration, &atMs); err != nil {
			return nil, fmt.Errorf("Entries scan: %w", err)
		}
		e.At = time.UnixMilli(atMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *AuditStore) SetLastSync(ctx context.Context, t time.Time) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO sync_state(id, last_sync_ms) VALUES (1, ?)
ON CONFLICT(id) DO UPDATE SET last_sync_ms = excluded.last_sync_ms;
`, t.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("SetLastSync: %w", err)
		}
		return nil
	})
}

func (s *AuditStore) LastSync(ctx context.Context) (time.Time, bool, error) {
	var ms int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT last_sync_ms FROM sync_state WHERE id = 1;`).Scan(&ms)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("LastSync: %w", err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}
