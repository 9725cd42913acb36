package sqlite

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	dbpkg "github.com/gymgate/agent/internal/db"
	"github.com/gymgate/agent/internal/gate/store"
)

type TemplateStore struct {
	conn   *sql.DB
	writer *dbpkg.Worker
}

func NewTemplateStore(conn *sql.DB, writer *dbpkg.Worker) *TemplateStore {
	return &TemplateStore{conn: conn, writer: writer}
}

// Put overwrites any prior snapshot for the user in one transaction.
// Payloads are hex-encoded on the way in; Get decodes them back, so
// binary round-trips byte for byte.
func (s *TemplateStore) Put(ctx context.Context, b store.TemplateBackup) error {
	if b.CapturedAt.IsZero() {
		b.CapturedAt = time.Now().UTC()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// DELETE cascades to template_items, clearing the prior snapshot.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM template_backups WHERE user_id = ?;`, b.UserID); err != nil {
			return fmt.Errorf("Put backup %s clear: %w", b.UserID, err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO template_backups(
  user_id, device_uid, name, privilege, password, group_id, card, captured_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
			b.UserID, b.Identity.UID, b.Identity.Name, b.Identity.Privilege,
			b.Identity.Password, b.Identity.GroupID, b.Identity.Card,
			b.CapturedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("Put backup %s: %w", b.UserID, err)
		}

		for _, t := range b.Templates {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO template_items(user_id, slot_id, valid, payload, mark)
VALUES (?, ?, ?, ?, ?);
`,
				b.UserID, t.Slot, boolToInt(t.Valid),
				hex.EncodeToString(t.Payload), t.Mark,
			); err != nil {
				return fmt.Errorf("Put backup %s slot %d: %w", b.UserID, t.Slot, err)
			}
		}
		return nil
	})
}

func (s *TemplateStore) Get(ctx context.Context, userID string) (store.TemplateBackup, bool, error) {
	var (
		b          store.TemplateBackup
		capturedMs int64
	)
	err := s.conn.QueryRowContext(ctx, `
SELECT user_id, device_uid, name, privilege, password, group_id, card, captured_at_ms
FROM template_backups WHERE user_id = ?;
`, userID).Scan(
		&b.UserID, &b.Identity.UID, &b.Identity.Name, &b.Identity.Privilege,
		&b.Identity.Password, &b.Identity.GroupID, &b.Identity.Card, &capturedMs,
	)
	if err == sql.ErrNoRows {
		return store.TemplateBackup{}, false, nil
	}
	if err != nil {
		return store.TemplateBackup{}, false, fmt.Errorf("Get backup %s: %w", userID, err)
	}
	b.CapturedAt = time.UnixMilli(capturedMs).UTC()

	rows, err := s.conn.QueryContext(ctx, `
SELECT slot_id, valid, payload, mark
FROM template_items WHERE user_id = ? ORDER BY slot_id;
`, userID)
	if err != nil {
		return store.TemplateBackup{}, false, fmt.Errorf("Get backup %s items: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item    store.TemplateItem
			valid   int
			payload string
		)
		if err := rows.Scan(&item.Slot, &valid, &payload, &item.Mark); err != nil {
			return store.TemplateBackup{}, false, fmt.Errorf("Get backup %s scan: %w", userID, err)
		}
		item.Valid = valid != 0
		item.Payload, err = hex.DecodeString(payload)
		if err != nil {
			return store.TemplateBackup{}, false, fmt.Errorf("Get backup %s slot %d payload: %w", userID, item.Slot, err)
		}
		b.Templates = append(b.Templates, item)
	}
	return b, true, rows.Err()
}

func (s *TemplateStore) Delete(ctx context.Context, userID string) (bool, error) {
	var deleted bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM template_backups WHERE user_id = ?;`, userID)
		if err != nil {
			return fmt.Errorf("Delete backup %s: %w", userID, err)
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	return deleted, err
}

func (s *TemplateStore) Has(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM template_backups WHERE user_id = ?;`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("Has backup %s: %w", userID, err)
	}
	return true, nil
}

func (s *TemplateStore) List(ctx context.Context) ([]store.TemplateBackup, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT user_id FROM template_backups ORDER BY user_id;`)
	if err != nil {
		return nil, fmt.Errorf("List backups: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("List backups scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]store.TemplateBackup, 0, len(ids))
	for _, id := range ids {
		b, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, b)
		}
	}
	return out, nil
}
