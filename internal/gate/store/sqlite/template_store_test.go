package sqlite_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/gymgate/agent/internal/gate/store"
	sqlitestore "github.com/gymgate/agent/internal/gate/store/sqlite"
)

func testBackup(userID string) store.TemplateBackup {
	return store.TemplateBackup{
		UserID: userID,
		Identity: store.DeviceIdentity{
			UID:       42,
			Name:      "Ana Torres",
			Privilege: 0,
			GroupID:   "1",
			Card:      998877,
		},
		Templates: []store.TemplateItem{
			{Slot: 0, Valid: true, Payload: []byte{0x00, 0x01, 0xfe, 0xff}, Mark: "q80"},
			{Slot: 1, Valid: true, Payload: []byte{0xde, 0xad, 0xbe, 0xef}},
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Put / Get — hex payload round trip
// ═══════════════════════════════════════════════════════════════════════════

func TestTemplateStore_PutGet_PayloadBytesSurvive(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewTemplateStore(conn, w)
	ctx := context.Background()

	in := testBackup("1001")
	if err := ts.Put(ctx, in); err != nil {
		t.Fatalf("Put: %v", err)
	}

	out, ok, err := ts.Get(ctx, "1001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected snapshot to exist")
	}
	if len(out.Templates) != 2 {
		t.Fatalf("expected 2 templates, got %d", len(out.Templates))
	}
	for i := range in.Templates {
		if !bytes.Equal(out.Templates[i].Payload, in.Templates[i].Payload) {
			t.Errorf("slot %d payload mismatch: %x != %x",
				i, out.Templates[i].Payload, in.Templates[i].Payload)
		}
	}
	if out.Identity != in.Identity {
		t.Errorf("identity mismatch: %+v != %+v", out.Identity, in.Identity)
	}

	// The payload column must hold text, not raw bytes.
	var payload string
	err = conn.QueryRowContext(ctx,
		`SELECT payload FROM template_items WHERE user_id = ? AND slot_id = 0`, "1001",
	).Scan(&payload)
	if err != nil {
		t.Fatalf("query payload: %v", err)
	}
	if payload != "0001feff" {
		t.Errorf("expected hex-encoded payload, got %q", payload)
	}
}

func TestTemplateStore_Put_OverwritesPriorSnapshot(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewTemplateStore(conn, w)
	ctx := context.Background()

	if err := ts.Put(ctx, testBackup("1001")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	replacement := store.TemplateBackup{
		UserID:   "1001",
		Identity: store.DeviceIdentity{UID: 43},
		Templates: []store.TemplateItem{
			{Slot: 0, Valid: true, Payload: []byte{0x01}},
		},
	}
	if err := ts.Put(ctx, replacement); err != nil {
		t.Fatalf("Put replacement: %v", err)
	}

	out, _, err := ts.Get(ctx, "1001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(out.Templates) != 1 {
		t.Errorf("expected replacement's single template, got %d", len(out.Templates))
	}
	if out.Identity.UID != 43 {
		t.Errorf("expected identity uid=43, got %d", out.Identity.UID)
	}
}

func TestTemplateStore_HasDeleteList(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewTemplateStore(conn, w)
	ctx := context.Background()

	if err := ts.Put(ctx, testBackup("1001")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := ts.Put(ctx, testBackup("2002")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	has, err := ts.Has(ctx, "1001")
	if err != nil || !has {
		t.Fatalf("Has(1001) = %v, %v; want true", has, err)
	}

	all, err := ts.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(all))
	}

	deleted, err := ts.Delete(ctx, "1001")
	if err != nil || !deleted {
		t.Fatalf("Delete(1001) = %v, %v; want true", deleted, err)
	}

	// Items must cascade with the snapshot.
	var count int
	if err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM template_items WHERE user_id = ?`, "1001",
	).Scan(&count); err != nil {
		t.Fatalf("count items: %v", err)
	}
	if count != 0 {
		t.Errorf("expected cascade delete of items, found %d rows", count)
	}

	deleted, err = ts.Delete(ctx, "1001")
	if err != nil {
		t.Fatalf("Delete again: %v", err)
	}
	if deleted {
		t.Error("expected deleted=false on second delete")
	}
}
