package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymgate/agent/internal/gate/device"
	"github.com/gymgate/agent/internal/gate/device/sim"
	"github.com/gymgate/agent/internal/gate/store"
	"github.com/gymgate/agent/internal/gate/store/memory"
)

func newRegistryFixture(t *testing.T, clock Clock) (*Registry, *memory.MembershipStore, *sim.Sim, device.Session) {
	t.Helper()
	dev := sim.New()
	sess, err := dev.Connect(context.Background())
	require.NoError(t, err)

	members := memory.NewMembershipStore()
	vault := NewVault(memory.NewTemplateStore(), testLogger())
	return NewRegistry(members, vault, clock, testLogger()), members, dev, sess
}

func TestRegistry_ValidateActiveMemberAllowedWithVisitStats(t *testing.T) {
	clock := newFixedClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.Local))
	reg, members, _, _ := newRegistryFixture(t, clock)
	ctx := context.Background()

	require.NoError(t, reg.AddMember(ctx, "1001", "Ada", "2026-12-31"))

	allowed, reason := reg.Validate(ctx, "1001")
	assert.True(t, allowed)
	assert.Contains(t, reason, "2026-12-31")

	rec, ok, err := members.Get(ctx, "1001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, rec.VisitCount)
	require.NotNil(t, rec.LastVisit)

	allowed, _ = reg.Validate(ctx, "1001")
	assert.True(t, allowed)
	rec, _, _ = members.Get(ctx, "1001")
	assert.Equal(t, 2, rec.VisitCount)
}

func TestRegistry_ValidateTrimsWhitespace(t *testing.T) {
	clock := newFixedClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.Local))
	reg, _, _, _ := newRegistryFixture(t, clock)
	ctx := context.Background()

	require.NoError(t, reg.AddMember(ctx, "1001", "Ada", "2026-12-31"))

	allowed, _ := reg.Validate(ctx, "  1001 ")
	assert.True(t, allowed)
}

func TestRegistry_ValidateDenials(t *testing.T) {
	clock := newFixedClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.Local))
	reg, members, _, _ := newRegistryFixture(t, clock)
	ctx := context.Background()

	now := clock.Now().UTC()
	seed := func(id string, mutate func(*store.MemberRecord)) {
		rec := store.MemberRecord{
			UserID:     id,
			Status:     store.StatusActive,
			Expiration: "2026-12-31",
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		mutate(&rec)
		require.NoError(t, members.Put(ctx, rec))
	}

	seed("inactive", func(r *store.MemberRecord) { r.Status = store.StatusInactive })
	seed("blocked", func(r *store.MemberRecord) { r.Status = store.StatusBlocked })
	seed("no-expiry", func(r *store.MemberRecord) { r.Expiration = "" })
	seed("bad-date", func(r *store.MemberRecord) { r.Expiration = "not-a-date" })

	cases := []struct {
		userID string
		want   string
	}{
		{"ghost", "not registered"},
		{"inactive", "inactive"},
		{"blocked", "blocked"},
		{"no-expiry", "no expiration"},
		{"bad-date", "invalid expiration"},
	}
	for _, tc := range cases {
		allowed, reason := reg.Validate(ctx, tc.userID)
		assert.False(t, allowed, tc.userID)
		assert.Contains(t, reason, tc.want, tc.userID)
	}
}

func TestRegistry_ValidateLazilyExpires(t *testing.T) {
	clock := newFixedClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.Local))
	reg, members, _, _ := newRegistryFixture(t, clock)
	ctx := context.Background()

	require.NoError(t, reg.AddMember(ctx, "1001", "Ada", "2026-08-15"))

	allowed, reason := reg.Validate(ctx, "1001")
	assert.False(t, allowed)
	assert.Contains(t, reason, "expired since 2026-08-15")

	rec, ok, err := members.Get(ctx, "1001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.StatusExpired, rec.Status, "expiry must be persisted")
	assert.Equal(t, 0, rec.VisitCount, "denied entries do not count as visits")
}

func TestRegistry_ValidateAllowsOnExpirationDay(t *testing.T) {
	// Membership runs through local midnight of the stored date.
	clock := newFixedClock(time.Date(2026, 8, 15, 0, 0, 0, 0, time.Local))
	reg, _, _, _ := newRegistryFixture(t, clock)
	ctx := context.Background()

	require.NoError(t, reg.AddMember(ctx, "1001", "Ada", "2026-08-15"))

	allowed, _ := reg.Validate(ctx, "1001")
	assert.True(t, allowed)

	clock.Set(time.Date(2026, 8, 15, 0, 0, 1, 0, time.Local))
	allowed, _ = reg.Validate(ctx, "1001")
	assert.False(t, allowed)
}

func TestRegistry_RenewReactivatesExpiredMember(t *testing.T) {
	clock := newFixedClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.Local))
	reg, members, _, _ := newRegistryFixture(t, clock)
	ctx := context.Background()

	require.NoError(t, reg.AddMember(ctx, "1001", "Ada", "2026-08-01"))
	reg.Validate(ctx, "1001") // flips to expired

	require.NoError(t, reg.Renew(ctx, "1001", "2027-08-01"))

	rec, _, _ := members.Get(ctx, "1001")
	assert.Equal(t, store.StatusActive, rec.Status)
	assert.Equal(t, "2027-08-01", rec.Expiration)

	allowed, _ := reg.Validate(ctx, "1001")
	assert.True(t, allowed)

	err := reg.Renew(ctx, "ghost", "2027-08-01")
	require.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegistry_BlockVaultsTemplatesAndStampsRecord(t *testing.T) {
	clock := newFixedClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.Local))
	reg, members, dev, sess := newRegistryFixture(t, clock)
	ctx := context.Background()

	dev.Enroll(device.User{UserID: "1001", Name: "Ada"}, []byte{0x01})
	require.NoError(t, reg.AddMember(ctx, "1001", "Ada", "2026-12-31"))

	require.NoError(t, reg.Block(ctx, sess, "1001", "payment dispute"))

	assert.Empty(t, dev.Users())
	rec, _, _ := members.Get(ctx, "1001")
	assert.Equal(t, store.StatusBlocked, rec.Status)
	assert.Equal(t, "payment dispute", rec.BlockReason)
	require.NotNil(t, rec.BlockedAt)

	allowed, reason := reg.Validate(ctx, "1001")
	assert.False(t, allowed)
	assert.Contains(t, reason, "blocked")
}

func TestRegistry_BlockFailsWithoutTemplates(t *testing.T) {
	clock := newFixedClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.Local))
	reg, members, dev, sess := newRegistryFixture(t, clock)
	ctx := context.Background()

	dev.Enroll(device.User{UserID: "1001", Name: "Ada"})
	require.NoError(t, reg.AddMember(ctx, "1001", "Ada", "2026-12-31"))

	err := reg.Block(ctx, sess, "1001", "whatever")
	require.Error(t, err)

	assert.Len(t, dev.Users(), 1, "device untouched when backup fails")
	rec, _, _ := members.Get(ctx, "1001")
	assert.Equal(t, store.StatusActive, rec.Status, "record untouched when device block fails")
}

func TestRegistry_UnblockRestoresAndRenews(t *testing.T) {
	clock := newFixedClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.Local))
	reg, members, dev, sess := newRegistryFixture(t, clock)
	ctx := context.Background()

	dev.Enroll(device.User{UserID: "1001", Name: "Ada"}, []byte{0x01})
	require.NoError(t, reg.AddMember(ctx, "1001", "Ada", "2026-01-01"))
	require.NoError(t, reg.Block(ctx, sess, "1001", "expired"))

	require.NoError(t, reg.Unblock(ctx, sess, "1001", "2027-01-01"))

	users := dev.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "1001", users[0].UserID)

	rec, _, _ := members.Get(ctx, "1001")
	assert.Equal(t, store.StatusActive, rec.Status)
	assert.Equal(t, "2027-01-01", rec.Expiration)
	assert.Empty(t, rec.BlockReason)
	require.NotNil(t, rec.UnblockedAt)
}

func TestRegistry_DeactivateAndReactivate(t *testing.T) {
	clock := newFixedClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.Local))
	reg, members, _, _ := newRegistryFixture(t, clock)
	ctx := context.Background()

	require.NoError(t, reg.AddMember(ctx, "1001", "Ada", "2026-12-31"))

	require.NoError(t, reg.Deactivate(ctx, "1001"))
	rec, _, _ := members.Get(ctx, "1001")
	assert.Equal(t, store.StatusInactive, rec.Status)
	require.NotNil(t, rec.DeactivatedAt)

	allowed, _ := reg.Validate(ctx, "1001")
	assert.False(t, allowed)

	require.NoError(t, reg.Reactivate(ctx, "1001", ""))
	rec, _, _ = members.Get(ctx, "1001")
	assert.Equal(t, store.StatusActive, rec.Status)
	assert.Equal(t, "2026-12-31", rec.Expiration, "empty renewal keeps the old expiry")
	require.NotNil(t, rec.ReactivatedAt)

	allowed, _ = reg.Validate(ctx, "1001")
	assert.True(t, allowed)
}

func TestRegistry_ExpiredMembersSkipsBlockedAndUnparseable(t *testing.T) {
	clock := newFixedClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.Local))
	reg, members, _, _ := newRegistryFixture(t, clock)
	ctx := context.Background()

	now := clock.Now().UTC()
	put := func(id, exp string, status store.MemberStatus) {
		require.NoError(t, members.Put(ctx, store.MemberRecord{
			UserID: id, Expiration: exp, Status: status,
			CreatedAt: now, UpdatedAt: now,
		}))
	}
	put("overdue", "2026-08-01", store.StatusActive)
	put("current", "2026-12-31", store.StatusActive)
	put("already-blocked", "2026-08-01", store.StatusBlocked)
	put("garbage", "???", store.StatusActive)

	expired, err := reg.ExpiredMembers(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "overdue", expired[0].UserID)
}
