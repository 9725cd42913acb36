package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymgate/agent/internal/gate/device"
	"github.com/gymgate/agent/internal/gate/store"
)

func TestSweeper_DisabledAtZeroInterval(t *testing.T) {
	f := newBlockerFixture(t)

	s := NewSweeper(f.blocker, f.dev, SweeperConfig{Interval: 0}, testLogger())
	s.Start(context.Background())
	s.Stop() // must not hang
}

func TestSweeper_BlocksExpiredMembersOnSchedule(t *testing.T) {
	f := newBlockerFixture(t)
	ctx := context.Background()

	f.dev.Enroll(device.User{UserID: "1001", Name: "Ada"}, []byte{0x01})
	f.putMember(t, "1001", "2026-08-01", store.StatusActive)

	s := NewSweeper(f.blocker, f.dev, SweeperConfig{Interval: 10 * time.Millisecond}, testLogger())
	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		rec, ok, err := f.members.Get(ctx, "1001")
		return err == nil && ok && rec.Status == store.StatusBlocked
	}, 2*time.Second, 5*time.Millisecond, "sweep never blocked the expired member")

	assert.Empty(t, f.dev.Users())
	has, err := f.vault.HasBackup(ctx, "1001")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestSweeper_SkipsSweepWhenDeviceUnreachable(t *testing.T) {
	f := newBlockerFixture(t)
	ctx := context.Background()

	f.dev.Enroll(device.User{UserID: "1001", Name: "Ada"}, []byte{0x01})
	f.putMember(t, "1001", "2026-08-01", store.StatusActive)
	f.dev.SetDialErr(context.DeadlineExceeded)

	s := NewSweeper(f.blocker, f.dev, SweeperConfig{Interval: 10 * time.Millisecond}, testLogger())
	s.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	rec, ok, err := f.members.Get(ctx, "1001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.StatusActive, rec.Status, "no sweep without a device session")
}
