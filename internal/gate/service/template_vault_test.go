package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymgate/agent/internal/gate/device"
	"github.com/gymgate/agent/internal/gate/device/sim"
	"github.com/gymgate/agent/internal/gate/store/memory"
)

func newVaultFixture(t *testing.T) (*Vault, *sim.Sim, device.Session) {
	t.Helper()
	dev := sim.New()
	sess, err := dev.Connect(context.Background())
	require.NoError(t, err)
	return NewVault(memory.NewTemplateStore(), testLogger()), dev, sess
}

func TestVault_BackupCapturesIdentityAndTemplates(t *testing.T) {
	vault, dev, sess := newVaultFixture(t)
	ctx := context.Background()

	dev.Enroll(device.User{UserID: "1001", Name: "Ada", Card: 42},
		[]byte{0x01, 0x02}, []byte{0x03})

	require.NoError(t, vault.Backup(ctx, sess, "1001"))

	backups, err := vault.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 1)

	b := backups[0]
	assert.Equal(t, "1001", b.UserID)
	assert.Equal(t, "Ada", b.Identity.Name)
	assert.Equal(t, 42, b.Identity.Card)
	require.Len(t, b.Templates, 2)
	assert.Equal(t, []byte{0x01, 0x02}, b.Templates[0].Payload)
	assert.False(t, b.CapturedAt.IsZero())
}

func TestVault_BackupFailsForAbsentOrTemplatelessUser(t *testing.T) {
	vault, dev, sess := newVaultFixture(t)
	ctx := context.Background()

	dev.Enroll(device.User{UserID: "2002", Name: "no prints"})

	err := vault.Backup(ctx, sess, "9999")
	require.ErrorIs(t, err, ErrUserNotOnDevice)

	err = vault.Backup(ctx, sess, "2002")
	require.ErrorIs(t, err, ErrNoTemplates)

	has, err := vault.HasBackup(ctx, "2002")
	require.NoError(t, err)
	assert.False(t, has, "a failed backup must not leave a snapshot behind")
}

func TestVault_BlockBacksUpBeforeDelete(t *testing.T) {
	vault, dev, sess := newVaultFixture(t)
	ctx := context.Background()

	dev.Enroll(device.User{UserID: "1001", Name: "Ada"}, []byte{0xAA})

	require.NoError(t, vault.Block(ctx, sess, "1001"))

	assert.Empty(t, dev.Users(), "blocked user should be gone from the device")
	assert.Empty(t, dev.Templates())

	has, err := vault.HasBackup(ctx, "1001")
	require.NoError(t, err)
	assert.True(t, has, "snapshot must exist after a block")
}

func TestVault_BlockLeavesDeviceUntouchedWhenBackupFails(t *testing.T) {
	vault, dev, sess := newVaultFixture(t)
	ctx := context.Background()

	// Enrolled identity but zero templates: the backup step fails, so
	// the delete must never run.
	dev.Enroll(device.User{UserID: "3003", Name: "no prints"})

	err := vault.Block(ctx, sess, "3003")
	require.Error(t, err)

	users := dev.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "3003", users[0].UserID)
}

func TestVault_BlockThenUnblockRoundTrips(t *testing.T) {
	vault, dev, sess := newVaultFixture(t)
	ctx := context.Background()

	dev.Enroll(device.User{UserID: "1001", Name: "Ada", Privilege: 1, Card: 7},
		[]byte{0x01}, []byte{0x02, 0x03})

	require.NoError(t, vault.Block(ctx, sess, "1001"))
	require.Empty(t, dev.Users())

	require.NoError(t, vault.Unblock(ctx, sess, "1001"))

	users := dev.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "1001", users[0].UserID)
	assert.Equal(t, "Ada", users[0].Name)
	assert.Equal(t, 7, users[0].Card)

	// The terminal may assign a fresh device-internal uid on re-enroll;
	// the payloads are what must survive.
	tmpls := dev.Templates()
	require.Len(t, tmpls, 2)
	payloads := [][]byte{tmpls[0].Payload, tmpls[1].Payload}
	assert.Contains(t, payloads, []byte{0x01})
	assert.Contains(t, payloads, []byte{0x02, 0x03})

	has, err := vault.HasBackup(ctx, "1001")
	require.NoError(t, err)
	assert.True(t, has, "snapshot stays in the vault after restore")
}

func TestVault_RestoreWithoutSnapshot(t *testing.T) {
	vault, _, sess := newVaultFixture(t)

	err := vault.Restore(context.Background(), sess, "missing")
	require.ErrorIs(t, err, ErrNoBackup)
}

func TestVault_BackupOverwritesPriorSnapshot(t *testing.T) {
	vault, dev, sess := newVaultFixture(t)
	ctx := context.Background()

	uid := dev.Enroll(device.User{UserID: "1001", Name: "Ada"}, []byte{0x01})
	require.NoError(t, vault.Backup(ctx, sess, "1001"))

	// Re-enroll at the terminal with a new finger.
	require.NoError(t, dev.SaveUserTemplate(ctx,
		device.User{UID: uid, UserID: "1001", Name: "Ada"},
		[]device.Template{
			{Slot: 0, Valid: true, Payload: []byte{0x01}},
			{Slot: 1, Valid: true, Payload: []byte{0xFF}},
		}))
	require.NoError(t, vault.Backup(ctx, sess, "1001"))

	backups, err := vault.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Len(t, backups[0].Templates, 2)
}

func TestVault_BackupAllSkipsFailuresAndCounts(t *testing.T) {
	vault, dev, sess := newVaultFixture(t)
	ctx := context.Background()

	dev.Enroll(device.User{UserID: "1001"}, []byte{0x01})
	dev.Enroll(device.User{UserID: "2002"}) // nothing to back up
	dev.Enroll(device.User{UserID: "3003"}, []byte{0x03})

	n, err := vault.BackupAll(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	backups, err := vault.ListBackups(ctx)
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}

func TestVault_DeleteBackup(t *testing.T) {
	vault, dev, sess := newVaultFixture(t)
	ctx := context.Background()

	dev.Enroll(device.User{UserID: "1001"}, []byte{0x01})
	require.NoError(t, vault.Backup(ctx, sess, "1001"))

	ok, err := vault.DeleteBackup(ctx, "1001")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = vault.DeleteBackup(ctx, "1001")
	require.NoError(t, err)
	assert.False(t, ok)
}
