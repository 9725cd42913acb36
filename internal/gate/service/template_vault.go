package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gymgate/agent/internal/gate/device"
	"github.com/gymgate/agent/internal/gate/store"
)

var (
	ErrUserNotOnDevice = errors.New("user not enrolled on device")
	ErrNoTemplates     = errors.New("user has no templates on device")
	ErrNoBackup        = errors.New("no snapshot for user")
)

// Vault owns the durable copies of device identities and biometric
// templates.  Its one hard rule: a user is never removed from the
// device without a successful backup first.
type Vault struct {
	store  store.TemplateStore
	logger *zap.Logger
}

func NewVault(st store.TemplateStore, logger *zap.Logger) *Vault {
	return &Vault{store: st, logger: logger}
}

// Backup captures a user's identity and templates from the device and
// persists them, overwriting any prior snapshot.  Nothing is written
// when the user is absent or has zero templates.
func (v *Vault) Backup(ctx context.Context, sess device.Session, userID string) error {
	_, err := v.capture(ctx, sess, userID)
	return err
}

// capture fetches and persists the snapshot, returning the captured
// device identity so callers can act on the device-internal uid.
func (v *Vault) capture(ctx context.Context, sess device.Session, userID string) (store.DeviceIdentity, error) {
	users, err := sess.GetUsers(ctx)
	if err != nil {
		return store.DeviceIdentity{}, fmt.Errorf("backup %s: get users: %w", userID, err)
	}

	var user *device.User
	for i := range users {
		if users[i].UserID == userID {
			user = &users[i]
			break
		}
	}
	if user == nil {
		return store.DeviceIdentity{}, fmt.Errorf("backup %s: %w", userID, ErrUserNotOnDevice)
	}

	all, err := sess.GetTemplates(ctx)
	if err != nil {
		return store.DeviceIdentity{}, fmt.Errorf("backup %s: get templates: %w", userID, err)
	}

	var items []store.TemplateItem
	for _, t := range all {
		if t.UID != user.UID {
			continue
		}
		items = append(items, store.TemplateItem{
			Slot:    t.Slot,
			Valid:   t.Valid,
			Payload: t.Payload,
			Mark:    t.Mark,
		})
	}
	if len(items) == 0 {
		return store.DeviceIdentity{}, fmt.Errorf("backup %s: %w", userID, ErrNoTemplates)
	}

	identity := store.DeviceIdentity{
		UID:       user.UID,
		Name:      user.Name,
		Privilege: user.Privilege,
		Password:  user.Password,
		GroupID:   user.GroupID,
		Card:      user.Card,
	}
	backup := store.TemplateBackup{
		UserID:     userID,
		Identity:   identity,
		Templates:  items,
		CapturedAt: time.Now().UTC(),
	}
	if err := v.store.Put(ctx, backup); err != nil {
		return store.DeviceIdentity{}, fmt.Errorf("backup %s: persist: %w", userID, err)
	}

	v.logger.Info("templates backed up",
		zap.String("user_id", userID), zap.Int("templates", len(items)))
	return identity, nil
}

// Restore re-enrolls a user on the device from their snapshot in one
// device operation.  The snapshot stays in the vault.
func (v *Vault) Restore(ctx context.Context, sess device.Session, userID string) error {
	b, ok, err := v.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("restore %s: %w", userID, err)
	}
	if !ok {
		return fmt.Errorf("restore %s: %w", userID, ErrNoBackup)
	}

	user := device.User{
		UID:       b.Identity.UID,
		UserID:    b.UserID,
		Name:      b.Identity.Name,
		Privilege: b.Identity.Privilege,
		Password:  b.Identity.Password,
		GroupID:   b.Identity.GroupID,
		Card:      b.Identity.Card,
	}
	templates := make([]device.Template, len(b.Templates))
	for i, item := range b.Templates {
		templates[i] = device.Template{
			UID:     b.Identity.UID,
			Slot:    item.Slot,
			Valid:   item.Valid,
			Payload: item.Payload,
			Mark:    item.Mark,
		}
	}

	if err := sess.SaveUserTemplate(ctx, user, templates); err != nil {
		return fmt.Errorf("restore %s: save to device: %w", userID, err)
	}

	v.logger.Info("templates restored",
		zap.String("user_id", userID), zap.Int("templates", len(templates)))
	return nil
}

// BackupAll snapshots every enrolled user.  One user's failure does not
// abort the batch; the return value is the success count.
func (v *Vault) BackupAll(ctx context.Context, sess device.Session) (int, error) {
	users, err := sess.GetUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("backup all: get users: %w", err)
	}

	count := 0
	for _, u := range users {
		if err := v.Backup(ctx, sess, u.UserID); err != nil {
			v.logger.Warn("backup skipped",
				zap.String("user_id", u.UserID), zap.Error(err))
			continue
		}
		count++
	}
	v.logger.Info("bulk backup finished",
		zap.Int("backed_up", count), zap.Int("total", len(users)))
	return count, nil
}

// Block removes a user from the device, backing them up first.  The
// backup must succeed before the delete is attempted; if it fails, the
// device is left untouched and Block fails.
func (v *Vault) Block(ctx context.Context, sess device.Session, userID string) error {
	identity, err := v.capture(ctx, sess, userID)
	if err != nil {
		return fmt.Errorf("block %s: backup before delete: %w", userID, err)
	}

	if err := sess.DeleteUser(ctx, identity.UID); err != nil {
		return fmt.Errorf("block %s: delete from device: %w", userID, err)
	}

	v.logger.Info("user blocked on device", zap.String("user_id", userID))
	return nil
}

// Unblock re-enrolls a previously blocked user from their snapshot.
// The snapshot is kept; it stays the durable source of truth until the
// next backup overwrites it.
func (v *Vault) Unblock(ctx context.Context, sess device.Session, userID string) error {
	return v.Restore(ctx, sess, userID)
}

// HasBackup reports whether a snapshot exists.  Local store only.
func (v *Vault) HasBackup(ctx context.Context, userID string) (bool, error) {
	return v.store.Has(ctx, userID)
}

// ListBackups returns every snapshot.  Local store only.
func (v *Vault) ListBackups(ctx context.Context) ([]store.TemplateBackup, error) {
	return v.store.List(ctx)
}

// DeleteBackup drops a snapshot from the vault.  Local store only; the
// device is not touched.
func (v *Vault) DeleteBackup(ctx context.Context, userID string) (bool, error) {
	return v.store.Delete(ctx, userID)
}
