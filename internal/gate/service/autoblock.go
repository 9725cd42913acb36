package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gymgate/agent/internal/gate/device"
	"github.com/gymgate/agent/internal/gate/store"
)

// AutoBlocker reconciles device-enrolled users against the membership
// registry: non-paying members lose their device enrollment (templates
// safely vaulted first) and get it back silently on renewal.
type AutoBlocker struct {
	members store.MembershipStore
	vault   *Vault
	audit   store.AuditStore
	clock   Clock
	logger  *zap.Logger
}

func NewAutoBlocker(members store.MembershipStore, vault *Vault, audit store.AuditStore, clock Clock, logger *zap.Logger) *AutoBlocker {
	if clock == nil {
		clock = SystemClock()
	}
	return &AutoBlocker{members: members, vault: vault, audit: audit, clock: clock, logger: logger}
}

// SyncStats summarizes one reconciliation pass.
type SyncStats struct {
	DeviceUsers  int
	LocalMembers int
	BackedUp     int
	Blocked      int
	Errors       []string
}

// ShouldBlock applies the block policy to one user; first match wins.
// Users enrolled on the device but unknown to the registry are never
// auto-blocked.
func (a *AutoBlocker) ShouldBlock(ctx context.Context, userID string) (bool, string) {
	rec, ok, err := a.members.Get(ctx, userID)
	if err != nil {
		a.logger.Error("membership lookup failed",
			zap.String("user_id", userID), zap.Error(err))
		return false, "membership lookup failed"
	}
	if !ok {
		return false, "not registered locally"
	}

	switch rec.Status {
	case store.StatusBlocked:
		return true, "already blocked"
	case store.StatusInactive:
		return true, "member inactive"
	}

	if rec.Expiration == "" {
		return true, "no expiration on record"
	}

	exp, err := time.ParseInLocation(store.DateLayout, rec.Expiration, time.Local)
	if err != nil {
		return true, fmt.Sprintf("invalid expiration %q", rec.Expiration)
	}

	now := a.clock.Now()
	if now.After(exp) {
		days := int(now.Sub(exp).Hours() / 24)
		return true, fmt.Sprintf("membership expired %d days ago", days)
	}
	return false, "membership active"
}

// SyncOnStartup runs the full reconciliation: ensure every enrolled
// user has a snapshot (best effort, non-fatal per user), then block the
// ones the policy selects.
func (a *AutoBlocker) SyncOnStartup(ctx context.Context, sess device.Session) (SyncStats, error) {
	return a.sync(ctx, sess, true)
}

// ForceSyncAll is the manual full resync: same pass as startup, but
// per-user failures are collected in the stats instead of just logged.
func (a *AutoBlocker) ForceSyncAll(ctx context.Context, sess device.Session) (SyncStats, error) {
	return a.sync(ctx, sess, true)
}

// CheckAndBlockExpiredDaily is the periodic sweep: the same block pass
// without the snapshot-creation step.  Returns the number blocked.
func (a *AutoBlocker) CheckAndBlockExpiredDaily(ctx context.Context, sess device.Session) (int, error) {
	stats, err := a.sync(ctx, sess, false)
	return stats.Blocked, err
}

func (a *AutoBlocker) sync(ctx context.Context, sess device.Session, ensureBackups bool) (SyncStats, error) {
	var stats SyncStats

	if local, err := a.members.List(ctx); err == nil {
		stats.LocalMembers = len(local)
	}

	users, err := sess.GetUsers(ctx)
	if err != nil {
		return stats, fmt.Errorf("sync: get device users: %w", err)
	}
	stats.DeviceUsers = len(users)

	for _, u := range users {
		userID := u.UserID

		if ensureBackups {
			has, err := a.vault.HasBackup(ctx, userID)
			if err != nil {
				stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", userID, err))
				continue
			}
			if !has {
				if err := a.vault.Backup(ctx, sess, userID); err != nil {
					// Non-fatal: a user without templates simply has nothing
					// to protect yet.
					a.logger.Warn("startup backup skipped",
						zap.String("user_id", userID), zap.Error(err))
					stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", userID, err))
				} else {
					stats.BackedUp++
				}
			}
		}

		should, reason := a.ShouldBlock(ctx, userID)
		if !should {
			continue
		}
		if err := a.blockMember(ctx, sess, userID, reason); err != nil {
			a.logger.Warn("auto-block failed",
				zap.String("user_id", userID), zap.Error(err))
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", userID, err))
			continue
		}
		stats.Blocked++
	}

	if err := a.audit.SetLastSync(ctx, a.clock.Now().UTC()); err != nil {
		a.logger.Error("persist last sync failed", zap.Error(err))
	}

	a.logger.Info("reconciliation finished",
		zap.Int("device_users", stats.DeviceUsers),
		zap.Int("backed_up", stats.BackedUp),
		zap.Int("blocked", stats.Blocked),
		zap.Int("errors", len(stats.Errors)))
	return stats, nil
}

// blockMember runs the safety-critical composite: vault.Block (backup
// before delete), then the registry status flip, then the audit line.
func (a *AutoBlocker) blockMember(ctx context.Context, sess device.Session, userID, reason string) error {
	if err := a.vault.Block(ctx, sess, userID); err != nil {
		return err
	}

	now := a.clock.Now().UTC()
	if rec, ok, err := a.members.Get(ctx, userID); err == nil && ok {
		rec.Status = store.StatusBlocked
		rec.BlockReason = reason
		rec.AutoBlocked = true
		rec.BlockedAt = &now
		rec.UpdatedAt = now
		if err := a.members.Put(ctx, rec); err != nil {
			a.logger.Error("persist blocked status failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	a.appendAudit(ctx, store.AutoBlockLogEntry{
		EntryID: uuid.NewString(),
		UserID:  userID,
		Action:  store.ActionAutoBlock,
		Reason:  reason,
		At:      now,
	})

	a.logger.Info("member auto-blocked",
		zap.String("user_id", userID), zap.String("reason", reason))
	return nil
}

// UnblockOnRenewal restores a renewed member's templates to the device
// and reactivates the record with the new expiration.
func (a *AutoBlocker) UnblockOnRenewal(ctx context.Context, sess device.Session, userID, newExpiration string) error {
	if err := a.vault.Unblock(ctx, sess, userID); err != nil {
		return err
	}

	now := a.clock.Now().UTC()
	if rec, ok, err := a.members.Get(ctx, userID); err == nil && ok {
		rec.Status = store.StatusActive
		rec.Expiration = newExpiration
		rec.BlockReason = ""
		rec.AutoBlocked = false
		rec.UnblockedAt = &now
		rec.UpdatedAt = now
		if err := a.members.Put(ctx, rec); err != nil {
			a.logger.Error("persist unblocked status failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	a.appendAudit(ctx, store.AutoBlockLogEntry{
		EntryID:       uuid.NewString(),
		UserID:        userID,
		Action:        store.ActionAutoUnblock,
		NewExpiration: newExpiration,
		At:            now,
	})

	a.logger.Info("member auto-unblocked",
		zap.String("user_id", userID), zap.String("expiration", newExpiration))
	return nil
}

// BlockedMembers lists every currently blocked record.
func (a *AutoBlocker) BlockedMembers(ctx context.Context) ([]store.MemberRecord, error) {
	all, err := a.members.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("blocked members: %w", err)
	}
	var out []store.MemberRecord
	for _, rec := range all {
		if rec.Status == store.StatusBlocked {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Log returns the append-only audit trail.
func (a *AutoBlocker) Log(ctx context.Context) ([]store.AutoBlockLogEntry, error) {
	return a.audit.Entries(ctx)
}

func (a *AutoBlocker) appendAudit(ctx context.Context, e store.AutoBlockLogEntry) {
	// A failed audit write must not undo a block that already happened
	// on the device; log and move on.
	if err := a.audit.Append(ctx, e); err != nil {
		a.logger.Error("audit append failed",
			zap.String("user_id", e.UserID), zap.Error(err))
	}
}
