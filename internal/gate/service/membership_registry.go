package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gymgate/agent/internal/gate/device"
	"github.com/gymgate/agent/internal/gate/store"
)

var ErrNotRegistered = errors.New("member not registered")

// Registry is the membership state machine: active, expired, inactive,
// blocked.  It is deliberately decoupled from device state — blocking
// and unblocking delegate the device side to the vault.
type Registry struct {
	store  store.MembershipStore
	vault  *Vault
	clock  Clock
	logger *zap.Logger
}

func NewRegistry(st store.MembershipStore, vault *Vault, clock Clock, logger *zap.Logger) *Registry {
	if clock == nil {
		clock = SystemClock()
	}
	return &Registry{store: st, vault: vault, clock: clock, logger: logger}
}

// Validate decides whether a member may enter right now.  Expiry is
// evaluated lazily: an active record past its expiration flips to
// expired here, is persisted, and the entry is denied.  An allowed
// entry stamps visit statistics.
func (r *Registry) Validate(ctx context.Context, userID string) (bool, string) {
	userID = strings.TrimSpace(userID)

	rec, ok, err := r.store.Get(ctx, userID)
	if err != nil {
		r.logger.Error("membership lookup failed",
			zap.String("user_id", userID), zap.Error(err))
		return false, "membership lookup failed"
	}
	if !ok {
		return false, "member not registered locally"
	}

	switch rec.Status {
	case store.StatusInactive:
		return false, "member inactive"
	case store.StatusBlocked:
		return false, "member temporarily blocked"
	}

	if rec.Expiration == "" {
		// Active record without an expiry is a data problem; deny rather
		// than wave it through.
		return false, "no expiration on record"
	}

	exp, err := time.ParseInLocation(store.DateLayout, rec.Expiration, time.Local)
	if err != nil {
		return false, fmt.Sprintf("invalid expiration %q", rec.Expiration)
	}

	now := r.clock.Now()
	if now.After(exp) {
		rec.Status = store.StatusExpired
		rec.UpdatedAt = now.UTC()
		if err := r.store.Put(ctx, rec); err != nil {
			r.logger.Error("persist expired status failed",
				zap.String("user_id", userID), zap.Error(err))
		}
		return false, fmt.Sprintf("membership expired since %s", rec.Expiration)
	}

	visit := now.UTC()
	rec.LastVisit = &visit
	rec.VisitCount++
	rec.UpdatedAt = visit
	if err := r.store.Put(ctx, rec); err != nil {
		r.logger.Error("persist visit failed",
			zap.String("user_id", userID), zap.Error(err))
	}
	return true, fmt.Sprintf("membership active until %s", rec.Expiration)
}

// AddMember registers or replaces a member.
func (r *Registry) AddMember(ctx context.Context, userID, name, expiration string) error {
	userID = strings.TrimSpace(userID)
	now := r.clock.Now().UTC()
	rec := store.MemberRecord{
		UserID:     userID,
		Name:       name,
		Expiration: expiration,
		Status:     store.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("add member %s: %w", userID, err)
	}
	r.logger.Info("member registered",
		zap.String("user_id", userID), zap.String("expiration", expiration))
	return nil
}

// Renew sets a new expiration and reactivates the record.  It does not
// touch the device; use Unblock for blocked members.
func (r *Registry) Renew(ctx context.Context, userID, newExpiration string) error {
	rec, ok, err := r.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("renew %s: %w", userID, err)
	}
	if !ok {
		return fmt.Errorf("renew %s: %w", userID, ErrNotRegistered)
	}

	rec.Expiration = newExpiration
	rec.Status = store.StatusActive
	rec.UpdatedAt = r.clock.Now().UTC()
	if err := r.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("renew %s: %w", userID, err)
	}
	r.logger.Info("membership renewed",
		zap.String("user_id", userID), zap.String("expiration", newExpiration))
	return nil
}

// Block removes the member from the device through the vault (backup
// first, always) and stamps the blocked state.
func (r *Registry) Block(ctx context.Context, sess device.Session, userID, reason string) error {
	if err := r.vault.Block(ctx, sess, userID); err != nil {
		return err
	}

	rec, ok, err := r.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("block %s: %w", userID, err)
	}
	if !ok {
		// Device-side block succeeded for a user the registry never knew;
		// nothing more to stamp.
		r.logger.Warn("blocked device user with no membership record",
			zap.String("user_id", userID))
		return nil
	}

	now := r.clock.Now().UTC()
	rec.Status = store.StatusBlocked
	rec.BlockReason = reason
	rec.BlockedAt = &now
	rec.UpdatedAt = now
	if err := r.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("block %s: persist: %w", userID, err)
	}
	return nil
}

// Unblock restores the member's templates to the device and reactivates
// the record, optionally with a new expiration.
func (r *Registry) Unblock(ctx context.Context, sess device.Session, userID, newExpiration string) error {
	if err := r.vault.Unblock(ctx, sess, userID); err != nil {
		return err
	}

	rec, ok, err := r.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("unblock %s: %w", userID, err)
	}
	if !ok {
		return nil
	}

	now := r.clock.Now().UTC()
	rec.Status = store.StatusActive
	if newExpiration != "" {
		rec.Expiration = newExpiration
	}
	rec.BlockReason = ""
	rec.UnblockedAt = &now
	rec.UpdatedAt = now
	if err := r.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("unblock %s: persist: %w", userID, err)
	}
	r.logger.Info("member unblocked",
		zap.String("user_id", userID), zap.String("expiration", rec.Expiration))
	return nil
}

// Deactivate marks a member inactive without touching the device.
func (r *Registry) Deactivate(ctx context.Context, userID string) error {
	rec, ok, err := r.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("deactivate %s: %w", userID, err)
	}
	if !ok {
		return fmt.Errorf("deactivate %s: %w", userID, ErrNotRegistered)
	}

	now := r.clock.Now().UTC()
	rec.Status = store.StatusInactive
	rec.DeactivatedAt = &now
	rec.UpdatedAt = now
	if err := r.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("deactivate %s: persist: %w", userID, err)
	}
	return nil
}

// Reactivate flips an inactive member back to active, optionally with a
// new expiration.  No device interaction.
func (r *Registry) Reactivate(ctx context.Context, userID, newExpiration string) error {
	rec, ok, err := r.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("reactivate %s: %w", userID, err)
	}
	if !ok {
		return fmt.Errorf("reactivate %s: %w", userID, ErrNotRegistered)
	}

	now := r.clock.Now().UTC()
	rec.Status = store.StatusActive
	if newExpiration != "" {
		rec.Expiration = newExpiration
	}
	rec.ReactivatedAt = &now
	rec.UpdatedAt = now
	if err := r.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("reactivate %s: persist: %w", userID, err)
	}
	return nil
}

// ExpiredMembers returns every record past its expiration that is not
// already blocked.
func (r *Registry) ExpiredMembers(ctx context.Context) ([]store.MemberRecord, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("expired members: %w", err)
	}

	now := r.clock.Now()
	var out []store.MemberRecord
	for _, rec := range all {
		if rec.Status == store.StatusBlocked || rec.Expiration == "" {
			continue
		}
		exp, err := time.ParseInLocation(store.DateLayout, rec.Expiration, time.Local)
		if err != nil {
			continue
		}
		if now.After(exp) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Member returns one record.
func (r *Registry) Member(ctx context.Context, userID string) (store.MemberRecord, bool, error) {
	return r.store.Get(ctx, strings.TrimSpace(userID))
}

// Members returns every record.
func (r *Registry) Members(ctx context.Context) ([]store.MemberRecord, error) {
	return r.store.List(ctx)
}
