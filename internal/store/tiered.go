package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kisman271128/salesman-dashboard/internal/model"
	"github.com/kisman271128/salesman-dashboard/internal/util"
)

// TieredDeviceStore fronts the remote (authoritative) and local (fallback)
// tiers behind one surface. Every call tries the remote tier first and fails
// over to the local tier only on transport errors; logical outcomes such as
// ErrUserNotFound or ErrConflict pass through untouched, because falling
// back on those would mask real answers.
//
// Failover is per call. The tiers are never reconciled; CheckConsistency
// exposes divergence for an operator to resolve instead.
type TieredDeviceStore struct {
	remote model.RemoteDeviceStore
	local  model.LocalDeviceStore
}

func NewTieredDeviceStore(remote model.RemoteDeviceStore, local model.LocalDeviceStore) *TieredDeviceStore {
	return &TieredDeviceStore{remote: remote, local: local}
}

// ReadDevices loads the device state for one user. Reads served by the local
// tier carry Degraded=true and no role, so the decision engine knows the
// answer may be stale.
func (t *TieredDeviceStore) ReadDevices(ctx context.Context, userID string) (*model.UserDevices, error) {
	out, err := t.remote.GetUserDevices(ctx, userID)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, model.ErrTransport) {
		return nil, err
	}

	util.Warn("Remote device tier unreachable, falling back to local",
		zap.String("user_id", userID),
		zap.Error(err))

	stored, localErr := t.local.Get(userID)
	if localErr != nil {
		util.Error("Local device tier also failed",
			zap.String("user_id", userID),
			zap.Error(localErr))
		return nil, fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
	if stored == nil {
		// Nothing cached locally; the caller decides whether to fail open.
		return nil, fmt.Errorf("%w: no local record for user", model.ErrUnavailable)
	}

	return &model.UserDevices{
		UserID:   userID,
		Stored:   *stored,
		Degraded: true,
	}, nil
}

// WriteDevices persists the device state. On a successful remote write the
// local tier is refreshed best-effort so a later failover sees recent state.
// A remote ErrConflict is returned as-is; the local tier has no versioning
// and must not absorb a write the authoritative tier rejected.
func (t *TieredDeviceStore) WriteDevices(ctx context.Context, userID string, stored model.StoredDevices, expectedVersion int64) error {
	err := t.remote.PutDevices(ctx, userID, stored, expectedVersion)
	if err == nil {
		mirror := stored
		mirror.Version = expectedVersion + 1
		if expectedVersion <= 0 {
			mirror.Version = stored.Version + 1
		}
		if localErr := t.local.Set(userID, mirror); localErr != nil {
			util.Warn("Failed to mirror device write to local tier",
				zap.String("user_id", userID),
				zap.Error(localErr))
		}
		return nil
	}
	if !errors.Is(err, model.ErrTransport) {
		return err
	}

	util.Warn("Remote device tier unreachable, writing to local only",
		zap.String("user_id", userID),
		zap.Error(err))

	if localErr := t.local.Set(userID, stored); localErr != nil {
		util.Error("Local device write also failed",
			zap.String("user_id", userID),
			zap.Error(localErr))
		return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
	return nil
}

// ClearLegacy nulls the deprecated single-device field on the remote tier.
// Local records never carry a separate legacy column to clear, so a remote
// transport failure here is reported but not failed over.
func (t *TieredDeviceStore) ClearLegacy(ctx context.Context, userID string) error {
	if err := t.remote.ClearLegacy(ctx, userID); err != nil {
		if errors.Is(err, model.ErrTransport) {
			util.Warn("Could not clear legacy device field, will retry on next migration",
				zap.String("user_id", userID),
				zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

// CheckConsistency reads both tiers independently and reports what each one
// holds. It never writes and never picks a winner.
func (t *TieredDeviceStore) CheckConsistency(ctx context.Context, userID string) (*model.ConsistencyReport, error) {
	report := &model.ConsistencyReport{UserID: userID}

	remote, remoteErr := t.remote.GetUserDevices(ctx, userID)
	if remoteErr != nil {
		report.RemoteError = remoteErr.Error()
	} else {
		report.Remote = remote.Stored.Devices
	}

	local, localErr := t.local.Get(userID)
	if localErr != nil {
		return nil, localErr
	}
	if local != nil {
		report.LocalPresent = true
		report.Local = local.Devices
	}

	report.Diverged = diverged(report)
	return report, nil
}

func diverged(r *model.ConsistencyReport) bool {
	if !r.LocalPresent {
		return false
	}
	if r.RemoteError != "" {
		return true
	}
	if len(r.Remote) != len(r.Local) {
		return true
	}
	seen := make(map[string]bool, len(r.Remote))
	for _, d := range r.Remote {
		seen[d.Fingerprint] = true
	}
	for _, d := range r.Local {
		if !seen[d.Fingerprint] {
			return true
		}
	}
	return false
}
