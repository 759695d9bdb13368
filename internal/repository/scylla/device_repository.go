package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/kisman271128/salesman-dashboard/internal/model"
	"github.com/kisman271128/salesman-dashboard/internal/util"
)

// DeviceRepository is the authoritative remote tier for per-user device
// slots. Device lists are stored as JSON text columns on the user_devices
// row owned by the external user-management service.
type DeviceRepository struct {
	client *ScyllaClient
}

func NewDeviceRepository(client *ScyllaClient, logger *zap.Logger) *DeviceRepository {
	// Using global util logger instead of individual logger
	return &DeviceRepository{
		client: client,
	}
}

// GetUserDevices loads role and device state for one user. A missing row is
// model.ErrUserNotFound; anything else wraps model.ErrTransport so the
// adapter fails over. Malformed JSON columns read as "no record" and are
// overwritten on the next successful write.
func (r *DeviceRepository) GetUserDevices(ctx context.Context, userID string) (*model.UserDevices, error) {
	var (
		storedID    string
		role        string
		devicesJSON string
		legacyJSON  string
		version     int64
	)

	query := r.client.Prepared.GetUserDevices.WithContext(ctx).Bind(userID)

	err := r.client.ScanWithRetry(query, &storedID, &role, &devicesJSON, &legacyJSON, &version)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", model.ErrUserNotFound, userID)
		}
		util.Error("Failed to get user devices",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: get user devices: %v", model.ErrTransport, err)
	}

	out := &model.UserDevices{
		UserID: userID,
		Role:   role,
		Stored: model.StoredDevices{Version: version},
	}

	if devicesJSON != "" {
		if err := json.Unmarshal([]byte(devicesJSON), &out.Stored.Devices); err != nil {
			// ErrParse policy: a corrupt list reads as empty and gets
			// replaced by the next registration.
			util.Warn("Malformed devices column, treating as empty",
				zap.String("user_id", userID),
				zap.Error(err))
			out.Stored.Devices = nil
		}
	}

	if legacyJSON != "" {
		var legacy model.DeviceRecord
		if err := json.Unmarshal([]byte(legacyJSON), &legacy); err != nil {
			util.Warn("Malformed legacy device column, ignoring",
				zap.String("user_id", userID),
				zap.Error(err))
		} else {
			out.Stored.Legacy = &legacy
		}
	}

	return out, nil
}

// PutDevices replaces the whole stored record. With expectedVersion >= 1 the
// write runs as a lightweight transaction and fails with model.ErrConflict
// when another session bumped the version first. expectedVersion <= 0 writes
// unconditionally (first write for rows predating versioning, and the local
// tier's semantics).
func (r *DeviceRepository) PutDevices(ctx context.Context, userID string, stored model.StoredDevices, expectedVersion int64) error {
	devicesJSON, legacyJSON, err := encodeStored(stored)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	newVersion := expectedVersion + 1
	if expectedVersion <= 0 {
		// Rows written before versioning carry a null (zero) version; the
		// first write after that cannot be conditional.
		newVersion = stored.Version + 1
	}

	if expectedVersion >= 1 {
		query := r.client.Prepared.UpdateDevicesCAS.WithContext(ctx).
			Bind(devicesJSON, legacyJSON, newVersion, now, userID, expectedVersion)

		var prevVersion int64
		applied, casErr := query.ScanCAS(&prevVersion)
		if casErr != nil {
			util.Error("Failed to write user devices (CAS)",
				zap.String("user_id", userID),
				zap.Error(casErr))
			return fmt.Errorf("%w: put devices: %v", model.ErrTransport, casErr)
		}
		if !applied {
			util.Warn("Device list version conflict",
				zap.String("user_id", userID),
				zap.Int("expected_version", int(expectedVersion)),
				zap.Int("actual_version", int(prevVersion)))
			return fmt.Errorf("%w: expected %d, found %d", model.ErrConflict, expectedVersion, prevVersion)
		}
		return nil
	}

	query := r.client.Prepared.UpdateDevices.WithContext(ctx).
		Bind(devicesJSON, legacyJSON, newVersion, now, userID)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to write user devices",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("%w: put devices: %v", model.ErrTransport, err)
	}

	util.Debug("User devices written",
		zap.String("user_id", userID),
		zap.Int("device_count", len(stored.Devices)))

	return nil
}

// ClearLegacy nulls the deprecated single-device column.
func (r *DeviceRepository) ClearLegacy(ctx context.Context, userID string) error {
	query := r.client.Prepared.ClearLegacyDevice.WithContext(ctx).
		Bind(time.Now().UTC(), userID)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to clear legacy device field",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("%w: clear legacy: %v", model.ErrTransport, err)
	}
	return nil
}

func encodeStored(stored model.StoredDevices) (devicesJSON, legacyJSON string, err error) {
	devices := stored.Devices
	if devices == nil {
		devices = []model.DeviceRecord{}
	}
	devicesBytes, err := json.Marshal(devices)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal devices: %w", err)
	}
	devicesJSON = string(devicesBytes)

	if stored.Legacy != nil {
		legacyBytes, err := json.Marshal(stored.Legacy)
		if err != nil {
			return "", "", fmt.Errorf("failed to marshal legacy device: %w", err)
		}
		legacyJSON = string(legacyBytes)
	}
	return devicesJSON, legacyJSON, nil
}
