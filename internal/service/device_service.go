package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kisman271128/salesman-dashboard/internal/audit"
	"github.com/kisman271128/salesman-dashboard/internal/config"
	"github.com/kisman271128/salesman-dashboard/internal/fingerprint"
	"github.com/kisman271128/salesman-dashboard/internal/model"
	"github.com/kisman271128/salesman-dashboard/internal/util"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUserNotFound = errors.New("user not found")
)

// User-facing messages. The login frontend renders these verbatim.
const (
	msgRegistered    = "Device berhasil didaftarkan"
	msgValidated     = "Device tervalidasi"
	msgUserNotFound  = "User tidak ditemukan. Hubungi administrator."
	msgBypass        = "Validasi device dilewati untuk admin"
	msgSkipped       = "Validasi device dilewati"
	msgRateLimited   = "Terlalu banyak percobaan validasi. Coba lagi nanti."
	msgDevicesReset  = "Semua device berhasil direset"
	msgDeviceRemoved = "Device berhasil dihapus"
	msgNoSuchDevice  = "Device tidak ditemukan"
)

// AttemptLimiter throttles validation attempts. Best effort: a nil limiter
// or an unreachable backend always allows.
type AttemptLimiter interface {
	Allow(ctx context.Context, userID string) bool
	Reset(ctx context.Context, userID string)
}

// ConsistencyChecker reads both store tiers without reconciling them.
type ConsistencyChecker interface {
	CheckConsistency(ctx context.Context, userID string) (*model.ConsistencyReport, error)
}

// DeviceService is the registration decision engine. It owns the whole
// validate-or-register flow: bypass, legacy migration, slot allocation, the
// device limit, and the fail-open path when storage is down.
type DeviceService struct {
	store     model.DeviceStore
	checker   ConsistencyChecker
	limiter   AttemptLimiter
	publisher *audit.Publisher
	cfg       config.DeviceConfig
}

func NewDeviceService(
	store model.DeviceStore,
	checker ConsistencyChecker,
	limiter AttemptLimiter,
	publisher *audit.Publisher,
	cfg config.DeviceConfig,
) *DeviceService {
	return &DeviceService{
		store:     store,
		checker:   checker,
		limiter:   limiter,
		publisher: publisher,
		cfg:       cfg,
	}
}

// ValidateDevice decides whether the client presenting vector may proceed as
// userID, registering the device when a slot is free. It never returns an
// error: infrastructure failures fail open and everything else maps to a
// structured result.
//
// role is the caller-asserted role from the authenticated session, trusted
// only because this endpoint is internal. The role stored on the user record
// is honored independently after the load.
func (s *DeviceService) ValidateDevice(ctx context.Context, userID, role string, vector model.CharacteristicsVector) *model.ValidationResult {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return &model.ValidationResult{
			Success:    false,
			Message:    "User ID wajib diisi",
			Kind:       model.DecisionNotFound,
			MaxDevices: s.cfg.MaxDevices,
		}
	}

	fp := fingerprint.Generate(vector)
	info := fingerprint.Classify(vector)

	// Server-side bypass: the decision is made here, never by the client.
	if userID == s.cfg.BypassUserID || (role != "" && role == s.cfg.BypassRole) {
		return s.bypassResult(ctx, userID, fp)
	}

	if s.limiter != nil && !s.limiter.Allow(ctx, userID) {
		return &model.ValidationResult{
			Success:     false,
			Message:     msgRateLimited,
			Kind:        model.DecisionRateLimited,
			Fingerprint: fp,
			MaxDevices:  s.cfg.MaxDevices,
		}
	}

	// One retry after a version conflict, then fail open. A conflict means a
	// concurrent session changed the list between our read and write; the
	// re-read usually finds the device already registered.
	for attempt := 0; attempt < 2; attempt++ {
		loaded, err := s.store.ReadDevices(ctx, userID)
		if err != nil {
			if errors.Is(err, model.ErrUserNotFound) {
				return s.notFoundResult(ctx, userID, fp)
			}
			util.Warn("Device store unavailable, failing open",
				zap.String("user_id", userID),
				zap.Error(err))
			return s.skippedResult(ctx, userID, fp, err)
		}

		if s.cfg.BypassRole != "" && loaded.Role == s.cfg.BypassRole {
			return s.bypassResult(ctx, userID, fp)
		}

		result, stored, dirty := s.decide(loaded, fp, info)
		if !dirty {
			s.auditDecision(ctx, userID, fp, &info, result, loaded.Degraded)
			return result
		}

		expected := loaded.Stored.Version
		if loaded.Degraded {
			// Local reads carry no authoritative version; the fallback tier
			// is last write wins.
			expected = 0
		}

		err = s.store.WriteDevices(ctx, userID, stored, expected)
		if errors.Is(err, model.ErrConflict) {
			if attempt == 0 {
				util.Info("Device list changed concurrently, retrying decision",
					zap.String("user_id", userID))
				continue
			}
			util.Warn("Device list conflict persisted after retry, failing open",
				zap.String("user_id", userID))
			return s.skippedResult(ctx, userID, fp, err)
		}
		if err != nil {
			// The decision stands even when it could not be persisted; the
			// device will register again on the next reachable attempt. The
			// pass-through carries the same skip marker as a skipped check.
			util.Warn("Failed to persist device decision",
				zap.String("user_id", userID),
				zap.String("kind", string(result.Kind)),
				zap.Error(err))
			result.Skipped = true
			event := audit.NewDeviceEvent(audit.EventCheckSkipped, userID)
			event.Fingerprint = fp
			event.Details = err.Error()
			s.publisher.Publish(ctx, event)
		} else if loaded.Stored.Legacy != nil {
			if clearErr := s.store.ClearLegacy(ctx, userID); clearErr != nil {
				util.Warn("Failed to clear migrated legacy device",
					zap.String("user_id", userID),
					zap.Error(clearErr))
			}
			migrated := audit.NewDeviceEvent(audit.EventLegacyMigrated, userID)
			migrated.Fingerprint = loaded.Stored.Legacy.Fingerprint
			s.publisher.Publish(ctx, migrated)
		}

		if err == nil && result.Kind == model.DecisionRegistered && result.Device != nil {
			s.publisher.IndexDevice(ctx, userID, *result.Device)
		}

		s.auditDecision(ctx, userID, fp, &info, result, loaded.Degraded)
		return result
	}

	// Unreachable; the loop always returns.
	return s.skippedResult(ctx, userID, fp, model.ErrConflict)
}

// decide applies the slot rules to a loaded record. It returns the outcome,
// the record to persist, and whether anything changed. The legacy
// single-device field is folded into the list here, so migration and the
// decision land in the same write.
func (s *DeviceService) decide(loaded *model.UserDevices, fp string, info model.DeviceInfo) (*model.ValidationResult, model.StoredDevices, bool) {
	stored := loaded.Stored
	dirty := false

	if stored.NeedsMigration() {
		legacy := *stored.Legacy
		stored.Devices = []model.DeviceRecord{legacy}
		stored.Legacy = nil
		dirty = true
		util.Info("Migrated legacy single-device record",
			zap.String("user_id", loaded.UserID),
			zap.String("fingerprint", legacy.Fingerprint))
	} else if stored.Legacy != nil {
		// List already populated; the stale legacy field just gets dropped.
		stored.Legacy = nil
		dirty = true
	}

	now := time.Now().UTC()

	if existing, slot := stored.FindDevice(fp); existing != nil {
		existing.LastUsed = now
		return &model.ValidationResult{
			Success:           true,
			Message:           msgValidated,
			Kind:              model.DecisionValidated,
			Fingerprint:       fp,
			Device:            existing,
			DeviceNumber:      slot,
			TotalDevices:      len(stored.Devices),
			MaxDevices:        s.cfg.MaxDevices,
			RegisteredDevices: stored.Devices,
		}, stored, true
	}

	if len(stored.Devices) < s.cfg.MaxDevices {
		record := model.DeviceRecord{
			Fingerprint:  fp,
			Info:         info,
			RegisteredAt: now,
			LastUsed:     now,
		}
		stored.Devices = append(stored.Devices, record)
		return &model.ValidationResult{
			Success:           true,
			Message:           msgRegistered,
			IsNewRegistration: true,
			Kind:              model.DecisionRegistered,
			Fingerprint:       fp,
			Device:            &stored.Devices[len(stored.Devices)-1],
			DeviceNumber:      len(stored.Devices),
			TotalDevices:      len(stored.Devices),
			MaxDevices:        s.cfg.MaxDevices,
			RegisteredDevices: stored.Devices,
		}, stored, true
	}

	result := &model.ValidationResult{
		Success:           false,
		Message:           s.limitMessage(),
		Kind:              model.DecisionLimitReached,
		Fingerprint:       fp,
		TotalDevices:      len(stored.Devices),
		MaxDevices:        s.cfg.MaxDevices,
		RegisteredDevices: stored.Devices,
	}
	return result, stored, dirty
}

func (s *DeviceService) limitMessage() string {
	return fmt.Sprintf("Batas maksimal %d device tercapai. Hubungi administrator untuk reset device.", s.cfg.MaxDevices)
}

func (s *DeviceService) bypassResult(ctx context.Context, userID, fp string) *model.ValidationResult {
	event := audit.NewDeviceEvent(audit.EventBypass, userID)
	event.Fingerprint = fp
	s.publisher.Publish(ctx, event)

	return &model.ValidationResult{
		Success:     true,
		Message:     msgBypass,
		IsBypass:    true,
		Kind:        model.DecisionBypass,
		Fingerprint: fp,
		MaxDevices:  s.cfg.MaxDevices,
	}
}

func (s *DeviceService) notFoundResult(ctx context.Context, userID, fp string) *model.ValidationResult {
	event := audit.NewDeviceEvent(audit.EventUserNotFound, userID)
	event.Fingerprint = fp
	s.publisher.Publish(ctx, event)

	return &model.ValidationResult{
		Success:     false,
		Message:     msgUserNotFound,
		Kind:        model.DecisionNotFound,
		Fingerprint: fp,
		MaxDevices:  s.cfg.MaxDevices,
	}
}

func (s *DeviceService) skippedResult(ctx context.Context, userID, fp string, cause error) *model.ValidationResult {
	event := audit.NewDeviceEvent(audit.EventCheckSkipped, userID)
	event.Fingerprint = fp
	if cause != nil {
		event.Details = cause.Error()
	}
	s.publisher.Publish(ctx, event)

	return &model.ValidationResult{
		Success:     true,
		Message:     msgSkipped,
		Skipped:     true,
		Kind:        model.DecisionSkipped,
		Fingerprint: fp,
		MaxDevices:  s.cfg.MaxDevices,
	}
}

func (s *DeviceService) auditDecision(ctx context.Context, userID, fp string, info *model.DeviceInfo, result *model.ValidationResult, degraded bool) {
	var eventType string
	switch result.Kind {
	case model.DecisionRegistered:
		eventType = audit.EventDeviceRegistered
	case model.DecisionValidated:
		eventType = audit.EventDeviceValidated
	case model.DecisionLimitReached:
		eventType = audit.EventLimitReached
	default:
		return
	}

	event := audit.NewDeviceEvent(eventType, userID)
	event.Fingerprint = fp
	event.DeviceInfo = info
	event.Degraded = degraded
	s.publisher.Publish(ctx, event)
}

// ResetAllDevices clears every registered device for a user, freeing all
// slots. Idempotent: resetting an empty list succeeds.
func (s *DeviceService) ResetAllDevices(ctx context.Context, userID string) (*model.OperationResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidInput
	}

	var previous []model.DeviceRecord
	version := int64(0)

	loaded, err := s.store.ReadDevices(ctx, userID)
	switch {
	case err == nil:
		previous = loaded.Stored.Devices
		if !loaded.Degraded {
			version = loaded.Stored.Version
		}
	case errors.Is(err, model.ErrUserNotFound):
		return nil, ErrUserNotFound
	default:
		// Reset must still work while the remote tier is flapping; the
		// unconditional write below goes wherever is reachable.
		util.Warn("Reading devices before reset failed, resetting blind",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	empty := model.StoredDevices{Version: version, Devices: []model.DeviceRecord{}}
	if err := s.store.WriteDevices(ctx, userID, empty, version); err != nil {
		if errors.Is(err, model.ErrConflict) {
			// Someone registered mid-reset; clear whatever is there now.
			if err := s.store.WriteDevices(ctx, userID, empty, 0); err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}

	if s.limiter != nil {
		s.limiter.Reset(ctx, userID)
	}
	s.publisher.RemoveUserDevices(ctx, userID, previous)

	event := audit.NewDeviceEvent(audit.EventDevicesReset, userID)
	event.Details = fmt.Sprintf("cleared %d devices", len(previous))
	s.publisher.Publish(ctx, event)

	util.Info("All devices reset",
		zap.String("user_id", userID),
		zap.Int("cleared", len(previous)))

	return &model.OperationResult{Success: true, Message: msgDevicesReset}, nil
}

// RemoveDevice frees one slot by fingerprint. Removing an unknown
// fingerprint is a structured failure, not an error.
func (s *DeviceService) RemoveDevice(ctx context.Context, userID, fp string) (*model.OperationResult, error) {
	userID = strings.TrimSpace(userID)
	fp = strings.TrimSpace(fp)
	if userID == "" || fp == "" {
		return nil, ErrInvalidInput
	}

	loaded, err := s.store.ReadDevices(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	stored := loaded.Stored
	kept := make([]model.DeviceRecord, 0, len(stored.Devices))
	for _, d := range stored.Devices {
		if d.Fingerprint != fp {
			kept = append(kept, d)
		}
	}
	removed := len(kept) != len(stored.Devices)
	stored.Devices = kept

	// An unmigrated legacy record is listed as the user's device, so it must
	// be removable by its fingerprint too.
	if !removed && stored.Legacy != nil && stored.Legacy.Fingerprint == fp {
		stored.Legacy = nil
		removed = true
	}
	if !removed {
		return &model.OperationResult{Success: false, Message: msgNoSuchDevice}, nil
	}

	expected := stored.Version
	if loaded.Degraded {
		expected = 0
	}
	if err := s.store.WriteDevices(ctx, userID, stored, expected); err != nil {
		return nil, err
	}

	s.publisher.RemoveDevice(ctx, userID, fp)

	event := audit.NewDeviceEvent(audit.EventDeviceRemoved, userID)
	event.Fingerprint = fp
	s.publisher.Publish(ctx, event)

	util.Info("Device removed",
		zap.String("user_id", userID),
		zap.String("fingerprint", fp),
		zap.Int("remaining", len(kept)))

	return &model.OperationResult{Success: true, Message: msgDeviceRemoved}, nil
}

// GetRegisteredDevices lists a user's devices. An unmigrated legacy record
// shows up as a one-element list; the read does not persist the migration.
func (s *DeviceService) GetRegisteredDevices(ctx context.Context, userID string) ([]model.DeviceRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidInput
	}

	loaded, err := s.store.ReadDevices(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if loaded.Stored.NeedsMigration() {
		return []model.DeviceRecord{*loaded.Stored.Legacy}, nil
	}
	if loaded.Stored.Devices == nil {
		return []model.DeviceRecord{}, nil
	}
	return loaded.Stored.Devices, nil
}

// GetDeviceCount returns how many slots are occupied.
func (s *DeviceService) GetDeviceCount(ctx context.Context, userID string) (int, error) {
	devices, err := s.GetRegisteredDevices(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(devices), nil
}

// IsDeviceLimitReached reports whether every slot is taken.
func (s *DeviceService) IsDeviceLimitReached(ctx context.Context, userID string) (bool, error) {
	count, err := s.GetDeviceCount(ctx, userID)
	if err != nil {
		return false, err
	}
	return count >= s.cfg.MaxDevices, nil
}

// CheckConsistency reports both tiers' views of one user without picking a
// winner. Resolution stays with the operator.
func (s *DeviceService) CheckConsistency(ctx context.Context, userID string) (*model.ConsistencyReport, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidInput
	}
	if s.checker == nil {
		return nil, errors.New("consistency checking not configured")
	}
	return s.checker.CheckConsistency(ctx, userID)
}

// MaxDevices exposes the configured slot count.
func (s *DeviceService) MaxDevices() int {
	return s.cfg.MaxDevices
}
