package model

import (
	"context"
	"time"
)

// -------------------- CHARACTERISTICS VECTOR --------------------

// CharacteristicsVector is the client-reported attribute snapshot a
// fingerprint is derived from. It is read at generation time and never
// persisted directly. None of the fields are trusted or verified; the
// fingerprint is a heuristic identifier, not a credential.
type CharacteristicsVector struct {
	UserAgent           string `json:"user_agent"`
	Platform            string `json:"platform"`
	Language            string `json:"language"`
	Languages           string `json:"languages,omitempty"`
	Vendor              string `json:"vendor,omitempty"`
	ScreenWidth         int    `json:"screen_width"`
	ScreenHeight        int    `json:"screen_height"`
	AvailWidth          int    `json:"avail_width,omitempty"`
	AvailHeight         int    `json:"avail_height,omitempty"`
	ColorDepth          int    `json:"color_depth"`
	PixelDepth          int    `json:"pixel_depth,omitempty"`
	Timezone            string `json:"timezone"`
	TimezoneOffset      int    `json:"timezone_offset,omitempty"`
	HardwareConcurrency int    `json:"hardware_concurrency,omitempty"`
	DeviceMemory        int    `json:"device_memory,omitempty"`
	TouchSupport        bool   `json:"touch_support"`
	MaxTouchPoints      int    `json:"max_touch_points,omitempty"`
	CanvasHash          string `json:"canvas_hash,omitempty"`
	CookieEnabled       bool   `json:"cookie_enabled,omitempty"`
	DoNotTrack          string `json:"do_not_track,omitempty"`
	Plugins             string `json:"plugins,omitempty"`
}

// -------------------- DEVICE MODEL --------------------

// DeviceInfo is the human-readable classification of a device, kept for
// display and audit.
type DeviceInfo struct {
	Device   string `json:"device"`
	Browser  string `json:"browser"`
	OS       string `json:"os"`
	Screen   string `json:"screen,omitempty"`
	Language string `json:"language,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// DeviceRecord is the persisted state for one recognized client of one user.
// Only LastUsed is mutated after creation.
type DeviceRecord struct {
	Fingerprint  string     `json:"fingerprint" db:"fingerprint"`
	Info         DeviceInfo `json:"info" db:"info"`
	RegisteredAt time.Time  `json:"registered_at" db:"registered_at"`
	LastUsed     time.Time  `json:"last_used" db:"last_used"`
}

// StoredDevices is the versioned on-disk/remote representation of a user's
// device slots. Legacy holds the deprecated single-device field until the
// lazy migration clears it; Version backs the remote tier's conditional
// update.
type StoredDevices struct {
	Version int64          `json:"version"`
	Devices []DeviceRecord `json:"devices"`
	Legacy  *DeviceRecord  `json:"legacy,omitempty"`
}

// NeedsMigration reports whether the legacy single-device field must be
// folded into the list.
func (s *StoredDevices) NeedsMigration() bool {
	return s.Legacy != nil && len(s.Devices) == 0
}

// FindDevice returns the record matching fingerprint and its 1-based slot
// position, or nil and 0.
func (s *StoredDevices) FindDevice(fingerprint string) (*DeviceRecord, int) {
	for i := range s.Devices {
		if s.Devices[i].Fingerprint == fingerprint {
			return &s.Devices[i], i + 1
		}
	}
	return nil, 0
}

// -------------------- USER MODEL --------------------

// UserDevices is what the slot store adapter hands the decision engine: the
// stored device state plus the role read from the authoritative user record.
// Degraded marks a read served by the local fallback tier.
type UserDevices struct {
	UserID   string        `json:"user_id"`
	Role     string        `json:"role,omitempty"`
	Stored   StoredDevices `json:"stored"`
	Degraded bool          `json:"-"`
}

// -------------------- STORE PORTS --------------------

// RemoteDeviceStore is the authoritative tier (ScyllaDB). Not-found is a
// logical outcome (ErrUserNotFound); transport failures wrap ErrTransport.
type RemoteDeviceStore interface {
	GetUserDevices(ctx context.Context, userID string) (*UserDevices, error)
	// PutDevices replaces the whole stored record. When expectedVersion >= 1
	// the write is conditional and fails with ErrConflict on a version
	// mismatch.
	PutDevices(ctx context.Context, userID string, stored StoredDevices, expectedVersion int64) error
	ClearLegacy(ctx context.Context, userID string) error
}

// LocalDeviceStore is the degraded-availability fallback tier. A missing or
// malformed record reads as nil, never as an error.
type LocalDeviceStore interface {
	Get(userID string) (*StoredDevices, error)
	Set(userID string, stored StoredDevices) error
	Remove(userID string) error
}

// DeviceStore is the tier-failover surface the decision engine talks to.
type DeviceStore interface {
	ReadDevices(ctx context.Context, userID string) (*UserDevices, error)
	WriteDevices(ctx context.Context, userID string, stored StoredDevices, expectedVersion int64) error
	ClearLegacy(ctx context.Context, userID string) error
}

// -------------------- DECISION MODEL --------------------

type DecisionKind string

const (
	DecisionBypass       DecisionKind = "bypass"
	DecisionValidated    DecisionKind = "validated"
	DecisionRegistered   DecisionKind = "registered"
	DecisionLimitReached DecisionKind = "limit_reached"
	DecisionNotFound     DecisionKind = "not_found"
	// DecisionSkipped is the fail-open outcome: every tier failed, the user
	// proceeds, and the skip is flagged for the audit trail.
	DecisionSkipped DecisionKind = "skipped"
	// DecisionRateLimited rejects an attempt throttled by the validation
	// limiter, before any store access.
	DecisionRateLimited DecisionKind = "rate_limited"
)

// ValidationResult is the wire-level outcome of a device validation, shaped
// for the login flow and the admin panel.
type ValidationResult struct {
	Success           bool           `json:"success"`
	Message           string         `json:"message"`
	IsNewRegistration bool           `json:"is_new_registration"`
	IsBypass          bool           `json:"is_bypass"`
	Skipped           bool           `json:"skipped,omitempty"`
	Kind              DecisionKind   `json:"kind"`
	Fingerprint       string         `json:"fingerprint,omitempty"`
	Device            *DeviceRecord  `json:"device,omitempty"`
	DeviceNumber      int            `json:"device_number,omitempty"`
	TotalDevices      int            `json:"total_devices"`
	MaxDevices        int            `json:"max_devices"`
	RegisteredDevices []DeviceRecord `json:"registered_devices,omitempty"`
}

// OperationResult is the outcome of an admin maintenance operation.
type OperationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ConsistencyReport is the explicit unresolved-conflict surface: both tiers'
// views of one user's devices, with no attempt to pick a winner.
type ConsistencyReport struct {
	UserID       string         `json:"user_id"`
	Diverged     bool           `json:"diverged"`
	RemoteError  string         `json:"remote_error,omitempty"`
	LocalPresent bool           `json:"local_present"`
	Remote       []DeviceRecord `json:"remote,omitempty"`
	Local        []DeviceRecord `json:"local,omitempty"`
}
