package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/kisman271128/salesman-dashboard/internal/model"
)

// Event types emitted on the device audit topic.
const (
	EventDeviceRegistered = "device_registered"
	EventDeviceValidated  = "device_validated"
	EventLimitReached     = "device_limit_reached"
	EventUserNotFound     = "device_user_not_found"
	EventBypass           = "device_bypass"
	EventCheckSkipped     = "device_check_skipped"
	EventDevicesReset     = "devices_reset"
	EventDeviceRemoved    = "device_removed"
	EventLegacyMigrated   = "device_legacy_migrated"
)

// DeviceEvent is one entry in the device audit trail. It is published to
// Kafka and mirrored into ClickHouse for analytics.
type DeviceEvent struct {
	EventID     string            `json:"event_id"`
	EventBucket int               `json:"event_bucket"`
	UserID      string            `json:"user_id"`
	EventDate   string            `json:"event_date"`
	EventTime   time.Time         `json:"event_time"`
	EventType   string            `json:"event_type"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	DeviceInfo  *model.DeviceInfo `json:"device_info,omitempty"`
	Degraded    bool              `json:"degraded,omitempty"`
	Details     string            `json:"details,omitempty"`
}

func NewDeviceEvent(eventType, userID string) *DeviceEvent {
	now := time.Now().UTC()
	return &DeviceEvent{
		EventID:   uuid.New().String(),
		UserID:    userID,
		EventDate: now.Format("2006-01-02"),
		EventTime: now,
		EventType: eventType,
	}
}

// IndexedDevice is the Elasticsearch document behind the admin device
// search. One document per registered device, id "<user_id>:<fingerprint>".
type IndexedDevice struct {
	UserID       string    `json:"user_id"`
	Fingerprint  string    `json:"fingerprint"`
	Device       string    `json:"device"`
	Browser      string    `json:"browser"`
	OS           string    `json:"os"`
	Screen       string    `json:"screen,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	LastUsed     time.Time `json:"last_used"`
}

func (d *IndexedDevice) DocID() string {
	return d.UserID + ":" + d.Fingerprint
}
