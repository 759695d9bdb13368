package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kisman271128/salesman-dashboard/internal/audit"
	"github.com/kisman271128/salesman-dashboard/internal/config"
	"github.com/kisman271128/salesman-dashboard/internal/fingerprint"
	"github.com/kisman271128/salesman-dashboard/internal/model"
)

// fakeStore is an in-memory DeviceStore with injectable failures.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]*fakeUser

	readErr  error
	writeErr error
	// conflictsLeft makes the next N writes fail with ErrConflict, running
	// onConflict first to simulate the concurrent writer.
	conflictsLeft int
	onConflict    func(s *fakeStore)

	writes        int
	legacyCleared []string
}

type fakeUser struct {
	role   string
	stored model.StoredDevices
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*fakeUser{}}
}

func (s *fakeStore) addUser(userID, role string, stored model.StoredDevices) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = &fakeUser{role: role, stored: stored}
}

func (s *fakeStore) devices(userID string) []model.DeviceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.DeviceRecord(nil), s.users[userID].stored.Devices...)
}

func (s *fakeStore) ReadDevices(_ context.Context, userID string) (*model.UserDevices, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readErr != nil {
		return nil, s.readErr
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUserNotFound, userID)
	}

	stored := u.stored
	stored.Devices = append([]model.DeviceRecord(nil), u.stored.Devices...)
	if u.stored.Legacy != nil {
		legacy := *u.stored.Legacy
		stored.Legacy = &legacy
	}
	return &model.UserDevices{UserID: userID, Role: u.role, Stored: stored}, nil
}

func (s *fakeStore) WriteDevices(_ context.Context, userID string, stored model.StoredDevices, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		if s.onConflict != nil {
			s.onConflict(s)
		}
		return model.ErrConflict
	}
	if s.writeErr != nil {
		return s.writeErr
	}

	u, ok := s.users[userID]
	if !ok {
		u = &fakeUser{}
		s.users[userID] = u
	}
	stored.Version = expectedVersion + 1
	if expectedVersion <= 0 {
		stored.Version = u.stored.Version + 1
	}
	u.stored = stored
	s.writes++
	return nil
}

func (s *fakeStore) ClearLegacy(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.legacyCleared = append(s.legacyCleared, userID)
	return nil
}

type fakeLimiter struct {
	allow  bool
	resets []string
}

func (l *fakeLimiter) Allow(context.Context, string) bool { return l.allow }
func (l *fakeLimiter) Reset(_ context.Context, userID string) {
	l.resets = append(l.resets, userID)
}

func newTestService(store model.DeviceStore) *DeviceService {
	cfg := config.DeviceConfig{
		MaxDevices:   2,
		BypassUserID: "admin",
		BypassRole:   "admin",
	}
	publisher := audit.NewPublisher(nil, nil, nil, nil, &config.Config{})
	return NewDeviceService(store, nil, nil, publisher, cfg)
}

func chromeVector() model.CharacteristicsVector {
	return model.CharacteristicsVector{
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0 Safari/537.36",
		Platform:     "Win32",
		Language:     "id-ID",
		ScreenWidth:  1920,
		ScreenHeight: 1080,
		ColorDepth:   24,
		Timezone:     "Asia/Jakarta",
	}
}

func androidVector() model.CharacteristicsVector {
	return model.CharacteristicsVector{
		UserAgent:      "Mozilla/5.0 (Linux; Android 13; SM-A525F) Chrome/120.0 Mobile Safari/537.36",
		Platform:       "Linux armv8l",
		Language:       "id-ID",
		ScreenWidth:    412,
		ScreenHeight:   915,
		ColorDepth:     24,
		Timezone:       "Asia/Jakarta",
		TouchSupport:   true,
		MaxTouchPoints: 5,
	}
}

func firefoxVector() model.CharacteristicsVector {
	v := chromeVector()
	v.UserAgent = "Mozilla/5.0 (Windows NT 10.0; rv:120.0) Gecko/20100101 Firefox/120.0"
	return v
}

func TestValidateRegistersFirstDevice(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "salesman", model.StoredDevices{Version: 1})
	svc := newTestService(store)

	result := svc.ValidateDevice(context.Background(), "S001", "", chromeVector())

	require.True(t, result.Success)
	assert.Equal(t, model.DecisionRegistered, result.Kind)
	assert.True(t, result.IsNewRegistration)
	assert.Equal(t, "Device berhasil didaftarkan", result.Message)
	assert.Equal(t, 1, result.DeviceNumber)
	assert.Equal(t, 1, result.TotalDevices)
	assert.Equal(t, 2, result.MaxDevices)

	devices := store.devices("S001")
	require.Len(t, devices, 1)
	assert.Equal(t, result.Fingerprint, devices[0].Fingerprint)
	assert.Equal(t, "Chrome", devices[0].Info.Browser)
	assert.Equal(t, "Windows", devices[0].Info.OS)
}

func TestValidateRecognizesRegisteredDevice(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "salesman", model.StoredDevices{Version: 1})
	svc := newTestService(store)

	first := svc.ValidateDevice(context.Background(), "S001", "", chromeVector())
	require.True(t, first.IsNewRegistration)

	second := svc.ValidateDevice(context.Background(), "S001", "", chromeVector())
	require.True(t, second.Success)
	assert.Equal(t, model.DecisionValidated, second.Kind)
	assert.False(t, second.IsNewRegistration)
	assert.Equal(t, "Device tervalidasi", second.Message)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)

	// Still one slot occupied, revalidated as often as you like.
	for i := 0; i < 5; i++ {
		r := svc.ValidateDevice(context.Background(), "S001", "", chromeVector())
		assert.Equal(t, model.DecisionValidated, r.Kind)
	}
	assert.Len(t, store.devices("S001"), 1)
}

func TestValidateUpdatesLastUsed(t *testing.T) {
	store := newFakeStore()
	past := time.Now().UTC().Add(-24 * time.Hour)
	fp := fingerprint.Generate(chromeVector())
	store.addUser("S001", "salesman", model.StoredDevices{
		Version: 3,
		Devices: []model.DeviceRecord{{
			Fingerprint:  fp,
			RegisteredAt: past,
			LastUsed:     past,
		}},
	})
	svc := newTestService(store)

	result := svc.ValidateDevice(context.Background(), "S001", "", chromeVector())
	require.Equal(t, model.DecisionValidated, result.Kind)

	devices := store.devices("S001")
	require.Len(t, devices, 1)
	assert.Equal(t, past, devices[0].RegisteredAt)
	assert.True(t, devices[0].LastUsed.After(past))
}

func TestValidateEnforcesDeviceLimit(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "salesman", model.StoredDevices{Version: 1})
	svc := newTestService(store)

	require.True(t, svc.ValidateDevice(context.Background(), "S001", "", chromeVector()).Success)
	require.True(t, svc.ValidateDevice(context.Background(), "S001", "", androidVector()).Success)

	third := svc.ValidateDevice(context.Background(), "S001", "", firefoxVector())
	assert.False(t, third.Success)
	assert.Equal(t, model.DecisionLimitReached, third.Kind)
	assert.Contains(t, third.Message, "Batas maksimal 2 device")
	assert.Equal(t, 2, third.TotalDevices)
	assert.Len(t, third.RegisteredDevices, 2)

	// The rejected device never occupies a slot.
	assert.Len(t, store.devices("S001"), 2)

	// Known devices keep validating at the limit.
	again := svc.ValidateDevice(context.Background(), "S001", "", chromeVector())
	assert.Equal(t, model.DecisionValidated, again.Kind)
}

func TestValidateUserNotFound(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	result := svc.ValidateDevice(context.Background(), "ghost", "", chromeVector())
	assert.False(t, result.Success)
	assert.Equal(t, model.DecisionNotFound, result.Kind)
	assert.Equal(t, 0, store.writes)
}

func TestValidateBypassUserID(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	// No user record exists; bypass wins before the store is consulted.
	result := svc.ValidateDevice(context.Background(), "admin", "", chromeVector())
	require.True(t, result.Success)
	assert.True(t, result.IsBypass)
	assert.Equal(t, model.DecisionBypass, result.Kind)
	assert.Equal(t, 0, store.writes)
}

func TestValidateBypassRole(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	result := svc.ValidateDevice(context.Background(), "someone", "admin", chromeVector())
	assert.True(t, result.IsBypass)
}

func TestValidateBypassStoredRole(t *testing.T) {
	store := newFakeStore()
	store.addUser("boss", "admin", model.StoredDevices{Version: 1})
	svc := newTestService(store)

	result := svc.ValidateDevice(context.Background(), "boss", "", chromeVector())
	assert.True(t, result.IsBypass)
	assert.Equal(t, 0, store.writes)
}

func TestValidateBypassNeverRegisters(t *testing.T) {
	store := newFakeStore()
	store.addUser("admin", "admin", model.StoredDevices{Version: 1})
	svc := newTestService(store)

	for i := 0; i < 3; i++ {
		svc.ValidateDevice(context.Background(), "admin", "", chromeVector())
	}
	assert.Empty(t, store.devices("admin"))
}

func TestValidateFailsOpenWhenStoreDown(t *testing.T) {
	store := newFakeStore()
	store.readErr = fmt.Errorf("%w: all tiers down", model.ErrUnavailable)
	svc := newTestService(store)

	result := svc.ValidateDevice(context.Background(), "S001", "", chromeVector())
	require.True(t, result.Success)
	assert.True(t, result.Skipped)
	assert.Equal(t, model.DecisionSkipped, result.Kind)
	assert.Equal(t, 0, store.writes)
}

func TestValidateRateLimited(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "salesman", model.StoredDevices{Version: 1})

	publisher := audit.NewPublisher(nil, nil, nil, nil, &config.Config{})
	svc := NewDeviceService(store, nil, &fakeLimiter{allow: false}, publisher, config.DeviceConfig{
		MaxDevices:   2,
		BypassUserID: "admin",
		BypassRole:   "admin",
	})

	result := svc.ValidateDevice(context.Background(), "S001", "", chromeVector())
	assert.False(t, result.Success)
	assert.Equal(t, model.DecisionRateLimited, result.Kind)
	assert.Equal(t, 0, store.writes)

	// Bypass is decided before the limiter.
	bypass := svc.ValidateDevice(context.Background(), "admin", "", chromeVector())
	assert.True(t, bypass.IsBypass)
}

func TestValidateEmptyUserID(t *testing.T) {
	svc := newTestService(newFakeStore())

	result := svc.ValidateDevice(context.Background(), "  ", "", chromeVector())
	assert.False(t, result.Success)
	assert.Equal(t, model.DecisionNotFound, result.Kind)
}

func TestValidateMigratesLegacyDevice(t *testing.T) {
	store := newFakeStore()
	fp := fingerprint.Generate(chromeVector())
	registered := time.Now().UTC().Add(-48 * time.Hour)
	store.addUser("S001", "salesman", model.StoredDevices{
		Version: 2,
		Legacy: &model.DeviceRecord{
			Fingerprint:  fp,
			RegisteredAt: registered,
			LastUsed:     registered,
		},
	})
	svc := newTestService(store)

	result := svc.ValidateDevice(context.Background(), "S001", "", chromeVector())
	require.True(t, result.Success)
	// The migrated device is recognized, not re-registered.
	assert.Equal(t, model.DecisionValidated, result.Kind)
	assert.False(t, result.IsNewRegistration)

	devices := store.devices("S001")
	require.Len(t, devices, 1)
	assert.Equal(t, fp, devices[0].Fingerprint)
	assert.Equal(t, registered, devices[0].RegisteredAt)
	assert.Contains(t, store.legacyCleared, "S001")

	// Migration happens once; the second validation sees a clean record.
	store.legacyCleared = nil
	again := svc.ValidateDevice(context.Background(), "S001", "", chromeVector())
	assert.Equal(t, model.DecisionValidated, again.Kind)
	assert.Len(t, store.devices("S001"), 1)
}

func TestValidateMigratesLegacyThenRegistersNewDevice(t *testing.T) {
	store := newFakeStore()
	legacyFP := fingerprint.Generate(chromeVector())
	store.addUser("S001", "salesman", model.StoredDevices{
		Version: 2,
		Legacy:  &model.DeviceRecord{Fingerprint: legacyFP},
	})
	svc := newTestService(store)

	result := svc.ValidateDevice(context.Background(), "S001", "", androidVector())
	require.True(t, result.Success)
	assert.Equal(t, model.DecisionRegistered, result.Kind)
	assert.Equal(t, 2, result.DeviceNumber)

	devices := store.devices("S001")
	require.Len(t, devices, 2)
	assert.Equal(t, legacyFP, devices[0].Fingerprint)
}

func TestValidateRetriesOnceOnConflict(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "salesman", model.StoredDevices{Version: 1})
	svc := newTestService(store)

	fp := fingerprint.Generate(chromeVector())
	store.conflictsLeft = 1
	store.onConflict = func(s *fakeStore) {
		// The concurrent session won the race and registered this device.
		u := s.users["S001"]
		u.stored.Devices = append(u.stored.Devices, model.DeviceRecord{
			Fingerprint:  fp,
			RegisteredAt: time.Now().UTC(),
			LastUsed:     time.Now().UTC(),
		})
		u.stored.Version++
	}

	result := svc.ValidateDevice(context.Background(), "S001", "", chromeVector())
	require.True(t, result.Success)
	assert.Equal(t, model.DecisionValidated, result.Kind)
	assert.Len(t, store.devices("S001"), 1)
}

func TestValidateFailsOpenOnRepeatedConflict(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "salesman", model.StoredDevices{Version: 1})
	store.conflictsLeft = 10
	svc := newTestService(store)

	result := svc.ValidateDevice(context.Background(), "S001", "", chromeVector())
	require.True(t, result.Success)
	assert.True(t, result.Skipped)
	assert.Equal(t, model.DecisionSkipped, result.Kind)
}

func TestResetAllDevices(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "salesman", model.StoredDevices{Version: 1})

	limiter := &fakeLimiter{allow: true}
	publisher := audit.NewPublisher(nil, nil, nil, nil, &config.Config{})
	svc := NewDeviceService(store, nil, limiter, publisher, config.DeviceConfig{
		MaxDevices:   2,
		BypassUserID: "admin",
		BypassRole:   "admin",
	})

	require.True(t, svc.ValidateDevice(context.Background(), "S001", "", chromeVector()).Success)
	require.True(t, svc.ValidateDevice(context.Background(), "S001", "", androidVector()).Success)
	require.Len(t, store.devices("S001"), 2)

	result, err := svc.ResetAllDevices(context.Background(), "S001")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, store.devices("S001"))
	assert.Contains(t, limiter.resets, "S001")

	// Both slots free again.
	reg := svc.ValidateDevice(context.Background(), "S001", "", firefoxVector())
	assert.Equal(t, model.DecisionRegistered, reg.Kind)
	assert.Equal(t, 1, reg.DeviceNumber)
}

func TestResetAllDevicesIdempotent(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "salesman", model.StoredDevices{Version: 1})
	svc := newTestService(store)

	for i := 0; i < 2; i++ {
		result, err := svc.ResetAllDevices(context.Background(), "S001")
		require.NoError(t, err)
		assert.True(t, result.Success)
	}
}

func TestResetAllDevicesUserNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, err := svc.ResetAllDevices(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRemoveDevice(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "salesman", model.StoredDevices{Version: 1})
	svc := newTestService(store)

	first := svc.ValidateDevice(context.Background(), "S001", "", chromeVector())
	second := svc.ValidateDevice(context.Background(), "S001", "", androidVector())
	require.Len(t, store.devices("S001"), 2)

	result, err := svc.RemoveDevice(context.Background(), "S001", first.Fingerprint)
	require.NoError(t, err)
	assert.True(t, result.Success)

	devices := store.devices("S001")
	require.Len(t, devices, 1)
	assert.Equal(t, second.Fingerprint, devices[0].Fingerprint)

	// The freed slot is reusable.
	reg := svc.ValidateDevice(context.Background(), "S001", "", firefoxVector())
	assert.Equal(t, model.DecisionRegistered, reg.Kind)
}

func TestRemoveDeviceUnknownFingerprint(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "salesman", model.StoredDevices{Version: 1})
	svc := newTestService(store)

	result, err := svc.RemoveDevice(context.Background(), "S001", "nope")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Device tidak ditemukan", result.Message)
}

func TestGetRegisteredDevices(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "salesman", model.StoredDevices{Version: 1})
	svc := newTestService(store)

	devices, err := svc.GetRegisteredDevices(context.Background(), "S001")
	require.NoError(t, err)
	assert.Empty(t, devices)

	svc.ValidateDevice(context.Background(), "S001", "", chromeVector())

	devices, err = svc.GetRegisteredDevices(context.Background(), "S001")
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestRemoveDeviceClearsLegacyRecord(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "salesman", model.StoredDevices{
		Version: 1,
		Legacy:  &model.DeviceRecord{Fingerprint: "legacy-fp"},
	})
	svc := newTestService(store)

	// The legacy record is listed as the user's device, so it must be
	// removable by the fingerprint the listing reports.
	devices, err := svc.GetRegisteredDevices(context.Background(), "S001")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "legacy-fp", devices[0].Fingerprint)

	result, err := svc.RemoveDevice(context.Background(), "S001", devices[0].Fingerprint)
	require.NoError(t, err)
	assert.True(t, result.Success)

	assert.Nil(t, store.users["S001"].stored.Legacy)

	devices, err = svc.GetRegisteredDevices(context.Background(), "S001")
	require.NoError(t, err)
	assert.Empty(t, devices)

	count, err := svc.GetDeviceCount(context.Background(), "S001")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestValidateFlagsSkippedWhenPersistFails(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "salesman", model.StoredDevices{Version: 1})
	store.writeErr = fmt.Errorf("%w: both tiers down", model.ErrUnavailable)
	svc := newTestService(store)

	result := svc.ValidateDevice(context.Background(), "S001", "", chromeVector())
	require.True(t, result.Success)
	assert.Equal(t, model.DecisionRegistered, result.Kind)
	// The registration isn't durable; the pass-through is flagged.
	assert.True(t, result.Skipped)
	assert.Empty(t, store.devices("S001"))
}

func TestNoStoredRoleBypassWhenUnconfigured(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "", model.StoredDevices{Version: 1})

	publisher := audit.NewPublisher(nil, nil, nil, nil, &config.Config{})
	svc := NewDeviceService(store, nil, nil, publisher, config.DeviceConfig{MaxDevices: 2})

	// With no bypass role configured, a user whose stored role is empty
	// goes through slot allocation like everyone else.
	result := svc.ValidateDevice(context.Background(), "S001", "", chromeVector())
	require.True(t, result.Success)
	assert.False(t, result.IsBypass)
	assert.Equal(t, model.DecisionRegistered, result.Kind)
}

func TestGetRegisteredDevicesShowsLegacyWithoutMigrating(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "salesman", model.StoredDevices{
		Version: 1,
		Legacy:  &model.DeviceRecord{Fingerprint: "legacy-fp"},
	})
	svc := newTestService(store)

	devices, err := svc.GetRegisteredDevices(context.Background(), "S001")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "legacy-fp", devices[0].Fingerprint)

	// Read paths never persist the migration.
	assert.Equal(t, 0, store.writes)
}

func TestDeviceCountAndLimit(t *testing.T) {
	store := newFakeStore()
	store.addUser("S001", "salesman", model.StoredDevices{Version: 1})
	svc := newTestService(store)

	count, err := svc.GetDeviceCount(context.Background(), "S001")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	reached, err := svc.IsDeviceLimitReached(context.Background(), "S001")
	require.NoError(t, err)
	assert.False(t, reached)

	svc.ValidateDevice(context.Background(), "S001", "", chromeVector())
	svc.ValidateDevice(context.Background(), "S001", "", androidVector())

	count, err = svc.GetDeviceCount(context.Background(), "S001")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	reached, err = svc.IsDeviceLimitReached(context.Background(), "S001")
	require.NoError(t, err)
	assert.True(t, reached)
}
