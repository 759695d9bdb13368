package local

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kisman271128/salesman-dashboard/internal/model"
	"github.com/kisman271128/salesman-dashboard/internal/util"
)

// FileDeviceStore is the degraded-availability fallback tier: one JSON file
// per user under a data directory, used only while the remote tier is
// unreachable. It is never reconciled with the remote tier; that gap is a
// documented property of the system, not an oversight to patch here.
type FileDeviceStore struct {
	dataDir string
	mutex   sync.RWMutex
}

func NewFileDeviceStore(dataDir string) (*FileDeviceStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local device store directory: %w", err)
	}
	return &FileDeviceStore{dataDir: dataDir}, nil
}

// Get reads the stored record for one user. A missing or malformed file
// reads as nil: the fallback tier never blocks a decision over its own
// contents.
func (s *FileDeviceStore) Get(userID string) (*model.StoredDevices, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read local devices: %v", model.ErrTransport, err)
	}

	var stored model.StoredDevices
	if err := json.Unmarshal(data, &stored); err != nil {
		util.Warn("Malformed local device record, treating as missing",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, nil
	}
	return &stored, nil
}

// Set replaces the stored record for one user
func (s *FileDeviceStore) Set(userID string, stored model.StoredDevices) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if stored.Devices == nil {
		stored.Devices = []model.DeviceRecord{}
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal local devices: %w", err)
	}

	path := s.path(userID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write local devices: %v", model.ErrTransport, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: write local devices: %v", model.ErrTransport, err)
	}
	return nil
}

// Remove deletes the stored record; removing a missing record is not an
// error.
func (s *FileDeviceStore) Remove(userID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.Remove(s.path(userID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove local devices: %v", model.ErrTransport, err)
	}
	return nil
}

// path maps a user to its devices_<userID>.json file, sanitizing path
// separators out of the identifier.
func (s *FileDeviceStore) path(userID string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(userID)
	return filepath.Join(s.dataDir, "devices_"+safe+".json")
}
