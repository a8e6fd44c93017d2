// Package store persists the identifier of the last connected display so the
// remote can reconnect to it on the next start.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoDevice is returned when no device has been stored yet.
var ErrNoDevice = errors.New("no last device stored")

// LastDeviceStore reads and writes the last known device.
type LastDeviceStore interface {
	LastDevice() (string, error)
	SetLastDevice(deviceID string) error
}

type state struct {
	LastDevice string    `yaml:"last_device"`
	UpdatedAt  time.Time `yaml:"updated_at"`
}

// DefaultPath is the state file under the user's configuration directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config dir: %w", err)
	}
	return filepath.Join(dir, "scorectl", "state.yaml"), nil
}

// FileStore keeps the state in a YAML file.
type FileStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) LastDevice() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return "", err
	}
	if st.LastDevice == "" {
		return "", ErrNoDevice
	}
	return st.LastDevice, nil
}

func (s *FileStore) SetLastDevice(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("empty device id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil && !errors.Is(err, ErrNoDevice) {
		return err
	}
	st.LastDevice = deviceID
	st.UpdatedAt = s.now().UTC()

	data, err := yaml.Marshal(&st)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	// Write to a sibling file and rename so readers never see a partial file
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace state: %w", err)
	}
	return nil
}

func (s *FileStore) load() (state, error) {
	var st state
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, ErrNoDevice
	}
	if err != nil {
		return st, fmt.Errorf("failed to read state %s: %w", s.path, err)
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("failed to parse state %s: %w", s.path, err)
	}
	return st, nil
}

// MemoryStore is an in-process LastDeviceStore.
type MemoryStore struct {
	mu     sync.Mutex
	device string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) LastDevice() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == "" {
		return "", ErrNoDevice
	}
	return s.device, nil
}

func (s *MemoryStore) SetLastDevice(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("empty device id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = deviceID
	return nil
}
