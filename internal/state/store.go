package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"datastack/internal/services"
	"datastack/pkg/logging"
)

const stateFileName = "state.json"

// ServiceRecord is the persisted view of one service after a run.
type ServiceRecord struct {
	Name      string                `json:"name"`
	State     services.RuntimeState `json:"state"`
	Handle    string                `json:"handle,omitempty"`
	SpecHash  string                `json:"specHash,omitempty"`
	LastError string                `json:"lastError,omitempty"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// Snapshot is the persisted state of a whole deployment.
type Snapshot struct {
	Platform string                   `json:"platform"`
	SavedAt  time.Time                `json:"savedAt"`
	Services map[string]ServiceRecord `json:"services"`
}

// Store persists deployment state as JSON under the configuration
// directory, so status works without touching the container engine and
// successive runs can report what changed.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore creates a store writing into dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, stateFileName)
}

// Save persists the given state table snapshot.
func (s *Store) Save(platform string, statuses map[string]services.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := Snapshot{
		Platform: platform,
		SavedAt:  time.Now(),
		Services: make(map[string]ServiceRecord, len(statuses)),
	}
	for name, status := range statuses {
		record := ServiceRecord{
			Name:      name,
			State:     status.State,
			Handle:    status.Handle,
			SpecHash:  status.SpecHash,
			UpdatedAt: status.UpdatedAt,
		}
		if status.LastError != nil {
			record.LastError = status.LastError.Error()
		}
		snapshot.Services[name] = record
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create state directory %s: %w", s.dir, err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	// Write-then-rename so a crash mid-write never leaves a truncated
	// snapshot behind; status falls back on this file.
	tmp, err := os.CreateTemp(s.dir, stateFileName+".*")
	if err != nil {
		return fmt.Errorf("create temp state file in %s: %w", s.dir, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state file %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close state file %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod state file %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.Path()); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename state file to %s: %w", s.Path(), err)
	}

	logging.Debug("state", "Saved state for %d service(s) to %s", len(snapshot.Services), s.Path())
	return nil
}

// Load reads the last persisted snapshot. A missing file is not an
// error; it returns an empty snapshot.
func (s *Store) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{Services: map[string]ServiceRecord{}}, nil
		}
		return Snapshot{}, fmt.Errorf("read state file %s: %w", s.Path(), err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("parse state file %s: %w", s.Path(), err)
	}
	if snapshot.Services == nil {
		snapshot.Services = map[string]ServiceRecord{}
	}
	return snapshot, nil
}

// Clear removes the persisted state file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file %s: %w", s.Path(), err)
	}
	return nil
}
