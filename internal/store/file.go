package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/zabbar/zabbar/internal/models"
)

const (
	snapshotFileName = "snapshot.json"
	statusFileName   = "status.json"
)

// FileStore publishes the snapshot as a JSON file. The write goes to a
// temporary file first and is committed with an atomic rename, so the consumer
// process can read the file at any moment without locking.
type FileStore struct {
	notifier
	snapshotPath string
	statusPath   string
}

// NewFileStore creates a file-backed store under dataDir.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{
		snapshotPath: filepath.Join(dataDir, snapshotFileName),
		statusPath:   filepath.Join(dataDir, statusFileName),
	}, nil
}

// Save atomically replaces the published snapshot.
func (s *FileStore) Save(snapshot models.Snapshot) error {
	if err := writeJSONAtomic(s.snapshotPath, snapshot); err != nil {
		return err
	}
	s.notifyIfChanged(snapshot)
	return nil
}

// Load returns the published snapshot, or a zero-value snapshot when the file
// is absent or unreadable.
func (s *FileStore) Load() (models.Snapshot, error) {
	var snapshot models.Snapshot

	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return snapshot, nil
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		log.Warn().Str("path", s.snapshotPath).Err(err).Msg("Snapshot file unreadable, returning empty snapshot")
		return models.Snapshot{}, nil
	}
	return snapshot, nil
}

// SaveStatus publishes the side-channel agent status.
func (s *FileStore) SaveStatus(status models.AgentStatus) error {
	return writeJSONAtomic(s.statusPath, status)
}

// LoadStatus returns the last published status.
func (s *FileStore) LoadStatus() (models.AgentStatus, error) {
	var status models.AgentStatus

	data, err := os.ReadFile(s.statusPath)
	if err != nil {
		return status, nil
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return models.AgentStatus{}, nil
	}
	return status, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error {
	return nil
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
