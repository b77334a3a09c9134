package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zabbar/zabbar/internal/models"
)

const (
	sqliteFileName = "zabbar.db"

	snapshotKey = "snapshot"
	statusKey   = "status"
)

// SQLiteStore publishes the snapshot into a small key-value table. A
// transactional UPSERT is the atomic-commit primitive here; the consumer
// process opens the same database read-only on its own schedule.
type SQLiteStore struct {
	notifier
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the sqlite store under dataDir.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	path := filepath.Join(dataDir, sqliteFileName)
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS published (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		saved_at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create published table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save atomically replaces the published snapshot.
func (s *SQLiteStore) Save(snapshot models.Snapshot) error {
	if err := s.put(snapshotKey, snapshot); err != nil {
		return err
	}
	s.notifyIfChanged(snapshot)
	return nil
}

// Load returns the published snapshot, or a zero-value snapshot when absent
// or undecodable.
func (s *SQLiteStore) Load() (models.Snapshot, error) {
	var snapshot models.Snapshot
	if !s.get(snapshotKey, &snapshot) {
		return models.Snapshot{}, nil
	}
	return snapshot, nil
}

// SaveStatus publishes the side-channel agent status.
func (s *SQLiteStore) SaveStatus(status models.AgentStatus) error {
	return s.put(statusKey, status)
}

// LoadStatus returns the last published status.
func (s *SQLiteStore) LoadStatus() (models.AgentStatus, error) {
	var status models.AgentStatus
	if !s.get(statusKey, &status) {
		return models.AgentStatus{}, nil
	}
	return status, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) put(key string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO published(key, payload, saved_at) VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		key, payload, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return tx.Commit()
}

// get reports whether a decodable payload existed for the key.
func (s *SQLiteStore) get(key string, v interface{}) bool {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM published WHERE key = ?`, key).Scan(&payload)
	if err != nil {
		return false
	}
	return json.Unmarshal(payload, v) == nil
}
