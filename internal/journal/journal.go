// Package journal persists an edit session's reconciled state — the last
// authoritative snapshot plus the pending unconfirmed operations — so a
// restarted client can inspect or resume from where it left off.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wayfarerhq/plansync/internal/plan"
)

var ErrInvalidConfig = errors.New("invalid journal configuration")

// Key identifies one session's journal row. File backends encode the key
// in the path the caller picks; the Postgres backend filters on it so
// sessions can share a database.
type Key struct {
	GroupID  string
	PlanID   string
	ClientID string
}

func (k Key) validate() error {
	if strings.TrimSpace(k.GroupID) == "" || strings.TrimSpace(k.PlanID) == "" || strings.TrimSpace(k.ClientID) == "" {
		return fmt.Errorf("%w: journal key requires groupID, planID and clientID", ErrInvalidConfig)
	}
	return nil
}

// Record is one journal entry: the full day-partitioned snapshot
// (tombstones included) and the local operations not yet confirmed by a
// snapshot.
type Record struct {
	GroupID   string                   `json:"groupId"`
	PlanID    string                   `json:"planId"`
	ClientID  string                   `json:"clientId"`
	Snapshot  map[int]plan.DaySnapshot `json:"snapshot"`
	Pending   []plan.Operation         `json:"pending,omitempty"`
	UpdatedAt time.Time                `json:"updatedAt"`
}

// Backend loads and saves the journal. Load returns (nil, nil) when no
// journal exists yet.
type Backend interface {
	Load() (*Record, error)
	Save(record *Record) error
}

// Open picks a backend: a Postgres DSN wins over a file path; with neither
// configured it returns ErrInvalidConfig.
func Open(filePath, postgresDSN string, key Key) (Backend, error) {
	if strings.TrimSpace(postgresDSN) != "" {
		return NewPostgresBackend(postgresDSN, key)
	}
	if strings.TrimSpace(filePath) != "" {
		return NewFileBackend(filePath), nil
	}
	return nil, ErrInvalidConfig
}

// FileBackend stores the journal as one JSON file, written atomically via
// a temp file rename.
type FileBackend struct {
	Path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: strings.TrimSpace(path)}
}

func (b *FileBackend) Load() (*Record, error) {
	if b == nil || b.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (b *FileBackend) Save(record *Record) error {
	if b == nil || b.Path == "" || record == nil {
		return nil
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}
