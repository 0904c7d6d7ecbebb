package journal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wayfarerhq/plansync/internal/plan"
)

func testRecord() *Record {
	return &Record{
		GroupID:  "g1",
		PlanID:   "p1",
		ClientID: "c1",
		Snapshot: map[int]plan.DaySnapshot{
			1: {
				Items: []plan.PlanItem{{
					CrdtID:         "item-1",
					Day:            1,
					Place:          "Old Town Square",
					CategoryCode:   plan.CategorySight,
					Position:       plan.Position{42},
					OpTimestamp:    7,
					OriginClientID: "c1",
				}},
				LastStreamOffset: "off-9",
			},
		},
		Pending: []plan.Operation{{
			OpID:        "op-1",
			ClientID:    "c1",
			OpTimestamp: 8,
			Type:        plan.OpDelete,
			Day:         1,
			Delete:      &plan.DeletePayload{CrdtID: "item-1"},
		}},
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.json")
	backend := NewFileBackend(path)

	if err := backend.Save(testRecord()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatalf("Load returned nil after Save")
	}
	if loaded.GroupID != "g1" || loaded.PlanID != "p1" || loaded.ClientID != "c1" {
		t.Fatalf("identity fields = %+v", loaded)
	}
	day := loaded.Snapshot[1]
	if len(day.Items) != 1 || day.Items[0].CrdtID != "item-1" || day.LastStreamOffset != "off-9" {
		t.Fatalf("snapshot = %+v", day)
	}
	if len(loaded.Pending) != 1 || loaded.Pending[0].Type != plan.OpDelete {
		t.Fatalf("pending = %+v", loaded.Pending)
	}
}

func TestFileBackendLoadMissingFile(t *testing.T) {
	backend := NewFileBackend(filepath.Join(t.TempDir(), "absent.json"))
	record, err := backend.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if record != nil {
		t.Fatalf("Load of missing file = %+v, want nil", record)
	}
}

func TestFileBackendOverwriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	backend := NewFileBackend(filepath.Join(dir, "journal.json"))
	if err := backend.Save(testRecord()); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	second := testRecord()
	second.ClientID = "c2"
	if err := backend.Save(second); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ClientID != "c2" {
		t.Fatalf("ClientID = %q, want latest write", loaded.ClientID)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dir has %d entries, want only the journal file", len(entries))
	}
}

func TestFileBackendRejectsCorruptJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	if _, err := NewFileBackend(path).Load(); err == nil {
		t.Fatalf("Load of corrupt journal succeeded")
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	key := Key{GroupID: "g1", PlanID: "p1", ClientID: "c1"}
	backend, err := Open(filepath.Join(t.TempDir(), "j.json"), "", key)
	if err != nil {
		t.Fatalf("Open with file path: %v", err)
	}
	if _, ok := backend.(*FileBackend); !ok {
		t.Fatalf("Open returned %T, want *FileBackend", backend)
	}

	if _, err := Open("", "", key); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Open with nothing configured = %v, want ErrInvalidConfig", err)
	}
}

func TestPostgresBackendRequiresFullKey(t *testing.T) {
	cases := []Key{
		{},
		{GroupID: "g1"},
		{GroupID: "g1", PlanID: "p1"},
		{GroupID: "g1", ClientID: "c1"},
		{PlanID: "p1", ClientID: "c1"},
	}
	for _, key := range cases {
		if _, err := NewPostgresBackend("postgres://ignored", key); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("NewPostgresBackend(%+v) = %v, want ErrInvalidConfig", key, err)
		}
	}
}
