package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresBackend keeps one journal row per (group, plan, client) in a
// plansync_journal table, created on open if missing. The key is fixed at
// construction; Load and Save only ever touch that one row, so multiple
// sessions can share a DSN.
type PostgresBackend struct {
	db       *sql.DB
	groupID  string
	planID   string
	clientID string
}

func NewPostgresBackend(dsn string, key Key) (*PostgresBackend, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres journal: %w", err)
	}
	backend := &PostgresBackend{
		db:       db,
		groupID:  key.GroupID,
		planID:   key.PlanID,
		clientID: key.ClientID,
	}
	if err := backend.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return backend, nil
}

func (b *PostgresBackend) ensureSchema() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS plansync_journal (
			group_id   TEXT NOT NULL,
			plan_id    TEXT NOT NULL,
			client_id  TEXT NOT NULL,
			record     JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (group_id, plan_id, client_id)
		)`)
	if err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Load() (*Record, error) {
	row := b.db.QueryRow(`
		SELECT record FROM plansync_journal
		WHERE group_id = $1 AND plan_id = $2 AND client_id = $3`,
		b.groupID, b.planID, b.clientID)
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load journal: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode journal record: %w", err)
	}
	return &record, nil
}

func (b *PostgresBackend) Save(record *Record) error {
	if record == nil {
		return nil
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}
	_, err = b.db.Exec(`
		INSERT INTO plansync_journal (group_id, plan_id, client_id, record, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (group_id, plan_id, client_id)
		DO UPDATE SET record = EXCLUDED.record, updated_at = now()`,
		b.groupID, b.planID, b.clientID, data)
	if err != nil {
		return fmt.Errorf("save journal: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Close() error {
	return b.db.Close()
}
