package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flarestack/flare-relay/internal/models"
)

// ErrNotArchived marks a lookup for an incident that was never archived.
var ErrNotArchived = errors.New("incident not archived")

// Archive persists incident snapshots for audit retention beyond process
// lifetime. Snapshots use the canonical incident encoding.
type Archive interface {
	SaveIncident(ctx context.Context, incident *models.Incident) error
	LoadIncident(ctx context.Context, id string) (*models.Incident, error)
	ListIncidents(ctx context.Context) ([]*models.Incident, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS incidents (
	incident_id TEXT PRIMARY KEY,
	state       TEXT NOT NULL,
	severity    TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	snapshot    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incidents_state ON incidents(state);
`

// SQLiteArchive stores incident snapshots in a local SQLite database.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive opens (and initialises) the archive at path.
func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
	if path == "" {
		return nil, errors.New("archive path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	return &SQLiteArchive{db: db}, nil
}

// SaveIncident upserts the latest snapshot of an incident.
func (a *SQLiteArchive) SaveIncident(ctx context.Context, incident *models.Incident) error {
	snapshot, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("encode incident: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO incidents (incident_id, state, severity, updated_at, snapshot)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(incident_id) DO UPDATE SET
			state = excluded.state,
			severity = excluded.severity,
			updated_at = excluded.updated_at,
			snapshot = excluded.snapshot`,
		incident.IncidentID,
		string(incident.State),
		string(incident.Severity),
		incident.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(snapshot),
	)
	if err != nil {
		return fmt.Errorf("save incident %s: %w", incident.IncidentID, err)
	}
	return nil
}

// LoadIncident returns the archived snapshot for an incident id.
func (a *SQLiteArchive) LoadIncident(ctx context.Context, id string) (*models.Incident, error) {
	var snapshot string
	err := a.db.QueryRowContext(ctx,
		`SELECT snapshot FROM incidents WHERE incident_id = ?`, id).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotArchived)
	}
	if err != nil {
		return nil, fmt.Errorf("load incident %s: %w", id, err)
	}
	return decodeSnapshot(snapshot)
}

// ListIncidents returns every archived snapshot ordered by last update.
func (a *SQLiteArchive) ListIncidents(ctx context.Context) ([]*models.Incident, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT snapshot FROM incidents ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []*models.Incident
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, err
		}
		incident, err := decodeSnapshot(snapshot)
		if err != nil {
			return nil, err
		}
		out = append(out, incident)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (a *SQLiteArchive) Close() error { return a.db.Close() }

func decodeSnapshot(snapshot string) (*models.Incident, error) {
	var incident models.Incident
	if err := json.Unmarshal([]byte(snapshot), &incident); err != nil {
		return nil, fmt.Errorf("decode incident snapshot: %w", err)
	}
	return &incident, nil
}
