package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/scems-network/scems/internal/domain"
)

// ─── Agent Repository ───────────────────────────────────────────────────────
// Implements domain.AgentStore.

// UpsertAgent inserts or replaces the record for rec.Name in one statement.
func (d *DB) UpsertAgent(rec domain.AgentRecord) error {
	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	status := rec.Status
	if status == "" {
		status = domain.HealthUnknown
	}
	_, err = d.db.Exec(
		`INSERT INTO agents (name, base_url, health_url, capabilities, last_seen, status)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			base_url=excluded.base_url,
			health_url=excluded.health_url,
			capabilities=excluded.capabilities,
			last_seen=excluded.last_seen,
			status=excluded.status`,
		rec.Name, rec.BaseURL, rec.HealthURL, string(caps), unixNano(rec.LastSeen), string(status),
	)
	return err
}

// GetAgent retrieves a single agent by name. Returns nil when absent.
func (d *DB) GetAgent(name string) (*domain.AgentRecord, error) {
	row := d.db.QueryRow(
		`SELECT name, base_url, health_url, capabilities, last_seen, status
		 FROM agents WHERE name = ?`, name,
	)
	rec, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListAgents returns every persisted agent ordered by name.
func (d *DB) ListAgents() ([]domain.AgentRecord, error) {
	rows, err := d.db.Query(
		`SELECT name, base_url, health_url, capabilities, last_seen, status
		 FROM agents ORDER BY name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []domain.AgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *rec)
	}
	return agents, rows.Err()
}

// DeleteAgent removes an agent record.
func (d *DB) DeleteAgent(name string) error {
	result, err := d.db.Exec(`DELETE FROM agents WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

func scanAgent(s scanner) (*domain.AgentRecord, error) {
	var rec domain.AgentRecord
	var caps string
	var lastSeen int64
	var status string

	if err := s.Scan(&rec.Name, &rec.BaseURL, &rec.HealthURL, &caps, &lastSeen, &status); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &rec.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities of %s: %w", rec.Name, err)
	}
	rec.LastSeen = fromUnixNano(lastSeen)
	rec.Status = domain.HealthStatus(status)
	return &rec, nil
}
