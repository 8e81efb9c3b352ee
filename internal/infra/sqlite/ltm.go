package sqlite

import (
	"database/sql"
	"time"
)

// ─── LTM Repository ─────────────────────────────────────────────────────────

// LTMRow is one persisted cache entry.
type LTMRow struct {
	Key       string
	Value     []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PutLTM stores or overwrites an entry. The whole row is replaced atomically.
func (d *DB) PutLTM(row LTMRow) error {
	_, err := d.db.Exec(
		`INSERT INTO ltm_entries (key, value, created_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			created_at=excluded.created_at,
			expires_at=excluded.expires_at`,
		row.Key, row.Value, row.CreatedAt.UnixNano(), row.ExpiresAt.UnixNano(),
	)
	return err
}

// GetLTM returns the entry for key regardless of expiry; ok is false when absent.
func (d *DB) GetLTM(key string) (LTMRow, bool, error) {
	row := d.db.QueryRow(
		`SELECT key, value, created_at, expires_at FROM ltm_entries WHERE key = ?`, key,
	)
	r, err := scanLTM(row)
	if err == sql.ErrNoRows {
		return LTMRow{}, false, nil
	}
	if err != nil {
		return LTMRow{}, false, err
	}
	return r, true, nil
}

// QueryLTMPrefix returns entries whose key starts with prefix and which have
// not expired at now, oldest first.
func (d *DB) QueryLTMPrefix(prefix string, now time.Time) ([]LTMRow, error) {
	rows, err := d.db.Query(
		`SELECT key, value, created_at, expires_at FROM ltm_entries
		 WHERE substr(key, 1, length(?)) = ? AND expires_at >= ?
		 ORDER BY created_at ASC, key ASC`,
		prefix, prefix, now.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LTMRow
	for rows.Next() {
		r, err := scanLTM(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteLTM removes one entry. Deleting an absent key is not an error.
func (d *DB) DeleteLTM(key string) error {
	_, err := d.db.Exec(`DELETE FROM ltm_entries WHERE key = ?`, key)
	return err
}

// SweepLTM deletes every entry expired at now and returns how many went.
func (d *DB) SweepLTM(now time.Time) (int, error) {
	result, err := d.db.Exec(`DELETE FROM ltm_entries WHERE expires_at < ?`, now.UnixNano())
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func scanLTM(s scanner) (LTMRow, error) {
	var r LTMRow
	var created, expires int64
	if err := s.Scan(&r.Key, &r.Value, &created, &expires); err != nil {
		return LTMRow{}, err
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	r.ExpiresAt = time.Unix(0, expires).UTC()
	return r, nil
}
