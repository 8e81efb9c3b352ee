package ltm

import (
	"time"

	"github.com/scems-network/scems/internal/infra/sqlite"
)

// SQLiteBackend stores entries in the ltm_entries table.
type SQLiteBackend struct {
	db *sqlite.DB
}

// OpenSQLiteBackend opens (or creates) the database file at path.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sqlite.OpenPath(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

// NewSQLiteBackend wraps an already open database. Close closes it.
func NewSQLiteBackend(db *sqlite.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

func (s *SQLiteBackend) Name() string { return BackendSQLite }

func (s *SQLiteBackend) Get(key string, now time.Time) (Entry, bool, error) {
	row, ok, err := s.db.GetLTM(key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	e := fromRow(row)
	if e.Expired(now) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (s *SQLiteBackend) Put(e Entry) error {
	return s.db.PutLTM(sqlite.LTMRow{
		Key:       e.Key,
		Value:     e.Value,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt(),
	})
}

func (s *SQLiteBackend) PrefixQuery(prefix string, now time.Time) ([]Entry, error) {
	rows, err := s.db.QueryLTMPrefix(prefix, now)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func (s *SQLiteBackend) Delete(key string) error { return s.db.DeleteLTM(key) }

func (s *SQLiteBackend) Sweep(now time.Time) (int, error) { return s.db.SweepLTM(now) }

func (s *SQLiteBackend) Close() error { return s.db.Close() }

func fromRow(r sqlite.LTMRow) Entry {
	return Entry{
		Key:       r.Key,
		Value:     r.Value,
		CreatedAt: r.CreatedAt,
		TTL:       r.ExpiresAt.Sub(r.CreatedAt),
	}
}
