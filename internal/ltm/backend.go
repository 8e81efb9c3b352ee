// Package ltm implements the worker's long-term memory: a TTL-bound
// key/value cache with a durable primary backend and a session fallback.
package ltm

import (
	"sort"
	"time"
)

// Backend names accepted by OpenBackend.
const (
	BackendSQLite  = "sqlite"
	BackendLevelDB = "leveldb"
	BackendFile    = "file"
	BackendMemory  = "memory"
)

// Entry is one cached computation result.
type Entry struct {
	Key       string        `json:"key"`
	Value     []byte        `json:"value"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// ExpiresAt is the last instant at which the entry is still fresh.
func (e Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Expired reports whether now is past created_at + ttl.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

func (e Entry) clone() Entry {
	e.Value = append([]byte(nil), e.Value...)
	return e
}

// Backend is the storage contract every LTM store satisfies. Get and
// PrefixQuery never return expired entries. PrefixQuery is ordered by
// CreatedAt ascending, then key.
type Backend interface {
	Name() string
	Get(key string, now time.Time) (Entry, bool, error)
	Put(e Entry) error
	PrefixQuery(prefix string, now time.Time) ([]Entry, error)
	Delete(key string) error
	Sweep(now time.Time) (int, error)
	Close() error
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].Key < entries[j].Key
	})
}
