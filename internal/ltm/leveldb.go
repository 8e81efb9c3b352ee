package ltm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// entryPrefix namespaces cache entries inside the LevelDB keyspace.
const entryPrefix byte = 0x00

// headerSize is created_at + expires_at, both big-endian unix nanos.
const headerSize = 16

var errCorruptRecord = errors.New("ltm: corrupt leveldb record")

// LevelDBBackend stores entries in a LevelDB directory. Values carry a
// fixed 16-byte header with the entry timestamps.
type LevelDBBackend struct {
	db *leveldb.DB
}

// OpenLevelDBBackend opens (or creates) the LevelDB directory at path.
func OpenLevelDBBackend(path string) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelDBBackend{db: db}, nil
}

func (l *LevelDBBackend) Name() string { return BackendLevelDB }

func (l *LevelDBBackend) Get(key string, now time.Time) (Entry, bool, error) {
	raw, err := l.db.Get(makeKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e, err := decodeRecord(key, raw)
	if err != nil {
		return Entry{}, false, err
	}
	if e.Expired(now) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (l *LevelDBBackend) Put(e Entry) error {
	return l.db.Put(makeKey(e.Key), encodeRecord(e), nil)
}

func (l *LevelDBBackend) PrefixQuery(prefix string, now time.Time) ([]Entry, error) {
	iter := l.db.NewIterator(util.BytesPrefix(makeKey(prefix)), nil)
	defer iter.Release()

	var out []Entry
	for iter.Next() {
		e, err := decodeRecord(string(iter.Key()[1:]), iter.Value())
		if err != nil {
			return nil, err
		}
		if !e.Expired(now) {
			out = append(out, e)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sortEntries(out)
	return out, nil
}

func (l *LevelDBBackend) Delete(key string) error {
	return l.db.Delete(makeKey(key), nil)
}

func (l *LevelDBBackend) Sweep(now time.Time) (int, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte{entryPrefix}), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		e, err := decodeRecord(string(iter.Key()[1:]), iter.Value())
		if err != nil || e.Expired(now) {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := l.db.Write(batch, nil); err != nil {
		return 0, err
	}
	return batch.Len(), nil
}

func (l *LevelDBBackend) Close() error { return l.db.Close() }

func makeKey(key string) []byte {
	k := make([]byte, 0, 1+len(key))
	k = append(k, entryPrefix)
	return append(k, key...)
}

func encodeRecord(e Entry) []byte {
	buf := make([]byte, headerSize+len(e.Value))
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.CreatedAt.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(e.ExpiresAt().UnixNano()))
	copy(buf[headerSize:], e.Value)
	return buf
}

func decodeRecord(key string, raw []byte) (Entry, error) {
	if len(raw) < headerSize {
		return Entry{}, fmt.Errorf("%w: %s", errCorruptRecord, key)
	}
	created := time.Unix(0, int64(binary.BigEndian.Uint64(raw[0:8]))).UTC()
	expires := time.Unix(0, int64(binary.BigEndian.Uint64(raw[8:16]))).UTC()
	return Entry{
		Key:       key,
		Value:     append([]byte(nil), raw[headerSize:]...),
		CreatedAt: created,
		TTL:       expires.Sub(created),
	}, nil
}
