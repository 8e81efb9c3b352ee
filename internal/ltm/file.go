package ltm

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileBackend persists the whole entry set as one JSON document, rewritten
// atomically (temp file + rename) on every mutation.
type FileBackend struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
}

// OpenFileBackend loads path, creating its directory when missing. A missing
// file starts an empty store.
func OpenFileBackend(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create ltm dir: %w", err)
	}
	f := &FileBackend{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, f.flush()
	case err != nil:
		return nil, fmt.Errorf("read ltm file: %w", err)
	}

	var list []Entry
	if len(data) > 0 {
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode ltm file %s: %w", path, err)
		}
	}
	for _, e := range list {
		f.entries[e.Key] = e
	}
	return f, nil
}

func (f *FileBackend) Name() string { return BackendFile }

func (f *FileBackend) Get(key string, now time.Time) (Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok || e.Expired(now) {
		return Entry{}, false, nil
	}
	return e.clone(), true, nil
}

func (f *FileBackend) Put(e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.entries[e.Key]
	f.entries[e.Key] = e.clone()
	if err := f.flush(); err != nil {
		if had {
			f.entries[e.Key] = prev
		} else {
			delete(f.entries, e.Key)
		}
		return err
	}
	return nil
}

func (f *FileBackend) PrefixQuery(prefix string, now time.Time) ([]Entry, error) {
	f.mu.Lock()
	var out []Entry
	for k, e := range f.entries {
		if strings.HasPrefix(k, prefix) && !e.Expired(now) {
			out = append(out, e.clone())
		}
	}
	f.mu.Unlock()
	sortEntries(out)
	return out, nil
}

func (f *FileBackend) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[key]; !ok {
		return nil
	}
	delete(f.entries, key)
	return f.flush()
}

func (f *FileBackend) Sweep(now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k, e := range f.entries {
		if e.Expired(now) {
			delete(f.entries, k)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, f.flush()
}

func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flush()
}

// flush must be called with mu held.
func (f *FileBackend) flush() error {
	list := make([]Entry, 0, len(f.entries))
	for _, e := range f.entries {
		list = append(list, e)
	}
	sortEntries(list)

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ltm file: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write ltm file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace ltm file: %w", err)
	}
	return nil
}
