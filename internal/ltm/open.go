package ltm

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects and locates the LTM stores.
type Config struct {
	Backend    string // sqlite | leveldb | file | memory
	Path       string
	Fallback   string // memory | file
	DefaultTTL time.Duration
}

// OpenBackend opens a single store of the given kind at path.
func OpenBackend(kind, path string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case BackendSQLite, "":
		return OpenSQLiteBackend(path)
	case BackendLevelDB:
		return OpenLevelDBBackend(path)
	case BackendFile:
		return OpenFileBackend(path)
	case BackendMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown ltm backend %q", kind)
	}
}

// Open builds a Cache from cfg. Failing to open the durable store is never
// fatal: the cache starts on the fallback and warns once.
func Open(cfg Config, logger zerolog.Logger, onFallback func(error)) *Cache {
	logger = logger.With().Str("component", "ltm").Logger()

	primary, err := OpenBackend(cfg.Backend, cfg.Path)
	if err != nil {
		primary = nil
	}
	return New(primary, err, Options{
		Fallback:   openFallback(cfg, logger),
		DefaultTTL: cfg.DefaultTTL,
		Logger:     logger,
		OnFallback: onFallback,
	})
}

func openFallback(cfg Config, logger zerolog.Logger) Backend {
	if !strings.EqualFold(cfg.Fallback, BackendFile) {
		return NewMemoryBackend()
	}
	path := filepath.Join(filepath.Dir(cfg.Path), "ltm-fallback.json")
	f, err := OpenFileBackend(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("file fallback unavailable, using memory")
		return NewMemoryBackend()
	}
	return f
}
