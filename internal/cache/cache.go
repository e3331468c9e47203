// Package cache stores model responses keyed by request content.
//
// Two backends exist: an in-process LRU with expiry and a SQLite file. Both
// treat expired entries as misses. Callers are expected to degrade to the
// uncached path on any error.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/excelmind/internal/config"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a key/value store with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key hashes parts into a fixed-length cache key.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// New opens the backend named in cfg. A disabled cache yields a Nop store.
func New(cfg config.CacheConfig) (Store, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.MaxEntries, cfg.TTL.Duration()), nil
	case "sqlite":
		path, err := expandHome(cfg.Path)
		if err != nil {
			return nil, err
		}
		return OpenSQLite(path)
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error { return nil }
func (Nop) Close() error { return nil }
