package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dshills/tenet/internal/review"
)

// schemaVersion must be bumped whenever Payload changes shape or the engine
// changes which findings a unit produces.
const schemaVersion uint16 = 2

const entryExt = ".mp"

// Payload is the cached matching result for one source unit.
type Payload struct {
	Schema    uint16                     `msgpack:"schema"`
	CreatedAt int64                      `msgpack:"created"`
	Findings  []review.Finding           `msgpack:"findings"`
	Warnings  []review.EvaluationWarning `msgpack:"warnings"`
}

// Cache is a file-based store of per-unit matching results. It is safe for
// concurrent use by the engine's workers.
type Cache struct {
	mu         sync.RWMutex
	dir        string
	ttlSeconds int
	enabled    bool
}

// New creates a new Cache. If dir is empty, uses the default cache directory.
func New(enabled bool, dir string, ttlSeconds int) (*Cache, error) {
	if !enabled {
		return &Cache{enabled: false}, nil
	}
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Cache{
		dir:        dir,
		ttlSeconds: ttlSeconds,
		enabled:    true,
	}, nil
}

// Get returns the payload stored under key. Entries that are expired, from
// another schema version, or unreadable count as misses.
func (c *Cache) Get(key string) (*Payload, bool) {
	if c == nil || !c.enabled {
		return nil, false
	}
	c.mu.RLock()
	p, err := c.read(c.entryPath(key))
	c.mu.RUnlock()
	if err != nil || p.Schema != schemaVersion {
		return nil, false
	}
	if c.expired(p) {
		c.mu.Lock()
		_ = os.Remove(c.entryPath(key))
		c.mu.Unlock()
		return nil, false
	}
	return p, true
}

// Put stores a payload atomically.
func (c *Cache) Put(key string, p *Payload) error {
	if c == nil || !c.enabled {
		return nil
	}
	entry := *p
	entry.Schema = schemaVersion
	entry.CreatedAt = time.Now().Unix()

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.CreateTemp(c.dir, "tmp-*")
	if err != nil {
		return fmt.Errorf("creating cache entry: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := msgpack.NewEncoder(f).Encode(&entry); err != nil {
		f.Close()
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return os.Rename(tmp, c.entryPath(key))
}

// Clear removes all cache entries and returns how many were removed.
func (c *Cache) Clear() (int, error) {
	return c.removeWhere(func(string) bool { return true })
}

// Prune removes entries a lookup would never return: expired ones, ones
// written by another schema version, and unreadable files.
func (c *Cache) Prune() (int, error) {
	return c.removeWhere(func(path string) bool {
		p, err := c.read(path)
		return err != nil || p.Schema != schemaVersion || c.expired(p)
	})
}

func (c *Cache) removeWhere(match func(path string) bool) (int, error) {
	if c == nil || !c.enabled || c.dir == "" {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading cache directory: %w", err)
	}
	var removed int
	for _, e := range entries {
		if filepath.Ext(e.Name()) != entryExt {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		if !match(path) {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Stats returns cache statistics.
type Stats struct {
	Dir        string `json:"dir"`
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"totalBytes"`
	Expired    int    `json:"expired"`
	Stale      int    `json:"stale"`
}

// GetStats returns information about the cache. Stale entries were written
// by a different schema version.
func (c *Cache) GetStats() (Stats, error) {
	stats := Stats{Dir: c.dir}
	if !c.enabled || c.dir == "" {
		return stats, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, nil
		}
		return stats, fmt.Errorf("reading cache directory: %w", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != entryExt {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.Entries++
		stats.TotalBytes += info.Size()

		p, err := c.read(filepath.Join(c.dir, e.Name()))
		switch {
		case err != nil || p.Schema != schemaVersion:
			stats.Stale++
		case c.expired(p):
			stats.Expired++
		}
	}
	return stats, nil
}

// Dir returns the cache directory path.
func (c *Cache) Dir() string {
	return c.dir
}

// Enabled returns whether caching is enabled.
func (c *Cache) Enabled() bool {
	return c != nil && c.enabled
}

// HashKey creates a SHA-256 hash of the given key material. Parts are
// length-prefixed so that ("ab","c") and ("a","bc") differ.
func HashKey(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:", len(p))
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) read(path string) (*Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var p Payload
	if err := msgpack.NewDecoder(f).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Cache) expired(p *Payload) bool {
	return c.ttlSeconds > 0 && time.Since(time.Unix(p.CreatedAt, 0)) > time.Duration(c.ttlSeconds)*time.Second
}

func (c *Cache) entryPath(key string) string {
	// keys are already hashes; hash again only if a caller passed raw text
	if len(key) != sha256.Size*2 || strings.ContainsAny(key, `/\.`) {
		key = HashKey([]byte(key))
	}
	return filepath.Join(c.dir, key+entryExt)
}

// DefaultDir returns the OS-appropriate cache directory.
func DefaultDir() (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "tenet"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "tenet"), nil
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "tenet", "cache"), nil
		}
		return filepath.Join(home, "AppData", "Local", "tenet", "cache"), nil
	default:
		return filepath.Join(home, ".cache", "tenet"), nil
	}
}
