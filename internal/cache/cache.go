// Package cache provides a two-tier response cache: a bounded in-memory LRU
// with write-time TTL in front of a flat-file store whose TTL is the file mtime.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spf13/afero"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultMaxEntries = 500
	DefaultMemoryTTL  = time.Hour
	DefaultDiskTTL    = 7 * 24 * time.Hour
	DefaultNamespace  = "ai_validation"

	tempPrefix = ".tmp-"
)

// Config describes where and how long entries live.
type Config struct {
	// Fs backs the disk tier. Defaults to the OS filesystem.
	Fs afero.Fs
	// Dir is the cache root; entries live under Dir/Namespace.
	Dir       string
	Namespace string

	MaxEntries int
	MemoryTTL  time.Duration
	DiskTTL    time.Duration

	// Persist enables the disk tier.
	Persist bool
}

// DefaultConfig returns a persistent cache rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:        dir,
		Namespace:  DefaultNamespace,
		MaxEntries: DefaultMaxEntries,
		MemoryTTL:  DefaultMemoryTTL,
		DiskTTL:    DefaultDiskTTL,
		Persist:    true,
	}
}

// Key derives the cache key for a prompt and response mode ("json" or "text").
// Identical inputs always produce the same key.
func Key(prompt, mode string) string {
	sum := sha256.Sum256([]byte(mode + "\x00" + prompt))
	return hex.EncodeToString(sum[:])
}

// Tiered is safe for concurrent use. Concurrent writers to the same key
// resolve as last write wins.
type Tiered struct {
	fs      afero.Fs
	dir     string
	diskTTL time.Duration
	persist bool

	l1 *expirable.LRU[string, string]

	l1Hits atomic.Int64
	l2Hits atomic.Int64
	misses atomic.Int64

	now func() time.Time
}

// New creates a Tiered cache. When the disk directory cannot be created the
// cache keeps working in memory only.
func New(cfg Config) *Tiered {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.MemoryTTL <= 0 {
		cfg.MemoryTTL = DefaultMemoryTTL
	}
	if cfg.DiskTTL <= 0 {
		cfg.DiskTTL = DefaultDiskTTL
	}

	t := &Tiered{
		fs:      cfg.Fs,
		dir:     filepath.Join(cfg.Dir, cfg.Namespace),
		diskTTL: cfg.DiskTTL,
		persist: cfg.Persist && cfg.Dir != "",
		l1:      expirable.NewLRU[string, string](cfg.MaxEntries, nil, cfg.MemoryTTL),
		now:     time.Now,
	}

	if t.persist {
		if err := t.fs.MkdirAll(t.dir, 0o755); err != nil {
			slog.Warn("cache dir unavailable, disk tier disabled", "dir", t.dir, "error", err)
			t.persist = false
		}
	}
	return t
}

// Dir returns the namespace directory of the disk tier.
func (t *Tiered) Dir() string { return t.dir }

// Get looks up key in memory, then on disk. A fresh disk hit is promoted to
// memory; a stale one is deleted and reported as a miss.
func (t *Tiered) Get(key string) (string, bool) {
	if v, ok := t.l1.Get(key); ok {
		t.l1Hits.Add(1)
		slog.Debug("cache hit", "tier", "l1", "key", short(key))
		return v, true
	}

	if t.persist {
		if v, ok := t.readDisk(key); ok {
			t.l1.Add(key, v)
			t.l2Hits.Add(1)
			slog.Debug("cache hit", "tier", "l2", "key", short(key))
			return v, true
		}
	}

	t.misses.Add(1)
	return "", false
}

// Put stores value in memory and, when persistence is on, on disk.
// Disk failures are logged and otherwise ignored.
func (t *Tiered) Put(key, value string) {
	t.l1.Add(key, value)
	if !t.persist {
		return
	}
	if err := t.writeDisk(key, value); err != nil {
		slog.Warn("cache write failed", "key", short(key), "error", err)
	}
}

// CleanupExpired deletes disk entries older than the TTL and returns how many
// were removed. Expired memory entries are dropped by the LRU itself.
func (t *Tiered) CleanupExpired() int {
	if !t.persist {
		return 0
	}
	infos, err := afero.ReadDir(t.fs, t.dir)
	if err != nil {
		slog.Warn("cache cleanup failed", "dir", t.dir, "error", err)
		return 0
	}

	now := t.now()
	removed := 0
	for _, info := range infos {
		if !isEntry(info) || now.Sub(info.ModTime()) < t.diskTTL {
			continue
		}
		if err := t.fs.Remove(filepath.Join(t.dir, info.Name())); err != nil && !os.IsNotExist(err) {
			slog.Warn("cache cleanup remove failed", "file", info.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("cache cleanup", "removed", removed, "dir", t.dir)
	}
	return removed
}

// Clear empties both tiers. Hit and miss counters are kept.
func (t *Tiered) Clear() error {
	t.l1.Purge()
	if !t.persist {
		return nil
	}
	if err := t.fs.RemoveAll(t.dir); err != nil {
		return fmt.Errorf("clear cache dir: %w", err)
	}
	if err := t.fs.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("recreate cache dir: %w", err)
	}
	return nil
}

// Close releases the memory tier. Disk entries are left for the next process.
func (t *Tiered) Close() error {
	t.l1.Purge()
	return nil
}

// Stats is a snapshot of cache effectiveness.
type Stats struct {
	L1Hits int64 `json:"l1_hits"`
	L2Hits int64 `json:"l2_hits"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`

	L1Size int `json:"l1_size"`
	L2Size int `json:"l2_size"`
	Size   int `json:"size"`

	// HitRate is the share of lookups answered from memory.
	HitRate float64 `json:"hit_rate"`
	// RequestsAvoided is the share of lookups answered by either tier.
	RequestsAvoided float64 `json:"requests_avoided"`
}

func (s Stats) String() string {
	return fmt.Sprintf("hits=%d (l1=%d l2=%d) misses=%d size=%d hitRate=%.2f%% avoided=%.2f%%",
		s.Hits, s.L1Hits, s.L2Hits, s.Misses, s.Size, s.HitRate*100, s.RequestsAvoided*100)
}

// Stats returns current counters and sizes.
func (t *Tiered) Stats() Stats {
	s := Stats{
		L1Hits: t.l1Hits.Load(),
		L2Hits: t.l2Hits.Load(),
		Misses: t.misses.Load(),
		L1Size: t.l1.Len(),
		L2Size: t.diskSize(),
	}
	s.Hits = s.L1Hits + s.L2Hits
	s.Size = s.L1Size + s.L2Size
	if lookups := s.Hits + s.Misses; lookups > 0 {
		s.HitRate = float64(s.L1Hits) / float64(lookups)
		s.RequestsAvoided = float64(s.Hits) / float64(lookups)
	}
	return s
}

func (t *Tiered) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(t.dir, hex.EncodeToString(sum[:]))
}

func (t *Tiered) stale(info os.FileInfo) bool {
	return t.now().Sub(info.ModTime()) >= t.diskTTL
}

func (t *Tiered) readDisk(key string) (string, bool) {
	p := t.path(key)
	info, err := t.fs.Stat(p)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("cache stat failed", "path", p, "error", err)
		}
		return "", false
	}

	if t.stale(info) {
		// A concurrent Put may have renamed a fresh file into place since the
		// Stat; only remove the entry if it is still stale.
		if cur, err := t.fs.Stat(p); err != nil || t.stale(cur) {
			if err := t.fs.Remove(p); err != nil && !os.IsNotExist(err) {
				slog.Warn("cache stale entry remove failed", "path", p, "error", err)
			}
			return "", false
		}
	}

	data, err := afero.ReadFile(t.fs, p)
	if err != nil {
		slog.Warn("cache read failed", "path", p, "error", err)
		return "", false
	}
	return string(data), true
}

// writeDisk writes through a temp file and rename so readers never see a
// partial entry.
func (t *Tiered) writeDisk(key, value string) error {
	tmp, err := afero.TempFile(t.fs, t.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = t.fs.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = t.fs.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := t.fs.Rename(tmpName, t.path(key)); err != nil {
		_ = t.fs.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (t *Tiered) diskSize() int {
	if !t.persist {
		return 0
	}
	infos, err := afero.ReadDir(t.fs, t.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, info := range infos {
		if isEntry(info) {
			n++
		}
	}
	return n
}

func isEntry(info os.FileInfo) bool {
	return !info.IsDir() && len(info.Name()) > 0 && info.Name()[0] != '.'
}

func short(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
