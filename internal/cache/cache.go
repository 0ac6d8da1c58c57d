package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lin-1259/ai-xiutu/internal/domain"
	"github.com/lin-1259/ai-xiutu/internal/storage"
	"golang.org/x/crypto/blake2b"
)

// ErrMiss is returned by Get when no usable entry exists for a key.
var ErrMiss = errors.New("cache miss")

const (
	indexFile   = "index.json"
	blobsPrefix = "blobs/"

	// evictFraction is the share of entries removed per eviction batch.
	evictFraction = 0.2
)

// Entry is the index metadata of one cached result.
type Entry struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	MIME         string    `json:"mime"`
	ProviderID   string    `json:"provider_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
}

// Result is a cached transform output.
type Result struct {
	Data       []byte
	MIME       string
	ProviderID string
}

// Stats summarizes cache state and counters since startup.
type Stats struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
	MaxEntries int   `json:"max_entries"`
	MaxBytes   int64 `json:"max_bytes"`
}

// Options configures a Cache.
type Options struct {
	// Dir holds index.json and the blobs directory
	Dir string
	// MaxEntries and MaxBytes bound the cache; eviction runs when either is exceeded
	MaxEntries int
	MaxBytes   int64
	// Retention is the lastAccessed age after which Sweep expires an entry
	Retention time.Duration
	// Now overrides the clock (tests)
	Now func() time.Time
}

// Cache is a content-addressed result store. It is the only component that
// touches its index and payload files; all methods are safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	files      *storage.FileStore
	indexPath  string
	entries    map[string]*Entry
	totalBytes int64
	opts       Options
	now        func() time.Time
	logger     *slog.Logger

	hits      int64
	misses    int64
	evictions int64
}

// Key derives the cache key of an (image, template, parameters) triple.
func Key(imageHash, templateID string, params domain.Params) string {
	encoded, _ := json.Marshal(params)
	h, _ := blake2b.New256(nil)
	h.Write([]byte(imageHash))
	h.Write([]byte{'|'})
	h.Write([]byte(templateID))
	h.Write([]byte{'|'})
	h.Write(encoded)
	return hex.EncodeToString(h.Sum(nil))
}

// New opens the cache in opts.Dir, loading the existing index. Entries whose
// payload file is missing are dropped.
func New(opts Options, logger *slog.Logger) (*Cache, error) {
	if opts.MaxEntries <= 0 {
		return nil, errors.New("cache: max entries must be positive")
	}
	if opts.MaxBytes <= 0 {
		return nil, errors.New("cache: max bytes must be positive")
	}
	files, err := storage.NewFileStore(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	c := &Cache{
		files:     files,
		indexPath: filepath.Join(files.BasePath(), indexFile),
		entries:   make(map[string]*Entry),
		opts:      opts,
		now:       now,
		logger:    logger.With("component", "result_cache"),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.indexPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache: read index: %w", err)
	}

	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt index is rebuilt empty; orphaned payloads are overwritten on reuse.
		c.logger.Warn("discarding unreadable cache index", "error", err)
		return c.persistLocked()
	}

	dropped := 0
	for _, e := range entries {
		if e == nil || e.Key == "" {
			continue
		}
		size, err := c.files.Size(blobsPrefix + e.Key)
		if err != nil {
			dropped++
			continue
		}
		e.Size = size
		c.entries[e.Key] = e
		c.totalBytes += size
	}
	if dropped > 0 {
		c.logger.Info("dropped cache entries with missing payloads", "count", dropped)
		return c.persistLocked()
	}
	return nil
}

// Get returns the result stored under key and records the access. A missing
// payload removes the entry and reports a miss.
func (c *Cache) Get(ctx context.Context, key string) (Result, Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return Result{}, Entry{}, ErrMiss
	}

	data, err := c.files.Read(ctx, blobsPrefix+key)
	if err != nil {
		c.logger.Warn("cache payload unreadable, dropping entry", "cache_key", key, "error", err)
		c.removeLocked(key)
		c.misses++
		if perr := c.persistLocked(); perr != nil {
			c.logger.Error("failed to persist cache index", "error", perr)
		}
		return Result{}, Entry{}, ErrMiss
	}

	e.LastAccessed = c.now()
	e.AccessCount++
	c.hits++
	if err := c.persistLocked(); err != nil {
		c.logger.Error("failed to persist cache index", "error", err)
	}
	return Result{Data: data, MIME: e.MIME, ProviderID: e.ProviderID}, *e, nil
}

// Put stores a result under key, replacing any previous value, then
// enforces capacity limits.
func (c *Cache) Put(ctx context.Context, key string, r Result) error {
	if key == "" {
		return errors.New("cache: key is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.files.Write(ctx, blobsPrefix+key, r.Data); err != nil {
		return fmt.Errorf("cache: write payload: %w", err)
	}
	if old, ok := c.entries[key]; ok {
		c.totalBytes -= old.Size
	}
	now := c.now()
	c.entries[key] = &Entry{
		Key:          key,
		Size:         int64(len(r.Data)),
		MIME:         r.MIME,
		ProviderID:   r.ProviderID,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  1,
	}
	c.totalBytes += int64(len(r.Data))

	c.evictLocked()
	return c.persistLocked()
}

// Delete removes one entry and its payload.
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return nil
	}
	c.removeLocked(key)
	return c.persistLocked()
}

// Clear removes every entry and payload.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		c.removeLocked(key)
	}
	return c.persistLocked()
}

// Sweep expires entries whose last access is older than the retention
// window and returns how many were removed.
func (c *Cache) Sweep() (int, error) {
	if c.opts.Retention <= 0 {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.opts.Retention)
	removed := 0
	for key, e := range c.entries {
		if e.LastAccessed.Before(cutoff) {
			c.removeLocked(key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	c.logger.Info("expired stale cache entries", "count", removed)
	return removed, c.persistLocked()
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.Sweep(); err != nil {
					c.logger.Error("cache sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:    len(c.entries),
		TotalBytes: c.totalBytes,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		MaxEntries: c.opts.MaxEntries,
		MaxBytes:   c.opts.MaxBytes,
	}
}

// evictLocked removes the least recently accessed fifth of the entries,
// batch after batch, until both limits hold.
func (c *Cache) evictLocked() {
	for len(c.entries) > c.opts.MaxEntries || c.totalBytes > c.opts.MaxBytes {
		ordered := make([]*Entry, 0, len(c.entries))
		for _, e := range c.entries {
			ordered = append(ordered, e)
		}
		sort.Slice(ordered, func(i, j int) bool {
			if !ordered[i].LastAccessed.Equal(ordered[j].LastAccessed) {
				return ordered[i].LastAccessed.Before(ordered[j].LastAccessed)
			}
			return ordered[i].Key < ordered[j].Key
		})

		batch := int(float64(len(ordered)) * evictFraction)
		if batch < 1 {
			batch = 1
		}
		for _, e := range ordered[:batch] {
			c.removeLocked(e.Key)
			c.evictions++
		}
		c.logger.Debug("evicted cache batch", "count", batch, "entries", len(c.entries), "bytes", c.totalBytes)
	}
}

func (c *Cache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if err := c.files.Delete(blobsPrefix + key); err != nil {
		c.logger.Warn("failed to delete cache payload", "cache_key", key, "error", err)
	}
	c.totalBytes -= e.Size
	delete(c.entries, key)
}

// persistLocked rewrites the whole index atomically.
func (c *Cache) persistLocked() error {
	entries := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: encode index: %w", err)
	}
	if err := storage.WriteFileAtomic(c.indexPath, data, 0o644); err != nil {
		return fmt.Errorf("cache: write index: %w", err)
	}
	return nil
}
