// Package cache stores raw provider payloads keyed by an edit-context fingerprint.
// Entries expire after a TTL and are evicted least-recently-accessed first when the
// configured byte capacity would be exceeded.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"neopilot/clock"
	"neopilot/logger"
	"neopilot/types"
)

const (
	DefaultTTL           = 300 * time.Second
	DefaultCapacityBytes = 4 << 20
	DefaultKeyWindow     = 2000 // trailing characters of the document hashed into the key
)

// Config tunes the cache; zero values fall back to the defaults
type Config struct {
	TTL           time.Duration
	CapacityBytes int64
	KeyWindow     int
}

// Entry is one cached payload
type Entry struct {
	Key            string
	Payload        string
	LastAccessedAt time.Time
	ExpiresAt      time.Time
	SizeBytes      int64
}

// IsExpired reports whether the entry is stale at now
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stats is a snapshot of cache occupancy
type Stats struct {
	Count         int   `json:"count"`
	SizeBytes     int64 `json:"size_bytes"`
	CapacityBytes int64 `json:"capacity_bytes"`
}

// Cache is safe for concurrent use. The list is ordered most recently accessed first.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	clock   clock.Clock
	entries map[string]*list.Element
	lru     *list.List
	size    int64
}

// New creates an empty cache
func New(cfg Config, clk clock.Clock) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CapacityBytes <= 0 {
		cfg.CapacityBytes = DefaultCapacityBytes
	}
	if cfg.KeyWindow <= 0 {
		cfg.KeyWindow = DefaultKeyWindow
	}
	if clk == nil {
		clk = clock.Real
	}
	return &Cache{
		cfg:     cfg,
		clock:   clk,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// GenerateKey fingerprints an edit context from the cursor position and a hash of the
// trailing window characters of the document. Contexts whose trailing windows match
// share a key even when earlier content differs.
func GenerateKey(ec *types.EditContext, window int) string {
	if window <= 0 {
		window = DefaultKeyWindow
	}
	sum := sha256.Sum256([]byte(tail(ec.Lines, window)))
	return fmt.Sprintf("%d:%d:%s", ec.Row, ec.Col, hex.EncodeToString(sum[:]))
}

// tail returns the last n characters of lines joined with newlines. Only the lines
// inside the window are visited.
func tail(lines []string, n int) string {
	var segs []string
	for i := len(lines) - 1; i >= 0 && n > 0; i-- {
		seg := lines[i]
		if i < len(lines)-1 {
			seg += "\n"
		}
		if count := utf8.RuneCountInString(seg); count > n {
			seg = lastRunes(seg, n)
			n = 0
		} else {
			n -= count
		}
		segs = append(segs, seg)
	}
	slices.Reverse(segs)
	return strings.Join(segs, "")
}

func lastRunes(s string, n int) string {
	i := len(s)
	for ; n > 0 && i > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return s[i:]
}

// Key fingerprints ec with the cache's configured window
func (c *Cache) Key(ec *types.EditContext) string {
	return GenerateKey(ec, c.cfg.KeyWindow)
}

// Get returns the payload for key. Expired entries are deleted and reported absent.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return "", false
	}
	entry := el.Value.(*Entry)
	now := c.clock.Now()
	if entry.IsExpired(now) {
		logger.Debug("cache: entry expired %s", shortKey(key))
		c.removeElement(el)
		return "", false
	}

	entry.LastAccessedAt = now
	c.lru.MoveToFront(el)
	return entry.Payload, true
}

// Set stores payload under key, evicting least-recently-accessed entries until it fits.
// A payload larger than the whole capacity is still stored once everything else is gone.
func (c *Cache) Set(key, payload string) error {
	if key == "" {
		return types.NewError(types.KindCacheFailure, "cache.Set", "empty key")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}

	size := int64(len(payload))
	for c.size+size > c.cfg.CapacityBytes {
		oldest := c.lru.Back()
		if oldest == nil {
			logger.Debug("cache: payload of %d bytes exceeds capacity %d", size, c.cfg.CapacityBytes)
			break
		}
		logger.Debug("cache: evicting %s", shortKey(oldest.Value.(*Entry).Key))
		c.removeElement(oldest)
	}

	now := c.clock.Now()
	entry := &Entry{
		Key:            key,
		Payload:        payload,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(c.cfg.TTL),
		SizeBytes:      size,
	}
	c.entries[key] = c.lru.PushFront(entry)
	c.size += size
	return nil
}

// Delete removes key if present
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
}

// Clear drops every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.size = 0
}

// Stats reports the current occupancy
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Count:         len(c.entries),
		SizeBytes:     c.size,
		CapacityBytes: c.cfg.CapacityBytes,
	}
}

func (c *Cache) removeElement(el *list.Element) {
	entry := c.lru.Remove(el).(*Entry)
	delete(c.entries, entry.Key)
	c.size -= entry.SizeBytes
}

func shortKey(key string) string {
	if len(key) > 24 {
		return key[:24]
	}
	return key
}
