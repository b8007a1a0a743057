package reminder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/fileio"
)

// Hash derives the cooldown key for a reminder instance. With sessionAware
// set the session ID participates, so cooldowns reset per session. The full
// hex digest is used.
func Hash(projectRoot, agentID, toolName, reminderKey, sessionID string, sessionAware bool) string {
	material := fmt.Sprintf("%s|%s|%s|%s", projectRoot, agentID, toolName, reminderKey)
	if sessionAware {
		material += "|" + sessionID
	}
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

// cacheEntry keeps scope fields beside the hash so reset_cooldowns can drop
// entries by scope without inverting the hash.
type cacheEntry struct {
	Hash        string    `json:"hash"`
	ProjectRoot string    `json:"project_root"`
	AgentID     string    `json:"agent_id"`
	ShownAt     time.Time `json:"shown_at"`
}

// Cache is the in-process cooldown cache, persisted best-effort to JSON so
// cooldowns survive a restart.
type Cache struct {
	log  *logger.Logger
	path string

	mu      sync.Mutex
	entries map[string]cacheEntry
	dirty   bool
}

// NewCache creates a cache persisted at path; empty path disables
// persistence.
func NewCache(path string, log *logger.Logger) *Cache {
	return &Cache{log: log, path: path, entries: make(map[string]cacheEntry)}
}

// Hydrate loads the persisted cache; a missing or corrupt file starts empty.
func (c *Cache) Hydrate() {
	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var entries []cacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		c.log.Warn("reminder cache unreadable, starting empty", zap.Error(err))
		return
	}
	c.mu.Lock()
	for _, e := range entries {
		c.entries[e.Hash] = e
	}
	c.mu.Unlock()
}

// LastShown returns when the hash was last shown, or zero time.
func (c *Cache) LastShown(hash string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	return e.ShownAt, ok
}

// MarkShown records a shown reminder.
func (c *Cache) MarkShown(hash, projectRoot, agentID string, at time.Time) {
	c.mu.Lock()
	c.entries[hash] = cacheEntry{Hash: hash, ProjectRoot: projectRoot, AgentID: agentID, ShownAt: at}
	c.dirty = true
	c.mu.Unlock()
}

// Reset drops entries scoped to a project root and, when agentID is
// non-empty, to that agent. It returns the number of entries removed.
func (c *Cache) Reset(projectRoot, agentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for hash, e := range c.entries {
		if e.ProjectRoot != projectRoot {
			continue
		}
		if agentID != "" && e.AgentID != agentID {
			continue
		}
		delete(c.entries, hash)
		removed++
	}
	if removed > 0 {
		c.dirty = true
	}
	return removed
}

// Size returns the number of cooldown entries held.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Persist writes the cache to disk when it has changed since the last
// persist. Failures are logged, never returned.
func (c *Cache) Persist() {
	if c.path == "" {
		return
	}
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	entries := make([]cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.dirty = false
	c.mu.Unlock()

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return
	}
	if err := fileio.WriteAtomic(c.path, data, 0o644); err != nil {
		c.log.Warn("persist reminder cache failed", zap.Error(err))
	}
}
