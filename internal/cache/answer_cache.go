package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/echoform/transcribe-chat-back/internal/domain"
)

// Entry is one cached answer with its retrieval attributions.
type Entry struct {
	Answer      string
	Sources     []domain.RetrievedChunk
	ContextUsed bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// AnswerCache memoizes grounded answers keyed by a normalized question
// signature. Entries expire by TTL; the knowledge base owner invalidates
// a job's entries whenever its content changes, so a cached answer never
// outlives the chunks it was grounded on.
type AnswerCache struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	jobKeys    map[string]map[string]struct{}
	ttl        time.Duration
	maxEntries int
}

func NewAnswerCache(config Config) *AnswerCache {
	if config.TTL <= 0 {
		config.TTL = 15 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 2000
	}
	return &AnswerCache{
		entries:    make(map[string]Entry),
		jobKeys:    make(map[string]map[string]struct{}),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
	}
}

func (c *AnswerCache) Get(signature string) (Entry, bool) {
	c.mu.RLock()
	entry, exists := c.entries[signature]
	c.mu.RUnlock()

	if !exists {
		return Entry{}, false
	}
	if time.Now().UTC().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, signature)
		c.mu.Unlock()
		return Entry{}, false
	}
	return cloneEntry(entry), true
}

func (c *AnswerCache) Set(jobID, signature string, entry Entry) {
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(c.ttl)
	entry.Sources = cloneSources(entry.Sources)

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[signature] = entry

	keys, ok := c.jobKeys[jobID]
	if !ok {
		keys = make(map[string]struct{})
		c.jobKeys[jobID] = keys
	}
	keys[signature] = struct{}{}
}

// InvalidateJob drops every cached answer for the job. Called after any
// ingest or delete that changes the job's knowledge base.
func (c *AnswerCache) InvalidateJob(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for signature := range c.jobKeys[jobID] {
		delete(c.entries, signature)
	}
	delete(c.jobKeys, jobID)
}

// BuildSignature derives a stable key from the normalized parts.
func (c *AnswerCache) BuildSignature(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		normalized = append(normalized, strings.TrimSpace(strings.ToLower(part)))
	}
	joined := strings.Join(normalized, "||")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

func (c *AnswerCache) evictOldest() {
	if len(c.entries) == 0 {
		return
	}

	oldestKey := ""
	var oldestAt time.Time
	for key, value := range c.entries {
		if oldestKey == "" || value.CreatedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = value.CreatedAt
		}
	}
	delete(c.entries, oldestKey)
	for _, keys := range c.jobKeys {
		delete(keys, oldestKey)
	}
}

func cloneEntry(entry Entry) Entry {
	clone := entry
	clone.Sources = cloneSources(entry.Sources)
	return clone
}

func cloneSources(sources []domain.RetrievedChunk) []domain.RetrievedChunk {
	if len(sources) == 0 {
		return nil
	}
	cloned := make([]domain.RetrievedChunk, len(sources))
	copy(cloned, sources)
	return cloned
}
