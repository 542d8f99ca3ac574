// internal/storage/file_cache.go
package storage

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"sync"
	"time"
)

// ResponseCache 模型回复的内存缓存，键为 prompt 与模型名的 md5
type ResponseCache struct {
	cache      map[string]*ResponseCacheEntry
	mutex      sync.RWMutex
	maxSize    int
	expiration time.Duration
}

// ResponseCacheEntry 缓存条目
type ResponseCacheEntry struct {
	Text      string
	CreatedAt time.Time
	LastRead  time.Time
}

func NewResponseCache(maxSize int, expiration time.Duration) *ResponseCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if expiration <= 0 {
		expiration = 30 * time.Minute
	}
	return &ResponseCache{
		cache:      make(map[string]*ResponseCacheEntry),
		maxSize:    maxSize,
		expiration: expiration,
	}
}

// CacheKey md5(model + "\x00" + systemPrompt + "\x00" + prompt)
func CacheKey(model, systemPrompt, prompt string) string {
	sum := md5.Sum([]byte(model + "\x00" + systemPrompt + "\x00" + prompt))
	return hex.EncodeToString(sum[:])
}

// Get 过期条目视为未命中
func (c *ResponseCache) Get(key string) (string, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.cache[key]
	if !ok {
		return "", false
	}
	if time.Since(entry.CreatedAt) > c.expiration {
		delete(c.cache, key)
		return "", false
	}
	entry.LastRead = time.Now()
	return entry.Text, true
}

// Set 超出容量时清理最少使用的 20%
func (c *ResponseCache) Set(key, text string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	c.cache[key] = &ResponseCacheEntry{Text: text, CreatedAt: now, LastRead: now}
	if len(c.cache) > c.maxSize {
		c.cleanupLRU(max(1, c.maxSize/5))
	}
}

// Len 当前条目数
func (c *ResponseCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.cache)
}

// Clear 清空缓存
func (c *ResponseCache) Clear() {
	c.mutex.Lock()
	c.cache = make(map[string]*ResponseCacheEntry)
	c.mutex.Unlock()
}

func (c *ResponseCache) cleanupLRU(count int) {
	type keyAge struct {
		key  string
		time time.Time
	}

	entries := make([]keyAge, 0, len(c.cache))
	for k, v := range c.cache {
		entries = append(entries, keyAge{k, v.LastRead})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].time.Before(entries[j].time)
	})

	for i := 0; i < min(count, len(entries)); i++ {
		delete(c.cache, entries[i].key)
	}
}
