package tracker

import (
	"cmp"
	"slices"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/chatrank/internal/database/types"
)

// pending is the cached state for one user.
type pending struct {
	name  string
	count int64
}

// Cache buffers per-user message counts in memory until they are flushed.
type Cache struct {
	mu      sync.Mutex
	entries map[snowflake.ID]*pending
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[snowflake.ID]*pending)}
}

// Increment counts one message for the user and records the latest display name.
func (c *Cache) Increment(userID snowflake.ID, displayName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[userID]; ok {
		entry.count++
		entry.name = displayName

		return
	}

	c.entries[userID] = &pending{name: displayName, count: 1}
}

// Drain empties the cache and returns its contents ordered by user ID.
// Increments racing with a drain land either in the snapshot or in the fresh cache.
func (c *Cache) Drain() []types.PendingCount {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[snowflake.ID]*pending)
	c.mu.Unlock()

	snapshot := make([]types.PendingCount, 0, len(entries))
	for userID, entry := range entries {
		snapshot = append(snapshot, types.PendingCount{
			UserID:      userID,
			DisplayName: entry.name,
			Count:       entry.count,
		})
	}

	slices.SortFunc(snapshot, func(a, b types.PendingCount) int {
		return cmp.Compare(a.UserID, b.UserID)
	})

	return snapshot
}

// Restore merges a drained snapshot back into the cache.
// Counts are added; a display name seen after the drain is kept.
func (c *Cache) Restore(snapshot []types.PendingCount) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, item := range snapshot {
		if entry, ok := c.entries[item.UserID]; ok {
			entry.count += item.Count
			continue
		}

		c.entries[item.UserID] = &pending{name: item.DisplayName, count: item.Count}
	}
}

// Pending returns the unflushed count for a user.
func (c *Cache) Pending(userID snowflake.ID) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[userID]
	if !ok {
		return 0, false
	}

	return entry.count, true
}

// Len returns the number of users with unflushed counts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
