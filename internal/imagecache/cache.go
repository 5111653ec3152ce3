// Package imagecache holds decoded image attachments between ingestion
// and processing, keyed by provider message id. It is a bounded LRU with
// TTL eviction and strictly a performance optimization: when an entry is
// missing or evicted the pipeline produces a valid text-only reply.
package imagecache

import (
	"container/list"
	"sync"
	"time"
)

// Image is one cached attachment.
type Image struct {
	Filename string
	MIMEType string
	Data     []byte
}

type entry struct {
	key     string
	images  []Image
	addedAt time.Time
}

// Cache is a bounded, TTL-evicting LRU keyed by provider message id.
// Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	order      *list.List
	entries    map[string]*list.Element
}

// New creates a cache holding at most maxEntries message-id keys, each
// expiring after ttl.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Cache{
		maxEntries: maxEntries,
		ttl:        ttl,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

// Put stores the images for a message id, evicting the least recently
// used entry when full.
func (c *Cache) Put(messageID string, images []Image) {
	if messageID == "" || len(images) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[messageID]; ok {
		c.order.MoveToFront(el)
		el.Value.(*entry).images = images
		el.Value.(*entry).addedAt = time.Now()
		return
	}

	el := c.order.PushFront(&entry{key: messageID, images: images, addedAt: time.Now()})
	c.entries[messageID] = el

	for c.order.Len() > c.maxEntries {
		c.evictOldest()
	}
}

// Get returns the cached images for a message id, or nil when absent or
// expired.
func (c *Cache) Get(messageID string) []Image {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[messageID]
	if !ok {
		return nil
	}

	e := el.Value.(*entry)
	if time.Since(e.addedAt) > c.ttl {
		c.removeElement(el)
		return nil
	}

	c.order.MoveToFront(el)
	return e.images
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) evictOldest() {
	if el := c.order.Back(); el != nil {
		c.removeElement(el)
	}
}

func (c *Cache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*entry).key)
}
