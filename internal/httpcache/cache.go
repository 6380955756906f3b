package httpcache

import (
	"container/list"
	"net/http"
	"sync"
	"time"
)

type entry struct {
	key      string
	status   int
	header   http.Header
	body     []byte
	storedAt time.Time
}

// Cache is a size-capped LRU of HTTP responses with a single TTL.
type Cache struct {
	ttl        time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recent
}

func New(ttl time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    map[string]*list.Element{},
		lru:        list.New(),
	}
}

func (c *Cache) get(key string, now time.Time) (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return entry{}, false
	}
	ent := el.Value.(entry)
	if c.ttl > 0 && now.Sub(ent.storedAt) >= c.ttl {
		delete(c.entries, key)
		c.lru.Remove(el)
		return entry{}, false
	}
	c.lru.MoveToFront(el)
	return ent, true
}

func (c *Cache) put(key string, status int, header http.Header, body []byte, now time.Time) {
	ent := entry{
		key:      key,
		status:   status,
		header:   cloneHeader(header),
		body:     append([]byte(nil), body...),
		storedAt: now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value = ent
		c.lru.MoveToFront(el)
		return
	}
	el := c.lru.PushFront(ent)
	c.entries[key] = el

	for c.lru.Len() > c.maxEntries {
		back := c.lru.Back()
		if back == nil {
			break
		}
		be := back.Value.(entry)
		delete(c.entries, be.key)
		c.lru.Remove(back)
	}
}

func (c *Cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func cloneHeader(h http.Header) http.Header {
	out := http.Header{}
	for k, vv := range h {
		cp := make([]string, len(vv))
		copy(cp, vv)
		out[k] = cp
	}
	return out
}
