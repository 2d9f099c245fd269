package arp

import (
	"sync"
	"time"

	"github.com/coolheart77/netstack/header"
)

// cacheEntry is one ARP cache row: an IPv4-to-MAC mapping and when it was
// learned, per spec §3's ARP cache data model.
type cacheEntry struct {
	addr      header.EthernetAddress
	learnedAt time.Time
}

// cache is the shared IPv4-to-MAC table described in spec §4.3 and §5
// ("shared across all TCP and UDP peers within one stack instance").
type cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[header.IPv4Address]cacheEntry
	now     func() time.Time
}

func newCache(ttl time.Duration, now func() time.Time) *cache {
	if now == nil {
		now = time.Now
	}
	return &cache{
		ttl:     ttl,
		entries: make(map[header.IPv4Address]cacheEntry),
		now:     now,
	}
}

// lookup returns the cached MAC for ip if a fresh entry exists.
func (c *cache) lookup(ip header.IPv4Address) (header.EthernetAddress, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[ip]
	if !ok {
		return header.EthernetAddress{}, false
	}
	if c.ttl > 0 && c.now().Sub(e.learnedAt) > c.ttl {
		delete(c.entries, ip)
		return header.EthernetAddress{}, false
	}
	return e.addr, true
}

// learn records (or refreshes) a mapping, as spec §4.3 requires for every
// ARP packet received, request or reply.
func (c *cache) learn(ip header.IPv4Address, mac header.EthernetAddress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ip] = cacheEntry{addr: mac, learnedAt: c.now()}
}
