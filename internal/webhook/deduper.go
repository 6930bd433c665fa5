package webhook

import (
	"sync"
	"time"
)

// deliveryDeduper remembers X-GitHub-Delivery IDs so redelivered events
// are applied once.
type deliveryDeduper struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func newDeliveryDeduper(ttl time.Duration) *deliveryDeduper {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &deliveryDeduper{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// markIfNew returns true if id has not been seen recently and records it.
// Empty IDs are never deduplicated.
func (d *deliveryDeduper) markIfNew(id string) bool {
	if id == "" {
		return true
	}
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for key, expiry := range d.entries {
		if now.After(expiry) {
			delete(d.entries, key)
		}
	}

	if expiry, ok := d.entries[id]; ok && now.Before(expiry) {
		return false
	}
	d.entries[id] = now.Add(d.ttl)
	return true
}

// forget drops id so a redelivery is processed again.
func (d *deliveryDeduper) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, id)
}
