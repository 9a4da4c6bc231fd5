package engine

import (
	"sync"
	"time"

	"agesignal/internal/model"
)

const dedupeCompactThreshold = 10000

type detectionKey struct {
	source     string
	slot       int
	ts         int64
	age        float64
	confidence float64
}

func keyOf(det model.Detection) detectionKey {
	return detectionKey{
		source:     det.Source,
		slot:       det.Slot,
		ts:         det.Timestamp.UnixNano(),
		age:        det.Age,
		confidence: det.Confidence,
	}
}

// DedupeCache drops redeliveries from at-least-once transports.
type DedupeCache struct {
	mu    sync.Mutex
	items map[detectionKey]time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[detectionKey]time.Time)}
}

func (d *DedupeCache) Seen(det model.Detection, now time.Time, ttl time.Duration) bool {
	key := keyOf(det)
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok {
		if now.Sub(ts) <= ttl {
			return true
		}
	}
	d.items[key] = now
	if len(d.items) > dedupeCompactThreshold {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}

func (d *DedupeCache) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = make(map[detectionKey]time.Time)
}
