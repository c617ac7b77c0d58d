package live

import (
	"hash/fnv"
	"time"
)

// dedup suppresses identical frames within a window. Not safe for concurrent
// use; each session owns one.
type dedup struct {
	window time.Duration
	seen   map[uint64]time.Time
	ops    int
}

func newDedup(window time.Duration) *dedup {
	return &dedup{window: window, seen: map[uint64]time.Time{}}
}

func dedupKey(n Notification) uint64 {
	h := fnv.New64a()
	for _, s := range []string{n.Type, string(n.Entity), n.EntityID, n.Title, n.Description} {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// allow reports whether n has not been seen within the window and records it.
func (d *dedup) allow(n Notification, now time.Time) bool {
	if d.window <= 0 {
		return true
	}
	k := dedupKey(n)
	if until, ok := d.seen[k]; ok && now.Before(until) {
		return false
	}
	d.seen[k] = now.Add(d.window)
	d.ops++
	if d.ops%256 == 0 {
		for key, until := range d.seen {
			if !now.Before(until) {
				delete(d.seen, key)
			}
		}
	}
	return true
}
