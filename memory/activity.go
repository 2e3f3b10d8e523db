package memory

import (
	"sort"
	"sync"
	"time"
)

const (
	maxTrackedOwners   = 100
	inactiveEvictAfter = 7 * 24 * time.Hour
)

// ActivityTracker records per-owner chat activity so the scheduler knows
// when an owner's pending messages are ripe for archival. State is bounded:
// owners idle past a week are evicted once their pending count drains, and
// when the cap is exceeded only the most recently active owners are kept.
type ActivityTracker struct {
	mu       sync.Mutex
	lastChat map[string]time.Time
	unsaved  map[string]int
	now      func() time.Time
}

// NewActivityTracker creates a tracker.
func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{
		lastChat: make(map[string]time.Time),
		unsaved:  make(map[string]int),
		now:      time.Now,
	}
}

// Touch records a new unsaved message for the owner.
func (t *ActivityTracker) Touch(ownerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastChat[ownerID] = t.now()
	t.unsaved[ownerID]++
	t.enforceCapLocked()
}

// Reset clears the owner's unsaved count after a successful archival.
func (t *ActivityTracker) Reset(ownerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unsaved[ownerID] = 0
}

// Pending returns the owner's unsaved message count.
func (t *ActivityTracker) Pending(ownerID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unsaved[ownerID]
}

// Due returns owners whose last activity is older than timeout and whose
// unsaved count reached minCount. It also evicts long-inactive owners with
// nothing pending.
func (t *ActivityTracker) Due(timeout time.Duration, minCount int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var due []string
	for ownerID, last := range t.lastChat {
		if now.Sub(last) > timeout && t.unsaved[ownerID] >= minCount {
			due = append(due, ownerID)
		}
	}
	sort.Strings(due)

	t.evictLocked(now)
	return due
}

// NextTrigger returns the earliest time any tracked owner with enough
// pending messages becomes due. ok is false when no owner qualifies.
func (t *ActivityTracker) NextTrigger(timeout time.Duration, minCount int) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var earliest time.Time
	found := false
	for ownerID, last := range t.lastChat {
		if t.unsaved[ownerID] < minCount {
			continue
		}
		trigger := last.Add(timeout)
		if !found || trigger.Before(earliest) {
			earliest = trigger
			found = true
		}
	}
	return earliest, found
}

// Active returns the number of tracked owners.
func (t *ActivityTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastChat)
}

// ActiveWithPending returns the number of owners holding unsaved messages.
func (t *ActivityTracker) ActiveWithPending(minCount int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, count := range t.unsaved {
		if count >= minCount {
			n++
		}
	}
	return n
}

// evictLocked drops owners idle past the eviction horizon, but never while
// they still hold unsaved messages.
func (t *ActivityTracker) evictLocked(now time.Time) {
	for ownerID, last := range t.lastChat {
		if now.Sub(last) > inactiveEvictAfter && t.unsaved[ownerID] == 0 {
			delete(t.lastChat, ownerID)
			delete(t.unsaved, ownerID)
		}
	}
}

// enforceCapLocked keeps only the most recently active owners when the
// tracked set exceeds the cap.
func (t *ActivityTracker) enforceCapLocked() {
	if len(t.lastChat) <= maxTrackedOwners {
		return
	}
	type entry struct {
		ownerID string
		last    time.Time
	}
	entries := make([]entry, 0, len(t.lastChat))
	for ownerID, last := range t.lastChat {
		entries = append(entries, entry{ownerID, last})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].last.After(entries[j].last)
	})
	for _, e := range entries[maxTrackedOwners:] {
		delete(t.lastChat, e.ownerID)
		delete(t.unsaved, e.ownerID)
	}
}
