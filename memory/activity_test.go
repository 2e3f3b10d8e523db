package memory

import (
	"testing"
	"time"
)

// fixedClock lets tests move the tracker's clock by hand.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker() (*ActivityTracker, *fixedClock) {
	clock := &fixedClock{t: ts(1, 12)}
	tracker := NewActivityTracker()
	tracker.now = clock.now
	return tracker, clock
}

func TestTrackerTouchAndReset(t *testing.T) {
	tracker, _ := newTestTracker()

	tracker.Touch("o1")
	tracker.Touch("o1")
	if got := tracker.Pending("o1"); got != 2 {
		t.Errorf("Pending = %d, want 2", got)
	}
	if got := tracker.Active(); got != 1 {
		t.Errorf("Active = %d, want 1", got)
	}

	tracker.Reset("o1")
	if got := tracker.Pending("o1"); got != 0 {
		t.Errorf("Pending after reset = %d, want 0", got)
	}
	// Reset clears the count but keeps the owner tracked.
	if got := tracker.Active(); got != 1 {
		t.Errorf("Active after reset = %d, want 1", got)
	}
}

func TestTrackerDue(t *testing.T) {
	tracker, clock := newTestTracker()

	tracker.Touch("late")
	tracker.Touch("late")
	clock.advance(10 * time.Minute)
	tracker.Touch("fresh")
	tracker.Touch("fresh")
	clock.advance(6 * time.Minute)
	tracker.Touch("thin")

	due := tracker.Due(5*time.Minute, 2)
	if len(due) != 1 || due[0] != "late" {
		t.Fatalf("Due = %v, want [late]", due)
	}

	clock.advance(10 * time.Minute)
	due = tracker.Due(5*time.Minute, 2)
	if len(due) != 2 || due[0] != "fresh" || due[1] != "late" {
		t.Errorf("Due = %v, want sorted [fresh late]", due)
	}
}

func TestTrackerNextTrigger(t *testing.T) {
	tracker, clock := newTestTracker()

	if _, ok := tracker.NextTrigger(time.Minute, 1); ok {
		t.Fatal("empty tracker should have no trigger")
	}

	tracker.Touch("o1")
	first := clock.t
	clock.advance(time.Minute)
	tracker.Touch("o2")

	trigger, ok := tracker.NextTrigger(5*time.Minute, 1)
	if !ok {
		t.Fatal("expected a trigger")
	}
	if !trigger.Equal(first.Add(5 * time.Minute)) {
		t.Errorf("trigger = %v, want the earliest owner's deadline", trigger)
	}

	// Owners below the pending floor do not schedule anything.
	if _, ok := tracker.NextTrigger(5*time.Minute, 3); ok {
		t.Error("no owner has 3 pending messages")
	}
}

func TestTrackerEvictsIdleOwners(t *testing.T) {
	tracker, clock := newTestTracker()

	tracker.Touch("drained")
	tracker.Touch("loaded")
	tracker.Reset("drained")

	clock.advance(8 * 24 * time.Hour)
	tracker.Due(time.Minute, 1)

	if got := tracker.Active(); got != 1 {
		t.Errorf("Active = %d, want only the owner with pending messages", got)
	}
	if got := tracker.Pending("loaded"); got != 1 {
		t.Errorf("loaded owner evicted with unsaved messages, pending = %d", got)
	}
}

func TestTrackerCapKeepsMostRecent(t *testing.T) {
	tracker, clock := newTestTracker()

	tracker.Touch("oldest")
	for i := 0; i < maxTrackedOwners; i++ {
		clock.advance(time.Second)
		tracker.Touch(string(rune('a'+i%26)) + string(rune('a'+i/26)))
	}

	if got := tracker.Active(); got != maxTrackedOwners {
		t.Errorf("Active = %d, want cap %d", got, maxTrackedOwners)
	}
	if got := tracker.Pending("oldest"); got != 0 {
		t.Errorf("oldest owner should be evicted, pending = %d", got)
	}
}

func TestTrackerActiveWithPending(t *testing.T) {
	tracker, _ := newTestTracker()

	tracker.Touch("a")
	tracker.Touch("a")
	tracker.Touch("b")

	if got := tracker.ActiveWithPending(2); got != 1 {
		t.Errorf("ActiveWithPending(2) = %d, want 1", got)
	}
	if got := tracker.ActiveWithPending(1); got != 2 {
		t.Errorf("ActiveWithPending(1) = %d, want 2", got)
	}
}
