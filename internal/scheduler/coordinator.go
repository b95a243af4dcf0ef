package scheduler

import (
	"sync"

	"github.com/noah-isme/timetable-api/internal/models"
)

// Coordinator owns the instructor ledger for one run. Batches ask it whether an instructor is free
// and submit commitments through it instead of touching the ledger directly.
type Coordinator struct {
	mu      sync.Mutex
	ledger  *models.SlotSet
	tracked TrackedSet
	commits int
}

// NewCoordinator wraps ledger, which is mutated in place by Commit.
func NewCoordinator(ledger *models.SlotSet, tracked TrackedSet) *Coordinator {
	if ledger == nil {
		ledger = &models.SlotSet{}
	}
	return &Coordinator{ledger: ledger, tracked: tracked}
}

// Tracked reports whether the instructor is subject to ledger checks for the session type.
func (c *Coordinator) Tracked(instructor string, typ models.SessionType) bool {
	return c.tracked.IsTracked(instructor, typ)
}

// Free reports whether instructor holds no commitment at any of the given slots of day.
// Untracked instructors are always free; slots outside the grid are ignored.
func (c *Coordinator) Free(instructor string, typ models.SessionType, day int, slots ...int) bool {
	if !c.tracked.IsTracked(instructor, typ) {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, slot := range slots {
		if c.ledger.Has(day, slot, instructor) {
			return false
		}
	}
	return true
}

// Commit records instructor at every given slot of day when tracked.
func (c *Coordinator) Commit(instructor string, typ models.SessionType, day int, slots ...int) {
	if !c.tracked.IsTracked(instructor, typ) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, slot := range slots {
		c.ledger.Add(day, slot, instructor)
		c.commits++
	}
}

// Commits returns how many ledger entries this coordinator has written.
func (c *Coordinator) Commits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commits
}
