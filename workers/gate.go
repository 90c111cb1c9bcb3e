package workers

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate is a counting admission gate: Admit blocks until one of its slots is
// free, Release hands the slot back. Waiters are admitted in arrival order.
type Gate struct {
	sem   *semaphore.Weighted
	slots int
}

func NewGate(slots int) *Gate {
	if slots < 1 {
		slots = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(slots)), slots: slots}
}

func (g *Gate) Admit(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

func (g *Gate) Release() {
	g.sem.Release(1)
}

func (g *Gate) Slots() int {
	return g.slots
}
