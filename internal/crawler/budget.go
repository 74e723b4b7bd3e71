package crawler

import "sync"

// budget counts visited pages against the page cap.
// A zero max means unlimited.
type budget struct {
	mu       sync.Mutex
	max      int
	visited  int
	reserved int
}

func newBudget(maxPages int) *budget {
	return &budget{max: maxPages}
}

// reserve claims a slot for one fetch. It fails when visited plus
// outstanding reservations already cover the cap.
func (b *budget) reserve() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && b.visited+b.reserved >= b.max {
		return false
	}
	b.reserved++
	return true
}

// commit turns a reservation into a visited page and returns the new count.
func (b *budget) commit() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reserved--
	b.visited++
	return b.visited
}

// release gives a reservation back.
func (b *budget) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reserved--
}

// exhausted reports whether the cap has been reached.
func (b *budget) exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.max > 0 && b.visited >= b.max
}
