package points

import (
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// RunLock admits one batch pass at a time. Overlapping passes are rejected,
// not queued.
type RunLock struct {
	sem *semaphore.Weighted
}

func NewRunLock() *RunLock {
	return &RunLock{sem: semaphore.NewWeighted(1)}
}

// TryAcquire takes the lock if it is free.
func (l *RunLock) TryAcquire() bool {
	return l.sem.TryAcquire(1)
}

func (l *RunLock) Release() {
	l.sem.Release(1)
}

// customerLocks serializes units of work that reconcile the same customer.
// Entries are never evicted; the map grows with the number of distinct
// customers seen by the process.
type customerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newCustomerLocks() *customerLocks {
	return &customerLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until custCode is free and returns its unlock function.
func (c *customerLocks) Lock(custCode string) func() {
	c.mu.Lock()
	m, ok := c.locks[custCode]
	if !ok {
		m = &sync.Mutex{}
		c.locks[custCode] = m
	}
	c.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// LockAll locks every distinct non-empty code in sorted order. It returns
// the set of held codes and one function releasing them all.
func (c *customerLocks) LockAll(codes ...string) (map[string]bool, func()) {
	held := make(map[string]bool, len(codes))
	sorted := make([]string, 0, len(codes))
	for _, code := range codes {
		if code != "" && !held[code] {
			held[code] = true
			sorted = append(sorted, code)
		}
	}
	sort.Strings(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for _, code := range sorted {
		unlocks = append(unlocks, c.Lock(code))
	}
	return held, func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
