package feed

import "sync"

// RowLock hands out one mutex per row id.  A writer holds the row's
// lock across its store commit and the Publish that follows, so the
// events this process emits for a row enter the feed in commit order.
// Ordering across separate writer processes is the store feed's
// contract, not this lock's.
//
// The map grows with the number of distinct rows written, which is
// bounded by the slot collection itself.
type RowLock struct {
	mu   sync.Mutex
	rows map[uint64]*sync.Mutex
}

// NewRowLock returns an empty RowLock.
func NewRowLock() *RowLock {
	return &RowLock{rows: make(map[uint64]*sync.Mutex)}
}

// Lock acquires the mutex for the given row id, creating it on first
// use, and returns the matching unlock function.
func (l *RowLock) Lock(id uint64) (unlock func()) {
	l.mu.Lock()
	m, ok := l.rows[id]
	if !ok {
		m = &sync.Mutex{}
		l.rows[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
