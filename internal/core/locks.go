package core

import "sync"

// sheetLocks hands out one mutex per sheet. Entries are reference counted
// and dropped when no caller holds or waits for them.
type sheetLocks struct {
	mu    sync.Mutex
	locks map[string]*sheetLock
}

type sheetLock struct {
	mu   sync.Mutex
	refs int
}

func newSheetLocks() *sheetLocks {
	return &sheetLocks{locks: make(map[string]*sheetLock)}
}

// lock blocks until the caller holds the sheet and returns the unlock func.
func (l *sheetLocks) lock(sheetID string) func() {
	l.mu.Lock()
	sl, ok := l.locks[sheetID]
	if !ok {
		sl = &sheetLock{}
		l.locks[sheetID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, sheetID)
		}
		l.mu.Unlock()
	}
}

// size returns the number of sheets currently locked or awaited.
func (l *sheetLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
