package credits

import "sync"

// orgLocks serializes ledger writers per organization within one process.
type orgLocks struct {
	mu      sync.Mutex
	entries map[string]*orgLock
}

type orgLock struct {
	mu   sync.Mutex
	refs int
}

func newOrgLocks() *orgLocks {
	return &orgLocks{entries: make(map[string]*orgLock)}
}

// lock blocks until organizationID is free and returns its release func.
func (l *orgLocks) lock(organizationID string) func() {
	l.mu.Lock()
	entry, ok := l.entries[organizationID]
	if !ok {
		entry = &orgLock{}
		l.entries[organizationID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, organizationID)
		}
		l.mu.Unlock()
	}
}

func (l *orgLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
