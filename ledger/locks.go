package ledger

import "sync"

// =============================================================================
// PER-USER EXCLUSION
// =============================================================================

// userLocks provides one mutex per user. Appends for the same user are
// serialized across the whole append+project+evaluate flow; appends for
// different users never contend.
//
// Mutexes are retained for the life of the process. One mutex per active
// user is a few dozen bytes; eviction is not worth the complexity here.
type userLocks struct {
	mu sync.Mutex
	m  map[UserID]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{m: make(map[UserID]*sync.Mutex)}
}

// lock acquires the mutex for id and returns its unlock function.
func (l *userLocks) lock(id UserID) func() {
	l.mu.Lock()
	um, ok := l.m[id]
	if !ok {
		um = &sync.Mutex{}
		l.m[id] = um
	}
	l.mu.Unlock()

	um.Lock()
	return um.Unlock
}
