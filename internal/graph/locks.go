package graph

import "sync"

// userLocks serializes memory writes per user without serializing unrelated
// users' traffic: a lock table keyed by user id, never a single global lock.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

func (u *userLocks) lock(userID string) *sync.Mutex {
	u.mu.Lock()
	l, ok := u.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		u.locks[userID] = l
	}
	u.mu.Unlock()

	l.Lock()
	return l
}
