package usecase

import "sync"

// documentLocks serializes work on a single owner's document. The zero value
// is ready to use; entries are dropped once nobody holds or waits on them.
type documentLocks struct {
	mu    sync.Mutex
	locks map[string]*documentLock
}

type documentLock struct {
	mu   sync.Mutex
	refs int
}

func (l *documentLocks) lock(ownerID, documentID string) (unlock func()) {
	key := ownerID + "\x00" + documentID

	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*documentLock)
	}
	dl, ok := l.locks[key]
	if !ok {
		dl = &documentLock{}
		l.locks[key] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()

		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
