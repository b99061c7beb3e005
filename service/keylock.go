package service

import "sync"

// keyLocker hands out one mutex per key, dropping it once nobody holds or
// waits on it.
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free and returns its unlock func.
func (kl *keyLocker) Lock(key string) func() {
	kl.mu.Lock()
	l, ok := kl.locks[key]
	if !ok {
		l = &refLock{}
		kl.locks[key] = l
	}
	l.refs++
	kl.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		kl.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(kl.locks, key)
		}
		kl.mu.Unlock()
	}
}

func (kl *keyLocker) size() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}
