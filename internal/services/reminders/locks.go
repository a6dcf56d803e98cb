package reminders

import (
	"sync"

	"pland/internal/reminder"
)

// keyLocks serializes fires of the same key. Entries are dropped once no one
// holds or waits on them.
type keyLocks struct {
	mu sync.Mutex
	m  map[reminder.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (l *keyLocks) Lock(key reminder.Key) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = map[reminder.Key]*keyLock{}
	}
	kl, ok := l.m[key]
	if !ok {
		kl = &keyLock{}
		l.m[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}

func (l *keyLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
