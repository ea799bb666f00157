package license

import (
	"context"
	"sync"
)

// Locker hands out named exclusive locks that can be abandoned when the
// caller's context ends. Unused names are dropped from the table.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*lockEntry)}
}

// KeyLockName is the lock name of a key code.
func KeyLockName(code string) string { return "key:" + code }

// DeviceLockName is the lock name of a fingerprint.
func DeviceLockName(fingerprint string) string { return "device:" + fingerprint }

// Lock acquires names in the given order. On error nothing is held. The
// returned function releases all of them in reverse order.
func (l *Locker) Lock(ctx context.Context, names ...string) (func(), error) {
	held := make([]string, 0, len(names))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}

	for _, name := range names {
		if err := l.lock(ctx, name); err != nil {
			release()
			return nil, err
		}
		held = append(held, name)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *Locker) lock(ctx context.Context, name string) error {
	l.mu.Lock()
	e, ok := l.locks[name]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.locks[name] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(name, e)
		return ctx.Err()
	}
}

func (l *Locker) unlock(name string) {
	l.mu.Lock()
	e, ok := l.locks[name]
	l.mu.Unlock()
	if !ok {
		return
	}
	<-e.ch
	l.release(name, e)
}

func (l *Locker) release(name string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, name)
	}
}

// Len reports how many names are currently tracked.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
