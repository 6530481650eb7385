package store

import (
	"context"
	"sync"
)

// nameLocks hands out one writer slot per file name. Entries are reference
// counted so the table only holds names with a writer or a waiter.
type nameLocks struct {
	mu sync.Mutex
	m  map[string]*nameLock
}

type nameLock struct {
	slot chan struct{}
	refs int
}

func newNameLocks() *nameLocks {
	return &nameLocks{m: map[string]*nameLock{}}
}

// acquire blocks until the caller is the only writer for name or ctx is done.
// The returned func releases the slot and must be called exactly once.
func (l *nameLocks) acquire(ctx context.Context, name string) (func(), error) {
	l.mu.Lock()
	nl, ok := l.m[name]
	if !ok {
		nl = &nameLock{slot: make(chan struct{}, 1)}
		l.m[name] = nl
	}
	nl.refs++
	l.mu.Unlock()

	select {
	case nl.slot <- struct{}{}:
	case <-ctx.Done():
		l.unref(name, nl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-nl.slot
			l.unref(name, nl)
		})
	}, nil
}

func (l *nameLocks) unref(name string, nl *nameLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	nl.refs--
	if nl.refs == 0 {
		delete(l.m, name)
	}
}

func (l *nameLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
