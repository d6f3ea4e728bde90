// Package keylock provides one mutex per string key.
package keylock

import (
	"sort"
	"sync"
)

type refMutex struct {
	mu   sync.Mutex
	refs int
}

// Locks hands out a mutex per key and drops it once nobody holds or waits on it.
type Locks struct {
	mapMu sync.Mutex // protects locks
	locks map[string]*refMutex
}

func New() *Locks {
	return &Locks{locks: make(map[string]*refMutex)}
}

func (l *Locks) acquire(key string) *refMutex {
	l.mapMu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &refMutex{}
		l.locks[key] = m
	}
	m.refs++
	l.mapMu.Unlock()
	return m
}

func (l *Locks) release(key string, m *refMutex) {
	l.mapMu.Lock()
	m.refs--
	if m.refs == 0 {
		delete(l.locks, key)
	}
	l.mapMu.Unlock()
}

// Lock blocks until key is held and returns the matching unlock func.
func (l *Locks) Lock(key string) (unlock func()) {
	m := l.acquire(key)
	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		l.release(key, m)
	}
}

// LockAll locks every distinct key in sorted order, so two callers locking
// overlapping sets cannot deadlock.
func (l *Locks) LockAll(keys ...string) (unlock func()) {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)

	unlocks := make([]func(), 0, len(uniq))
	for _, k := range uniq {
		unlocks = append(unlocks, l.Lock(k))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// Len reports how many keys currently have a live mutex.
func (l *Locks) Len() int {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()
	return len(l.locks)
}
