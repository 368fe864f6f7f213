// Package keylock provides per-key mutual exclusion. The coordination
// components share one registry so that all mutations of a given ride
// (seat counts, confirmation flags, status) are applied one at a time
// even when the triggering requests are concurrent.
package keylock

import "sync"

type Registry struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key, creating it on first use. The entry
// is reference counted and removed again once no goroutine holds or
// waits on it, so the registry does not grow with ride churn.
func (r *Registry) Lock(key string) {
	r.mu.Lock()
	e, ok := r.locks[key]
	if !ok {
		e = &entry{}
		r.locks[key] = e
	}
	e.refs++
	r.mu.Unlock()

	e.mu.Lock()
}

func (r *Registry) Unlock(key string) {
	r.mu.Lock()
	e, ok := r.locks[key]
	if !ok {
		r.mu.Unlock()
		panic("keylock: unlock of unheld key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(r.locks, key)
	}
	r.mu.Unlock()

	e.mu.Unlock()
}

// Do runs fn while holding the key's lock.
func (r *Registry) Do(key string, fn func() error) error {
	r.Lock(key)
	defer r.Unlock(key)
	return fn()
}
