// Package instance caches one handler session per cookie store, so that
// requests sharing a store share its connections and requests with distinct
// stores never do.
package instance

import (
	"io"
	"reflect"
	"sync"
)

// Key identifies a session. Build it with [KeyOf].
type Key struct {
	ptr uintptr
	typ reflect.Type
	val interface{}
}

// NoStore is the key of requests without a cookie store.
var NoStore = Key{}

// KeyOf returns the identity of a cookie store. Pointer-shaped stores are
// keyed by address, other comparable values by value.
func KeyOf(store interface{}) Key {
	if store == nil {
		return NoStore
	}
	v := reflect.ValueOf(store)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Slice:
		if v.IsNil() {
			return NoStore
		}
		return Key{ptr: v.Pointer(), typ: v.Type()}
	}
	if v.Type().Comparable() {
		return Key{typ: v.Type(), val: store}
	}
	// not comparable and not a reference, every value is its own store
	return Key{typ: v.Type(), val: new(byte)}
}

type entry[V io.Closer] struct {
	ready chan struct{}
	v     V
	err   error
}

type Pool[V io.Closer] struct {
	mu      sync.Mutex
	entries map[Key]*entry[V]
}

// Get returns the value cached for key, building it with factory when
// missing. Concurrent callers for one key wait for a single construction;
// distinct keys never wait on each other. A failed construction is not
// cached and its error is returned as is.
func (p *Pool[V]) Get(key Key, factory func() (V, error)) (V, error) {
	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		p.mu.Unlock()
		<-e.ready
		return e.v, e.err
	}
	if p.entries == nil {
		p.entries = map[Key]*entry[V]{}
	}
	e := &entry[V]{ready: make(chan struct{})}
	p.entries[key] = e
	p.mu.Unlock()

	e.v, e.err = factory()
	if e.err != nil {
		p.mu.Lock()
		if p.entries[key] == e {
			delete(p.entries, key)
		}
		p.mu.Unlock()
	}
	close(e.ready)
	return e.v, e.err
}

// Clear closes and forgets every cached value, waiting for constructions in
// flight. It returns the first Close error.
func (p *Pool[V]) Clear() error {
	p.mu.Lock()
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()

	var first error
	for _, e := range entries {
		<-e.ready
		if e.err != nil {
			continue
		}
		if err := e.v.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (p *Pool[V]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
