package registry

import (
	"sync"
	"sync/atomic"
)

// ReadRef is a live, shared binding to a ReadTable. Readers take one snapshot
// per decode with Load; writers replace the table copy-on-write, so a snapshot
// already handed out never changes underneath its holder.
type ReadRef struct {
	mu  sync.Mutex // serializes writers
	cur atomic.Pointer[ReadTable]
}

// NewReadRef returns a reference initialised with a copy of t.
func NewReadRef(t ReadTable) *ReadRef {
	r := &ReadRef{}
	r.Store(t)
	return r
}

// Load returns the current table. Callers must not mutate it.
func (r *ReadRef) Load() ReadTable {
	if r == nil {
		return nil
	}
	if p := r.cur.Load(); p != nil {
		return *p
	}
	return nil
}

// Store replaces the whole table with a copy of t.
func (r *ReadRef) Store(t ReadTable) {
	cp := make(ReadTable, len(t))
	for k, h := range t {
		cp[k] = h
	}
	r.mu.Lock()
	r.cur.Store(&cp)
	r.mu.Unlock()
}

// Register adds or replaces the handler for tag.
func (r *ReadRef) Register(tag string, h ReadHandler) {
	r.update(func(t ReadTable) { t[tag] = h })
}

// Unregister removes the handler for tag, if any.
func (r *ReadRef) Unregister(tag string) {
	r.update(func(t ReadTable) { delete(t, tag) })
}

// Len returns the number of registered tags.
func (r *ReadRef) Len() int { return len(r.Load()) }

func (r *ReadRef) update(fn func(ReadTable)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.Load()
	next := make(ReadTable, len(old)+1)
	for k, h := range old {
		next[k] = h
	}
	fn(next)
	r.cur.Store(&next)
}
