package engine

import "sync"

// Registry is the per-connection stream-id -> *Stream map with stable,
// insertion-ordered iteration, used by the write scheduler to pick "the
// first stream with pending data in registry-insertion order."
type Registry struct {
	mu      sync.Mutex
	streams map[int64]*Stream
	order   []int64
}

// NewRegistry returns an empty stream registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[int64]*Stream)}
}

// GetOrCreate returns the existing stream for id, creating and registering
// one (in insertion order) if absent.
func (r *Registry) GetOrCreate(id int64) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[id]; ok {
		return s
	}
	s := newStream(id)
	r.streams[id] = s
	r.order = append(r.order, id)
	return s
}

// Get returns the stream for id, or nil if it is not registered.
func (r *Registry) Get(id int64) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[id]
}

// Remove deletes a stream from the registry. It returns true if the stream
// was present (and, as a consequence, an extra peer-bidi-stream credit is
// due per the close invariant).
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[id]; !ok {
		return false
	}
	delete(r.streams, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Len reports the number of streams currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// FirstPending returns the first stream (in insertion order) with pending
// egress data or an unflushed FIN, or nil if none.
func (r *Registry) FirstPending() *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		s := r.streams[id]
		if s.Pending() {
			return s
		}
	}
	return nil
}

// Each calls fn for every stream in insertion order. fn must not mutate the
// registry.
func (r *Registry) Each(fn func(*Stream)) {
	r.mu.Lock()
	ids := append([]int64(nil), r.order...)
	r.mu.Unlock()
	for _, id := range ids {
		r.mu.Lock()
		s, ok := r.streams[id]
		r.mu.Unlock()
		if ok {
			fn(s)
		}
	}
}
