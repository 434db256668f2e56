package counter

import "sync"

// RotatingSet is the windowed distinct-client-IP counter described in
// spec.md §5 "Resource policy": memory is bounded by clients observed in
// a 10-minute window rather than by clients observed across a whole
// round. Two generations are kept; a client observed only in the older
// generation survives one rotation before it ages out, matching the
// spec's "takes two rotations to age out".
type RotatingSet struct {
	mu      sync.Mutex
	current map[string]struct{}
	prior   map[string]struct{}
}

// NewRotatingSet returns an empty two-generation set.
func NewRotatingSet() *RotatingSet {
	return &RotatingSet{
		current: make(map[string]struct{}),
		prior:   make(map[string]struct{}),
	}
}

// Observe records key (e.g. a client IP) in the current generation and
// reports whether it is new to both generations — i.e. whether it
// should be counted as a distinct client this window.
func (r *RotatingSet) Observe(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, inCurrent := r.current[key]
	_, inPrior := r.prior[key]
	r.current[key] = struct{}{}
	return !inCurrent && !inPrior
}

// Rotate ages the current generation into prior and starts a fresh
// current generation. Callers invoke this every 10 minutes per
// spec.md §5.
func (r *RotatingSet) Rotate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prior = r.current
	r.current = make(map[string]struct{})
}

// Len reports the number of distinct keys held across both generations,
// for diagnostics only.
func (r *RotatingSet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{}, len(r.current)+len(r.prior))
	for k := range r.current {
		seen[k] = struct{}{}
	}
	for k := range r.prior {
		seen[k] = struct{}{}
	}
	return len(seen)
}
