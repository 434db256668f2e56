package ts

import (
	"sync"
	"time"

	"github.com/privcount/privcount/pkg/party"
)

// NodeHealth tracks one node's check-in liveness, keyed by its stable
// identity fingerprint so an IP change never looks like a dead node
// (spec.md §4.5 "Check-ins").
type NodeHealth struct {
	ID           party.ID
	LastCheckin  time.Time
	CheckinCount int
}

// HealthTracker is the TS's check-in liveness table. A node is
// considered alive if at most 2*checkin_period has elapsed since its
// last heartbeat (spec.md §4.5).
type HealthTracker struct {
	mu            sync.RWMutex
	checkinPeriod time.Duration
	nodes         map[party.ID]*NodeHealth
}

// NewHealthTracker starts an empty tracker for the given checkin_period.
func NewHealthTracker(checkinPeriod time.Duration) *HealthTracker {
	return &HealthTracker{checkinPeriod: checkinPeriod, nodes: make(map[party.ID]*NodeHealth)}
}

// Checkin records a heartbeat from id at time now.
func (h *HealthTracker) Checkin(id party.ID, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.nodes[id]
	if !ok {
		n = &NodeHealth{ID: id}
		h.nodes[id] = n
	}
	n.LastCheckin = now
	n.CheckinCount++
}

// IsAlive reports whether id has checked in within 2*checkin_period of
// now.
func (h *HealthTracker) IsAlive(id party.ID, now time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n, ok := h.nodes[id]
	if !ok {
		return false
	}
	return now.Sub(n.LastCheckin) <= 2*h.checkinPeriod
}

// AliveNodes returns every node id currently considered alive.
func (h *HealthTracker) AliveNodes(now time.Time) party.IDSlice {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out party.IDSlice
	for id, n := range h.nodes {
		if now.Sub(n.LastCheckin) <= 2*h.checkinPeriod {
			out = append(out, id)
		}
	}
	return out.Sorted()
}
