// Package persist implements the per-node persisted state named in
// spec.md §6 "Persisted state": the TS's last round outcome and
// per-node last-seen timestamps, and the SK/DC's last noise-allocation
// hash and last round end time (used by delay enforcement, §4.6).
package persist

import (
	"context"
	"time"

	"github.com/privcount/privcount/pkg/outcomes"
	"github.com/privcount/privcount/pkg/party"
)

// NodeState is one node's reportable liveness, keyed by its stable
// identity fingerprint rather than its transport address (spec.md §4.5).
type NodeState struct {
	ID       party.ID
	LastSeen time.Time
}

// RoundHistory is what a DC or SK persists across rounds to drive delay
// enforcement (spec.md §6 "DC persists: last round's noise allocation
// hash, last round end time").
type RoundHistory struct {
	NoiseAllocationHash []byte
	LastRoundEndTime    time.Time
	InitialSigma        map[string]float64
}

// Store is the persistence boundary every node role depends on. The
// default implementation is file-backed JSON (filestore.go); a
// Postgres-backed implementation (pgstore.go) is selected by a node
// config's persist_driver for deployments that already run a database for other tooling.
type Store interface {
	// SaveOutcome persists the TS's last published round outcome.
	SaveOutcome(ctx context.Context, o outcomes.Outcomes) error
	// LastOutcome returns the most recently persisted outcome, if any.
	LastOutcome(ctx context.Context) (*outcomes.Outcomes, bool, error)

	// TouchNode records that a node fingerprint was seen at the given
	// time (TS-side liveness tracking, spec.md §4.5 "Check-ins").
	TouchNode(ctx context.Context, id party.ID, seenAt time.Time) error
	// NodeStates returns the full last-seen table.
	NodeStates(ctx context.Context) ([]NodeState, error)

	// SaveRoundHistory persists a DC/SK's delay-enforcement state.
	SaveRoundHistory(ctx context.Context, h RoundHistory) error
	// LoadRoundHistory loads it back, if any exists.
	LoadRoundHistory(ctx context.Context) (*RoundHistory, bool, error)

	Close() error
}
