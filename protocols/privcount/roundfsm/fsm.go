// Package roundfsm implements the DC/SK shared inner state machine of
// spec.md §4.5: IDLE -> REGISTERED -> PREPARED -> COLLECTING ->
// TALLYING -> IDLE.
package roundfsm

import (
	"fmt"
	"sync"

	"github.com/privcount/privcount/internal/round"
)

// Machine drives one node's round phase transitions and rejects any
// transition that isn't the single legal next step, per spec.md §4.5
// ("each phase advances exactly one step").
type Machine struct {
	mu      sync.Mutex
	roundID string
	phase   round.Phase
}

// New starts a Machine in IDLE.
func New() *Machine {
	return &Machine{phase: round.PhaseIdle}
}

// Phase returns the current phase.
func (m *Machine) Phase() round.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// RoundID returns the round this machine is currently tracking, empty
// when IDLE.
func (m *Machine) RoundID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roundID
}

// Register transitions IDLE -> REGISTERED for a new round, binding the
// machine to roundID.
func (m *Machine) Register(roundID string) error {
	return m.advance(round.PhaseRegistered, func() { m.roundID = roundID })
}

// Prepare transitions REGISTERED -> PREPARED.
func (m *Machine) Prepare() error {
	return m.advance(round.PhasePrepared, nil)
}

// Collect transitions PREPARED -> COLLECTING.
func (m *Machine) Collect() error {
	return m.advance(round.PhaseCollecting, nil)
}

// Tally transitions COLLECTING -> TALLYING.
func (m *Machine) Tally() error {
	return m.advance(round.PhaseTallying, nil)
}

// Finish transitions TALLYING -> IDLE, clearing the bound round.
func (m *Machine) Finish() error {
	return m.advance(round.PhaseIdle, func() { m.roundID = "" })
}

// Abort forces the machine back to IDLE from any phase, per spec.md
// §4.5's abort path (a failed validation or a dropped connection ends
// the round for this node without waiting for the normal sequence).
func (m *Machine) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = round.PhaseIdle
	m.roundID = ""
}

func (m *Machine) advance(next round.Phase, onSuccess func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !round.CanAdvance(m.phase, next) {
		return fmt.Errorf("roundfsm: illegal transition %s -> %s", m.phase, next)
	}
	m.phase = next
	if onSuccess != nil {
		onSuccess()
	}
	return nil
}
