// Package round defines the phase-advancement primitives shared by the
// wire protocol (pkg/protocol) and the DC/SK/TS role state machines
// (protocols/privcount/roundfsm). It plays the same structural role the
// teacher gives its generic MPC round interface, narrowed to PrivCount's
// fixed five-phase lifecycle instead of an open-ended round count.
package round

import "github.com/privcount/privcount/pkg/party"

// Phase is one step of a PrivCount round in the DC/SK inner machine
// (roundfsm). The TS's outer machine has its own phase type in
// protocols/privcount/ts.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRegistered
	PhasePrepared
	PhaseCollecting
	PhaseTallying
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseRegistered:
		return "REGISTERED"
	case PhasePrepared:
		return "PREPARED"
	case PhaseCollecting:
		return "COLLECTING"
	case PhaseTallying:
		return "TALLYING"
	default:
		return "UNKNOWN"
	}
}

// Session is the information a round phase needs in order to validate
// and accept an incoming protocol message: who it is addressed to, the
// session it belongs to, and which participants are in scope.
type Session interface {
	// SelfID is this node's own identity.
	SelfID() party.ID
	// PartyIDs is the full participant set for the round (DCs and SKs).
	PartyIDs() party.IDSlice
	// SSID is the session identifier the round was started with; every
	// message must carry the same value or it is rejected.
	SSID() []byte
	// Phase is the phase this session is currently expecting messages for.
	Phase() Phase
}

// CanAdvance reports whether phase `next` is a legal successor of
// `current` in the DC/SK inner machine (spec.md §4.2/§4.3): each phase
// advances exactly one step, or the round resets to IDLE on abort.
func CanAdvance(current, next Phase) bool {
	if next == PhaseIdle {
		return true
	}
	return next == current+1
}
