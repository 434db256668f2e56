// Package ts implements the Tally Server role: the outer state machine
// of spec.md §4.5 ("CONFIGURING -> WAITING_FOR_THRESHOLDS -> STARTED ->
// SUMMING -> PUBLISHING -> IDLE"), threshold gating, aggregation, and
// the outcomes HTTP surface.
package ts

import "fmt"

// Phase is one step of the TS's outer state machine, distinct from the
// DC/SK inner round.Phase since the TS's lifecycle has different gates
// (threshold waits) and no COLLECTING-equivalent state of its own.
type Phase int

const (
	PhaseConfiguring Phase = iota
	PhaseWaitingForThresholds
	PhaseStarted
	PhaseSumming
	PhasePublishing
	PhaseIdle
)

func (p Phase) String() string {
	switch p {
	case PhaseConfiguring:
		return "CONFIGURING"
	case PhaseWaitingForThresholds:
		return "WAITING_FOR_THRESHOLDS"
	case PhaseStarted:
		return "STARTED"
	case PhaseSumming:
		return "SUMMING"
	case PhasePublishing:
		return "PUBLISHING"
	case PhaseIdle:
		return "IDLE"
	default:
		return "UNKNOWN"
	}
}

var phaseOrder = []Phase{
	PhaseConfiguring, PhaseWaitingForThresholds, PhaseStarted,
	PhaseSumming, PhasePublishing, PhaseIdle,
}

func (p Phase) next() (Phase, bool) {
	for i, x := range phaseOrder {
		if x == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1], true
		}
	}
	return PhaseIdle, false
}

// FSM drives the TS's outer lifecycle for one round.
type FSM struct {
	phase       Phase
	dcPrepared  map[string]bool
	skPrepared  map[string]bool
	dcThreshold int
	skThreshold int
	ssid        []byte
}

// NewFSM starts an FSM in CONFIGURING with the thresholds a round
// requires before it can leave WAITING_FOR_THRESHOLDS.
func NewFSM(dcThreshold, skThreshold int) *FSM {
	return &FSM{
		phase:       PhaseConfiguring,
		dcPrepared:  make(map[string]bool),
		skPrepared:  make(map[string]bool),
		dcThreshold: dcThreshold,
		skThreshold: skThreshold,
	}
}

// Phase returns the current outer phase.
func (f *FSM) Phase() Phase { return f.phase }

// SetSSID records the session ID CONFIG will bind this round's DC/SK
// set and counter configuration to (spec.md §6); every later message in
// the round carries it. Incoming messages are not checked against it.
func (f *FSM) SetSSID(ssid []byte) { f.ssid = ssid }

// SSID returns the round's session ID, or nil before CONFIGURING has
// set one.
func (f *FSM) SSID() []byte { return f.ssid }

// EnterWaitingForThresholds transitions CONFIGURING ->
// WAITING_FOR_THRESHOLDS once CONFIG has been broadcast.
func (f *FSM) EnterWaitingForThresholds() error {
	return f.advance(PhaseWaitingForThresholds)
}

// NotePrepared records that a DC or SK reported PREPARED.
func (f *FSM) NotePrepared(isDC bool, id string) {
	if isDC {
		f.dcPrepared[id] = true
	} else {
		f.skPrepared[id] = true
	}
}

// ThresholdsMet reports whether enough DCs and SKs are PREPARED to
// start the round (spec.md §4.5: "refuses to leave
// WAITING_FOR_THRESHOLDS unless >= dc_threshold DCs and >=
// sk_threshold SKs are PREPARED").
func (f *FSM) ThresholdsMet() bool {
	return len(f.dcPrepared) >= f.dcThreshold && len(f.skPrepared) >= f.skThreshold
}

// Start transitions WAITING_FOR_THRESHOLDS -> STARTED, refusing if
// thresholds are not yet met.
func (f *FSM) Start() error {
	if f.phase == PhaseWaitingForThresholds && !f.ThresholdsMet() {
		return fmt.Errorf("ts: thresholds not met: %d/%d DCs, %d/%d SKs prepared",
			len(f.dcPrepared), f.dcThreshold, len(f.skPrepared), f.skThreshold)
	}
	return f.advance(PhaseStarted)
}

// Sum transitions STARTED -> SUMMING, once collect_period has elapsed
// and tally_snapshot/share_sum messages are being collected.
func (f *FSM) Sum() error { return f.advance(PhaseSumming) }

// Publish transitions SUMMING -> PUBLISHING.
func (f *FSM) Publish() error { return f.advance(PhasePublishing) }

// Finish transitions PUBLISHING -> IDLE, clearing per-round state.
func (f *FSM) Finish() error {
	if err := f.advance(PhaseIdle); err != nil {
		return err
	}
	f.dcPrepared = make(map[string]bool)
	f.skPrepared = make(map[string]bool)
	return nil
}

// Abort forces the FSM back to IDLE, per spec.md §4.5 "Cancellation":
// the TS may broadcast STOP_ROUND at any point.
func (f *FSM) Abort() {
	f.phase = PhaseIdle
	f.dcPrepared = make(map[string]bool)
	f.skPrepared = make(map[string]bool)
}

func (f *FSM) advance(target Phase) error {
	next, ok := f.phase.next()
	if !ok || next != target {
		return fmt.Errorf("ts: illegal transition %s -> %s", f.phase, target)
	}
	f.phase = next
	return nil
}
