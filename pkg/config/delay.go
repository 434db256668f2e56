package config

import "time"

// sigmaEpsilon is the tolerance ε in spec.md I4: "sigma_c(R2) >=
// sigma_c(R1) - epsilon (else delay applies)". A tiny tolerance absorbs
// floating-point noise in a round-tripped sigma value without treating
// a floating-point artifact as a real decrease.
const sigmaEpsilon = 1e-9

// History tracks, per counter, the sigma pinned at the start of the
// current undelayed sequence of rounds — not simply the previous
// round's sigma: decreases are measured against the first round of the
// sequence (spec.md §4.6). Without pinning, an adversarial TS could
// ratchet sigma down by epsilon every round and never trigger delay.
type History struct {
	InitialSigma map[string]float64
	LastRoundEnd time.Time
}

// RoundStartCheck is the outcome of comparing a proposed round against
// round history, per spec.md §4.6 "Round-start checks".
type RoundStartCheck struct {
	DelayRequired bool
	Reason        string
}

// CheckRoundStart implements spec.md §4.6's round-start checks and the
// delay-enforcement rule of §4.6/I4: a delay is required when
// always_delay is set, when the counter set differs from the one pinned
// in hist, or when any counter's sigma falls below its pinned initial
// value. With no pinned round in hist, only always_delay applies.
// CheckRoundStart does not modify hist: InitialSigma keeps the values
// pinned at the start of the undelayed sequence, and PinInitialSigmas
// gives the baseline for a new sequence.
func CheckRoundStart(proposed RoundConfig, hist History, now time.Time) RoundStartCheck {
	if proposed.AlwaysDelay {
		return RoundStartCheck{DelayRequired: true, Reason: "always_delay is set"}
	}

	if len(hist.InitialSigma) > 0 {
		same := len(proposed.Counters) == len(hist.InitialSigma)
		for _, c := range proposed.Counters {
			if _, known := hist.InitialSigma[counterNameOf(c)]; !known {
				same = false
			}
		}
		if !same {
			return RoundStartCheck{DelayRequired: true, Reason: "counter set differs from the pinned round's"}
		}
	}

	for _, c := range proposed.Counters {
		name := counterNameOf(c)
		initial, known := hist.InitialSigma[name]
		if !known {
			continue // no pinned round: nothing to compare against
		}
		if c.Sigma < initial-sigmaEpsilon {
			return RoundStartCheck{
				DelayRequired: true,
				Reason:        "sigma for " + name + " decreased below its pinned initial value",
			}
		}
	}
	return RoundStartCheck{}
}

func counterNameOf(c CounterSpec) string {
	return c.Name
}

// DelayElapsed reports whether enough wall-clock time has passed since
// the last round ended for a delayed round to begin, per spec.md §4.6
// "the SK refuses to enter PREPARED for the new round until
// last_round_end + delay_period <= now".
func DelayElapsed(hist History, delayPeriod time.Duration, now time.Time) bool {
	return !hist.LastRoundEnd.IsZero() && !now.Before(hist.LastRoundEnd.Add(delayPeriod))
}

// PinInitialSigmas records the sigma of every counter in cfg as the
// pinned baseline for a freshly-started undelayed sequence.
func PinInitialSigmas(cfg RoundConfig) map[string]float64 {
	out := make(map[string]float64, len(cfg.Counters))
	for _, c := range cfg.Counters {
		out[counterNameOf(c)] = c.Sigma
	}
	return out
}
