// Package perrors implements the error taxonomy from spec.md §7, so
// handlers can dispatch on Kind via errors.As instead of string
// matching.
package perrors

import (
	"errors"
	"fmt"
)

// Kind identifies one row of the spec.md §7 error taxonomy table.
type Kind string

const (
	KindConfigInvalid    Kind = "config_invalid"
	KindAuthFailed       Kind = "auth_failed"
	KindDeliveryFailed   Kind = "delivery_failed"
	KindThresholdUnmet   Kind = "threshold_unmet"
	KindDelayRequired    Kind = "delay_required"
	KindEventSourceDown  Kind = "event_source_down"
	KindAggregationInvalid Kind = "aggregation_invalid"
	KindFatal            Kind = "fatal"
)

// Error wraps an underlying error with the round it occurred in and its
// taxonomy Kind, per spec.md §7 "Errors are logged with round_id
// context; local errors never poison other DCs' rounds".
type Error struct {
	Kind    Kind
	RoundID string
	Err     error
}

func (e *Error) Error() string {
	if e.RoundID == "" {
		return fmt.Sprintf("privcount[%s]: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("privcount[%s round=%s]: %v", e.Kind, e.RoundID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a taxonomy-tagged error.
func New(kind Kind, roundID string, err error) *Error {
	return &Error{Kind: kind, RoundID: roundID, Err: err}
}

// IsFatal reports whether an error's Kind requires process termination,
// per spec.md §7's Fatal row ("CSPRNG failure, out of memory, key
// unreadable ... terminate process"). Only cmd/privcount entry points
// should act on this; library code always just returns the error.
func IsFatal(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindFatal
	}
	return false
}
