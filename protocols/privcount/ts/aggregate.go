package ts

import (
	"fmt"
	"time"

	"github.com/cronokirby/saferith"

	"github.com/privcount/privcount/pkg/counter"
	"github.com/privcount/privcount/pkg/field"
	"github.com/privcount/privcount/pkg/outcomes"
	"github.com/privcount/privcount/pkg/party"
)

// Aggregate implements spec.md §4.7: for each (counter, bin), sum every
// DC's masked total and every SK's share sum mod q, then lift to a
// signed integer by mapping values >= q/2 to value - q.
func Aggregate(q *saferith.Modulus, defs map[string]counter.Definition, dcSnapshots map[party.ID]map[string][]field.Elem, skSums map[party.ID]map[string][]field.Elem) map[string][]int64 {
	out := make(map[string][]int64, len(defs))
	for name, def := range defs {
		row := make([]field.Elem, len(def.Bins))
		for b := range def.Bins {
			row[b] = field.Zero(q)
		}
		for _, snap := range dcSnapshots {
			for b, v := range snap[name] {
				if b < len(row) {
					row[b] = row[b].Add(v)
				}
			}
		}
		for _, sum := range skSums {
			for b, v := range sum[name] {
				if b < len(row) {
					row[b] = row[b].Add(v)
				}
			}
		}

		values := make([]int64, len(row))
		for b, v := range row {
			values[b] = field.Lift(q, v.Big()).Int64()
		}
		out[name] = values
	}
	return out
}

// BuildOutcomes packages aggregated totals into the publishable
// document of spec.md §6 "Outcomes file", applying the validity check
// of §4.7 before returning.
func BuildOutcomes(roundID string, start, end time.Time, participants party.IDSlice, defs map[string]counter.Definition, totals map[string][]int64) (outcomes.Outcomes, error) {
	tally := make(map[string]outcomes.CounterOutcome, len(defs))
	for name, def := range defs {
		values, ok := totals[name]
		if !ok {
			return outcomes.Outcomes{}, fmt.Errorf("ts: no aggregated total for counter %s", name)
		}
		bins := make([]outcomes.Bin, len(def.Bins))
		for i, b := range def.Bins {
			bins[i] = outcomes.Bin{Lo: b.Lo, Hi: b.Hi, Value: values[i]}
		}
		tally[name] = outcomes.CounterOutcome{Sigma: def.Sigma, Bins: bins}
	}

	names := make([]string, len(participants))
	for i, id := range participants {
		names[i] = string(id)
	}

	ctx := outcomes.Context{
		RoundID:      roundID,
		StartTime:    start,
		EndTime:      end,
		Participants: names,
		Valid:        true,
	}
	if err := outcomes.Validate(tally); err != nil {
		ctx.Valid = false
		ctx.InvalidityCause = err.Error()
	}
	return outcomes.Outcomes{Context: ctx, Tally: tally}, nil
}
