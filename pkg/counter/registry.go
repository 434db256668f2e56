package counter

// ZeroCountName is the reserved validity counter (spec.md §3 invariant
// I5, §4.7 "Validity check"). It must never be incremented; a non-zero
// post-aggregation value marks the round's outcome invalid.
const ZeroCountName = "ZeroCount"

// canonicalNames freezes the authoritative counter name list referenced
// by SPEC_FULL.md §9 "Counter name synonyms". Synonym aliases present in
// older deployments resolve to one canonical entry here at
// config-validation time, rather than being treated as distinct
// counters.
var canonicalNames = map[string]string{
	"EntryCircuitInboundCellCount":     "EntryCircuitInboundCellHistogram",
	"EntryCircuitInboundCellHistogram": "EntryCircuitInboundCellHistogram",
	"ExitStreamByteCount":              "ExitStreamByteHistogram",
	"ExitStreamByteHistogram":          "ExitStreamByteHistogram",
}

// Canonicalize resolves a possibly-synonymous counter name to its
// frozen canonical form. Names absent from the table are returned
// unchanged (they are not synonyms of anything).
func Canonicalize(name string) string {
	if canon, ok := canonicalNames[name]; ok {
		return canon
	}
	return name
}
