// Package roundid generates round identifiers and derives the
// session-scoped ID (SSID) that binds a round's participant set and
// counter configuration together, preventing cross-round replay.
package roundid

import (
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/privcount/privcount/pkg/party"
)

// New mints a fresh round_id, used in every protocol message of a round
// (spec.md §6 "Inter-node protocol").
func New() string {
	return uuid.NewString()
}

// SSID derives a session ID by hashing the round ID together with the
// sorted DC and SK party sets and the counter-set fingerprint. The TS
// includes it in CONFIG; every node echoes it on each subsequent
// message. pkg/protocol's Handler.CanAccept rejects a message whose SSID
// differs from its session's; the TS Coordinator and the cmd/privcount
// DC/SK session loops do not compare SSIDs.
func SSID(roundID string, dcs, sks party.IDSlice, counterSetHash []byte) []byte {
	h := blake3.New()
	h.Write([]byte(roundID))
	writeSorted(h, dcs)
	writeSorted(h, sks)
	h.Write(counterSetHash)
	return h.Sum(nil)
}

func writeSorted(h *blake3.Hasher, ids party.IDSlice) {
	for _, id := range ids.Sorted() {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
}
