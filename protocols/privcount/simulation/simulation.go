// Package simulation runs a full PrivCount round in-process, wiring
// together dc, sk, and ts without any network transport. It exists to
// exercise the end-to-end masking/aggregation invariant (spec.md §8
// scenario 1) through a full additive-share round trip.
package simulation

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/cronokirby/saferith"

	"github.com/privcount/privcount/pkg/config"
	"github.com/privcount/privcount/pkg/counter"
	"github.com/privcount/privcount/pkg/field"
	"github.com/privcount/privcount/pkg/party"
	"github.com/privcount/privcount/protocols/privcount/dc"
	"github.com/privcount/privcount/protocols/privcount/sk"
	"github.com/privcount/privcount/protocols/privcount/ts"
)

// SKKeys maps each SK to the RSA keypair it holds for the round, in
// place of the long-term keys a real deployment loads from disk.
type SKKeys map[party.ID]*rsa.PrivateKey

// GenerateSKKeys creates one fresh RSA keypair per SK, standing in for
// the long-term keys the TS would distribute as sk_pubkeys in CONFIG.
func GenerateSKKeys(skIDs party.IDSlice, bits int) (SKKeys, error) {
	keys := make(SKKeys, len(skIDs))
	for _, id := range skIDs {
		key, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, fmt.Errorf("simulation: rsa keygen for %s failed: %w", id, err)
		}
		keys[id] = key
	}
	return keys, nil
}

// RunRound drives one complete round through every DC and SK and
// returns the TS's final aggregated, signed per-bin totals. events
// maps each DC ID to a counter name -> value it observes during
// COLLECTING; each value is counted once (delta 1) in the bin that
// holds it, which is sufficient for the round-trip property the
// simulation checks.
func RunRound(q *saferith.Modulus, cfg config.RoundConfig, dcIDs, skIDs party.IDSlice, skKeys SKKeys, events map[party.ID]map[string]float64) (map[string][]int64, error) {
	dcs := make(map[party.ID]*dc.DC, len(dcIDs))
	for _, id := range dcIDs {
		d := dc.New(id, q)
		if err := d.Configure(cfg.RoundID, cfg); err != nil {
			return nil, fmt.Errorf("simulation: dc %s configure failed: %w", id, err)
		}
		dcs[id] = d
	}

	sks := make(map[party.ID]*sk.SK, len(skIDs))
	for _, id := range skIDs {
		s := sk.New(id, skKeys[id], q)
		if err := s.Configure(cfg.RoundID, cfg); err != nil {
			return nil, fmt.Errorf("simulation: sk %s configure failed: %w", id, err)
		}
		sks[id] = s
	}

	pubKeys := make(map[party.ID]*rsa.PublicKey, len(skKeys))
	for id, key := range skKeys {
		pubKeys[id] = &key.PublicKey
	}

	dcSnapshots := make(map[party.ID]map[string][]field.Elem, len(dcIDs))
	for _, id := range dcIDs {
		d := dcs[id]
		payloads, localMask, err := d.GenerateShares(skIDs)
		if err != nil {
			return nil, err
		}
		envelopes, err := d.SealEnvelopes(pubKeys, payloads)
		if err != nil {
			return nil, err
		}
		for skID, env := range envelopes {
			if err := sks[skID].Receive(env); err != nil {
				return nil, fmt.Errorf("simulation: sk %s receive from dc %s failed: %w", skID, id, err)
			}
		}

		weight := cfg.NoiseWeights[string(id)]
		noiseDraw, err := d.DrawNoise(weight)
		if err != nil {
			return nil, err
		}
		if err := d.Initialize(localMask, noiseDraw); err != nil {
			return nil, err
		}

		for name, value := range events[id] {
			if err := d.Apply(dc.Increment{Counter: name, Value: value, Delta: 1}); err != nil {
				return nil, fmt.Errorf("simulation: dc %s increment %s failed: %w", id, name, err)
			}
		}

		snap, err := d.Snapshot()
		if err != nil {
			return nil, err
		}
		dcSnapshots[id] = snap
	}

	skSums := make(map[party.ID]map[string][]field.Elem, len(skIDs))
	for _, id := range skIDs {
		sum, err := sks[id].Reveal()
		if err != nil {
			return nil, err
		}
		skSums[id] = sum
	}

	defs, err := cfg.Definitions()
	if err != nil {
		return nil, err
	}
	defMap := make(map[string]counter.Definition, len(defs))
	for _, d := range defs {
		defMap[d.Name] = d
	}

	return ts.Aggregate(q, defMap, dcSnapshots, skSums), nil
}
