package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/privcount/privcount/pkg/config"
	"github.com/privcount/privcount/pkg/party"
)

// RegisterPayload is the CBOR body of a REGISTER message: the node's
// claimed identity and role, plus (for an SK) the RSA public key DCs
// seal share envelopes under (spec.md §4.2).
type RegisterPayload struct {
	ID        party.ID   `cbor:"1,keyasint"`
	Role      party.Role `cbor:"2,keyasint"`
	PublicKey []byte     `cbor:"3,keyasint,omitempty"` // PKIX DER, SK only
}

// ConfigPayload is the CBOR body of a CONFIG message: the round a node
// must validate and accept before PREPARED (spec.md §4.6), plus the
// participant sets and SK public keys a DC needs to address its share
// envelopes.
type ConfigPayload struct {
	Round        config.RoundConfig  `cbor:"1,keyasint"`
	DCs          party.IDSlice       `cbor:"2,keyasint"`
	SKs          party.IDSlice       `cbor:"3,keyasint"`
	SKPublicKeys map[party.ID][]byte `cbor:"4,keyasint"` // PKIX DER, keyed by SK ID
}

// EncodePayload CBOR-encodes v for use as a Message's Data field.
func EncodePayload(v interface{}) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode payload failed: %w", err)
	}
	return b, nil
}

// DecodePayload decodes a Message's Data field into v.
func DecodePayload(data []byte, v interface{}) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("protocol: decode payload failed: %w", err)
	}
	return nil
}
