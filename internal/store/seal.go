package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Sealer encrypts sample payloads at rest. The vault's SampleSealer is
// the production implementation. Kind, timestamp and sequence stay in
// clear so the primary key remains usable for range scans.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// sealedPayload is the CBOR body protected by a Sealer.
type sealedPayload struct {
	Value  float64 `cbor:"1,keyasint"`
	Source string  `cbor:"2,keyasint,omitempty"`
}

func sealPayload(s Sealer, value float64, source string) ([]byte, error) {
	raw, err := cbor.Marshal(sealedPayload{Value: value, Source: source})
	if err != nil {
		return nil, fmt.Errorf("encode sealed payload: %w", err)
	}
	out, err := s.Seal(raw)
	if err != nil {
		return nil, fmt.Errorf("seal payload: %w", err)
	}
	return out, nil
}

func openPayload(s Sealer, sealed []byte) (float64, string, error) {
	if s == nil {
		return 0, "", ErrSealedSample
	}
	raw, err := s.Open(sealed)
	if err != nil {
		return 0, "", fmt.Errorf("open sealed payload: %w", err)
	}
	var p sealedPayload
	if err := cbor.Unmarshal(raw, &p); err != nil {
		return 0, "", fmt.Errorf("decode sealed payload: %w", err)
	}
	return p.Value, p.Source, nil
}
