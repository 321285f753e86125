package vault

import "github.com/HerbHall/hostscout/internal/store"

var _ store.Sealer = SampleSealer{}

// SampleSealer adapts a Vault to the store's Sealer interface so sample
// payloads can be encrypted at rest.
type SampleSealer struct {
	V *Vault
}

func (s SampleSealer) Seal(plaintext []byte) ([]byte, error) {
	return s.V.Protect(plaintext)
}

func (s SampleSealer) Open(sealed []byte) ([]byte, error) {
	return s.V.Unprotect(sealed)
}
