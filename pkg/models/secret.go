package models

import "time"

// SchemeTag identifies the protection scheme that produced a ciphertext.
// It is the first byte of every sealed value.
type SchemeTag byte

const (
	// SchemeNative is the platform primitive (DPAPI on Windows).
	SchemeNative SchemeTag = 0x01
	// SchemeFallback is XChaCha20-Poly1305 under a machine-bound key.
	SchemeFallback SchemeTag = 0x02
)

func (t SchemeTag) String() string {
	switch t {
	case SchemeNative:
		return "native"
	case SchemeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// SecretRecord is a named protected value as persisted by the vault.
// Ciphertext includes the scheme tag byte.
type SecretRecord struct {
	Name       string    `json:"name"`
	Ciphertext []byte    `json:"-"`
	Scheme     SchemeTag `json:"scheme"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
