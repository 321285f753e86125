package vault

import (
	"fmt"

	"github.com/HerbHall/hostscout/pkg/models"
)

// Preference selects which scheme Protect uses.
type Preference string

const (
	PreferAuto     Preference = "auto"
	PreferNative   Preference = "native"
	PreferFallback Preference = "fallback"
)

// ParsePreference validates a vault.scheme config value. Empty means auto.
func ParsePreference(s string) (Preference, error) {
	switch p := Preference(s); p {
	case "":
		return PreferAuto, nil
	case PreferAuto, PreferNative, PreferFallback:
		return p, nil
	default:
		return "", fmt.Errorf("unknown vault scheme %q (want auto, native or fallback)", s)
	}
}

// Sealed is a protected value: one scheme tag byte followed by the
// scheme's payload.
type Sealed []byte

// Tag returns the scheme that produced s, or 0 for an empty value.
func (s Sealed) Tag() models.SchemeTag {
	if len(s) == 0 {
		return 0
	}
	return models.SchemeTag(s[0])
}

// scheme is one protection primitive. Implementations hold only immutable
// state and are safe for concurrent use.
type scheme interface {
	tag() models.SchemeTag
	seal(plaintext []byte) ([]byte, error)
	open(payload []byte) ([]byte, error)
}
