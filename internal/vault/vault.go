// Package vault protects secrets at rest. A value is sealed with the
// platform primitive when one is available (DPAPI on Windows) and with a
// machine-bound XChaCha20-Poly1305 key otherwise. Every sealed value
// carries a scheme tag so it can be opened no matter which scheme is
// currently preferred.
package vault

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/HerbHall/hostscout/pkg/models"
)

// Config controls how Open negotiates a scheme.
type Config struct {
	// DataDir holds secrets.yaml and vault.salt.
	DataDir string

	// Scheme is the preference: auto, native or fallback.
	Scheme string

	Logger *zap.Logger
}

// Vault seals and opens secrets. All state is fixed at Open, so a Vault
// is safe for concurrent use.
type Vault struct {
	dataDir string
	active  scheme
	schemes map[models.SchemeTag]scheme
	logger  *zap.Logger
}

// Open probes the available schemes and picks the active one according to
// cfg.Scheme. It fails with ErrVaultUnavailable when the preferred scheme
// cannot be used.
func Open(cfg Config) (*Vault, error) {
	return open(cfg, hostIdentity)
}

func open(cfg Config, id identity) (*Vault, error) {
	pref, err := ParsePreference(cfg.Scheme)
	if err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("vault data dir must not be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create vault directory: %w", err)
	}

	v := &Vault{
		dataDir: cfg.DataDir,
		schemes: make(map[models.SchemeTag]scheme, 2),
		logger:  cfg.Logger,
	}

	native, nativeErr := newNativeScheme()
	if nativeErr == nil {
		v.schemes[native.tag()] = native
	}
	fallback, fallbackErr := newFallbackScheme(cfg.DataDir, id)
	if fallbackErr == nil {
		v.schemes[fallback.tag()] = fallback
	}

	switch pref {
	case PreferNative:
		if nativeErr != nil {
			return nil, nativeErr
		}
		v.active = native
	case PreferFallback:
		if fallbackErr != nil {
			return nil, fallbackErr
		}
		v.active = fallback
	default:
		switch {
		case nativeErr == nil:
			v.active = native
		case fallbackErr == nil:
			v.active = fallback
		default:
			return nil, fmt.Errorf("%w: native: %v; fallback: %v", ErrVaultUnavailable, nativeErr, fallbackErr)
		}
	}

	v.logger.Info("vault opened",
		zap.String("scheme", v.active.tag().String()),
		zap.String("preference", string(pref)),
	)
	if nativeErr != nil {
		v.logger.Debug("native scheme unavailable", zap.Error(nativeErr))
	}
	return v, nil
}

// Scheme returns the tag new values are sealed with.
func (v *Vault) Scheme() models.SchemeTag {
	return v.active.tag()
}

// Protect seals plaintext with the active scheme.
func (v *Vault) Protect(plaintext []byte) (Sealed, error) {
	payload, err := v.active.seal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("protect: %w", err)
	}
	out := make(Sealed, 1+len(payload))
	out[0] = byte(v.active.tag())
	copy(out[1:], payload)
	return out, nil
}

// Unprotect opens a value sealed by any scheme this host supports. An
// unknown or unavailable tag yields ErrVaultUnavailable; a value that fails
// authentication yields ErrCorruptCiphertext.
func (v *Vault) Unprotect(sealed Sealed) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, fmt.Errorf("%w: empty value", ErrCorruptCiphertext)
	}
	s, ok := v.schemes[sealed.Tag()]
	if !ok {
		return nil, fmt.Errorf("%w: scheme tag 0x%02x", ErrVaultUnavailable, byte(sealed.Tag()))
	}
	return s.open(sealed[1:])
}
