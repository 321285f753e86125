package vault

import "errors"

var (
	// ErrVaultUnavailable means the requested or recorded protection scheme
	// cannot be used on this host.
	ErrVaultUnavailable = errors.New("vault: protection scheme unavailable")

	// ErrCorruptCiphertext means a sealed value failed its integrity check:
	// it was tampered with, truncated, or sealed under a different key.
	ErrCorruptCiphertext = errors.New("vault: ciphertext failed integrity check")

	// ErrSecretNotFound is returned for names with no stored record.
	ErrSecretNotFound = errors.New("vault: secret not found")
)
