//go:build !windows

package vault

import "fmt"

// newNativeScheme reports that no platform primitive is wired on this OS.
// macOS Keychain and the Linux Secret Service need a session bus or user
// interaction that an unattended agent cannot rely on.
func newNativeScheme() (scheme, error) {
	return nil, fmt.Errorf("%w: no native scheme on this platform", ErrVaultUnavailable)
}
