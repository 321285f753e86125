//go:build windows

package vault

import (
	"bytes"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/HerbHall/hostscout/pkg/models"
)

var dpapiEntropy = []byte("hostscout.vault.dpapi.v1")

// dpapiScheme protects data with CryptProtectData under the current user.
type dpapiScheme struct{}

// newNativeScheme probes DPAPI with a round trip so a broken user profile
// is detected at Open rather than on first use.
func newNativeScheme() (scheme, error) {
	d := dpapiScheme{}
	probe := []byte("probe")
	sealed, err := d.seal(probe)
	if err != nil {
		return nil, fmt.Errorf("%w: dpapi probe: %v", ErrVaultUnavailable, err)
	}
	out, err := d.open(sealed)
	if err != nil || !bytes.Equal(out, probe) {
		return nil, fmt.Errorf("%w: dpapi probe round trip failed", ErrVaultUnavailable)
	}
	return d, nil
}

func (dpapiScheme) tag() models.SchemeTag { return models.SchemeNative }

func (dpapiScheme) seal(plaintext []byte) ([]byte, error) {
	var out windows.DataBlob
	err := windows.CryptProtectData(blob(plaintext), nil, blob(dpapiEntropy), 0, nil,
		windows.CRYPTPROTECT_UI_FORBIDDEN, &out)
	if err != nil {
		return nil, fmt.Errorf("CryptProtectData: %w", err)
	}
	return takeBlob(&out), nil
}

func (dpapiScheme) open(payload []byte) ([]byte, error) {
	var out windows.DataBlob
	err := windows.CryptUnprotectData(blob(payload), nil, blob(dpapiEntropy), 0, nil,
		windows.CRYPTPROTECT_UI_FORBIDDEN, &out)
	if err != nil {
		return nil, fmt.Errorf("%w: CryptUnprotectData: %v", ErrCorruptCiphertext, err)
	}
	return takeBlob(&out), nil
}

func blob(b []byte) *windows.DataBlob {
	if len(b) == 0 {
		return &windows.DataBlob{}
	}
	return &windows.DataBlob{Size: uint32(len(b)), Data: &b[0]}
}

// takeBlob copies a DPAPI-allocated buffer into Go memory and frees it.
func takeBlob(b *windows.DataBlob) []byte {
	if b.Data == nil {
		return []byte{}
	}
	defer windows.LocalFree(windows.Handle(unsafe.Pointer(b.Data)))
	out := make([]byte, b.Size)
	copy(out, unsafe.Slice(b.Data, b.Size))
	return out
}
