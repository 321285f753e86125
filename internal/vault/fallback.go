package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/HerbHall/hostscout/pkg/models"
)

const (
	// fallbackVersion is authenticated with every fallback ciphertext.
	// Changing the key derivation requires a new version.
	fallbackVersion byte = 0x01

	saltFile = "vault.salt"
	saltSize = 32
	keySize  = chacha20poly1305.KeySize
)

var hkdfInfo = []byte("hostscout.vault.fallback.v1")

// fallbackPayloadOverhead is version + nonce + tag.
const fallbackPayloadOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// fallbackScheme is XChaCha20-Poly1305 keyed by HKDF-SHA256 over the
// machine identity and the current user, salted per install. The AEAD is
// built once at Open and never changes.
type fallbackScheme struct {
	aead cipher.AEAD
}

// identity supplies the machine-bound key material. Tests override it.
type identity func() (machine, usr string, err error)

func hostIdentity() (string, string, error) {
	m, err := machineID()
	if err != nil {
		return "", "", err
	}
	return m, currentUserID(), nil
}

func currentUserID() string {
	if u, err := user.Current(); err == nil && u.Uid != "" {
		return u.Uid
	}
	return strconv.Itoa(os.Getuid())
}

func newFallbackScheme(dataDir string, id identity) (*fallbackScheme, error) {
	machine, usr, err := id()
	if err != nil {
		return nil, fmt.Errorf("%w: machine identity: %v", ErrVaultUnavailable, err)
	}
	salt, err := loadOrCreateSalt(filepath.Join(dataDir, saltFile))
	if err != nil {
		return nil, err
	}

	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, []byte(machine+"\x00"+usr), salt, hkdfInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	return &fallbackScheme{aead: aead}, nil
}

// loadOrCreateSalt reads the install salt, creating it with 0600 on
// first use. O_EXCL makes concurrent first opens agree on one salt.
func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltSize {
			return nil, fmt.Errorf("%w: %s has %d bytes, want %d", ErrVaultUnavailable, path, len(salt), saltSize)
		}
		return salt, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read vault salt: %w", err)
	}

	salt = make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate vault salt: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return loadOrCreateSalt(path)
	}
	if err != nil {
		return nil, fmt.Errorf("create vault salt: %w", err)
	}
	if _, err := f.Write(salt); err != nil {
		f.Close()
		return nil, fmt.Errorf("write vault salt: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("sync vault salt: %w", err)
	}
	return salt, f.Close()
}

func (*fallbackScheme) tag() models.SchemeTag { return models.SchemeFallback }

func fallbackAAD() []byte {
	return []byte{byte(models.SchemeFallback), fallbackVersion}
}

// seal returns [version][nonce][ciphertext+tag].
func (f *fallbackScheme) seal(plaintext []byte) ([]byte, error) {
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), fallbackPayloadOverhead+len(plaintext))
	out[0] = fallbackVersion
	copy(out[1:], nonce[:])
	return f.aead.Seal(out, nonce[:], plaintext, fallbackAAD()), nil
}

func (f *fallbackScheme) open(payload []byte) ([]byte, error) {
	if len(payload) < fallbackPayloadOverhead {
		return nil, fmt.Errorf("%w: payload is %d bytes, minimum is %d", ErrCorruptCiphertext, len(payload), fallbackPayloadOverhead)
	}
	if payload[0] != fallbackVersion {
		return nil, fmt.Errorf("%w: fallback version %d is not supported", ErrVaultUnavailable, payload[0])
	}
	nonce := payload[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := f.aead.Open(nil, nonce, payload[1+chacha20poly1305.NonceSizeX:], fallbackAAD())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCiphertext, err)
	}
	return plaintext, nil
}
