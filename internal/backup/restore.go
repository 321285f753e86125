package backup

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/gofrs/flock"
	"github.com/klauspost/compress/gzip"

	"github.com/HerbHall/hostscout/internal/store"
)

// ageHeader starts every binary age file.
var ageHeader = []byte("age-encryption.org/")

var (
	// ErrDataDirLocked is returned when an agent holds the target
	// directory.
	ErrDataDirLocked = errors.New("backup: data directory is in use")

	// ErrExists is returned when a restored file would overwrite an
	// existing one and Force is not set.
	ErrExists = errors.New("backup: target file exists")

	// ErrEncrypted is returned for an encrypted archive when no identity
	// was supplied.
	ErrEncrypted = errors.New("backup: archive is encrypted, an age identity is required")
)

// RestoreOptions controls Restore.
type RestoreOptions struct {
	DataDir string

	// Force overwrites existing files.
	Force bool

	// Identities decrypt an age-encrypted archive.
	Identities []age.Identity
}

// ParseIdentityFile reads age identities (AGE-SECRET-KEY-1...) from path.
func ParseIdentityFile(path string) ([]age.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identity file: %w", err)
	}
	defer f.Close()
	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parsing identity file: %w", err)
	}
	return ids, nil
}

// Restore unpacks an archive into opts.DataDir. Every file is checked
// against the manifest and the database is opened once before anything in
// the data directory is replaced. The directory must not be in use by a
// running agent.
func Restore(ctx context.Context, r io.Reader, opts RestoreOptions) (*Manifest, error) {
	if err := os.MkdirAll(opts.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	lock := flock.New(filepath.Join(opts.DataDir, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrDataDirLocked, opts.DataDir)
	}
	defer lock.Unlock()

	plain, err := decryptIfNeeded(r, opts.Identities)
	if err != nil {
		return nil, err
	}

	staging, err := os.MkdirTemp(opts.DataDir, ".restore-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	m, err := extract(plain, staging)
	if err != nil {
		return nil, err
	}

	if !opts.Force {
		for _, f := range m.Files {
			if _, err := os.Stat(filepath.Join(opts.DataDir, f.Name)); err == nil {
				return nil, fmt.Errorf("%w: %s (use force to overwrite)", ErrExists, f.Name)
			}
		}
	}

	if err := verifyDatabase(ctx, filepath.Join(staging, DatabaseName)); err != nil {
		return nil, err
	}

	for _, f := range m.Files {
		target := filepath.Join(opts.DataDir, f.Name)
		if f.Name == DatabaseName {
			// A WAL left by the old database would be replayed onto the
			// restored one.
			for _, suffix := range []string{"-wal", "-shm"} {
				if err := os.Remove(target + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
					return nil, fmt.Errorf("remove stale %s%s: %w", f.Name, suffix, err)
				}
			}
		}
		if err := os.Rename(filepath.Join(staging, f.Name), target); err != nil {
			return nil, fmt.Errorf("restore %s: %w", f.Name, err)
		}
	}
	return m, nil
}

// RestoreFile restores the archive at path.
func RestoreFile(ctx context.Context, path string, opts RestoreOptions) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()
	return Restore(ctx, f, opts)
}

func decryptIfNeeded(r io.Reader, ids []age.Identity) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(ageHeader))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrBadArchive, err)
	}
	if !bytes.Equal(head, ageHeader) {
		return br, nil
	}
	if len(ids) == 0 {
		return nil, ErrEncrypted
	}
	plain, err := age.Decrypt(br, ids...)
	if err != nil {
		return nil, fmt.Errorf("decrypting backup: %w", err)
	}
	return plain, nil
}

var allowedNames = map[string]bool{
	DatabaseName: true,
	SecretsName:  true,
	SaltName:     true,
	ConfigName:   true,
}

// extract writes every member into dir and checks it against the manifest.
func extract(r io.Reader, dir string) (*Manifest, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArchive, err)
	}
	defer gr.Close()
	tr := tar.NewReader(gr)

	hdr, err := tr.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArchive, err)
	}
	if hdr.Name != manifestName {
		return nil, fmt.Errorf("%w: first member is %q, want %s", ErrBadArchive, hdr.Name, manifestName)
	}
	var m Manifest
	if err := json.NewDecoder(io.LimitReader(tr, 1<<20)).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %w", ErrBadArchive, err)
	}
	if m.Version < 1 || m.Version > FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrBadArchive, m.Version)
	}

	want := make(map[string]FileEntry, len(m.Files))
	for _, f := range m.Files {
		if !allowedNames[f.Name] {
			return nil, fmt.Errorf("%w: unexpected file %q in manifest", ErrBadArchive, f.Name)
		}
		want[f.Name] = f
	}
	if _, ok := want[DatabaseName]; !ok {
		return nil, fmt.Errorf("%w: no %s in archive", ErrBadArchive, DatabaseName)
	}

	seen := make(map[string]bool, len(want))
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadArchive, err)
		}
		entry, ok := want[hdr.Name]
		if !ok || seen[hdr.Name] || hdr.Typeflag != tar.TypeReg || strings.ContainsAny(hdr.Name, `/\`) {
			return nil, fmt.Errorf("%w: unexpected member %q", ErrBadArchive, hdr.Name)
		}
		seen[hdr.Name] = true
		if err := extractFile(tr, filepath.Join(dir, hdr.Name), entry); err != nil {
			return nil, err
		}
	}
	for name := range want {
		if !seen[name] {
			return nil, fmt.Errorf("%w: %s listed in manifest but missing", ErrBadArchive, name)
		}
	}
	return &m, nil
}

func extractFile(r io.Reader, path string, entry FileEntry) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), io.LimitReader(r, entry.Size+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	if n != entry.Size || hex.EncodeToString(h.Sum(nil)) != entry.SHA256 {
		return fmt.Errorf("%w: %s does not match its manifest checksum", ErrBadArchive, entry.Name)
	}
	return nil
}

// verifyDatabase opens the restored database through the store so a
// corrupt or newer-schema file is rejected before it replaces anything.
func verifyDatabase(ctx context.Context, path string) error {
	s, err := store.Open(ctx, store.Config{Path: path})
	if err != nil {
		return fmt.Errorf("restored database: %w", err)
	}
	if err := s.Checkpoint(ctx); err != nil {
		s.Close()
		return fmt.Errorf("restored database: %w", err)
	}
	return s.Close()
}
