// Package backup provides tar.gz-based backup and restore for a hostscout
// data directory. The archive holds a consistent snapshot of the telemetry
// database, the vault files and optionally the config file, and can be
// encrypted to one or more age recipients.
package backup

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"
	"github.com/klauspost/compress/gzip"
	_ "modernc.org/sqlite" // SQLite driver
)

// FormatVersion is written into every manifest.
const FormatVersion = 1

// Archive member names.
const (
	DatabaseName = "telemetry.db"
	SecretsName  = "secrets.yaml"
	SaltName     = "vault.salt"
	ConfigName   = "hostscout.yaml"
	manifestName = "manifest.json"
	lockName     = ".lock"
)

var (
	// ErrNoDatabase is returned when the data directory has no telemetry
	// database to back up.
	ErrNoDatabase = errors.New("backup: no telemetry database in data directory")

	// ErrBadArchive is returned for archives that are not hostscout
	// backups or do not match their manifest.
	ErrBadArchive = errors.New("backup: invalid archive")
)

// Manifest describes the archive contents. It is the first tar member.
type Manifest struct {
	Version   int         `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	Files     []FileEntry `json:"files"`
}

// FileEntry is one archived file.
type FileEntry struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Options controls Backup.
type Options struct {
	DataDir string

	// ConfigPath is archived as hostscout.yaml when set and present.
	ConfigPath string

	// Recipients are age public keys (age1...). Empty writes a plain
	// tar.gz.
	Recipients []string
}

// Backup writes an archive of opts.DataDir to w. The database is copied
// with VACUUM INTO, so a running agent may keep writing meanwhile.
func Backup(ctx context.Context, opts Options, w io.Writer) (*Manifest, error) {
	dbPath := filepath.Join(opts.DataDir, DatabaseName)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoDatabase, err)
	}
	recipients, err := parseRecipients(opts.Recipients)
	if err != nil {
		return nil, err
	}

	staging, err := os.MkdirTemp("", "hostscout-backup-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := snapshotDatabase(ctx, dbPath, filepath.Join(staging, DatabaseName)); err != nil {
		return nil, fmt.Errorf("snapshot database: %w", err)
	}
	names := []string{DatabaseName}

	optional := []struct{ src, name string }{
		{filepath.Join(opts.DataDir, SecretsName), SecretsName},
		{filepath.Join(opts.DataDir, SaltName), SaltName},
	}
	if opts.ConfigPath != "" {
		optional = append(optional, struct{ src, name string }{opts.ConfigPath, ConfigName})
	}
	for _, f := range optional {
		err := copyFile(f.src, filepath.Join(staging, f.name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("staging %s: %w", f.name, err)
		}
		names = append(names, f.name)
	}

	m := &Manifest{Version: FormatVersion, CreatedAt: time.Now().UTC()}
	for _, name := range names {
		entry, err := hashFile(filepath.Join(staging, name), name)
		if err != nil {
			return nil, err
		}
		m.Files = append(m.Files, entry)
	}

	if err := writeArchive(w, recipients, staging, m); err != nil {
		return nil, err
	}
	return m, nil
}

// BackupFile writes the archive to outputPath with mode 0600. The file
// only appears once the archive is complete.
func BackupFile(ctx context.Context, opts Options, outputPath string) (*Manifest, error) {
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), filepath.Base(outputPath)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	m, err := Backup(ctx, opts, tmp)
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("sync output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close output file: %w", err)
	}
	if err := os.Rename(tmp.Name(), outputPath); err != nil {
		return nil, fmt.Errorf("rename output file: %w", err)
	}
	return m, nil
}

func parseRecipients(keys []string) ([]age.Recipient, error) {
	recipients := make([]age.Recipient, 0, len(keys))
	for _, key := range keys {
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, r)
	}
	return recipients, nil
}

// snapshotDatabase copies a transactionally consistent image of src to
// dst.
func snapshotDatabase(ctx context.Context, src, dst string) error {
	db, err := sql.Open("sqlite", src+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "VACUUM INTO ?", dst)
	return err
}

func writeArchive(w io.Writer, recipients []age.Recipient, staging string, m *Manifest) (err error) {
	out := io.Writer(w)
	if len(recipients) > 0 {
		aw, aerr := age.Encrypt(w, recipients...)
		if aerr != nil {
			return fmt.Errorf("creating age encryptor: %w", aerr)
		}
		defer func() {
			if cerr := aw.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("finalizing age encryption: %w", cerr)
			}
		}()
		out = aw
	}

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    manifestName,
		Mode:    0o600,
		Size:    int64(len(manifest)),
		ModTime: m.CreatedAt,
	}); err != nil {
		return err
	}
	if _, err := tw.Write(manifest); err != nil {
		return err
	}

	for _, f := range m.Files {
		if err := addFileToTar(tw, filepath.Join(staging, f.Name), f.Name); err != nil {
			return fmt.Errorf("adding %s to archive: %w", f.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("closing gzip: %w", err)
	}
	return nil
}

// addFileToTar adds a single file to the tar archive under the given name.
func addFileToTar(tw *tar.Writer, filePath, archiveName string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName
	hdr.Mode = 0o600
	hdr.Uname, hdr.Gname = "", ""

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func hashFile(path, name string) (FileEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileEntry{}, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return FileEntry{}, fmt.Errorf("hashing %s: %w", name, err)
	}
	return FileEntry{Name: name, Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}
