package backup_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/gofrs/flock"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/hostscout/internal/backup"
	"github.com/HerbHall/hostscout/internal/store"
	"github.com/HerbHall/hostscout/internal/testutil"
)

// newDataDir returns a data directory with a store holding samples
// batches of 10, a secrets file, a salt and a config file next to it.
// The store stays open for the duration of the test.
func newDataDir(t *testing.T, batches int) (dir, configPath string, st *store.SQLiteStore) {
	t.Helper()
	dir = t.TempDir()
	st, err := store.Open(context.Background(), store.Config{Path: filepath.Join(dir, backup.DatabaseName)})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	for i := range batches {
		_, err := st.Append(context.Background(), testutil.NewBatch(testutil.Epoch.Add(time.Duration(i)*time.Second), 10))
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, backup.SecretsName), []byte("version: 1\nsecrets: []\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, backup.SaltName), bytes.Repeat([]byte{7}, 32), 0o600))

	configPath = filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("data_dir: ./data\n"), 0o600))
	return dir, configPath, st
}

func countSamples(t *testing.T, dbPath string) int64 {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{Path: dbPath})
	require.NoError(t, err)
	defer s.Close()
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	return stats.Samples
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, configPath, _ := newDataDir(t, 3)

	var buf bytes.Buffer
	m, err := backup.Backup(ctx, backup.Options{DataDir: src, ConfigPath: configPath}, &buf)
	require.NoError(t, err)

	var names []string
	for _, f := range m.Files {
		names = append(names, f.Name)
		assert.Len(t, f.SHA256, 64)
	}
	assert.Equal(t, []string{backup.DatabaseName, backup.SecretsName, backup.SaltName, backup.ConfigName}, names)

	dst := filepath.Join(t.TempDir(), "restored")
	restored, err := backup.Restore(ctx, &buf, backup.RestoreOptions{DataDir: dst})
	require.NoError(t, err)
	assert.Equal(t, m.Files, restored.Files)

	assert.Equal(t, int64(30), countSamples(t, filepath.Join(dst, backup.DatabaseName)))
	for _, name := range []string{backup.SecretsName, backup.SaltName} {
		want, err := os.ReadFile(filepath.Join(src, name))
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(dst, name))
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	cfg, err := os.ReadFile(filepath.Join(dst, backup.ConfigName))
	require.NoError(t, err)
	assert.Equal(t, "data_dir: ./data\n", string(cfg))
}

func TestBackupWhileStoreIsWriting(t *testing.T) {
	ctx := context.Background()
	src, _, st := newDataDir(t, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 20 {
			_, _ = st.Append(ctx, testutil.NewBatch(testutil.Epoch.Add(time.Hour+time.Duration(i)*time.Second), 5))
		}
	}()

	var buf bytes.Buffer
	_, err := backup.Backup(ctx, backup.Options{DataDir: src}, &buf)
	<-done
	require.NoError(t, err)

	dst := t.TempDir()
	_, err = backup.Restore(ctx, &buf, backup.RestoreOptions{DataDir: dst})
	require.NoError(t, err)

	// Whole batches only: 10 from the first batch plus a multiple of 5.
	n := countSamples(t, filepath.Join(dst, backup.DatabaseName))
	assert.GreaterOrEqual(t, n, int64(10))
	assert.Zero(t, (n-10)%5, "snapshot holds a partial batch: %d samples", n)
}

func TestBackupFileIsPrivate(t *testing.T) {
	src, _, _ := newDataDir(t, 1)
	out := filepath.Join(t.TempDir(), "backup.tar.gz")

	_, err := backup.BackupFile(context.Background(), backup.Options{DataDir: src}, out)
	require.NoError(t, err)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	if filepath.Separator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	_, err = backup.RestoreFile(context.Background(), out, backup.RestoreOptions{DataDir: t.TempDir()})
	assert.NoError(t, err)
}

func TestBackupWithoutDatabase(t *testing.T) {
	_, err := backup.Backup(context.Background(), backup.Options{DataDir: t.TempDir()}, &bytes.Buffer{})
	assert.True(t, errors.Is(err, backup.ErrNoDatabase), "err = %v, want ErrNoDatabase", err)
}

func TestEncryptedBackup(t *testing.T) {
	ctx := context.Background()
	src, _, _ := newDataDir(t, 2)

	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	other, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = backup.Backup(ctx, backup.Options{DataDir: src, Recipients: []string{id.Recipient().String()}}, &buf)
	require.NoError(t, err)
	archive := buf.Bytes()

	assert.True(t, bytes.HasPrefix(archive, []byte("age-encryption.org/v1")), "archive is not age encrypted")

	_, err = backup.Restore(ctx, bytes.NewReader(archive), backup.RestoreOptions{DataDir: t.TempDir()})
	assert.True(t, errors.Is(err, backup.ErrEncrypted), "err = %v, want ErrEncrypted", err)

	_, err = backup.Restore(ctx, bytes.NewReader(archive), backup.RestoreOptions{
		DataDir:    t.TempDir(),
		Identities: []age.Identity{other},
	})
	assert.Error(t, err, "restore with the wrong identity")

	dst := t.TempDir()
	_, err = backup.Restore(ctx, bytes.NewReader(archive), backup.RestoreOptions{
		DataDir:    dst,
		Identities: []age.Identity{id},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), countSamples(t, filepath.Join(dst, backup.DatabaseName)))
}

func TestBackupRejectsBadRecipient(t *testing.T) {
	src, _, _ := newDataDir(t, 1)
	_, err := backup.Backup(context.Background(), backup.Options{DataDir: src, Recipients: []string{"age1notakey"}}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestParseIdentityFile(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.txt")
	require.NoError(t, os.WriteFile(path, []byte("# test key\n"+id.String()+"\n"), 0o600))

	ids, err := backup.ParseIdentityFile(path)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	_, err = backup.ParseIdentityFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestRestoreRefusesOverwrite(t *testing.T) {
	ctx := context.Background()
	src, _, _ := newDataDir(t, 1)
	var buf bytes.Buffer
	_, err := backup.Backup(ctx, backup.Options{DataDir: src}, &buf)
	require.NoError(t, err)
	archive := buf.Bytes()

	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dst, backup.SecretsName), []byte("keep me"), 0o600))

	_, err = backup.Restore(ctx, bytes.NewReader(archive), backup.RestoreOptions{DataDir: dst})
	assert.True(t, errors.Is(err, backup.ErrExists), "err = %v, want ErrExists", err)
	kept, _ := os.ReadFile(filepath.Join(dst, backup.SecretsName))
	assert.Equal(t, "keep me", string(kept))

	_, err = backup.Restore(ctx, bytes.NewReader(archive), backup.RestoreOptions{DataDir: dst, Force: true})
	require.NoError(t, err)
	replaced, _ := os.ReadFile(filepath.Join(dst, backup.SecretsName))
	assert.Equal(t, "version: 1\nsecrets: []\n", string(replaced))
}

func TestRestoreRefusesLockedDataDir(t *testing.T) {
	ctx := context.Background()
	src, _, _ := newDataDir(t, 1)
	var buf bytes.Buffer
	_, err := backup.Backup(ctx, backup.Options{DataDir: src}, &buf)
	require.NoError(t, err)

	dst := t.TempDir()
	lock := flock.New(filepath.Join(dst, ".lock"))
	locked, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer lock.Unlock()

	_, err = backup.Restore(ctx, &buf, backup.RestoreOptions{DataDir: dst})
	assert.True(t, errors.Is(err, backup.ErrDataDirLocked), "err = %v, want ErrDataDirLocked", err)
}

type member struct {
	name string
	body []byte
}

func tarGz(t *testing.T, members ...member) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, m := range members {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: m.name, Mode: 0o600, Size: int64(len(m.body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(m.body)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func TestRestoreRejectsBadArchives(t *testing.T) {
	db := []byte("not really a database")
	goodManifest := []byte(`{"version":1,"files":[{"name":"telemetry.db","size":21,"sha256":"0000000000000000000000000000000000000000000000000000000000000000"}]}`)

	tests := []struct {
		name    string
		archive []byte
	}{
		{"not gzip", []byte("plain text")},
		{"no manifest first", tarGz(t, member{"telemetry.db", db})},
		{"future version", tarGz(t, member{"manifest.json", []byte(`{"version":99,"files":[]}`)})},
		{"path traversal", tarGz(t,
			member{"manifest.json", []byte(`{"version":1,"files":[{"name":"../evil","size":1,"sha256":""}]}`)},
			member{"../evil", []byte("x")},
		)},
		{"missing database", tarGz(t, member{"manifest.json", []byte(`{"version":1,"files":[]}`)})},
		{"checksum mismatch", tarGz(t, member{"manifest.json", goodManifest}, member{"telemetry.db", db})},
		{"listed but absent", tarGz(t, member{"manifest.json", goodManifest})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := t.TempDir()
			_, err := backup.Restore(context.Background(), bytes.NewReader(tt.archive), backup.RestoreOptions{DataDir: dst})
			assert.True(t, errors.Is(err, backup.ErrBadArchive), "err = %v, want ErrBadArchive", err)
			_, statErr := os.Stat(filepath.Join(dst, backup.DatabaseName))
			assert.True(t, os.IsNotExist(statErr), "database written despite a bad archive")
		})
	}
}
