package vault

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/HerbHall/hostscout/internal/store"
	"github.com/HerbHall/hostscout/pkg/models"
)

func fixedIdentity(machine string) identity {
	return func() (string, string, error) { return machine, "1000", nil }
}

func openFallback(t *testing.T, dir string) *Vault {
	t.Helper()
	v, err := open(Config{DataDir: dir, Scheme: "fallback"}, fixedIdentity("machine-a"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return v
}

func TestProtectRoundTrip(t *testing.T) {
	v := openFallback(t, t.TempDir())

	for _, plaintext := range [][]byte{[]byte("sk-live-123"), {}, bytes.Repeat([]byte{0xff}, 4096)} {
		sealed, err := v.Protect(plaintext)
		if err != nil {
			t.Fatalf("Protect: %v", err)
		}
		if sealed.Tag() != models.SchemeFallback {
			t.Errorf("Tag = %v, want fallback", sealed.Tag())
		}
		if len(plaintext) > 0 && bytes.Contains(sealed, plaintext) {
			t.Error("sealed value contains the plaintext")
		}
		got, err := v.Unprotect(sealed)
		if err != nil {
			t.Fatalf("Unprotect: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("Unprotect = %q, want %q", got, plaintext)
		}
	}
}

func TestProtectUsesFreshNonce(t *testing.T) {
	v := openFallback(t, t.TempDir())
	a, _ := v.Protect([]byte("same"))
	b, _ := v.Protect([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("two seals of the same plaintext are identical")
	}
}

func TestUnprotectErrors(t *testing.T) {
	v := openFallback(t, t.TempDir())
	good, err := v.Protect([]byte("hunter2"))
	if err != nil {
		t.Fatal(err)
	}

	flipped := bytes.Clone(good)
	flipped[len(flipped)-1] ^= 0x01

	badVersion := bytes.Clone(good)
	badVersion[1] = 0x09

	tests := []struct {
		name   string
		sealed Sealed
		want   error
	}{
		{"empty", Sealed{}, ErrCorruptCiphertext},
		{"unknown tag", append(Sealed{0x7f}, good[1:]...), ErrVaultUnavailable},
		{"tampered auth tag", flipped, ErrCorruptCiphertext},
		{"truncated", good[:10], ErrCorruptCiphertext},
		{"future fallback version", badVersion, ErrVaultUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Unprotect(tt.sealed)
			if !errors.Is(err, tt.want) {
				t.Errorf("Unprotect error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestKeyStableAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	sealed, err := openFallback(t, dir).Protect([]byte("persisted"))
	if err != nil {
		t.Fatal(err)
	}

	got, err := openFallback(t, dir).Unprotect(sealed)
	if err != nil {
		t.Fatalf("Unprotect after reopen: %v", err)
	}
	if string(got) != "persisted" {
		t.Errorf("Unprotect = %q, want persisted", got)
	}
}

func TestKeyBoundToMachine(t *testing.T) {
	dir := t.TempDir()
	sealed, err := openFallback(t, dir).Protect([]byte("bound"))
	if err != nil {
		t.Fatal(err)
	}

	other, err := open(Config{DataDir: dir, Scheme: "fallback"}, fixedIdentity("machine-b"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Unprotect(sealed); !errors.Is(err, ErrCorruptCiphertext) {
		t.Errorf("Unprotect on another machine error = %v, want ErrCorruptCiphertext", err)
	}
}

func TestSaltFile(t *testing.T) {
	dir := t.TempDir()
	openFallback(t, dir)

	path := filepath.Join(dir, saltFile)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("salt file: %v", err)
	}
	if info.Size() != saltSize {
		t.Errorf("salt size = %d, want %d", info.Size(), saltSize)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o600 {
		t.Errorf("salt mode = %v, want 0600", info.Mode().Perm())
	}

	if err := os.WriteFile(path, []byte("short"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := open(Config{DataDir: dir, Scheme: "fallback"}, fixedIdentity("m")); !errors.Is(err, ErrVaultUnavailable) {
		t.Errorf("open with damaged salt error = %v, want ErrVaultUnavailable", err)
	}
}

func TestOpenPreferences(t *testing.T) {
	broken := func() (string, string, error) { return "", "", errors.New("no machine id") }

	tests := []struct {
		name    string
		scheme  string
		id      identity
		wantErr error
	}{
		{"fallback", "fallback", fixedIdentity("m"), nil},
		{"auto picks something", "auto", fixedIdentity("m"), nil},
		{"empty means auto", "", fixedIdentity("m"), nil},
		{"fallback without identity", "fallback", broken, ErrVaultUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := open(Config{DataDir: t.TempDir(), Scheme: tt.scheme}, tt.id)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("open error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := open(Config{DataDir: t.TempDir(), Scheme: "rot13"}, fixedIdentity("m")); err == nil {
		t.Error("open with unknown scheme preference succeeded")
	}
}

func TestConcurrentProtect(t *testing.T) {
	v := openFallback(t, t.TempDir())
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := []byte(strings.Repeat("x", i))
			sealed, err := v.Protect(msg)
			if err != nil {
				t.Errorf("Protect: %v", err)
				return
			}
			got, err := v.Unprotect(sealed)
			if err != nil || !bytes.Equal(got, msg) {
				t.Errorf("round trip %d failed: %v", i, err)
			}
		}()
	}
	wg.Wait()
}

func TestRecords(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	v := openFallback(t, dir)

	if ok, err := v.HasSecret("upload.token"); err != nil || ok {
		t.Fatalf("HasSecret on empty vault = %v, %v", ok, err)
	}
	if _, err := v.Get(ctx, "upload.token"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("Get missing error = %v, want ErrSecretNotFound", err)
	}

	if err := v.Put(ctx, "upload.token", []byte("tok-1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := v.Put(ctx, "api.key", []byte("key-1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := v.Put(ctx, "upload.token", []byte("tok-2")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	got, err := v.Get(ctx, "upload.token")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "tok-2" {
		t.Errorf("Get = %q, want tok-2", got)
	}

	raw, err := os.ReadFile(filepath.Join(dir, secretsFile))
	if err != nil {
		t.Fatal(err)
	}
	for _, plain := range []string{"tok-1", "tok-2", "key-1"} {
		if strings.Contains(string(raw), plain) {
			t.Errorf("secrets file contains plaintext %q", plain)
		}
	}

	list, err := v.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Name != "api.key" || list[1].Name != "upload.token" {
		t.Fatalf("List = %+v, want api.key, upload.token", list)
	}
	if list[1].Scheme != models.SchemeFallback {
		t.Errorf("record scheme = %v, want fallback", list[1].Scheme)
	}
	if list[1].CreatedAt.After(list[1].UpdatedAt) {
		t.Errorf("CreatedAt %v after UpdatedAt %v", list[1].CreatedAt, list[1].UpdatedAt)
	}

	if err := v.Delete("api.key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := v.Delete("api.key"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("second Delete error = %v, want ErrSecretNotFound", err)
	}
	if ok, _ := v.HasSecret("api.key"); ok {
		t.Error("HasSecret true after Delete")
	}

	if err := v.Put(ctx, " padded", []byte("x")); err == nil {
		t.Error("Put accepted a name with surrounding space")
	}
}

func TestSampleSealerWithStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	v := openFallback(t, dir)

	s, err := store.Open(ctx, store.Config{Path: filepath.Join(dir, "telemetry.db"), Sealer: SampleSealer{V: v}})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	batch := &models.SampleBatch{Samples: []models.MetricSample{{
		Timestamp: testTime, Kind: models.MetricNetTxBytes, Value: 5e9, Source: "wlan0",
	}}}
	if _, err := s.Append(ctx, batch); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := s.Latest(ctx, models.MetricNetTxBytes)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.Value != 5e9 || got.Source != "wlan0" {
		t.Errorf("Latest = (%v, %q), want (5e9, wlan0)", got.Value, got.Source)
	}
}
