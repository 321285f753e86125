package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/HerbHall/hostscout/pkg/models"
)

const (
	secretsFile     = "secrets.yaml"
	secretsLockFile = "secrets.yaml.lock"
	lockRetry       = 20 * time.Millisecond
)

// secretsDoc is the on-disk form of secrets.yaml. Ciphertext is base64 of
// the full sealed value, tag byte included.
type secretsDoc struct {
	Version int            `yaml:"version"`
	Secrets []secretRecord `yaml:"secrets"`
}

type secretRecord struct {
	Name       string    `yaml:"name"`
	Scheme     string    `yaml:"scheme"`
	Ciphertext string    `yaml:"ciphertext"`
	CreatedAt  time.Time `yaml:"created_at"`
	UpdatedAt  time.Time `yaml:"updated_at"`
}

func (r secretRecord) model() (models.SecretRecord, error) {
	ct, err := base64.StdEncoding.DecodeString(r.Ciphertext)
	if err != nil {
		return models.SecretRecord{}, fmt.Errorf("%w: secret %q: %v", ErrCorruptCiphertext, r.Name, err)
	}
	return models.SecretRecord{
		Name:       r.Name,
		Ciphertext: ct,
		Scheme:     Sealed(ct).Tag(),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

func validName(name string) error {
	if name == "" || strings.TrimSpace(name) != name {
		return fmt.Errorf("invalid secret name %q", name)
	}
	return nil
}

// Put protects plaintext and stores it under name, replacing any previous
// value.
func (v *Vault) Put(ctx context.Context, name string, plaintext []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	sealed, err := v.Protect(plaintext)
	if err != nil {
		return err
	}

	return v.withLock(ctx, true, func() error {
		doc, err := v.readDoc()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		rec := secretRecord{
			Name:       name,
			Scheme:     sealed.Tag().String(),
			Ciphertext: base64.StdEncoding.EncodeToString(sealed),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if i := doc.index(name); i >= 0 {
			rec.CreatedAt = doc.Secrets[i].CreatedAt
			doc.Secrets[i] = rec
		} else {
			doc.Secrets = append(doc.Secrets, rec)
		}
		if err := v.writeDoc(doc); err != nil {
			return err
		}
		v.logger.Info("secret stored", zap.String("name", name), zap.String("scheme", rec.Scheme))
		return nil
	})
}

// Get returns the plaintext stored under name.
func (v *Vault) Get(ctx context.Context, name string) ([]byte, error) {
	var rec models.SecretRecord
	err := v.withLock(ctx, false, func() error {
		doc, err := v.readDoc()
		if err != nil {
			return err
		}
		i := doc.index(name)
		if i < 0 {
			return fmt.Errorf("%w: %q", ErrSecretNotFound, name)
		}
		rec, err = doc.Secrets[i].model()
		return err
	})
	if err != nil {
		return nil, err
	}
	plaintext, err := v.Unprotect(rec.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("secret %q: %w", name, err)
	}
	return plaintext, nil
}

// HasSecret reports whether a record named name exists. It does not
// decrypt anything.
func (v *Vault) HasSecret(name string) (bool, error) {
	var found bool
	err := v.withLock(context.Background(), false, func() error {
		doc, err := v.readDoc()
		if err != nil {
			return err
		}
		found = doc.index(name) >= 0
		return nil
	})
	return found, err
}

// Delete removes the record named name.
func (v *Vault) Delete(name string) error {
	return v.withLock(context.Background(), true, func() error {
		doc, err := v.readDoc()
		if err != nil {
			return err
		}
		i := doc.index(name)
		if i < 0 {
			return fmt.Errorf("%w: %q", ErrSecretNotFound, name)
		}
		doc.Secrets = slices.Delete(doc.Secrets, i, i+1)
		if err := v.writeDoc(doc); err != nil {
			return err
		}
		v.logger.Info("secret deleted", zap.String("name", name))
		return nil
	})
}

// List returns every record sorted by name.
func (v *Vault) List() ([]models.SecretRecord, error) {
	var out []models.SecretRecord
	err := v.withLock(context.Background(), false, func() error {
		doc, err := v.readDoc()
		if err != nil {
			return err
		}
		for _, r := range doc.Secrets {
			m, err := r.model()
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b models.SecretRecord) int { return strings.Compare(a.Name, b.Name) })
	return out, err
}

func (d *secretsDoc) index(name string) int {
	return slices.IndexFunc(d.Secrets, func(r secretRecord) bool { return r.Name == name })
}

// withLock runs fn holding the cross-process lock on the secrets file,
// exclusive for writers and shared for readers.
func (v *Vault) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	fl := flock.New(filepath.Join(v.dataDir, secretsLockFile))
	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = fl.TryLockContext(ctx, lockRetry)
	} else {
		ok, err = fl.TryRLockContext(ctx, lockRetry)
	}
	if err != nil {
		return fmt.Errorf("lock secrets file: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock secrets file: not acquired")
	}
	defer fl.Unlock()
	return fn()
}

func (v *Vault) readDoc() (*secretsDoc, error) {
	doc := &secretsDoc{Version: 1}
	b, err := os.ReadFile(filepath.Join(v.dataDir, secretsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(b, doc); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}
	return doc, nil
}

// writeDoc replaces secrets.yaml atomically: write a temp file (0600) in
// the same directory, fsync, rename.
func (v *Vault) writeDoc(doc *secretsDoc) error {
	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode secrets file: %w", err)
	}

	tmp, err := os.CreateTemp(v.dataDir, secretsFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp secrets file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp secrets file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp secrets file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp secrets file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(v.dataDir, secretsFile)); err != nil {
		return fmt.Errorf("replace secrets file: %w", err)
	}
	return nil
}
