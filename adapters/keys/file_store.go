package keys

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/layer-3/siwe/core"
	"github.com/layer-3/siwe/ports"
)

const (
	privateKeyFile = "jwt_private.pem"
	publicKeyFile  = "jwt_public.pem"
)

// FileStore keeps the keypair as PEM files in a directory
type FileStore struct {
	dir string
}

// NewFileStore creates a key store rooted at dir
func NewFileStore(dir string) ports.KeyStore {
	return &FileStore{dir: dir}
}

// Load reads both halves of the keypair. A missing public half is tolerated
// since it can be derived from the private key.
func (s *FileStore) Load(ctx context.Context) ([]byte, []byte, error) {
	priv, err := os.ReadFile(filepath.Join(s.dir, privateKeyFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, core.ErrKeyNotFound
		}
		return nil, nil, fmt.Errorf("failed to read private key: %w", err)
	}

	pub, err := os.ReadFile(filepath.Join(s.dir, publicKeyFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to read public key: %w", err)
	}

	return priv, pub, nil
}

// Save creates both files. The private key is published exclusively so a
// concurrent first start cannot overwrite or half-read another instance's key.
func (s *FileStore) Save(ctx context.Context, privatePEM, publicPEM []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	if err := writeExclusive(filepath.Join(s.dir, privateKeyFile), privatePEM, 0o600); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(s.dir, publicKeyFile), publicPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	return nil
}

// writeExclusive fills a temp file and links it into place, so path either
// does not exist or holds all of data.
func writeExclusive(path string, data []byte, perm os.FileMode) error {
	name := filepath.Base(path)
	f, err := os.CreateTemp(filepath.Dir(path), "."+name+"-*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := f.Chmod(perm); err != nil {
		f.Close()
		return fmt.Errorf("failed to chmod %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return core.ErrKeyExists
		}
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}

	return nil
}
