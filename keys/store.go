package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrKeyNotFound is returned when no stored private key matches.
var ErrKeyNotFound = errors.New("keys: no matching private key")

// FileStore keeps one private key per file, named by public key fingerprint:
//
//	<Directory>/<fingerprint>.key    "<alg>\n<hex seed>\n", mode 0600
//
// The key reference handed out by PersistReference is the fingerprint.
type FileStore struct {
	Directory string
}

func GetDefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".keycircle", "keys"), nil
}

// NewFileStore uses GetDefaultDirectory when directory is empty.
func NewFileStore(directory string) (*FileStore, error) {
	if directory == "" {
		var err error
		directory, err = GetDefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &FileStore{Directory: directory}, nil
}

func (fs *FileStore) pathFor(fingerprint string) string {
	return filepath.Join(fs.Directory, fingerprint+".key")
}

// PersistReference stores k (if not already stored) and returns its key reference.
func (fs *FileStore) PersistReference(s Signer) ([]byte, error) {
	k, ok := s.(*PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keys: cannot persist %T", s)
	}
	fp := k.Public().Fingerprint()
	path := fs.pathFor(fp)
	if err := os.MkdirAll(fs.Directory, 0o700); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return []byte(fp), nil
		}
		return nil, err
	}
	defer file.Close()
	if _, err := file.WriteString(string(k.alg) + "\n" + hex.EncodeToString(k.seed) + "\n"); err != nil {
		return nil, err
	}
	return []byte(fp), file.Close()
}

// ResolvePrivateKey loads the private key for pub.
func (fs *FileStore) ResolvePrivateKey(pub PublicKey) (Signer, error) {
	k, err := fs.Load(pub.Fingerprint())
	if err != nil {
		return nil, err
	}
	if !k.Public().Equal(pub) {
		return nil, ErrKeyNotFound
	}
	return k, nil
}

// Load reads the key stored under fingerprint.
func (fs *FileStore) Load(fingerprint string) (*PrivateKey, error) {
	if err := checkFingerprint(fingerprint); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fs.pathFor(fingerprint))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	alg, seedHex, ok := strings.Cut(strings.TrimSpace(string(data)), "\n")
	if !ok {
		return nil, fmt.Errorf("keys: malformed key file %s", fingerprint)
	}
	seed, err := ParseSeedHex(seedHex)
	if err != nil {
		return nil, err
	}
	return FromSeed(Alg(strings.TrimSpace(alg)), seed)
}

// Delete removes the key stored under fingerprint.
func (fs *FileStore) Delete(fingerprint string) error {
	if err := checkFingerprint(fingerprint); err != nil {
		return err
	}
	err := os.Remove(fs.pathFor(fingerprint))
	if os.IsNotExist(err) {
		return ErrKeyNotFound
	}
	return err
}

// List returns the public keys of every stored key, ordered by fingerprint.
func (fs *FileStore) List() ([]PublicKey, error) {
	entries, err := os.ReadDir(fs.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var fps []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".key") {
			fps = append(fps, strings.TrimSuffix(e.Name(), ".key"))
		}
	}
	sort.Strings(fps)

	out := make([]PublicKey, 0, len(fps))
	for _, fp := range fps {
		k, err := fs.Load(fp)
		if err != nil {
			return nil, fmt.Errorf("keys: %s: %w", fp, err)
		}
		out = append(out, k.Public())
	}
	return out, nil
}

func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", SeedSize, len(data))
	}
	return data, nil
}

func checkFingerprint(fp string) error {
	if fp == "" {
		return errors.New("fingerprint cannot be empty")
	}
	for _, char := range fp {
		if (char >= 'a' && char <= 'f') || (char >= '0' && char <= '9') {
			continue
		}
		return fmt.Errorf("invalid character %q in fingerprint", char)
	}
	return nil
}

// MemStore is an in-memory key store for tests and synthetic identities.
type MemStore struct {
	keys map[string]*PrivateKey
}

func NewMemStore() *MemStore { return &MemStore{keys: map[string]*PrivateKey{}} }

func (m *MemStore) PersistReference(s Signer) ([]byte, error) {
	k, ok := s.(*PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keys: cannot persist %T", s)
	}
	fp := k.Public().Fingerprint()
	m.keys[fp] = k
	return []byte(fp), nil
}

func (m *MemStore) ResolvePrivateKey(pub PublicKey) (Signer, error) {
	k, ok := m.keys[pub.Fingerprint()]
	if !ok || !k.Public().Equal(pub) {
		return nil, ErrKeyNotFound
	}
	return k, nil
}

func (m *MemStore) Delete(fingerprint string) {
	delete(m.keys, fingerprint)
}
