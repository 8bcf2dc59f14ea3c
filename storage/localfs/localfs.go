package localfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
	"xdao.co/keycircle/storage"
	"xdao.co/keycircle/storage/registry"
)

const ext = ".der"

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "localfs",
		Description: "Local filesystem object store (directory)",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		Open: func(settings map[string]string) (storage.ObjectStore, func() error, error) {
			dir := settings["dir"]
			if dir == "" {
				return nil, nil, fmt.Errorf("localfs: missing \"dir\" setting")
			}
			s, err := New(dir)
			return s, nil, err
		},
	})
}

// Store is a local filesystem-backed object store.
//
// Each object's full DER encoding is stored once, immutably, under its content
// digest. The store never uses the network and never depends on wall-clock time.
type Store struct {
	root string
}

var (
	_ storage.ObjectStore = (*Store)(nil)
	_ storage.Lister      = (*Store)(nil)
)

// New constructs a filesystem store rooted at root. The directory will be created if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func (s *Store) Put(obj item.Object) (digest.Digest, error) {
	if obj.IsZero() {
		return digest.Digest{}, storage.ErrInvalidDigest
	}
	der, err := obj.Encode()
	if err != nil {
		return digest.Digest{}, err
	}
	d := obj.Digest()

	path := s.pathFor(d)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return digest.Digest{}, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o400)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := os.ReadFile(path)
			if rerr != nil || !storage.SameContent(existing, der, d) {
				return digest.Digest{}, storage.ErrImmutable
			}
			return d, nil
		}
		return digest.Digest{}, err
	}
	defer f.Close()

	if _, err := f.Write(der); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return digest.Digest{}, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return digest.Digest{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return digest.Digest{}, err
	}
	return d, nil
}

func (s *Store) Get(d digest.Digest) (item.Object, error) {
	if !d.Defined() {
		return item.Object{}, storage.ErrInvalidDigest
	}
	b, err := os.ReadFile(s.pathFor(d))
	if err != nil {
		if os.IsNotExist(err) {
			return item.Object{}, storage.ErrNotFound
		}
		return item.Object{}, err
	}
	obj, err := item.Decode(b)
	if err != nil {
		return item.Object{}, fmt.Errorf("%w: %v", storage.ErrDigestMismatch, err)
	}
	if obj.Digest() != d {
		return item.Object{}, storage.ErrDigestMismatch
	}
	return obj, nil
}

func (s *Store) Has(d digest.Digest) bool {
	if !d.Defined() {
		return false
	}
	_, err := os.Stat(s.pathFor(d))
	return err == nil
}

// Digests walks the fan-out directories and returns every stored digest.
func (s *Store) Digests() ([]digest.Digest, error) {
	var out []digest.Digest
	err := filepath.WalkDir(s.root, func(path string, e os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			return nil
		}
		d, perr := digest.Parse(strings.TrimSuffix(e.Name(), ext))
		if perr != nil {
			return nil
		}
		out = append(out, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

func (s *Store) pathFor(d digest.Digest) string {
	h := d.Hex()
	return filepath.Join(s.root, h[:2], h+ext)
}
