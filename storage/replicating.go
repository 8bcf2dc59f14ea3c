package storage

import (
	"fmt"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
)

// NamedStore associates an ObjectStore with a stable backend name.
type NamedStore struct {
	Name  string
	Store ObjectStore
}

// ReplicatingStore writes every object to all backends and reads with ordered
// fallback. All backends must agree on the digest they report for a Put.
type ReplicatingStore struct {
	Backends []NamedStore
}

var (
	_ ObjectStore = ReplicatingStore{}
	_ Lister      = ReplicatingStore{}
)

// PutAll writes obj to every backend and returns the per-backend digests.
// A backend that reports a different digest yields ErrDigestMismatch.
func (r ReplicatingStore) PutAll(obj item.Object) (digest.Digest, map[string]digest.Digest, error) {
	if obj.IsZero() {
		return digest.Digest{}, nil, ErrInvalidDigest
	}
	if len(r.Backends) == 0 {
		return digest.Digest{}, nil, fmt.Errorf("storage: ReplicatingStore has no backends")
	}
	want := obj.Digest()
	out := make(map[string]digest.Digest, len(r.Backends))
	for _, b := range r.Backends {
		if b.Store == nil {
			return digest.Digest{}, nil, fmt.Errorf("storage: nil store for backend %q", b.Name)
		}
		got, err := b.Store.Put(obj)
		if err != nil {
			return digest.Digest{}, out, fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
		out[b.Name] = got
		if got != want {
			return digest.Digest{}, out, ErrDigestMismatch
		}
	}
	return want, out, nil
}

func (r ReplicatingStore) Put(obj item.Object) (digest.Digest, error) {
	d, _, err := r.PutAll(obj)
	return d, err
}

func (r ReplicatingStore) Get(d digest.Digest) (item.Object, error) {
	for _, b := range r.Backends {
		if b.Store == nil {
			continue
		}
		obj, err := b.Store.Get(d)
		if err == nil {
			return obj, nil
		}
		if IsNotFound(err) {
			continue
		}
		return item.Object{}, err
	}
	return item.Object{}, ErrNotFound
}

func (r ReplicatingStore) Has(d digest.Digest) bool {
	for _, b := range r.Backends {
		if b.Store != nil && b.Store.Has(d) {
			return true
		}
	}
	return false
}

func (r ReplicatingStore) Digests() ([]digest.Digest, error) {
	stores := make([]ObjectStore, 0, len(r.Backends))
	for _, b := range r.Backends {
		stores = append(stores, b.Store)
	}
	return ListAll(stores...)
}
