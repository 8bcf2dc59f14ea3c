// Package storage defines persistence for keychain objects, keyed by their
// content digest.
package storage

import (
	"bytes"
	"errors"
	"sort"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
)

// ObjectStore is a content-addressed object store.
//
// Contract:
//   - Put MUST be idempotent and return obj.Digest().
//   - Stored objects MUST be immutable: a Put whose digest is already held by
//     content with a different digest fails with ErrImmutable. Copies that
//     differ only in attributes the digest omits (rowid) are the same object;
//     the first copy stored is kept.
//   - Get MUST verify the returned object against the requested digest and
//     return ErrNotFound when the digest is absent.
type ObjectStore interface {
	Put(obj item.Object) (digest.Digest, error)
	Get(d digest.Digest) (item.Object, error)
	Has(d digest.Digest) bool
}

// Lister is implemented by stores that can enumerate what they hold.
// Digests are returned in ascending order.
type Lister interface {
	Digests() ([]digest.Digest, error)
}

// StateStore is implemented by stores that also persist the content store's
// keyed bookkeeping blobs. Unlike objects, state is last-write-wins.
type StateStore interface {
	PutState(key string, blob []byte) error
	LoadStates() (map[string][]byte, error)
}

// SameContent reports whether held, the stored encoding of an object, decodes
// to an object with digest d. Backends use it to keep Put idempotent when the
// incoming copy differs only in attributes the digest omits.
func SameContent(held, incoming []byte, d digest.Digest) bool {
	if bytes.Equal(held, incoming) {
		return true
	}
	obj, err := item.Decode(held)
	if err != nil {
		return false
	}
	return obj.Digest() == d
}

// ListAll merges the digests of every store that implements Lister, sorted
// and de-duplicated. Stores that cannot list are skipped; if none can, the
// result is an error.
func ListAll(stores ...ObjectStore) ([]digest.Digest, error) {
	seen := map[digest.Digest]struct{}{}
	listed := false
	for _, s := range stores {
		l, ok := s.(Lister)
		if !ok {
			continue
		}
		listed = true
		ds, err := l.Digests()
		if err != nil {
			return nil, err
		}
		for _, d := range ds {
			seen[d] = struct{}{}
		}
	}
	if !listed {
		return nil, errors.New("storage: no store can list its objects")
	}
	out := make([]digest.Digest, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}
