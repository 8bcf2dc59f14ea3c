package storage

import (
	"errors"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
)

// MultiStore provides deterministic, ordered read fallback across several
// stores. Reads consult Stores in slice order; Put writes only to the first.
type MultiStore struct {
	Stores []ObjectStore
}

var (
	_ ObjectStore = MultiStore{}
	_ Lister      = MultiStore{}
)

func (m MultiStore) Put(obj item.Object) (digest.Digest, error) {
	if len(m.Stores) == 0 {
		return digest.Digest{}, errors.New("storage: MultiStore has no stores")
	}
	return m.Stores[0].Put(obj)
}

func (m MultiStore) Get(d digest.Digest) (item.Object, error) {
	for _, s := range m.Stores {
		obj, err := s.Get(d)
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

func (m MultiStore) Has(d digest.Digest) bool {
	for _, s := range m.Stores {
		if s.Has(d) {
			return true
		}
	}
	return false
}

// Digests lists the union of every listable store.
func (m MultiStore) Digests() ([]digest.Digest, error) { return ListAll(m.Stores...) }
