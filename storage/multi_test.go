package storage_test

import (
	"errors"
	"testing"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
	"xdao.co/keycircle/storage"
	"xdao.co/keycircle/storage/localfs"
	"xdao.co/keycircle/storage/testkit"
)

func newLocal(t *testing.T) *localfs.Store {
	t.Helper()
	s, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	return s
}

// hidden wraps a store so that it does not implement Lister.
type hidden struct{ storage.ObjectStore }

func TestMultiStore_Conformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) storage.ObjectStore {
		return storage.MultiStore{Stores: []storage.ObjectStore{newLocal(t), newLocal(t)}}
	})
}

func TestReplicatingStore_Conformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) storage.ObjectStore {
		return storage.ReplicatingStore{Backends: []storage.NamedStore{
			{Name: "a", Store: newLocal(t)},
			{Name: "b", Store: newLocal(t)},
		}}
	})
}

func TestMultiStore_ReadFallbackAndUnion(t *testing.T) {
	a, b := newLocal(t), newLocal(t)
	oa, ob := testkit.Object("alice", 1), testkit.Object("bob", 2)
	if _, err := a.Put(oa); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := b.Put(ob); err != nil {
		t.Fatalf("Put: %v", err)
	}

	m := storage.MultiStore{Stores: []storage.ObjectStore{a, b, hidden{newLocal(t)}}}
	if _, err := m.Get(ob.Digest()); err != nil {
		t.Fatalf("Get via fallback: %v", err)
	}
	ds, err := m.Digests()
	if err != nil {
		t.Fatalf("Digests: %v", err)
	}
	if len(ds) != 2 {
		t.Fatalf("Digests: got %d want 2", len(ds))
	}

	if _, err := storage.ListAll(hidden{a}); err == nil {
		t.Fatalf("ListAll with no Lister should fail")
	}
}

func TestReplicatingStore_PutAllWritesEveryBackend(t *testing.T) {
	a, b := newLocal(t), newLocal(t)
	r := storage.ReplicatingStore{Backends: []storage.NamedStore{{Name: "a", Store: a}, {Name: "b", Store: b}}}
	o := testkit.Object("carol", 3)

	d, per, err := r.PutAll(o)
	if err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	if len(per) != 2 || per["a"] != d || per["b"] != d {
		t.Fatalf("per-backend digests: %v", per)
	}
	if !a.Has(d) || !b.Has(d) {
		t.Fatalf("object not replicated")
	}
	if _, _, err := r.PutAll(item.Object{}); !errors.Is(err, storage.ErrInvalidDigest) {
		t.Fatalf("PutAll(zero): got %v", err)
	}
	if r.Has(digest.Digest{}) {
		t.Fatalf("Has(undefined) should be false")
	}
}
