// Package testkit holds the conformance suite every storage.ObjectStore
// backend runs in its own tests.
package testkit

import (
	"testing"
	"time"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
	"xdao.co/keycircle/plist"
	"xdao.co/keycircle/storage"
)

// NewStore constructs a fresh, empty store for a test.
// The returned store MUST be isolated from other tests.
type NewStore func(t *testing.T) storage.ObjectStore

// Object returns a deterministic genp item for conformance tests.
func Object(acct string, mtime int64) item.Object {
	return item.MustNew(plist.Dict{
		item.AttrClass:    plist.String("genp"),
		item.AttrAccount:  plist.String(acct),
		item.AttrService:  plist.String("conformance"),
		item.AttrModified: plist.Date(time.Unix(mtime, 0)),
		item.AttrData:     plist.Data([]byte("secret-" + acct)),
	})
}

func RunStoreConformance(t *testing.T, newStore NewStore) {
	t.Helper()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		want := Object("bob", 100)

		d, err := s.Put(want)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if d != want.Digest() {
			t.Fatalf("Put digest mismatch: got %s want %s", d, want.Digest())
		}

		got, err := s.Get(d)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !got.Equal(want) {
			t.Fatalf("Get returned a different object")
		}
		if got.Class() != "genp" {
			t.Fatalf("Get lost the class attribute: %q", got.Class())
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		s := newStore(t)
		o := Object("alice", 200)

		d1, err := s.Put(o)
		if err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		d2, err := s.Put(o)
		if err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		if d1 != d2 {
			t.Fatalf("Put not idempotent: %s vs %s", d1, d2)
		}
	})

	t.Run("PutSameDigestDifferentRowID", func(t *testing.T) {
		s := newStore(t)
		base := Object("frank", 400)
		withRow := func(row int64) item.Object {
			attrs := base.Attrs()
			attrs[item.AttrRowID] = plist.Int(row)
			return item.MustNew(attrs)
		}
		a, b := withRow(1), withRow(2)
		if a.Digest() != b.Digest() {
			t.Fatalf("rowid must not affect the digest")
		}

		if _, err := s.Put(a); err != nil {
			t.Fatalf("Put(a) failed: %v", err)
		}
		d, err := s.Put(b)
		if err != nil {
			t.Fatalf("Put(b) with an equal digest failed: %v", err)
		}
		if d != a.Digest() {
			t.Fatalf("Put(b) digest mismatch: got %s want %s", d, a.Digest())
		}
		got, err := s.Get(d)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Digest() != d {
			t.Fatalf("Get returned digest %s want %s", got.Digest(), d)
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		s := newStore(t)
		o := Object("carol", 300)

		if s.Has(o.Digest()) {
			t.Fatalf("Has returned true for missing digest")
		}
		if _, err := s.Get(o.Digest()); !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}
		if _, err := s.Put(o); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !s.Has(o.Digest()) {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("RejectUndefinedDigest", func(t *testing.T) {
		s := newStore(t)
		var undef digest.Digest
		if s.Has(undef) {
			t.Fatalf("Has should be false for the undefined digest")
		}
		if _, err := s.Get(undef); err == nil {
			t.Fatalf("Get should fail for the undefined digest")
		}
		if _, err := s.Put(item.Object{}); err == nil {
			t.Fatalf("Put should fail for an absent object")
		}
	})

	t.Run("ListsWhenSupported", func(t *testing.T) {
		s := newStore(t)
		l, ok := s.(storage.Lister)
		if !ok {
			t.Skip("store does not implement storage.Lister")
		}
		a, b := Object("dave", 1), Object("erin", 2)
		for _, o := range []item.Object{a, b} {
			if _, err := s.Put(o); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		ds, err := l.Digests()
		if err != nil {
			t.Fatalf("Digests failed: %v", err)
		}
		if len(ds) != 2 {
			t.Fatalf("Digests: got %d entries want 2", len(ds))
		}
		if !ds[0].Less(ds[1]) {
			t.Fatalf("Digests not in ascending order")
		}
	})
}
