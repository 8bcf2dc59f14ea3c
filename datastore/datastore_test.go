package datastore

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
	"xdao.co/keycircle/kcerr"
	"xdao.co/keycircle/manifest"
	"xdao.co/keycircle/plist"
)

func password(acct, svc string, mtime int64, data string) item.Object {
	return item.MustNew(plist.Dict{
		item.AttrAccount:  plist.String(acct),
		item.AttrService:  plist.String(svc),
		item.AttrModified: plist.Date(time.Unix(mtime, 0)),
		item.AttrData:     plist.Data([]byte(data)),
	})
}

// tieBreaker returns a version of ref with the same primary key and mtime
// whose content digest sorts below (less=true) or above ref's.
func tieBreaker(t *testing.T, ref item.Object, acct, svc string, mtime int64, less bool) item.Object {
	t.Helper()
	for i := 0; i < 1000; i++ {
		o := password(acct, svc, mtime, fmt.Sprintf("candidate-%d", i))
		if o.Digest().Less(ref.Digest()) == less && o.Digest() != ref.Digest() {
			return o
		}
	}
	t.Fatalf("no tie-break candidate found")
	return item.Object{}
}

func assertConsistent(t *testing.T, s *Store) {
	t.Helper()
	require.Equal(t, len(s.content), len(s.primary), "index sizes differ")
	for d, e := range s.content {
		pk, err := item.PrimaryKeyDigest(e.obj)
		require.NoError(t, err)
		assert.Equal(t, pk, e.pk)
		held, ok := s.primary[pk]
		require.True(t, ok, "content %s has no primary entry", d)
		assert.Equal(t, d, held.Digest())
	}
}

func TestInsertOrMerge_Scenario(t *testing.T) {
	s := New()
	var batches [][]Change
	s.MustRegister(func(cs []Change) { batches = append(batches, cs) })

	a := password("bob", "mail", 100, "a")
	out, err := s.InsertOrMerge(a)
	require.NoError(t, err)
	assert.Equal(t, Created, out)

	b := password("bob", "mail", 50, "b")
	out, err = s.InsertOrMerge(b)
	require.NoError(t, err)
	assert.Equal(t, KeptLocal, out)

	pk, err := item.PrimaryKeyDigest(a)
	require.NoError(t, err)
	held, _ := s.Lookup(pk)
	assert.True(t, held.Equal(a), "store still holds A")

	c := password("bob", "mail", 150, "c")
	out, err = s.InsertOrMerge(c)
	require.NoError(t, err)
	assert.Equal(t, AcceptedRemote, out)
	held, _ = s.Lookup(pk)
	assert.True(t, held.Equal(c))

	d := tieBreaker(t, c, "bob", "mail", 150, true)
	out, err = s.InsertOrMerge(d)
	require.NoError(t, err)
	assert.Equal(t, AcceptedMerged, out)
	held, _ = s.Lookup(pk)
	assert.True(t, held.Equal(d))

	_, stillA := s.Get(a.Digest())
	assert.False(t, stillA, "superseded content entry removed")
	assert.Equal(t, 1, s.Len())

	require.Len(t, batches, 3, "one notification per changing autocommit")
	assert.True(t, batches[0][0].IsCreate())
	assert.True(t, batches[1][0].Old.Equal(a))
	assert.True(t, batches[1][0].New.Equal(c))
	assert.True(t, batches[2][0].Old.Equal(c))
	assert.True(t, batches[2][0].New.Equal(d))
	assertConsistent(t, s)
}

func TestInsertOrMerge_LargerDigestOnTieIsKept(t *testing.T) {
	s := New()
	c := password("bob", "mail", 150, "c")
	_, err := s.InsertOrMerge(c)
	require.NoError(t, err)

	e := tieBreaker(t, c, "bob", "mail", 150, false)
	out, err := s.InsertOrMerge(e)
	require.NoError(t, err)
	assert.Equal(t, KeptLocal, out)
}

func TestInsertOrMerge_Idempotent(t *testing.T) {
	s := New()
	x := password("alice", "web", 10, "x")

	out, err := s.InsertOrMerge(x)
	require.NoError(t, err)
	require.Equal(t, Created, out)
	before := s.ManifestDigest()
	m1 := s.BuildManifest(DefaultView)

	out, err = s.InsertOrMerge(x)
	require.NoError(t, err)
	assert.Equal(t, KeptLocal, out)
	assert.Equal(t, before, s.ManifestDigest())
	assert.True(t, m1.Equal(s.BuildManifest(DefaultView)))
}

func TestInsertOrMerge_RejectsUnkeyedObject(t *testing.T) {
	s := New()
	o := item.MustNew(plist.Dict{
		item.AttrAccount:  plist.String("nosvc"),
		item.AttrModified: plist.Date(time.Unix(1, 0)),
	})
	_, err := s.InsertOrMerge(o)
	require.Error(t, err)
	assert.True(t, kcerr.IsKind(err, kcerr.KindDigest))
	assert.Equal(t, 0, s.Len())
}

func TestInsertOrMerge_RejectsCrossClassDigestClash(t *testing.T) {
	attrs := plist.Dict{
		item.AttrAccount:  plist.String("bob"),
		item.AttrService:  plist.String("mail"),
		item.AttrServer:   plist.String("mail.example.com"),
		item.AttrModified: plist.Date(time.Unix(1, 0)),
	}
	genp := item.MustNew(attrs)
	inetAttrs := attrs.Clone()
	inetAttrs[item.AttrClass] = plist.String("inet")
	inet := item.MustNew(inetAttrs)
	require.Equal(t, genp.Digest(), inet.Digest())

	s := New()
	_, err := s.InsertOrMerge(genp)
	require.NoError(t, err)
	_, err = s.InsertOrMerge(inet)
	require.Error(t, err)
	assert.Equal(t, "KC-DIGEST-005", kcerr.RuleID(err))
	assertConsistent(t, s)
}

func TestIndexConsistency_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := New()
	accts := []string{"a", "b", "c", "d"}
	for i := 0; i < 500; i++ {
		o := password(accts[rng.Intn(len(accts))], "svc", int64(rng.Intn(5)), fmt.Sprintf("v%d", rng.Intn(6)))
		_, err := s.InsertOrMerge(o)
		require.NoError(t, err)
	}
	assertConsistent(t, s)
	assert.LessOrEqual(t, s.Len(), len(accts))
}

func TestManifestDigest_ChangesIffStoreChanged(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	s := New()
	prev := s.ManifestDigest()
	for i := 0; i < 300; i++ {
		o := password(fmt.Sprintf("acct-%d", rng.Intn(3)), "svc", int64(rng.Intn(4)), fmt.Sprintf("v%d", rng.Intn(4)))
		out, err := s.InsertOrMerge(o)
		require.NoError(t, err)
		cur := s.ManifestDigest()
		if out.Changed() {
			assert.NotEqual(t, prev, cur, "step %d: %s must change the manifest digest", i, out)
		} else {
			assert.Equal(t, prev, cur, "step %d: %s must not change the manifest digest", i, out)
		}
		prev = cur
	}
}

func TestManifest_SnapshotAndViews(t *testing.T) {
	s := New(WithViews("KeychainV0", "Passwords"))
	_, err := s.InsertOrMerge(password("a", "svc", 1, "a"))
	require.NoError(t, err)

	snap := s.BuildManifest("Passwords")
	require.Equal(t, 1, snap.Len())

	_, err = s.InsertOrMerge(password("b", "svc", 1, "b"))
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len(), "earlier snapshot is unaffected")
	assert.Equal(t, 2, s.BuildManifest("KeychainV0").Len())

	assert.Equal(t, 0, s.BuildManifest("NotServed").Len())
	assert.Equal(t, []string{"KeychainV0", "Passwords"}, s.Views())

	m := s.BuildManifest(DefaultView)
	for i := 1; i < m.Len(); i++ {
		assert.True(t, m.At(i-1).Less(m.At(i)), "manifest strictly increasing")
	}
}

func TestForEachObject(t *testing.T) {
	s := New()
	a := password("a", "svc", 1, "a")
	_, err := s.InsertOrMerge(a)
	require.NoError(t, err)
	gone := password("gone", "svc", 1, "gone").Digest()

	m := manifest.New([]digest.Digest{a.Digest(), gone})
	seen := map[digest.Digest]bool{}
	err = s.ForEachObject(m, func(d digest.Digest, obj item.Object, found bool) error {
		seen[d] = found
		if found {
			assert.True(t, obj.Equal(a))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[digest.Digest]bool{a.Digest(): true, gone: false}, seen)

	stop := errors.New("stop")
	calls := 0
	err = s.ForEachObject(m, func(digest.Digest, item.Object, bool) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestKeyedState(t *testing.T) {
	s := New()
	_, ok := s.KeyedState("peers", "alice")
	assert.False(t, ok)

	s.SetKeyedState("peers", "alice", []byte("v1"))
	s.SetKeyedState("peers", "alice", []byte("v2"))
	got, ok := s.KeyedState("peers", "alice")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), got)

	// The key is the plain concatenation of domain and key.
	got, ok = s.KeyedState("peersal", "ice")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), got)

	s.SetKeyedState("peers", "alice", nil)
	_, ok = s.KeyedState("peers", "alice")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len(), "state does not touch the content index")
}
