package sqlitestore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/keycircle/storage"
	"xdao.co/keycircle/storage/testkit"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "objects.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_Conformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) storage.ObjectStore {
		return openTemp(t)
	})
}

func TestSQLite_TamperedRowIsMismatch(t *testing.T) {
	s := openTemp(t)
	d, err := s.Put(testkit.Object("bob", 1))
	require.NoError(t, err)

	other, err := testkit.Object("mallory", 1).Encode()
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE objects SET der = ? WHERE digest = ?`, other, d.Bytes())
	require.NoError(t, err)

	_, err = s.Get(d)
	assert.True(t, errors.Is(err, storage.ErrDigestMismatch), "got %v", err)

	_, err = s.Put(testkit.Object("bob", 1))
	assert.True(t, errors.Is(err, storage.ErrImmutable), "got %v", err)
}

func TestSQLite_State(t *testing.T) {
	s := openTemp(t)

	require.NoError(t, s.PutState("peersalice", []byte("v1")))
	require.NoError(t, s.PutState("peersalice", []byte("v2")))
	require.NoError(t, s.PutState("peersbob", []byte("b")))

	states, err := s.LoadStates()
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"peersalice": []byte("v2"), "peersbob": []byte("b")}, states)

	require.NoError(t, s.PutState("peersbob", nil))
	states, err = s.LoadStates()
	require.NoError(t, err)
	assert.NotContains(t, states, "peersbob")
}

func TestSQLite_ReopenKeepsObjects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.db")
	s, err := Open(path)
	require.NoError(t, err)
	d, err := s.Put(testkit.Object("carol", 3))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	assert.True(t, s2.Has(d))
	ds, err := s2.Digests()
	require.NoError(t, err)
	assert.Len(t, ds, 1)
}
