package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/keycircle/datastore"
	"xdao.co/keycircle/storage"
	"xdao.co/keycircle/storage/registry"
	"xdao.co/keycircle/storage/testkit"

	_ "xdao.co/keycircle/storage/localfs"
	_ "xdao.co/keycircle/storage/sqlitestore"
)

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(`
views: [KeychainV0, Passwords]
key_dir: /tmp/keys
policy:
  min_version: 2
  require_serial: true
  require_device_id: true
  device_id: dev-1
  require_transport: true
  transport: {type: KVS, ids: true, ack_model: true}
  required_views: [KeychainV0]
  excluded_views: [HomeKit]
storage:
  write_policy: all
  backends:
    - name: localfs
      settings: {dir: /tmp/objects}
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"KeychainV0", "Passwords"}, cfg.Views)
	assert.Equal(t, "/tmp/keys", cfg.KeyDir)

	p := cfg.Policy.Peer()
	assert.Equal(t, uint32(2), p.MinVersion)
	assert.True(t, p.RequireSerial)
	assert.Equal(t, "dev-1", p.DeviceID)
	assert.Equal(t, "KVS", p.Transport.Type)
	assert.True(t, p.Transport.IDS)
	assert.False(t, p.Transport.Fragmentation)
	assert.Equal(t, []string{"KeychainV0"}, p.RequiredViews)
	assert.Equal(t, []string{"HomeKit"}, p.ExcludedViews)
}

func TestParse_DefaultsViews(t *testing.T) {
	cfg, err := Parse([]byte("storage:\n  backends:\n    - name: localfs\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{datastore.DefaultView}, cfg.Views)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":      "bogus: 1\nstorage:\n  backends: [{name: localfs}]\n",
		"no backends":        "views: [A]\n",
		"duplicate ids":      "storage:\n  backends: [{name: localfs}, {name: localfs}]\n",
		"bad write policy":   "storage:\n  write_policy: some\n  backends: [{name: localfs}]\n",
		"required+excluded":  "policy: {required_views: [WiFi], excluded_views: [WiFi]}\nstorage:\n  backends: [{name: localfs}]\n",
		"transport w/o type": "policy: {require_transport: true}\nstorage:\n  backends: [{name: localfs}]\n",
		"unknown view":       "policy: {required_views: [Nope]}\nstorage:\n  backends: [{name: localfs}]\n",
		"future min version": "policy: {min_version: 99}\nstorage:\n  backends: [{name: localfs}]\n",
		"duplicate view":     "views: [A, A]\nstorage:\n  backends: [{name: localfs}]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keycircle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backends: [{name: localfs}]\n"), 0o600))
	_, err := LoadFile(path)
	require.NoError(t, err)

	_, err = LoadFile("")
	assert.Error(t, err)
}

func TestStorageOpen_WritePolicies(t *testing.T) {
	dir := t.TempDir()
	backends := []BackendConfig{
		{Name: "localfs", Settings: map[string]string{"dir": filepath.Join(dir, "fs")}},
		{Name: "sqlite", ID: "archive", Settings: map[string]string{"path": filepath.Join(dir, "objects.db")}},
	}

	t.Run("first", func(t *testing.T) {
		s, closeFn, err := StorageConfig{Backends: backends}.Open(registry.UsageCLI, "archive")
		require.NoError(t, err)
		defer closeFn()

		multi, ok := s.(storage.MultiStore)
		require.True(t, ok, "got %T", s)
		require.Len(t, multi.Stores, 2)

		o := testkit.Object("first", 1)
		_, err = s.Put(o)
		require.NoError(t, err)
		assert.True(t, multi.Stores[0].Has(o.Digest()), "preferred backend receives writes")
		assert.False(t, multi.Stores[1].Has(o.Digest()))
	})

	t.Run("all", func(t *testing.T) {
		s, closeFn, err := StorageConfig{WritePolicy: "all", Backends: backends}.Open(registry.UsageCLI, "")
		require.NoError(t, err)
		defer closeFn()

		rep, ok := s.(storage.ReplicatingStore)
		require.True(t, ok, "got %T", s)

		_, perBackend, err := rep.PutAll(testkit.Object("all", 2))
		require.NoError(t, err)
		assert.Len(t, perBackend, 2)
		assert.Contains(t, perBackend, "localfs")
		assert.Contains(t, perBackend, "archive")
	})

	t.Run("unknown preferred", func(t *testing.T) {
		_, _, err := StorageConfig{Backends: backends}.Open(registry.UsageCLI, "nope")
		assert.Error(t, err)
	})
}
