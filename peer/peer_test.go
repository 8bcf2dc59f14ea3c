package peer

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/keycircle/kcerr"
	"xdao.co/keycircle/keys"
	"xdao.co/keycircle/plist"
)

func testKey(t *testing.T, alg keys.Alg, label string) *keys.PrivateKey {
	t.Helper()
	seed := sha256.Sum256([]byte(label))
	k, err := keys.FromSeed(alg, seed[:])
	require.NoError(t, err)
	return k
}

func gestalt(name string) plist.Dict {
	return plist.Dict{
		"ComputerName": plist.String(name),
		"ModelName":    plist.String("iPhone15,2"),
	}
}

// countingStore counts the signatures produced through resolved keys.
type countingStore struct {
	*keys.MemStore
	signs int
}

type countingSigner struct {
	keys.Signer
	n *int
}

func (c countingSigner) Sign(hashAlg string, msg []byte) ([]byte, error) {
	*c.n++
	return c.Signer.Sign(hashAlg, msg)
}

func (c *countingStore) ResolvePrivateKey(pub keys.PublicKey) (keys.Signer, error) {
	k, err := c.MemStore.ResolvePrivateKey(pub)
	if err != nil {
		return nil, err
	}
	return countingSigner{Signer: k, n: &c.signs}, nil
}

func newHandle(t *testing.T, alg keys.Alg) (*Handle, *keys.MemStore, *keys.PrivateKey) {
	t.Helper()
	ks := keys.NewMemStore()
	k := testKey(t, alg, "device-"+string(alg))
	h, err := NewHandle(gestalt("Alice's iPhone"), k, ks)
	require.NoError(t, err)
	return h, ks, k
}

func TestNewHandle_Defaults(t *testing.T) {
	h, _, k := newHandle(t, keys.AlgEd25519)
	id := h.Identity()
	assert.Equal(t, uint64(1), id.Serial())
	assert.Equal(t, CurrentVersion, id.Version())
	assert.Equal(t, RoleApplication, id.Role())
	assert.Equal(t, keys.HashSHA3256, id.HashAlg())
	assert.True(t, id.SigningKey().Equal(k.Public()))
	assert.Equal(t, []byte(k.Public().Fingerprint()), h.KeyRef())
	require.NoError(t, id.Verify())
}

func TestNewHandle_RejectsIncompleteGestalt(t *testing.T) {
	_, err := NewHandle(plist.Dict{"ComputerName": plist.String("x")}, testKey(t, keys.AlgEd25519, "g"), keys.NewMemStore())
	require.Error(t, err)
	assert.True(t, kcerr.IsKind(err, kcerr.KindSchema))
}

func TestHandle_RoundTrip(t *testing.T) {
	for _, alg := range []keys.Alg{keys.AlgEd25519, keys.AlgDilithium3} {
		t.Run(string(alg), func(t *testing.T) {
			h, ks, _ := newHandle(t, alg)
			_, err := h.UpdateView("Passwords", true)
			require.NoError(t, err)
			require.NoError(t, h.AddEscrowRecord("com.example.escrow", plist.Dict{"Count": plist.Int(3)}))

			der, err := h.Encode()
			require.NoError(t, err)
			got, err := DecodeHandle(der, ks)
			require.NoError(t, err)

			assert.True(t, got.Identity().Equal(h.Identity()))
			assert.Equal(t, h.KeyRef(), got.KeyRef())
			assert.True(t, got.Equal(h))
			assert.Equal(t, h.Hash(), got.Hash())
			require.NoError(t, got.Identity().Verify())

			again, err := got.Encode()
			require.NoError(t, err)
			assert.Equal(t, der, again)
		})
	}
}

func TestDecode_Strict(t *testing.T) {
	h, ks, _ := newHandle(t, keys.AlgEd25519)
	der, err := h.Encode()
	require.NoError(t, err)

	_, err = DecodeHandle(append(append([]byte(nil), der...), 0x00), ks)
	assert.True(t, kcerr.IsKind(err, kcerr.KindDecode), "trailing byte: %v", err)

	bad := append([]byte(nil), der...)
	bad[0] = 0x31 // SET instead of SEQUENCE
	_, err = DecodeHandle(bad, ks)
	assert.True(t, kcerr.IsKind(err, kcerr.KindDecode), "wrong tag: %v", err)

	_, err = DecodeHandle(der[:len(der)-1], ks)
	assert.True(t, kcerr.IsKind(err, kcerr.KindDecode), "truncated: %v", err)

	idDER := h.Identity().Encode()
	_, err = DecodeIdentity(append(idDER, 0x05, 0x00))
	assert.True(t, kcerr.IsKind(err, kcerr.KindDecode))
}

func TestVerify_DetectsTampering(t *testing.T) {
	h, _, _ := newHandle(t, keys.AlgEd25519)
	der := h.Identity().Encode()
	i := bytes.Index(der, []byte("Alice"))
	require.Positive(t, i)
	der[i] = 'B'
	id, err := DecodeIdentity(der)
	require.NoError(t, err)
	err = id.Verify()
	assert.Equal(t, "KC-PEER-SIG-001", kcerr.RuleID(err))
}

func TestApplySignedUpdate_KeyUnavailable(t *testing.T) {
	h, ks, k := newHandle(t, keys.AlgEd25519)
	before, err := h.Encode()
	require.NoError(t, err)

	ks.Delete(k.Public().Fingerprint())
	called := false
	err = h.ApplySignedUpdate(TransformFunc(func(cur *Identity, key keys.Signer) (*Identity, error) {
		called = true
		return cur, nil
	}))
	require.Error(t, err)
	assert.True(t, kcerr.IsKind(err, kcerr.KindKeyUnavailable))
	assert.True(t, errors.Is(err, keys.ErrKeyNotFound))
	assert.False(t, called)

	_, err = h.UpdateView("WiFi", true)
	assert.True(t, kcerr.IsKind(err, kcerr.KindKeyUnavailable))
	_, err = h.Reconcile(Policy{RequireDeviceID: true})
	assert.True(t, kcerr.IsKind(err, kcerr.KindKeyUnavailable))

	after, err := h.Encode()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestApplySignedUpdate_TransformFailures(t *testing.T) {
	h, _, _ := newHandle(t, keys.AlgEd25519)
	before := h.Identity()

	err := h.ApplySignedUpdate(TransformFunc(func(*Identity, keys.Signer) (*Identity, error) {
		return nil, errors.New("nope")
	}))
	assert.True(t, kcerr.IsKind(err, kcerr.KindTransformRejected))

	err = h.ApplySignedUpdate(TransformFunc(func(*Identity, keys.Signer) (*Identity, error) {
		return nil, nil
	}))
	assert.True(t, kcerr.IsKind(err, kcerr.KindTransformRejected))

	err = h.ApplySignedUpdate(TransformFunc(func(*Identity, keys.Signer) (*Identity, error) {
		return nil, kcerr.New(kcerr.KindSchema, "KC-TEST-001", "custom")
	}))
	assert.Equal(t, "KC-TEST-001", kcerr.RuleID(err))

	other := testKey(t, keys.AlgEd25519, "other")
	err = h.ApplySignedUpdate(TransformFunc(func(cur *Identity, _ keys.Signer) (*Identity, error) {
		return NewIdentity(cur.Gestalt(), other)
	}))
	assert.Equal(t, "KC-PEER-005", kcerr.RuleID(err))

	assert.Same(t, before, h.Identity())
}

func TestOps_BumpSerialOnlyOnChange(t *testing.T) {
	h, _, _ := newHandle(t, keys.AlgEd25519)

	require.NoError(t, h.SetDeviceID("device-1"))
	assert.Equal(t, uint64(2), h.Identity().Serial())
	require.NoError(t, h.SetDeviceID("device-1"))
	assert.Equal(t, uint64(2), h.Identity().Serial())

	tr := Transport{Type: "IDS", IDS: true, ACKModel: true}
	require.NoError(t, h.SetTransport(tr))
	assert.Equal(t, tr, h.Identity().Transport())

	require.NoError(t, h.UpdateGestalt(gestalt("Renamed")))
	name, _ := h.Identity().Gestalt().GetString("ComputerName")
	assert.Equal(t, "Renamed", name)

	require.NoError(t, h.SetBackupKey([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, h.Identity().BackupKey())

	require.NoError(t, h.ReplaceEscrowRecords(map[string]plist.Dict{"a": {"n": plist.Int(1)}}))
	assert.Len(t, h.Identity().EscrowRecords(), 1)

	serial := h.Identity().Serial()
	ping := h.Identity().Ping()
	require.NoError(t, h.RefreshPing())
	assert.NotEqual(t, ping, h.Identity().Ping())
	assert.Equal(t, serial+1, h.Identity().Serial())
	require.NoError(t, h.Identity().Verify())
}

func TestUpdateView(t *testing.T) {
	h, _, _ := newHandle(t, keys.AlgEd25519)

	r, err := h.UpdateView("NotAView", true)
	require.NoError(t, err)
	assert.Equal(t, NoSuchView, r)
	assert.Equal(t, uint64(1), h.Identity().Serial())

	r, err = h.UpdateView("WiFi", true)
	require.NoError(t, err)
	assert.Equal(t, ViewMember, r)
	r, err = h.UpdateView("AppleTV", true)
	require.NoError(t, err)
	assert.Equal(t, ViewMember, r)
	assert.Equal(t, []string{"AppleTV", "WiFi"}, h.Identity().Views())

	r, err = h.UpdateView("WiFi", false)
	require.NoError(t, err)
	assert.Equal(t, ViewNotMember, r)
	assert.Equal(t, []string{"AppleTV"}, h.Identity().Views())

	p, err := h.UpdateSecurityProperty("ScreenLock", true)
	require.NoError(t, err)
	assert.Equal(t, SecurityPropertyValid, p)
	p, err = h.UpdateSecurityProperty("Bogus", true)
	require.NoError(t, err)
	assert.Equal(t, NoSuchSecurityProperty, p)
}

func TestReconcile_SingleSignature(t *testing.T) {
	ks := &countingStore{MemStore: keys.NewMemStore()}
	k := testKey(t, keys.AlgEd25519, "reconcile")
	h, err := NewHandle(gestalt("Bob's Mac"), k, ks)
	require.NoError(t, err)

	p := Policy{
		MinVersion:       CurrentVersion,
		RequireSerial:    true,
		RequireDeviceID:  true,
		DeviceID:         "mac-1",
		RequireTransport: true,
		Transport:        Transport{Type: "KVS"},
		RequiredViews:    []string{"KeychainV0", "Passwords"},
		ExcludedViews:    []string{"HomeKit"},
	}
	require.NotEmpty(t, p.Deficiencies(h.Identity()))

	res, err := h.Reconcile(p)
	require.NoError(t, err)
	assert.Equal(t, Updated, res)
	assert.Equal(t, 1, ks.signs)
	assert.Empty(t, p.Deficiencies(h.Identity()))
	assert.Equal(t, "mac-1", h.Identity().DeviceID())
	assert.Equal(t, uint64(2), h.Identity().Serial())

	res, err = h.Reconcile(p)
	require.NoError(t, err)
	assert.Equal(t, NoUpdateNeeded, res)
	assert.Equal(t, 1, ks.signs)
}

func TestPolicy_Validate(t *testing.T) {
	assert.Error(t, Policy{RequiredViews: []string{"Nope"}}.Validate())
	assert.Error(t, Policy{RequiredViews: []string{"WiFi"}, ExcludedViews: []string{"WiFi"}}.Validate())
	assert.Error(t, Policy{RequireTransport: true}.Validate())
	assert.NoError(t, Policy{RequiredViews: []string{"WiFi"}}.Validate())
	assert.NoError(t, Policy{MinVersion: CurrentVersion}.Validate())

	err := Policy{MinVersion: CurrentVersion + 1}.Validate()
	assert.Equal(t, "KC-POLICY-004", kcerr.RuleID(err))

	h, _, _ := newHandle(t, keys.AlgEd25519)
	serial := h.Identity().Serial()
	_, err = h.Reconcile(Policy{MinVersion: CurrentVersion + 1})
	assert.Equal(t, "KC-POLICY-004", kcerr.RuleID(err))
	assert.Equal(t, serial, h.Identity().Serial())
}

func TestPromote_VerifyMember(t *testing.T) {
	h, _, _ := newHandle(t, keys.AlgDilithium3)
	group := testKey(t, keys.AlgEd25519, "group")

	err := h.Identity().VerifyMember(group.Public())
	assert.Equal(t, "KC-PEER-SIG-003", kcerr.RuleID(err))

	require.NoError(t, h.Promote(group))
	assert.Equal(t, RoleMember, h.Identity().Role())
	require.NoError(t, h.Identity().VerifyMember(group.Public()))

	// The endorsement survives later updates.
	require.NoError(t, h.SetDeviceID("d"))
	require.NoError(t, h.Identity().VerifyMember(group.Public()))

	serial := h.Identity().Serial()
	require.NoError(t, h.Promote(group))
	assert.Equal(t, serial, h.Identity().Serial())

	other := testKey(t, keys.AlgEd25519, "other-group")
	err = h.Identity().VerifyMember(other.Public())
	assert.Equal(t, "KC-PEER-SIG-004", kcerr.RuleID(err))
}

func TestUpgradeSignatures(t *testing.T) {
	ks := keys.NewMemStore()
	k := testKey(t, keys.AlgEd25519, "legacy")
	_, err := ks.PersistReference(k)
	require.NoError(t, err)

	d := &Draft{
		Gestalt:    gestalt("Old Mac"),
		Serial:     7,
		Version:    LegacyVersion,
		Role:       RoleApplication,
		HashAlg:    keys.HashSHA256,
		signingKey: k.Public(),
	}
	legacy, err := d.Sign(k)
	require.NoError(t, err)
	h := HandleFor(legacy, ks)

	require.NoError(t, h.UpgradeSignatures())
	assert.Equal(t, keys.HashSHA3256, h.Identity().HashAlg())
	assert.Equal(t, CurrentVersion, h.Identity().Version())
	assert.Equal(t, uint64(8), h.Identity().Serial())
	require.NoError(t, h.Identity().Verify())

	require.NoError(t, h.UpgradeSignatures())
	assert.Equal(t, uint64(8), h.Identity().Serial())
}

func TestRetire(t *testing.T) {
	h, _, k := newHandle(t, keys.AlgEd25519)
	rt, err := h.Retire()
	require.NoError(t, err)
	assert.Equal(t, RoleRetired, h.Identity().Role())
	assert.Equal(t, h.Hash(), rt.Identity)
	require.NoError(t, rt.Verify())

	der, err := rt.Encode()
	require.NoError(t, err)
	got, err := DecodeRetirement(der)
	require.NoError(t, err)
	assert.True(t, got.SigningKey.Equal(k.Public()))
	assert.Equal(t, rt.Serial, got.Serial)
	require.NoError(t, got.Verify())

	err = h.SetDeviceID("after")
	assert.True(t, kcerr.IsKind(err, kcerr.KindRetired))
	_, err = h.Retire()
	assert.True(t, kcerr.IsKind(err, kcerr.KindRetired))
}

func TestHandle_EqualByKey(t *testing.T) {
	h, ks, _ := newHandle(t, keys.AlgEd25519)
	old := HandleFor(h.Identity(), ks)
	require.NoError(t, h.SetDeviceID("x"))
	assert.False(t, h.Identity().Equal(old.Identity()))
	assert.True(t, h.Equal(old))

	o, _, _ := newHandle(t, keys.AlgDilithium3)
	assert.False(t, h.Equal(o))
}

func TestRelease(t *testing.T) {
	h, _, _ := newHandle(t, keys.AlgEd25519)
	h.Release()
	assert.Nil(t, h.Identity())
	assert.Panics(t, func() { _ = h.SetDeviceID("x") })
}

func TestHandle_RoundTripUnnormalisedKeys(t *testing.T) {
	ks := keys.NewMemStore()
	g := gestalt("Bob's Mac")
	g["e\u0301x"] = plist.String("accent")
	g["f"] = plist.Int(1)
	h, err := NewHandle(g, testKey(t, keys.AlgEd25519, "nfc"), ks)
	require.NoError(t, err)
	require.NoError(t, h.AddEscrowRecord("cafe\u0301", plist.Dict{"e\u0301": plist.Int(3)}))

	der, err := h.Encode()
	require.NoError(t, err)
	got, err := DecodeHandle(der, ks)
	require.NoError(t, err)
	assert.True(t, got.Equal(h))
	assert.True(t, got.Identity().Equal(h.Identity()))

	_, ok := got.Identity().Gestalt()["\u00e9x"]
	assert.True(t, ok, "gestalt key not normalised")
	rec, ok := got.Identity().EscrowRecords()["caf\u00e9"]
	require.True(t, ok, "escrow source not normalised")
	_, ok = rec["\u00e9"]
	assert.True(t, ok, "escrow record key not normalised")

	// The same gestalt in the other normalisation form is not a change.
	serial := h.Identity().Serial()
	nfc := gestalt("Bob's Mac")
	nfc["\u00e9x"] = plist.String("accent")
	nfc["f"] = plist.Int(1)
	require.NoError(t, h.UpdateGestalt(nfc))
	assert.Equal(t, serial, h.Identity().Serial())
}

func TestNewHandle_RejectsCollidingKeys(t *testing.T) {
	g := gestalt("x")
	g["\u00e9"] = plist.Int(1)
	g["e\u0301"] = plist.Int(2)
	_, err := NewHandle(g, testKey(t, keys.AlgEd25519, "collide"), keys.NewMemStore())
	require.Error(t, err)
	assert.True(t, kcerr.IsKind(err, kcerr.KindSchema))
	assert.Equal(t, "KC-SCHEMA-004", kcerr.RuleID(err))

	h, _, _ := newHandle(t, keys.AlgEd25519)
	err = h.ReplaceEscrowRecords(map[string]plist.Dict{
		"caf\u00e9":  {"n": plist.Int(1)},
		"cafe\u0301": {"n": plist.Int(2)},
	})
	assert.Equal(t, "KC-SCHEMA-005", kcerr.RuleID(err))
}

func TestPromote_ChecksCurrentIdentity(t *testing.T) {
	h, _, _ := newHandle(t, keys.AlgEd25519)
	group := testKey(t, keys.AlgEd25519, "group")

	// Endorsement is checked against the identity handed to the transform:
	// once the membership is stripped the same group promotes again.
	require.NoError(t, h.Promote(group))
	before := h.Identity().Serial()
	require.NoError(t, h.ApplySignedUpdate(edit(func(d *Draft) (bool, error) {
		d.groupSig = nil
		return true, nil
	})))
	require.Error(t, h.Identity().VerifyMember(group.Public()))

	require.NoError(t, h.Promote(group))
	assert.Equal(t, before+2, h.Identity().Serial())
	require.NoError(t, h.Identity().VerifyMember(group.Public()))
}
