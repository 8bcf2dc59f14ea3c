package peer

import (
	"bytes"
	"errors"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/kcerr"
	"xdao.co/keycircle/keys"
	"xdao.co/keycircle/plist"
)

// KeyStore resolves and persists device private keys.
type KeyStore interface {
	ResolvePrivateKey(keys.PublicKey) (keys.Signer, error)
	PersistReference(keys.Signer) ([]byte, error)
}

// Transform builds the replacement for cur, signed with key. Returning cur
// itself means "no change".
type Transform interface {
	Apply(cur *Identity, key keys.Signer) (*Identity, error)
}

type TransformFunc func(cur *Identity, key keys.Signer) (*Identity, error)

func (f TransformFunc) Apply(cur *Identity, key keys.Signer) (*Identity, error) { return f(cur, key) }

// Handle owns a device's current identity and a reference to its private key.
// A Handle does no locking; callers serialise access.
type Handle struct {
	id     *Identity
	keyRef []byte
	ks     KeyStore
}

// NewHandle persists key in ks and signs a fresh application identity.
func NewHandle(gestalt plist.Dict, key keys.Signer, ks KeyStore) (*Handle, error) {
	id, err := NewIdentity(gestalt, key)
	if err != nil {
		return nil, err
	}
	ref, err := ks.PersistReference(key)
	if err != nil {
		return nil, kcerr.Wrap(kcerr.KindKeyUnavailable, "KC-PEER-007", "persist key reference", err)
	}
	return &Handle{id: id, keyRef: ref, ks: ks}, nil
}

// HandleFor wraps an existing identity, e.g. a remote peer's, without a key
// reference. Updates succeed only if ks holds the matching private key.
func HandleFor(id *Identity, ks KeyStore) *Handle {
	return &Handle{id: id, ks: ks}
}

// Identity returns the current identity, or nil after Release.
func (h *Handle) Identity() *Identity { return h.id }

func (h *Handle) KeyRef() []byte { return append([]byte(nil), h.keyRef...) }

// Release drops the identity and the key reference. The key store entry is
// left alone. Any later update panics.
func (h *Handle) Release() {
	h.id = nil
	h.keyRef = nil
}

// Encode returns SEQUENCE { identity, keyRef OCTET STRING }.
func (h *Handle) Encode() ([]byte, error) {
	h.mustLive()
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(h.id.encoded)
		b.AddASN1OctetString(h.keyRef)
	})
	return b.Bytes()
}

// DecodeHandle restores a handle. Either both elements parse or decoding fails.
func DecodeHandle(der []byte, ks KeyStore) (*Handle, error) {
	s := cryptobyte.String(der)
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, asn1.SEQUENCE) {
		return nil, decodeErr("KC-PEER-DER-020", "expected handle SEQUENCE")
	}
	if !s.Empty() {
		return nil, decodeErr("KC-PEER-DER-002", "trailing bytes after handle")
	}
	id, err := readIdentity(&seq)
	if err != nil {
		return nil, err
	}
	var ref []byte
	if !seq.ReadASN1Bytes(&ref, asn1.OCTET_STRING) {
		return nil, decodeErr("KC-PEER-DER-021", "expected key reference OCTET STRING")
	}
	if !seq.Empty() {
		return nil, decodeErr("KC-PEER-DER-022", "trailing bytes in handle")
	}
	return &Handle{id: id, keyRef: append([]byte(nil), ref...), ks: ks}, nil
}

// ApplySignedUpdate is the only way a handle's identity changes.
//
// It resolves the private key for the current identity (KindKeyUnavailable on
// a miss), runs t, and swaps in the result. If t fails or returns nil the
// handle is untouched; errors without a kcerr kind are reported as
// KindTransformRejected.
func (h *Handle) ApplySignedUpdate(t Transform) error {
	h.mustLive()
	cur := h.id
	if cur.role == RoleRetired {
		return kcerr.New(kcerr.KindRetired, "KC-PEER-010", "identity is retired")
	}

	key, err := h.resolveKey()
	if err != nil {
		return err
	}

	next, err := t.Apply(cur, key)
	if err != nil {
		if kcerr.KindOf(err) != "" {
			return err
		}
		return kcerr.Wrap(kcerr.KindTransformRejected, "KC-PEER-003", "transform rejected update", err)
	}
	if next == nil {
		return kcerr.New(kcerr.KindTransformRejected, "KC-PEER-004", "transform produced no identity")
	}
	if !next.signingKey.Equal(cur.signingKey) {
		return kcerr.New(kcerr.KindTransformRejected, "KC-PEER-005", "transform changed the signing key")
	}
	h.id = next
	return nil
}

func (h *Handle) resolveKey() (keys.Signer, error) {
	want := h.id.signingKey
	key, err := h.ks.ResolvePrivateKey(want)
	if err != nil {
		if errors.Is(err, keys.ErrKeyNotFound) {
			return nil, kcerr.Wrap(kcerr.KindKeyUnavailable, "KC-PEER-001", "no private key for "+want.Fingerprint(), err)
		}
		return nil, kcerr.Wrap(kcerr.KindKeyUnavailable, "KC-PEER-001", "resolve private key", err)
	}
	if !key.Public().Equal(want) {
		return nil, kcerr.New(kcerr.KindKeyUnavailable, "KC-PEER-002", "key store returned a different key")
	}
	return key, nil
}

// Equal reports whether both handles carry byte-identical identities or,
// failing that, both resolve to the same private key.
func (h *Handle) Equal(o *Handle) bool {
	if h == nil || o == nil || h.id == nil || o.id == nil {
		return h == o
	}
	if bytes.Equal(h.id.encoded, o.id.encoded) {
		return true
	}
	a, err := h.resolveKey()
	if err != nil {
		return false
	}
	b, err := o.resolveKey()
	if err != nil {
		return false
	}
	return a.Public().Equal(b.Public())
}

// Hash is the SHA-1 digest of the identity encoding.
func (h *Handle) Hash() digest.Digest {
	h.mustLive()
	return digest.Sum(h.id.encoded)
}

func (h *Handle) mustLive() {
	if h.id == nil {
		panic("peer: handle used after Release")
	}
}
