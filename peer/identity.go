// Package peer implements signed peer identities and the handle that owns a
// device's current identity.
//
// An Identity is immutable. Every change goes through Handle.ApplySignedUpdate:
// the handle resolves the device's private key, a Transform builds and signs
// the replacement identity, and the handle swaps it in. Nothing is mutated
// when the key is unavailable or the transform fails.
package peer

import (
	"bytes"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"

	"xdao.co/keycircle/kcerr"
	"xdao.co/keycircle/keys"
	"xdao.co/keycircle/plist"
)

// CurrentVersion is the schema version written by this package. Version 1
// identities are signed over a sha256 body hash.
const (
	CurrentVersion uint32 = 2
	LegacyVersion  uint32 = 1
)

// Role is the identity's standing in the circle.
type Role uint8

const (
	RoleApplication Role = iota + 1
	RoleMember
	RoleRetired
)

func (r Role) String() string {
	switch r {
	case RoleApplication:
		return "application"
	case RoleMember:
		return "member"
	case RoleRetired:
		return "retired"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Transport describes how the device wants to be reached.
type Transport struct {
	Type          string
	IDS           bool
	Fragmentation bool
	ACKModel      bool
}

// Identity is a signed, immutable description of one device.
type Identity struct {
	gestalt    plist.Dict
	signingKey keys.PublicKey
	backupKey  []byte
	deviceID   string
	transport  Transport
	views      []string
	secProps   []string
	serial     uint64
	version    uint32
	escrow     map[string]plist.Dict
	ping       string
	role       Role
	hashAlg    string

	body      []byte
	signature []byte
	groupSig  []byte
	encoded   []byte
}

// NewIdentity signs a fresh application identity for key.
func NewIdentity(gestalt plist.Dict, key keys.Signer) (*Identity, error) {
	d := &Draft{
		Gestalt: gestalt,
		Serial:  1,
		Version: CurrentVersion,
		Role:    RoleApplication,
		HashAlg: keys.HashSHA3256,

		signingKey: key.Public(),
	}
	return d.Sign(key)
}

func (id *Identity) Gestalt() plist.Dict        { return id.gestalt.Clone() }
func (id *Identity) SigningKey() keys.PublicKey { return id.signingKey }
func (id *Identity) BackupKey() []byte          { return append([]byte(nil), id.backupKey...) }
func (id *Identity) DeviceID() string           { return id.deviceID }
func (id *Identity) Transport() Transport       { return id.transport }
func (id *Identity) Views() []string            { return append([]string(nil), id.views...) }
func (id *Identity) SecurityProperties() []string {
	return append([]string(nil), id.secProps...)
}
func (id *Identity) Serial() uint64         { return id.serial }
func (id *Identity) Version() uint32        { return id.version }
func (id *Identity) Ping() string           { return id.ping }
func (id *Identity) Role() Role             { return id.role }
func (id *Identity) HashAlg() string        { return id.hashAlg }
func (id *Identity) Signature() []byte      { return append([]byte(nil), id.signature...) }
func (id *Identity) GroupSignature() []byte { return append([]byte(nil), id.groupSig...) }

func (id *Identity) HasView(v string) bool             { return contains(id.views, v) }
func (id *Identity) HasSecurityProperty(p string) bool { return contains(id.secProps, p) }

// EscrowRecords returns a copy of the escrow records keyed by data source id.
func (id *Identity) EscrowRecords() map[string]plist.Dict {
	out := make(map[string]plist.Dict, len(id.escrow))
	for k, v := range id.escrow {
		out[k] = v.Clone()
	}
	return out
}

// Encode returns the identity's canonical DER encoding.
func (id *Identity) Encode() []byte { return append([]byte(nil), id.encoded...) }

// Equal reports byte-identical encodings.
func (id *Identity) Equal(o *Identity) bool {
	if id == nil || o == nil {
		return id == o
	}
	return bytes.Equal(id.encoded, o.encoded)
}

// Verify checks the device signature over the body.
func (id *Identity) Verify() error {
	if !id.signingKey.Verify(id.hashAlg, id.body, id.signature) {
		return kcerr.New(kcerr.KindSignature, "KC-PEER-SIG-001", "device signature does not verify")
	}
	return nil
}

// VerifyMember checks the device signature, the member role and the group
// key's endorsement of the signing key.
func (id *Identity) VerifyMember(groupKey keys.PublicKey) error {
	if err := id.Verify(); err != nil {
		return err
	}
	if id.role != RoleMember {
		return kcerr.New(kcerr.KindSignature, "KC-PEER-SIG-003", fmt.Sprintf("identity role is %s, not member", id.role))
	}
	if len(id.groupSig) == 0 || !groupKey.Verify(endorsementHash, endorsement(id.signingKey), id.groupSig) {
		return kcerr.New(kcerr.KindSignature, "KC-PEER-SIG-004", "group endorsement does not verify")
	}
	return nil
}

// Draft returns an editable copy of the identity's fields.
func (id *Identity) Draft() *Draft {
	return &Draft{
		Gestalt:            id.gestalt.Clone(),
		BackupKey:          append([]byte(nil), id.backupKey...),
		DeviceID:           id.deviceID,
		Transport:          id.transport,
		Views:              append([]string(nil), id.views...),
		SecurityProperties: append([]string(nil), id.secProps...),
		Serial:             id.serial,
		Version:            id.version,
		Escrow:             id.EscrowRecords(),
		Ping:               id.ping,
		Role:               id.role,
		HashAlg:            id.hashAlg,

		signingKey: id.signingKey,
		groupSig:   append([]byte(nil), id.groupSig...),
	}
}

func contains(sorted []string, s string) bool {
	i := sort.SearchStrings(sorted, s)
	return i < len(sorted) && sorted[i] == s
}

// normalizeSet sorts and de-duplicates, dropping empty names.
func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, norm.NFC.String(s))
		}
	}
	sort.Strings(out)
	n := 0
	for i, s := range out {
		if i == 0 || s != out[n-1] {
			out[n] = s
			n++
		}
	}
	return out[:n]
}
