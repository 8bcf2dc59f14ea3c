package peer

import (
	"fmt"

	"golang.org/x/text/unicode/norm"

	"xdao.co/keycircle/kcerr"
	"xdao.co/keycircle/keys"
	"xdao.co/keycircle/plist"
)

// endorsementHash is fixed so that a group endorsement survives signature
// upgrades of the identity itself.
const endorsementHash = keys.HashSHA3256

// Draft is the editable form of an Identity used by transforms. The signing
// key and any group endorsement carry over from the identity it came from.
type Draft struct {
	Gestalt            plist.Dict
	BackupKey          []byte
	DeviceID           string
	Transport          Transport
	Views              []string
	SecurityProperties []string
	Serial             uint64
	Version            uint32
	Escrow             map[string]plist.Dict
	Ping               string
	Role               Role
	HashAlg            string

	signingKey keys.PublicKey
	groupSig   []byte
}

// Endorse records group's endorsement of the draft's signing key.
func (d *Draft) Endorse(group keys.Signer) error {
	sig, err := group.Sign(endorsementHash, endorsement(d.signingKey))
	if err != nil {
		return kcerr.Wrap(kcerr.KindSignature, "KC-PEER-SIG-005", "group endorsement", err)
	}
	d.groupSig = sig
	return nil
}

// Sign validates the draft and signs it with key, which must be the draft's
// signing key.
func (d *Draft) Sign(key keys.Signer) (*Identity, error) {
	if key == nil || !key.Public().Equal(d.signingKey) {
		return nil, kcerr.New(kcerr.KindSignature, "KC-PEER-SIG-002", "signer does not match the identity's signing key")
	}
	if err := plist.GestaltSchema.Validate(d.Gestalt); err != nil {
		return nil, err
	}
	switch d.HashAlg {
	case keys.HashSHA256, keys.HashSHA3256:
	default:
		return nil, kcerr.New(kcerr.KindSignature, "KC-PEER-SIG-006", fmt.Sprintf("unsupported identity hash %q", d.HashAlg))
	}
	if d.Role < RoleApplication || d.Role > RoleRetired {
		return nil, kcerr.New(kcerr.KindSchema, "KC-SCHEMA-002", fmt.Sprintf("invalid role %d", d.Role))
	}

	gestalt, err := d.Gestalt.Normalize()
	if err != nil {
		return nil, err
	}

	id := &Identity{
		gestalt:    gestalt,
		signingKey: d.signingKey,
		backupKey:  append([]byte(nil), d.BackupKey...),
		deviceID:   norm.NFC.String(d.DeviceID),
		transport:  d.Transport,
		views:      normalizeSet(d.Views),
		secProps:   normalizeSet(d.SecurityProperties),
		serial:     d.Serial,
		version:    d.Version,
		escrow:     make(map[string]plist.Dict, len(d.Escrow)),
		ping:       norm.NFC.String(d.Ping),
		role:       d.Role,
		hashAlg:    d.HashAlg,
		groupSig:   append([]byte(nil), d.groupSig...),
	}
	id.transport.Type = norm.NFC.String(id.transport.Type)
	for k, v := range d.Escrow {
		src := norm.NFC.String(k)
		if _, dup := id.escrow[src]; dup {
			return nil, kcerr.New(kcerr.KindSchema, "KC-SCHEMA-005", fmt.Sprintf("escrow sources collide after normalisation at %q", src))
		}
		rec, err := v.Normalize()
		if err != nil {
			return nil, err
		}
		id.escrow[src] = rec
	}

	body, err := encodeBody(id)
	if err != nil {
		return nil, kcerr.Wrap(kcerr.KindDecode, "KC-PEER-DER-001", "encode identity body", err)
	}
	sig, err := key.Sign(id.hashAlg, body)
	if err != nil {
		return nil, kcerr.Wrap(kcerr.KindSignature, "KC-PEER-SIG-007", "sign identity", err)
	}
	id.body = body
	id.signature = sig
	if id.encoded, err = encodeIdentity(id); err != nil {
		return nil, kcerr.Wrap(kcerr.KindDecode, "KC-PEER-DER-001", "encode identity", err)
	}
	return id, nil
}

func endorsement(k keys.PublicKey) []byte {
	return []byte("keycircle-member\x00" + k.String())
}
