package peer

import (
	"fmt"
	"sort"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"xdao.co/keycircle/kcerr"
	"xdao.co/keycircle/keys"
	"xdao.co/keycircle/plist"
)

var tagGroupSignature = asn1.Tag(0).ContextSpecific()

// encodeBody returns the DER body that the device signature covers:
//
//	Identity ::= SEQUENCE {
//		body            Body,
//		signature       OCTET STRING,
//		groupSignature  [0] IMPLICIT OCTET STRING OPTIONAL }
//
//	Body ::= SEQUENCE {
//		version INTEGER, role INTEGER, hashAlg UTF8String,
//		signingKey SEQUENCE { alg UTF8String, key OCTET STRING },
//		gestalt Dict, serial INTEGER, deviceID UTF8String,
//		transport SEQUENCE { type UTF8String, ids BOOLEAN, fragmentation BOOLEAN, ackModel BOOLEAN },
//		views SEQUENCE OF UTF8String, securityProperties SEQUENCE OF UTF8String,
//		backupKey OCTET STRING,
//		escrow SEQUENCE OF SEQUENCE { sourceID UTF8String, record Dict },
//		ping UTF8String }
func encodeBody(id *Identity) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Uint64(uint64(id.version))
		b.AddASN1Uint64(uint64(id.role))
		plist.AddString(b, id.hashAlg)
		b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			plist.AddString(b, string(id.signingKey.Alg))
			b.AddASN1OctetString(id.signingKey.Bytes)
		})
		plist.AddDict(b, id.gestalt)
		b.AddASN1Uint64(id.serial)
		plist.AddString(b, id.deviceID)
		b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			plist.AddString(b, id.transport.Type)
			b.AddASN1Boolean(id.transport.IDS)
			b.AddASN1Boolean(id.transport.Fragmentation)
			b.AddASN1Boolean(id.transport.ACKModel)
		})
		addStringSet(b, id.views)
		addStringSet(b, id.secProps)
		b.AddASN1OctetString(id.backupKey)
		b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			ids := make([]string, 0, len(id.escrow))
			for k := range id.escrow {
				ids = append(ids, k)
			}
			sort.Strings(ids)
			for _, k := range ids {
				b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
					plist.AddString(b, k)
					plist.AddDict(b, id.escrow[k])
				})
			}
		})
		plist.AddString(b, id.ping)
	})
	return b.Bytes()
}

func encodeIdentity(id *Identity) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(id.body)
		b.AddASN1OctetString(id.signature)
		if len(id.groupSig) > 0 {
			b.AddASN1(tagGroupSignature, func(b *cryptobyte.Builder) {
				b.AddBytes(id.groupSig)
			})
		}
	})
	return b.Bytes()
}

func addStringSet(b *cryptobyte.Builder, set []string) {
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, s := range set {
			plist.AddString(b, s)
		}
	})
}

func decodeErr(rule, msg string) error {
	return kcerr.New(kcerr.KindDecode, rule, "peer identity: "+msg)
}

// DecodeIdentity parses a canonical identity encoding. Decoding is strict:
// every field must be present, sets must be sorted and unique, and trailing
// bytes are rejected. The signature is not checked; call Verify.
func DecodeIdentity(der []byte) (*Identity, error) {
	s := cryptobyte.String(der)
	id, err := readIdentity(&s)
	if err != nil {
		return nil, err
	}
	if !s.Empty() {
		return nil, decodeErr("KC-PEER-DER-002", "trailing bytes")
	}
	return id, nil
}

func readIdentity(s *cryptobyte.String) (*Identity, error) {
	var whole cryptobyte.String
	start := *s
	if !s.ReadASN1(&whole, asn1.SEQUENCE) {
		return nil, decodeErr("KC-PEER-DER-003", "expected SEQUENCE")
	}
	encoded := []byte(start[:len(start)-len(*s)])

	var bodyElem cryptobyte.String
	if !whole.ReadASN1Element(&bodyElem, asn1.SEQUENCE) {
		return nil, decodeErr("KC-PEER-DER-004", "expected body SEQUENCE")
	}
	id, err := readBody(bodyElem)
	if err != nil {
		return nil, err
	}
	id.body = append([]byte(nil), bodyElem...)
	id.encoded = append([]byte(nil), encoded...)

	if !whole.ReadASN1Bytes(&id.signature, asn1.OCTET_STRING) {
		return nil, decodeErr("KC-PEER-DER-005", "expected signature OCTET STRING")
	}
	id.signature = append([]byte(nil), id.signature...)
	var group cryptobyte.String
	var present bool
	if !whole.ReadOptionalASN1(&group, &present, tagGroupSignature) {
		return nil, decodeErr("KC-PEER-DER-006", "malformed group signature")
	}
	if present {
		if len(group) == 0 {
			return nil, decodeErr("KC-PEER-DER-006", "empty group signature")
		}
		id.groupSig = append([]byte(nil), group...)
	}
	if !whole.Empty() {
		return nil, decodeErr("KC-PEER-DER-007", "trailing bytes in identity")
	}
	return id, nil
}

func readBody(elem cryptobyte.String) (*Identity, error) {
	var body cryptobyte.String
	if !elem.ReadASN1(&body, asn1.SEQUENCE) {
		return nil, decodeErr("KC-PEER-DER-004", "expected body SEQUENCE")
	}

	id := &Identity{}
	var role uint64
	var version uint64
	if !body.ReadASN1Integer(&version) || version > uint64(^uint32(0)) {
		return nil, decodeErr("KC-PEER-DER-010", "malformed version")
	}
	id.version = uint32(version)
	if !body.ReadASN1Integer(&role) || role < uint64(RoleApplication) || role > uint64(RoleRetired) {
		return nil, decodeErr("KC-PEER-DER-011", "malformed role")
	}
	id.role = Role(role)

	var err error
	if id.hashAlg, err = plist.ReadString(&body); err != nil {
		return nil, err
	}

	var keySeq cryptobyte.String
	if !body.ReadASN1(&keySeq, asn1.SEQUENCE) {
		return nil, decodeErr("KC-PEER-DER-012", "expected signing key SEQUENCE")
	}
	alg, err := plist.ReadString(&keySeq)
	if err != nil {
		return nil, err
	}
	var keyBytes []byte
	if !keySeq.ReadASN1Bytes(&keyBytes, asn1.OCTET_STRING) || !keySeq.Empty() {
		return nil, decodeErr("KC-PEER-DER-012", "malformed signing key")
	}
	if id.signingKey, err = keys.NewPublicKey(keys.Alg(alg), keyBytes); err != nil {
		return nil, kcerr.Wrap(kcerr.KindDecode, "KC-PEER-DER-013", "peer identity: signing key", err)
	}

	if id.gestalt, err = plist.ReadDict(&body); err != nil {
		return nil, err
	}
	if !body.ReadASN1Integer(&id.serial) {
		return nil, decodeErr("KC-PEER-DER-014", "malformed serial")
	}
	if id.deviceID, err = plist.ReadString(&body); err != nil {
		return nil, err
	}

	var tr cryptobyte.String
	if !body.ReadASN1(&tr, asn1.SEQUENCE) {
		return nil, decodeErr("KC-PEER-DER-015", "expected transport SEQUENCE")
	}
	if id.transport.Type, err = plist.ReadString(&tr); err != nil {
		return nil, err
	}
	if !tr.ReadASN1Boolean(&id.transport.IDS) ||
		!tr.ReadASN1Boolean(&id.transport.Fragmentation) ||
		!tr.ReadASN1Boolean(&id.transport.ACKModel) ||
		!tr.Empty() {
		return nil, decodeErr("KC-PEER-DER-015", "malformed transport")
	}

	if id.views, err = readStringSet(&body); err != nil {
		return nil, err
	}
	if id.secProps, err = readStringSet(&body); err != nil {
		return nil, err
	}
	if !body.ReadASN1Bytes(&id.backupKey, asn1.OCTET_STRING) {
		return nil, decodeErr("KC-PEER-DER-016", "malformed backup key")
	}
	if id.escrow, err = readEscrow(&body); err != nil {
		return nil, err
	}
	if id.ping, err = plist.ReadString(&body); err != nil {
		return nil, err
	}
	if !body.Empty() {
		return nil, decodeErr("KC-PEER-DER-008", "trailing bytes in body")
	}
	return id, nil
}

func readStringSet(s *cryptobyte.String) ([]string, error) {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, asn1.SEQUENCE) {
		return nil, decodeErr("KC-PEER-DER-017", "expected set SEQUENCE")
	}
	var out []string
	for !seq.Empty() {
		v, err := plist.ReadString(&seq)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 && v <= out[len(out)-1] {
			return nil, decodeErr("KC-PEER-DER-018", fmt.Sprintf("set not in canonical order at %q", v))
		}
		out = append(out, v)
	}
	return out, nil
}

func readEscrow(s *cryptobyte.String) (map[string]plist.Dict, error) {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, asn1.SEQUENCE) {
		return nil, decodeErr("KC-PEER-DER-019", "expected escrow SEQUENCE")
	}
	out := map[string]plist.Dict{}
	prev := ""
	for !seq.Empty() {
		var rec cryptobyte.String
		if !seq.ReadASN1(&rec, asn1.SEQUENCE) {
			return nil, decodeErr("KC-PEER-DER-019", "expected escrow record SEQUENCE")
		}
		k, err := plist.ReadString(&rec)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 && k <= prev {
			return nil, decodeErr("KC-PEER-DER-018", fmt.Sprintf("escrow records not in canonical order at %q", k))
		}
		d, err := plist.ReadDict(&rec)
		if err != nil {
			return nil, err
		}
		if !rec.Empty() {
			return nil, decodeErr("KC-PEER-DER-019", "trailing bytes in escrow record")
		}
		out[k] = d
		prev = k
	}
	return out, nil
}
