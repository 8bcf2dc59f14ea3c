package peer

import (
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/kcerr"
	"xdao.co/keycircle/keys"
)

// Retirement is the signed marker a device publishes when it leaves the
// circle. It names the final identity by digest.
type Retirement struct {
	SigningKey keys.PublicKey
	Serial     uint64
	Identity   digest.Digest
	HashAlg    string
	Signature  []byte
}

func (r *Retirement) body() ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(asn1.UTF8String, func(b *cryptobyte.Builder) { b.AddBytes([]byte(r.SigningKey.String())) })
		b.AddASN1Uint64(r.Serial)
		b.AddASN1OctetString(r.Identity.Bytes())
		b.AddASN1(asn1.UTF8String, func(b *cryptobyte.Builder) { b.AddBytes([]byte(r.HashAlg)) })
	})
	return b.Bytes()
}

// Encode returns SEQUENCE { body SEQUENCE, signature OCTET STRING }.
func (r *Retirement) Encode() ([]byte, error) {
	body, err := r.body()
	if err != nil {
		return nil, err
	}
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(body)
		b.AddASN1OctetString(r.Signature)
	})
	return b.Bytes()
}

func (r *Retirement) Verify() error {
	body, err := r.body()
	if err != nil {
		return kcerr.Wrap(kcerr.KindDecode, "KC-PEER-DER-030", "encode retirement", err)
	}
	if !r.SigningKey.Verify(r.HashAlg, body, r.Signature) {
		return kcerr.New(kcerr.KindSignature, "KC-PEER-SIG-008", "retirement signature does not verify")
	}
	return nil
}

func DecodeRetirement(der []byte) (*Retirement, error) {
	s := cryptobyte.String(der)
	var outer, body cryptobyte.String
	if !s.ReadASN1(&outer, asn1.SEQUENCE) || !s.Empty() {
		return nil, decodeErr("KC-PEER-DER-031", "expected a single retirement SEQUENCE")
	}
	if !outer.ReadASN1(&body, asn1.SEQUENCE) {
		return nil, decodeErr("KC-PEER-DER-032", "expected retirement body")
	}
	var (
		r         Retirement
		key, alg  cryptobyte.String
		idDigest  []byte
		signature []byte
	)
	if !body.ReadASN1(&key, asn1.UTF8String) ||
		!body.ReadASN1Integer(&r.Serial) ||
		!body.ReadASN1Bytes(&idDigest, asn1.OCTET_STRING) ||
		!body.ReadASN1(&alg, asn1.UTF8String) ||
		!body.Empty() {
		return nil, decodeErr("KC-PEER-DER-033", "malformed retirement body")
	}
	if !outer.ReadASN1Bytes(&signature, asn1.OCTET_STRING) || !outer.Empty() {
		return nil, decodeErr("KC-PEER-DER-034", "malformed retirement signature")
	}
	pk, err := keys.ParsePublicKey(string(key))
	if err != nil {
		return nil, kcerr.Wrap(kcerr.KindDecode, "KC-PEER-DER-035", "retirement signing key", err)
	}
	d, err := digest.FromBytes(idDigest)
	if err != nil {
		return nil, kcerr.Wrap(kcerr.KindDecode, "KC-PEER-DER-036", "retirement identity digest", err)
	}
	r.SigningKey = pk
	r.Identity = d
	r.HashAlg = string(alg)
	r.Signature = append([]byte(nil), signature...)
	return &r, nil
}

// Retire moves the identity to the retired role and returns the signed
// marker for it. It is terminal: later updates fail with KindRetired.
func (h *Handle) Retire() (*Retirement, error) {
	var rt *Retirement
	err := h.ApplySignedUpdate(TransformFunc(func(cur *Identity, key keys.Signer) (*Identity, error) {
		d := cur.Draft()
		d.Role = RoleRetired
		d.Serial++
		next, err := d.Sign(key)
		if err != nil {
			return nil, err
		}
		r := &Retirement{
			SigningKey: next.signingKey,
			Serial:     next.serial,
			Identity:   digest.Sum(next.encoded),
			HashAlg:    next.hashAlg,
		}
		body, err := r.body()
		if err != nil {
			return nil, kcerr.Wrap(kcerr.KindDecode, "KC-PEER-DER-030", "encode retirement", err)
		}
		if r.Signature, err = key.Sign(r.HashAlg, body); err != nil {
			return nil, kcerr.Wrap(kcerr.KindSignature, "KC-PEER-SIG-009", "sign retirement", err)
		}
		rt = r
		return next, nil
	}))
	if err != nil {
		return nil, err
	}
	return rt, nil
}
