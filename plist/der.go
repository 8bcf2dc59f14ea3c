package plist

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/text/unicode/norm"

	"xdao.co/keycircle/kcerr"
)

var errInvalidValue = errors.New("plist: invalid value")

// Encode returns the canonical DER encoding of d:
//
//	Dict  ::= SEQUENCE OF Entry        -- ascending key order
//	Entry ::= SEQUENCE { key UTF8String, value Value }
//	Value ::= UTF8String | INTEGER | BOOLEAN | OCTET STRING | GeneralizedTime
func Encode(d Dict) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	AddDict(b, d)
	return b.Bytes()
}

// EncodeOrdered encodes the entries of d named in keys, in the given order,
// skipping absent keys. It is used for digests over a fixed field list; the
// result is not decodable by Decode unless keys happen to be sorted.
func EncodeOrdered(d Dict, keys []string) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(asn1.SEQUENCE, func(seq *cryptobyte.Builder) {
		for _, k := range keys {
			v, ok := d[k]
			if !ok {
				continue
			}
			addEntry(seq, k, v)
		}
	})
	return b.Bytes()
}

// Decode parses a canonical DER dictionary. Trailing bytes are rejected.
func Decode(der []byte) (Dict, error) {
	s := cryptobyte.String(der)
	d, err := ReadDict(&s)
	if err != nil {
		return nil, err
	}
	if !s.Empty() {
		return nil, kcerr.New(kcerr.KindDecode, "KC-DER-001", "trailing bytes after dictionary")
	}
	return d, nil
}

// AddDict appends the canonical encoding of d to b. Keys that collide after
// NFC normalisation set a KindSchema error on b.
func AddDict(b *cryptobyte.Builder, d Dict) {
	nd, err := d.Normalize()
	if err != nil {
		b.SetError(err)
		return
	}
	b.AddASN1(asn1.SEQUENCE, func(seq *cryptobyte.Builder) {
		for _, k := range nd.Keys() {
			addEntry(seq, k, nd[k])
		}
	})
}

// ReadDict consumes one canonical dictionary from s.
func ReadDict(s *cryptobyte.String) (Dict, error) {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, asn1.SEQUENCE) {
		return nil, kcerr.New(kcerr.KindDecode, "KC-DER-002", "expected dictionary SEQUENCE")
	}
	d := Dict{}
	prev := ""
	first := true
	for !seq.Empty() {
		var entry cryptobyte.String
		if !seq.ReadASN1(&entry, asn1.SEQUENCE) {
			return nil, kcerr.New(kcerr.KindDecode, "KC-DER-003", "expected entry SEQUENCE")
		}
		key, err := ReadString(&entry)
		if err != nil {
			return nil, err
		}
		if !first && key <= prev {
			return nil, kcerr.New(kcerr.KindDecode, "KC-DER-004", fmt.Sprintf("dictionary keys not in canonical order at %q", key))
		}
		v, err := readValue(&entry)
		if err != nil {
			return nil, err
		}
		if !entry.Empty() {
			return nil, kcerr.New(kcerr.KindDecode, "KC-DER-005", "trailing bytes in entry")
		}
		d[key] = v
		prev, first = key, false
	}
	return d, nil
}

// AddString appends s as a UTF8String.
func AddString(b *cryptobyte.Builder, s string) {
	b.AddASN1(asn1.UTF8String, func(c *cryptobyte.Builder) {
		c.AddBytes([]byte(s))
	})
}

// ReadString consumes a UTF8String holding NFC-normalised text.
func ReadString(s *cryptobyte.String) (string, error) {
	var body cryptobyte.String
	if !s.ReadASN1(&body, asn1.UTF8String) {
		return "", kcerr.New(kcerr.KindDecode, "KC-DER-006", "expected UTF8String")
	}
	if !utf8.Valid(body) {
		return "", kcerr.New(kcerr.KindDecode, "KC-DER-007", "invalid UTF-8")
	}
	if !norm.NFC.IsNormal(body) {
		return "", kcerr.New(kcerr.KindDecode, "KC-DER-008", "string is not NFC-normalised")
	}
	return string(body), nil
}

func addEntry(b *cryptobyte.Builder, key string, v Value) {
	b.AddASN1(asn1.SEQUENCE, func(e *cryptobyte.Builder) {
		AddString(e, norm.NFC.String(key))
		addValue(e, v)
	})
}

func addValue(b *cryptobyte.Builder, v Value) {
	switch v.kind {
	case KindString:
		AddString(b, v.str)
	case KindInt:
		b.AddASN1Int64(v.num)
	case KindBool:
		b.AddASN1Boolean(v.flag)
	case KindData:
		b.AddASN1OctetString(v.data)
	case KindDate:
		b.AddASN1GeneralizedTime(v.date)
	default:
		b.SetError(errInvalidValue)
	}
}

func readValue(s *cryptobyte.String) (Value, error) {
	var elem cryptobyte.String
	var tag asn1.Tag
	if !s.ReadAnyASN1Element(&elem, &tag) {
		return Value{}, kcerr.New(kcerr.KindDecode, "KC-DER-010", "malformed value")
	}
	switch tag {
	case asn1.UTF8String:
		str, err := ReadString(&elem)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindString, str: str}, nil
	case asn1.INTEGER:
		var n int64
		if !elem.ReadASN1Integer(&n) {
			return Value{}, kcerr.New(kcerr.KindDecode, "KC-DER-011", "malformed INTEGER")
		}
		return Int(n), nil
	case asn1.BOOLEAN:
		var b bool
		if !elem.ReadASN1Boolean(&b) {
			return Value{}, kcerr.New(kcerr.KindDecode, "KC-DER-012", "malformed BOOLEAN")
		}
		return Bool(b), nil
	case asn1.OCTET_STRING:
		var data []byte
		if !elem.ReadASN1Bytes(&data, asn1.OCTET_STRING) {
			return Value{}, kcerr.New(kcerr.KindDecode, "KC-DER-013", "malformed OCTET STRING")
		}
		return Data(data), nil
	case asn1.GeneralizedTime:
		var t time.Time
		if !elem.ReadASN1GeneralizedTime(&t) {
			return Value{}, kcerr.New(kcerr.KindDecode, "KC-DER-014", "malformed GeneralizedTime")
		}
		return Date(t), nil
	default:
		return Value{}, kcerr.New(kcerr.KindDecode, "KC-DER-015", fmt.Sprintf("unsupported value tag 0x%02x", uint8(tag)))
	}
}
