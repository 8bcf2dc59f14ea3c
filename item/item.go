// Package item defines the synced keychain Object and derives its content and
// primary-key digests.
package item

import (
	"time"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/kcerr"
	"xdao.co/keycircle/plist"
)

// Attribute names.
const (
	AttrClass      = "class"
	AttrAccount    = "acct"
	AttrGroup      = "agrp"
	AttrService    = "svce"
	AttrServer     = "srvr"
	AttrProtocol   = "ptcl"
	AttrPort       = "port"
	AttrPath       = "path"
	AttrLabel      = "labl"
	AttrCreator    = "crtr"
	AttrType       = "type"
	AttrSize       = "bsiz"
	AttrValidFrom  = "sdat"
	AttrValidUntil = "edat"
	AttrModified   = "mdat"
	AttrCreated    = "cdat"
	AttrData       = "v_Data"
	AttrTombstone  = "tomb"
	AttrRowID      = "rowid"
)

// DefaultClass applies when an object carries no class attribute.
const DefaultClass = "genp"

// digestExcluded never contribute to the content digest.
var digestExcluded = []string{AttrClass, AttrRowID}

// Object is an immutable keychain item. The zero Object is "absent".
type Object struct {
	attrs  plist.Dict
	digest digest.Digest
}

// New copies attrs and computes the content digest.
func New(attrs plist.Dict) (Object, error) {
	attrs, err := attrs.Normalize()
	if err != nil {
		return Object{}, err
	}
	if attrs == nil {
		attrs = plist.Dict{}
	}
	d, err := contentDigest(attrs)
	if err != nil {
		return Object{}, err
	}
	return Object{attrs: attrs, digest: d}, nil
}

// MustNew is New for statically known attributes; it panics on error.
func MustNew(attrs plist.Dict) Object {
	o, err := New(attrs)
	if err != nil {
		panic(err)
	}
	return o
}

// Decode parses the full DER encoding produced by Encode.
func Decode(der []byte) (Object, error) {
	attrs, err := plist.Decode(der)
	if err != nil {
		return Object{}, err
	}
	return New(attrs)
}

// Encode returns the full canonical DER encoding, class included.
func (o Object) Encode() ([]byte, error) { return plist.Encode(o.attrs) }

func (o Object) IsZero() bool { return o.attrs == nil }

// Digest returns the content digest.
func (o Object) Digest() digest.Digest { return o.digest }

// Attrs returns a copy of the attributes.
func (o Object) Attrs() plist.Dict { return o.attrs.Clone() }

func (o Object) Attr(key string) (plist.Value, bool) {
	v, ok := o.attrs[key]
	return v, ok
}

func (o Object) Class() string {
	if c, ok := o.attrs.GetString(AttrClass); ok && c != "" {
		return c
	}
	return DefaultClass
}

// ModTime returns the modification time, or the zero time when absent.
func (o Object) ModTime() time.Time {
	t, _ := o.attrs.GetDate(AttrModified)
	return t
}

// Equal reports whether o and other are bit-for-bit the same object.
func (o Object) Equal(other Object) bool {
	if o.IsZero() || other.IsZero() {
		return o.IsZero() && other.IsZero()
	}
	return o.digest == other.digest && o.Class() == other.Class()
}

// With returns a copy of o with key set to v.
func (o Object) With(key string, v plist.Value) (Object, error) {
	attrs := o.attrs.Clone()
	if attrs == nil {
		attrs = plist.Dict{}
	}
	attrs[key] = v
	return New(attrs)
}

// ContentDigest hashes the canonical DER of attrs with the class and volatile
// fields removed.
func ContentDigest(o Object) digest.Digest { return o.digest }

func contentDigest(attrs plist.Dict) (digest.Digest, error) {
	der, err := plist.Encode(attrs.Without(digestExcluded...))
	if err != nil {
		return digest.Digest{}, kcerr.Wrap(kcerr.KindDecode, "KC-ITEM-001", "encode object", err)
	}
	return digest.Sum(der), nil
}
