package item

import (
	"fmt"
	"strings"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/kcerr"
	"xdao.co/keycircle/plist"
)

// PrimaryKeyFields is the fixed, ordered list of identity-bearing attributes.
var PrimaryKeyFields = []string{
	AttrClass,
	AttrAccount,
	AttrGroup,
	AttrService,
	AttrServer,
	AttrProtocol,
	AttrPort,
	AttrPath,
	AttrLabel,
	AttrCreator,
	AttrType,
	AttrSize,
	AttrValidFrom,
	AttrValidUntil,
}

// ClassSchemas lists the attributes each class requires before a primary key
// can be derived.
var ClassSchemas = map[string]plist.Schema{
	"genp": {Name: "genp", Required: map[string]plist.Kind{AttrAccount: plist.KindString, AttrService: plist.KindString}},
	"inet": {Name: "inet", Required: map[string]plist.Kind{AttrAccount: plist.KindString, AttrServer: plist.KindString}},
	"cert": {Name: "cert", Required: map[string]plist.Kind{AttrLabel: plist.KindString}},
	"keys": {Name: "keys", Required: map[string]plist.Kind{AttrLabel: plist.KindString, AttrType: plist.KindInt}},
}

// PrimaryKeyDigest hashes the object's identity-bearing attributes. Objects
// that share a primary key are versions of the same logical item.
func PrimaryKeyDigest(o Object) (digest.Digest, error) {
	if o.IsZero() {
		return digest.Digest{}, kcerr.New(kcerr.KindDigest, "KC-DIGEST-001", "absent object")
	}
	class := o.Class()
	schema, ok := ClassSchemas[class]
	if !ok {
		return digest.Digest{}, kcerr.New(kcerr.KindDigest, "KC-DIGEST-002", fmt.Sprintf("unknown item class %q", class))
	}
	if missing := schema.Missing(o.attrs); len(missing) > 0 {
		return digest.Digest{}, kcerr.New(kcerr.KindDigest, "KC-DIGEST-003",
			fmt.Sprintf("%s item missing primary key fields: %s", class, strings.Join(missing, ", ")))
	}

	fields := o.attrs.Clone()
	fields[AttrClass] = plist.String(class)
	der, err := plist.EncodeOrdered(fields, PrimaryKeyFields)
	if err != nil {
		return digest.Digest{}, kcerr.Wrap(kcerr.KindDigest, "KC-DIGEST-004", "encode primary key", err)
	}
	return digest.Sum(der), nil
}
