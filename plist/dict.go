package plist

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"

	"xdao.co/keycircle/kcerr"
)

// Dict is a string-keyed property map. Treat values handed to other packages as
// immutable; use Clone before modifying.
type Dict map[string]Value

func (d Dict) Clone() Dict {
	if d == nil {
		return nil
	}
	out := make(Dict, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Keys returns the keys in canonical order: ascending bytes of their NFC form.
func (d Dict) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, nj := norm.NFC.String(keys[i]), norm.NFC.String(keys[j])
		if ni != nj {
			return ni < nj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Normalize returns a copy of d with NFC keys. Keys that differ only in
// normalisation form would encode identically and are rejected.
func (d Dict) Normalize() (Dict, error) {
	if d == nil {
		return nil, nil
	}
	out := make(Dict, len(d))
	for k, v := range d {
		nk := norm.NFC.String(k)
		if _, dup := out[nk]; dup {
			return nil, kcerr.New(kcerr.KindSchema, "KC-SCHEMA-004",
				fmt.Sprintf("dictionary keys collide after normalisation at %q", nk))
		}
		out[nk] = v
	}
	return out, nil
}

func (d Dict) Equal(o Dict) bool {
	if len(d) != len(o) {
		return false
	}
	for k, v := range d {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Without returns a copy of d lacking the given keys.
func (d Dict) Without(keys ...string) Dict {
	out := d.Clone()
	if out == nil {
		out = Dict{}
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func (d Dict) GetString(key string) (string, bool) {
	v, ok := d[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

func (d Dict) GetDate(key string) (time.Time, bool) {
	v, ok := d[key]
	if !ok {
		return time.Time{}, false
	}
	return v.AsDate()
}
