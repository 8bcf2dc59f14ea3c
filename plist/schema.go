package plist

import (
	"fmt"
	"sort"
	"strings"

	"xdao.co/keycircle/kcerr"
)

// Schema names the keys a Dict must carry in a given role, and their kinds.
type Schema struct {
	Name     string
	Required map[string]Kind
}

// GestaltSchema is the minimum a peer's display attributes must carry.
var GestaltSchema = Schema{
	Name: "gestalt",
	Required: map[string]Kind{
		"ComputerName": KindString,
		"ModelName":    KindString,
	},
}

// Missing returns the required keys that are absent from d or hold the wrong
// kind, sorted.
func (s Schema) Missing(d Dict) []string {
	var out []string
	for k, kind := range s.Required {
		v, ok := d[k]
		if !ok || v.Kind() != kind {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (s Schema) Validate(d Dict) error {
	if _, err := d.Normalize(); err != nil {
		return err
	}
	missing := s.Missing(d)
	if len(missing) == 0 {
		return nil
	}
	return kcerr.New(kcerr.KindSchema, "KC-SCHEMA-001",
		fmt.Sprintf("%s: missing or mistyped keys: %s", s.Name, strings.Join(missing, ", ")))
}
