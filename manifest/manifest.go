// Package manifest builds the sorted, duplicate-free digest lists peers
// exchange to describe a dataset snapshot.
package manifest

import (
	"sort"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/kcerr"
)

// Manifest is an immutable, strictly increasing sequence of content digests.
// The zero Manifest is empty.
type Manifest struct {
	digests []digest.Digest
}

// New copies ds, sorts ascending and drops duplicates.
func New(ds []digest.Digest) Manifest {
	if len(ds) == 0 {
		return Manifest{}
	}
	out := append([]digest.Digest(nil), ds...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return Manifest{digests: out[:n]}
}

// Decode parses the concatenated-digest serialisation produced by Bytes.
// Input that is not strictly increasing is rejected rather than repaired.
func Decode(b []byte) (Manifest, error) {
	if len(b)%digest.Size != 0 {
		return Manifest{}, kcerr.New(kcerr.KindDecode, "KC-MANIFEST-001", "manifest length is not a multiple of the digest size")
	}
	ds := make([]digest.Digest, 0, len(b)/digest.Size)
	for off := 0; off < len(b); off += digest.Size {
		var d digest.Digest
		copy(d[:], b[off:off+digest.Size])
		if len(ds) > 0 && !ds[len(ds)-1].Less(d) {
			return Manifest{}, kcerr.New(kcerr.KindDecode, "KC-MANIFEST-002", "manifest digests are not strictly increasing")
		}
		ds = append(ds, d)
	}
	if len(ds) == 0 {
		return Manifest{}, nil
	}
	return Manifest{digests: ds}, nil
}

func (m Manifest) Len() int { return len(m.digests) }

func (m Manifest) At(i int) digest.Digest { return m.digests[i] }

// Digests returns a copy of the sequence.
func (m Manifest) Digests() []digest.Digest {
	return append([]digest.Digest(nil), m.digests...)
}

func (m Manifest) Contains(d digest.Digest) bool {
	i := sort.Search(len(m.digests), func(i int) bool { return !m.digests[i].Less(d) })
	return i < len(m.digests) && m.digests[i] == d
}

// Bytes is the serialised form: digests concatenated in order.
func (m Manifest) Bytes() []byte {
	out := make([]byte, 0, len(m.digests)*digest.Size)
	for _, d := range m.digests {
		out = append(out, d[:]...)
	}
	return out
}

// Digest is the SHA-1 over Bytes.
func (m Manifest) Digest() digest.Digest { return digest.Sum(m.Bytes()) }

func (m Manifest) Equal(o Manifest) bool {
	if len(m.digests) != len(o.digests) {
		return false
	}
	for i := range m.digests {
		if m.digests[i] != o.digests[i] {
			return false
		}
	}
	return true
}

// Diff returns the digests present in next but not in m (added) and those in m
// but not in next (removed). Both inputs are walked once.
func (m Manifest) Diff(next Manifest) (added, removed Manifest) {
	var add, rem []digest.Digest
	i, j := 0, 0
	for i < len(m.digests) && j < len(next.digests) {
		switch c := m.digests[i].Compare(next.digests[j]); {
		case c == 0:
			i++
			j++
		case c < 0:
			rem = append(rem, m.digests[i])
			i++
		default:
			add = append(add, next.digests[j])
			j++
		}
	}
	rem = append(rem, m.digests[i:]...)
	add = append(add, next.digests[j:]...)
	return Manifest{digests: add}, Manifest{digests: rem}
}
