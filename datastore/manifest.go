package datastore

import (
	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
	"xdao.co/keycircle/manifest"
)

// BuildManifest returns a snapshot of every held content digest. A view the
// store does not serve yields an empty manifest.
func (s *Store) BuildManifest(view string) manifest.Manifest {
	if !s.Serves(view) {
		return manifest.Manifest{}
	}
	return s.snapshot()
}

// ManifestDigest returns the digest of the current manifest, recomputing it
// only when the content index changed since the last computation.
func (s *Store) ManifestDigest() digest.Digest {
	s.snapshot()
	return s.manifestDigest
}

func (s *Store) snapshot() manifest.Manifest {
	ds := make([]digest.Digest, 0, len(s.content))
	for d := range s.content {
		ds = append(ds, d)
	}
	m := manifest.New(ds)
	if !s.clean {
		s.manifestDigest = m.Digest()
		s.clean = true
		s.metrics.ObserveManifestRebuild()
	}
	return m
}

// ForEachObject visits the digests of m in order. found is false for a
// digest the store no longer holds. A visitor error stops the walk.
func (s *Store) ForEachObject(m manifest.Manifest, visit func(d digest.Digest, obj item.Object, found bool) error) error {
	for i := 0; i < m.Len(); i++ {
		d := m.At(i)
		e, ok := s.content[d]
		if err := visit(d, e.obj, ok); err != nil {
			return err
		}
	}
	return nil
}
