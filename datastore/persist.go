package datastore

import (
	"fmt"
	"sort"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/kcerr"
	"xdao.co/keycircle/manifest"
	"xdao.co/keycircle/storage"
)

// Save writes every held object to dst in manifest order and returns that
// manifest. When dst is also a storage.StateStore the keyed state is saved too.
func Save(s *Store, dst storage.ObjectStore) (manifest.Manifest, error) {
	m := s.snapshot()
	for i := 0; i < m.Len(); i++ {
		d := m.At(i)
		got, err := dst.Put(s.content[d].obj)
		if err != nil {
			return manifest.Manifest{}, fmt.Errorf("datastore: save %s: %w", d, err)
		}
		if got != d {
			return manifest.Manifest{}, storage.ErrDigestMismatch
		}
	}

	if ss, ok := dst.(storage.StateStore); ok {
		keys := make([]string, 0, len(s.state))
		for k := range s.state {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := ss.PutState(k, s.state[k]); err != nil {
				return manifest.Manifest{}, fmt.Errorf("datastore: save state: %w", err)
			}
		}
	}
	return m, nil
}

// Load merges every object src holds, and its keyed state when src is a
// storage.StateStore. src must implement storage.Lister.
func Load(s *Store, src storage.ObjectStore) (HydrateReport, error) {
	ds, err := storage.ListAll(src)
	if err != nil {
		return HydrateReport{}, fmt.Errorf("datastore: %w", err)
	}
	report, err := Hydrate(s, manifest.New(ds), src)
	if err != nil {
		return report, err
	}

	if ss, ok := src.(storage.StateStore); ok {
		states, err := ss.LoadStates()
		if err != nil {
			return report, fmt.Errorf("datastore: load state: %w", err)
		}
		for k, blob := range states {
			s.setState(k, blob)
		}
	}
	return report, nil
}

// HydrateReport summarises one Hydrate call.
type HydrateReport struct {
	Outcomes map[Outcome]int
	// Missing lists manifest digests src did not have.
	Missing []digest.Digest
	// Rejected lists objects whose primary key could not be derived.
	Rejected []digest.Digest
}

// Hydrate fetches the objects of a peer's manifest that s does not hold yet
// from src and merges them in one transaction, in manifest order.
//
// Missing and rejected objects are reported, not fatal. Any other error rolls
// the whole transaction back.
func Hydrate(s *Store, m manifest.Manifest, src storage.ObjectStore) (HydrateReport, error) {
	report := HydrateReport{Outcomes: map[Outcome]int{}}
	err := s.WithTransaction(func(tx *Tx) error {
		for i := 0; i < m.Len(); i++ {
			d := m.At(i)
			if _, held := s.content[d]; held {
				continue
			}
			obj, err := src.Get(d)
			if storage.IsNotFound(err) {
				report.Missing = append(report.Missing, d)
				continue
			}
			if err != nil {
				return fmt.Errorf("datastore: fetch %s: %w", d, err)
			}
			if obj.Digest() != d {
				return storage.ErrDigestMismatch
			}
			out, err := tx.InsertOrMerge(obj)
			if kcerr.IsKind(err, kcerr.KindDigest) {
				s.log.Warn("rejected object", "digest", d.Hex(), "rule", kcerr.RuleID(err), "err", err)
				report.Rejected = append(report.Rejected, d)
				continue
			}
			if err != nil {
				return err
			}
			report.Outcomes[out]++
		}
		return nil
	})
	if err != nil {
		return HydrateReport{Outcomes: map[Outcome]int{}}, err
	}
	return report, nil
}
