package datastore

import (
	"fmt"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
	"xdao.co/keycircle/kcerr"
	"xdao.co/keycircle/resolver"
)

// Outcome reports what InsertOrMerge did.
type Outcome int

const (
	// Created: no object shared the primary key; the object was inserted.
	Created Outcome = iota + 1
	// KeptLocal: the held object won; nothing changed.
	KeptLocal
	// AcceptedRemote: the incoming object replaced the held one by modification time.
	AcceptedRemote
	// AcceptedMerged: the incoming object replaced the held one on the digest tie-break.
	AcceptedMerged
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "Created"
	case KeptLocal:
		return "KeptLocal"
	case AcceptedRemote:
		return "AcceptedRemote"
	case AcceptedMerged:
		return "AcceptedMerged"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Changed reports whether the outcome modified the store.
func (o Outcome) Changed() bool {
	return o == Created || o == AcceptedRemote || o == AcceptedMerged
}

// InsertOrMerge merges obj in its own transaction. It fails with
// ErrNestedTransaction while another transaction is open; use Tx.InsertOrMerge there.
func (s *Store) InsertOrMerge(obj item.Object) (Outcome, error) {
	var out Outcome
	err := s.WithTransaction(func(tx *Tx) error {
		var err error
		out, err = tx.InsertOrMerge(obj)
		return err
	})
	return out, err
}

// InsertOrMerge is the single write entry point.
//
// The object's primary key selects the held version, if any; resolver.Resolve
// picks the winner. Objects whose primary key cannot be derived are rejected
// with a KindDigest error and leave the store untouched.
func (tx *Tx) InsertOrMerge(obj item.Object) (Outcome, error) {
	if tx.done {
		return 0, ErrTxDone
	}
	s := tx.s

	pk, err := item.PrimaryKeyDigest(obj)
	if err != nil {
		return 0, err
	}
	d := obj.Digest()

	existing, found := s.primary[pk]
	if !found {
		if err := s.checkContentSlot(d, pk); err != nil {
			return 0, err
		}
		tx.putContent(d, entry{obj: obj, pk: pk})
		tx.putPrimary(pk, obj)
		tx.queue(Change{New: obj})
		tx.markDirty()
		s.observe(Created, pk, d, "")
		return Created, nil
	}

	dec := resolver.Resolve(obj, existing)
	if dec.Side == resolver.SideB {
		s.observe(KeptLocal, pk, existing.Digest(), dec.Rule)
		return KeptLocal, nil
	}

	if err := s.checkContentSlot(d, pk); err != nil {
		return 0, err
	}
	tx.deleteContent(existing.Digest())
	tx.putContent(d, entry{obj: obj, pk: pk})
	tx.putPrimary(pk, obj)
	tx.queue(Change{Old: existing, New: obj})
	tx.markDirty()

	out := AcceptedRemote
	if dec.Rule == resolver.RuleDigest {
		out = AcceptedMerged
	}
	s.observe(out, pk, d, dec.Rule)
	return out, nil
}

// checkContentSlot rejects an object whose content digest is already held
// under a different primary key. The digest omits the class, so two classes
// can produce equal bodies.
func (s *Store) checkContentSlot(d, pk digest.Digest) error {
	if e, ok := s.content[d]; ok && e.pk != pk {
		return kcerr.New(kcerr.KindDigest, "KC-DIGEST-005",
			fmt.Sprintf("content digest %s already held under another primary key", d))
	}
	return nil
}

func (s *Store) observe(out Outcome, pk, d digest.Digest, rule resolver.Rule) {
	s.metrics.ObserveMerge(out.String())
	s.log.Debug("merge",
		"outcome", out.String(),
		"primary_key", pk.Hex(),
		"digest", d.Hex(),
		"rule", string(rule),
	)
}
