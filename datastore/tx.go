package datastore

import (
	"errors"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
)

var (
	ErrNestedTransaction = errors.New("datastore: transaction already in progress")
	ErrTxDone            = errors.New("datastore: transaction already finished")
)

// Tx is one open transaction. Every index mutation made through it is
// recorded in an undo log so that a rollback restores the store exactly.
type Tx struct {
	s       *Store
	undo    []func()
	pending []Change
	done    bool

	clean          bool
	manifestDigest digest.Digest
}

// WithTransaction runs fn inside a transaction.
//
// When fn returns nil the transaction commits and the registered change
// handler, if any, runs once with the changes in the order they were made.
// When fn returns an error (or panics) every mutation is undone, queued
// changes are discarded and no notification fires.
func (s *Store) WithTransaction(fn func(*Tx) error) error {
	if s.tx != nil {
		return ErrNestedTransaction
	}
	tx := &Tx{s: s, clean: s.clean, manifestDigest: s.manifestDigest}
	s.tx = tx

	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	committed = true
	changes := tx.pending
	tx.finish()
	s.metrics.ObserveTransaction(true, len(s.content))
	s.notify(changes)
	return nil
}

// SetKeyedState is Store.SetKeyedState, undone on rollback.
func (tx *Tx) SetKeyedState(domain, key string, blob []byte) error {
	if tx.done {
		return ErrTxDone
	}
	k := domain + key
	old, had := tx.s.state[k]
	tx.undo = append(tx.undo, func() {
		if had {
			tx.s.state[k] = old
		} else {
			delete(tx.s.state, k)
		}
	})
	tx.s.setState(k, blob)
	return nil
}

func (tx *Tx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.s.clean = tx.clean
	tx.s.manifestDigest = tx.manifestDigest
	tx.s.log.Debug("transaction rolled back", "undone", len(tx.undo), "discarded_changes", len(tx.pending))
	tx.pending = nil
	tx.finish()
	tx.s.metrics.ObserveTransaction(false, len(tx.s.content))
}

func (tx *Tx) finish() {
	tx.done = true
	tx.undo = nil
	tx.s.tx = nil
}

func (tx *Tx) putContent(d digest.Digest, e entry) {
	old, had := tx.s.content[d]
	tx.undo = append(tx.undo, func() {
		if had {
			tx.s.content[d] = old
		} else {
			delete(tx.s.content, d)
		}
	})
	tx.s.content[d] = e
}

func (tx *Tx) deleteContent(d digest.Digest) {
	old, had := tx.s.content[d]
	if !had {
		return
	}
	tx.undo = append(tx.undo, func() { tx.s.content[d] = old })
	delete(tx.s.content, d)
}

func (tx *Tx) putPrimary(pk digest.Digest, obj item.Object) {
	old, had := tx.s.primary[pk]
	tx.undo = append(tx.undo, func() {
		if had {
			tx.s.primary[pk] = old
		} else {
			delete(tx.s.primary, pk)
		}
	})
	tx.s.primary[pk] = obj
}

func (tx *Tx) queue(c Change) { tx.pending = append(tx.pending, c) }

func (tx *Tx) markDirty() { tx.s.clean = false }
