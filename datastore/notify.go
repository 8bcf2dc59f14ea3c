package datastore

import (
	"errors"

	"xdao.co/keycircle/item"
)

// ErrHandlerRegistered is returned when a store already has a change handler.
var ErrHandlerRegistered = errors.New("datastore: change handler already registered")

// Change records one committed mutation: a creation (Old is the zero
// Object) or the replacement of Old by New.
type Change struct {
	Old item.Object
	New item.Object
}

func (c Change) IsCreate() bool { return c.Old.IsZero() }

// ChangeHandler receives the changes of one committed transaction, in order.
// It runs after the transaction closed, so it may open a new one.
type ChangeHandler func([]Change)

// Register installs the store's single change handler.
func (s *Store) Register(h ChangeHandler) error {
	if h == nil {
		return errors.New("datastore: nil change handler")
	}
	if s.handler != nil {
		return ErrHandlerRegistered
	}
	s.handler = h
	return nil
}

// MustRegister is like Register but panics on error.
func (s *Store) MustRegister(h ChangeHandler) {
	if err := s.Register(h); err != nil {
		panic(err)
	}
}

func (s *Store) notify(changes []Change) {
	if len(changes) == 0 || s.handler == nil {
		return
	}
	s.handler(changes)
}
