// Package datastore holds the content store: two mutually consistent indexes
// (content digest and primary-key digest) over keychain items, the
// deterministic merge entry point, manifest snapshots and a per-transaction
// change notifier.
//
// A Store does no locking. Callers serialise access to one instance.
package datastore

import (
	"io"
	"log/slog"
	"sort"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/internal/metrics"
	"xdao.co/keycircle/item"
)

// DefaultView is the view a Store serves when none is configured.
const DefaultView = "KeychainV0"

type entry struct {
	obj item.Object
	pk  digest.Digest
}

type Store struct {
	views map[string]struct{}

	content map[digest.Digest]entry
	primary map[digest.Digest]item.Object
	state   map[string][]byte

	clean          bool
	manifestDigest digest.Digest

	handler ChangeHandler
	tx      *Tx

	log     *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Store)

// WithViews replaces the set of served views.
func WithViews(views ...string) Option {
	return func(s *Store) {
		s.views = make(map[string]struct{}, len(views))
		for _, v := range views {
			s.views[v] = struct{}{}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func New(opts ...Option) *Store {
	s := &Store{
		views:   map[string]struct{}{DefaultView: {}},
		content: map[digest.Digest]entry{},
		primary: map[digest.Digest]item.Object{},
		state:   map[string][]byte{},
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serves reports whether view is one of the store's views.
func (s *Store) Serves(view string) bool {
	_, ok := s.views[view]
	return ok
}

// Views returns the served views, sorted.
func (s *Store) Views() []string {
	out := make([]string, 0, len(s.views))
	for v := range s.views {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of objects in the content index.
func (s *Store) Len() int { return len(s.content) }

// Get looks up an object by content digest.
func (s *Store) Get(d digest.Digest) (item.Object, bool) {
	e, ok := s.content[d]
	return e.obj, ok
}

// Lookup returns the authoritative object for a primary-key digest.
func (s *Store) Lookup(pk digest.Digest) (item.Object, bool) {
	o, ok := s.primary[pk]
	return o, ok
}

// KeyedState returns the blob stored under domain+key.
func (s *Store) KeyedState(domain, key string) ([]byte, bool) {
	b, ok := s.state[domain+key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// SetKeyedState stores blob under domain+key, replacing any previous value.
// A nil blob removes the key.
func (s *Store) SetKeyedState(domain, key string, blob []byte) {
	s.setState(domain+key, blob)
}

func (s *Store) setState(k string, blob []byte) {
	if blob == nil {
		delete(s.state, k)
		return
	}
	s.state[k] = append([]byte(nil), blob...)
}
