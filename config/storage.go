package config

import (
	"errors"
	"fmt"

	"xdao.co/keycircle/storage"
	"xdao.co/keycircle/storage/registry"
)

// StorageConfig describes how to open one or more object store backends via
// the registry. Binaries still link the backends they want with blank imports.
//
// WritePolicy values:
//   - "first" (default): write only to the first backend; reads fall back in order
//   - "all": write to all backends and require digest equality (see storage.ReplicatingStore)
type StorageConfig struct {
	WritePolicy string          `yaml:"write_policy"`
	Backends    []BackendConfig `yaml:"backends"`
}

type BackendConfig struct {
	// Name is the registry backend name to open (e.g. "localfs", "sqlite", "grpc").
	Name string `yaml:"name"`
	// ID is an optional stable alias used for identification and per-backend
	// digest maps. If empty, Name is used.
	ID       string            `yaml:"id"`
	Settings map[string]string `yaml:"settings"`
}

func (b BackendConfig) id() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

func (c StorageConfig) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("config: at least one storage backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("config: storage backend name is required")
		}
		if _, ok := seen[b.id()]; ok {
			return fmt.Errorf("config: duplicate storage backend id %q", b.id())
		}
		seen[b.id()] = struct{}{}
	}
	switch c.WritePolicy {
	case "", "first", "all":
		return nil
	default:
		return fmt.Errorf("config: invalid write_policy %q", c.WritePolicy)
	}
}

// Open opens the configured backends.
//
// If preferred is non-empty, the backend with that name or id is moved first
// (and thus used for writes when WritePolicy is "first").
func (c StorageConfig) Open(usage registry.Usage, preferred string) (storage.ObjectStore, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	ordered := append([]BackendConfig(nil), c.Backends...)
	if preferred != "" {
		idx := -1
		for i := range ordered {
			if ordered[i].Name == preferred || ordered[i].ID == preferred {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil, fmt.Errorf("config: preferred backend %q not found", preferred)
		}
		if idx != 0 {
			b := ordered[idx]
			copy(ordered[1:idx+1], ordered[0:idx])
			ordered[0] = b
		}
	}

	named := make([]storage.NamedStore, 0, len(ordered))
	closers := make([]func() error, 0, len(ordered))
	for _, b := range ordered {
		s, closeFn, err := registry.Open(b.Name, usage, b.Settings)
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
			return nil, nil, err
		}
		named = append(named, storage.NamedStore{Name: b.id(), Store: s})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}

	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	if len(named) == 1 {
		return named[0].Store, closeAll, nil
	}

	if c.WritePolicy == "all" {
		return storage.ReplicatingStore{Backends: named}, closeAll, nil
	}
	stores := make([]storage.ObjectStore, 0, len(named))
	for _, n := range named {
		stores = append(stores, n.Store)
	}
	return storage.MultiStore{Stores: stores}, closeAll, nil
}
