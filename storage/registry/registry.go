// Package registry lets object store backends register themselves so that
// programs can open them by name from configuration.
//
// Backends register in init():
//
//	registry.MustRegister(registry.Backend{ ... })
//
// A binary enables a backend by importing its package (often as a blank import).
package registry

import (
	"fmt"
	"sort"
	"sync"

	"xdao.co/keycircle/storage"
)

// Usage restricts which programs should accept a given backend.
type Usage uint8

const (
	// UsageCLI: available to the keycircle CLI.
	UsageCLI Usage = 1 << iota
	// UsageDaemon: available to long-running daemons (keycircle-objd).
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }

// Backend opens a storage.ObjectStore from backend-specific settings.
type Backend struct {
	Name        string
	Description string
	Usage       Usage

	// Open constructs the store. It returns an optional close function.
	Open func(settings map[string]string) (storage.ObjectStore, func() error, error)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("registry: backend name is required")
	}
	if b.Open == nil {
		return fmt.Errorf("registry: backend %q missing Open", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("registry: backend %q missing Usage", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("registry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns backend names matching usage, sorted.
func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

// Open opens the named backend if it exists and matches usage.
func Open(name string, usage Usage, settings map[string]string) (storage.ObjectStore, func() error, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("registry: unknown backend %q", name)
	}
	if !b.Usage.allows(usage) {
		return nil, nil, fmt.Errorf("registry: backend %q not supported in this program", name)
	}
	return b.Open(settings)
}
