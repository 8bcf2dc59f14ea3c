package registry

import (
	"testing"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
	"xdao.co/keycircle/storage"
)

type nopStore struct{}

func (nopStore) Put(obj item.Object) (digest.Digest, error) { return obj.Digest(), nil }
func (nopStore) Get(d digest.Digest) (item.Object, error)   { return item.Object{}, storage.ErrNotFound }
func (nopStore) Has(d digest.Digest) bool                   { return false }

func TestRegisterAndOpen(t *testing.T) {
	var got map[string]string
	err := Register(Backend{
		Name:  "test-nop",
		Usage: UsageDaemon,
		Open: func(settings map[string]string) (storage.ObjectStore, func() error, error) {
			got = settings
			return nopStore{}, nil, nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, _, err := Open("test-nop", UsageDaemon, map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got["k"] != "v" {
		t.Fatalf("settings not passed through: %v", got)
	}
	if _, _, err := Open("test-nop", UsageCLI, nil); err == nil {
		t.Fatalf("expected usage mismatch to fail")
	}
	if _, _, err := Open("missing", UsageDaemon, nil); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}

	found := false
	for _, n := range Names(UsageDaemon) {
		if n == "test-nop" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Names did not include test-nop")
	}
}

func TestRegister_Rejects(t *testing.T) {
	open := func(map[string]string) (storage.ObjectStore, func() error, error) { return nopStore{}, nil, nil }
	cases := []Backend{
		{Usage: UsageCLI, Open: open},
		{Name: "no-open", Usage: UsageCLI},
		{Name: "no-usage", Open: open},
	}
	for _, b := range cases {
		if err := Register(b); err == nil {
			t.Fatalf("Register(%+v): expected error", b.Name)
		}
	}

	if err := Register(Backend{Name: "dup", Usage: UsageCLI, Open: open}); err != nil {
		t.Fatalf("Register(dup): %v", err)
	}
	if err := Register(Backend{Name: "dup", Usage: UsageCLI, Open: open}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
