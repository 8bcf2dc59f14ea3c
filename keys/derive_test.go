package keys

import (
	"testing"
)

func TestDeriveRoleSeedDeterministic(t *testing.T) {
	root := make([]byte, SeedSize)
	for i := range root {
		root[i] = byte(i)
	}

	a, err := DeriveRoleSeed(root, "group")
	if err != nil {
		t.Fatalf("DeriveRoleSeed: %v", err)
	}
	b, err := DeriveRoleSeed(root, "group")
	if err != nil {
		t.Fatalf("DeriveRoleSeed: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected deterministic derivation")
	}

	c, err := DeriveRoleSeed(root, "backup")
	if err != nil {
		t.Fatalf("DeriveRoleSeed: %v", err)
	}
	if string(a) == string(c) {
		t.Fatalf("expected different roles to derive different seeds")
	}
}

func TestDeriveRoleSeedRejects(t *testing.T) {
	if _, err := DeriveRoleSeed(make([]byte, 3), "group"); err == nil {
		t.Fatalf("expected short root seed to fail")
	}
	if _, err := DeriveRoleSeed(make([]byte, SeedSize), "bad role"); err == nil {
		t.Fatalf("expected invalid role to fail")
	}
}
