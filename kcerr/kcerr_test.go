package kcerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndMatch(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(KindDecode, "KC-PEER-DER-020", "bad handle", cause))

	if !IsKind(err, KindDecode) {
		t.Fatalf("expected KindDecode, got %q", KindOf(err))
	}
	if IsKind(err, KindSchema) {
		t.Fatalf("unexpected KindSchema match")
	}
	if got := RuleID(err); got != "KC-PEER-DER-020" {
		t.Fatalf("RuleID = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not reachable via errors.Is")
	}
	if got := err.Error(); got != "outer: bad handle: boom" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestWrapNilCause(t *testing.T) {
	err := Wrap(KindRetired, "KC-PEER-010", "retired", nil)
	var e *Error
	if !errors.As(err, &e) || e.Cause != nil {
		t.Fatalf("expected causeless *Error, got %#v", err)
	}
	if KindOf(errors.New("plain")) != "" || RuleID(nil) != "" {
		t.Fatalf("plain errors must have no kind or rule")
	}
}
