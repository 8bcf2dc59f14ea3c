// Package kcerr defines the structured error type shared by the identity and
// merge packages.
//
// Callers should branch on Kind (or RuleID) rather than matching error strings.
// Error() strings are meant for humans and may change.
package kcerr

import "errors"

// Kind is a stable category for programmatic error handling.
type Kind string

const (
	// KindKeyUnavailable: no private key matches the identity's public key.
	// Recoverable once the key is restored; never retried internally.
	KindKeyUnavailable Kind = "KeyUnavailable"
	// KindDigest: an object lacks the fields needed to derive its primary key.
	KindDigest Kind = "Digest"
	// KindDecode: malformed DER input.
	KindDecode Kind = "Decode"
	// KindTransformRejected: an identity transform declined to produce a value.
	KindTransformRejected Kind = "TransformRejected"
	// KindSchema: a property map does not satisfy its role's schema.
	KindSchema Kind = "Schema"
	// KindSignature: signing or signature verification failed.
	KindSignature Kind = "Signature"
	// KindRetired: the identity was retired and accepts no further updates.
	KindRetired Kind = "Retired"
)

// Error is the structured error type.
//
// RuleID names the violated rule (e.g. KC-DIGEST-002) and is stable across versions.
type Error struct {
	Kind    Kind
	RuleID  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New returns a structured error without a cause.
func New(kind Kind, ruleID, msg string) error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg}
}

// Wrap returns a structured error carrying cause. A nil cause yields New.
func Wrap(kind Kind, ruleID, msg string, cause error) error {
	if cause == nil {
		return New(kind, ruleID, msg)
	}
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}
