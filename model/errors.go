package model

import (
	"errors"
	"fmt"

	"xdao.co/keycircle/kcerr"
	"xdao.co/keycircle/storage"
)

type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrInvalidDigest     ErrorCode = "INVALID_DIGEST"
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrDigestMismatch    ErrorCode = "DIGEST_MISMATCH"
	ErrKeyUnavailable    ErrorCode = "KEY_UNAVAILABLE"
	ErrTransformRejected ErrorCode = "TRANSFORM_REJECTED"
	ErrRetired           ErrorCode = "RETIRED"
	ErrInternal          ErrorCode = "INTERNAL"
)

// CodedError is a stable error with a machine-readable code and a human message.
type CodedError struct {
	Code    ErrorCode `json:"code"`
	Rule    string    `json:"rule,omitempty"`
	Message string    `json:"message"`
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// FromError maps library errors onto boundary codes. The kcerr rule ID, when
// present, is carried through unchanged.
func FromError(err error) *CodedError {
	if err == nil {
		return nil
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce
	}
	out := &CodedError{Code: ErrInternal, Rule: kcerr.RuleID(err), Message: err.Error()}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		out.Code = ErrNotFound
	case errors.Is(err, storage.ErrInvalidDigest):
		out.Code = ErrInvalidDigest
	case errors.Is(err, storage.ErrDigestMismatch), errors.Is(err, storage.ErrImmutable):
		out.Code = ErrDigestMismatch
	}
	switch kcerr.KindOf(err) {
	case kcerr.KindKeyUnavailable:
		out.Code = ErrKeyUnavailable
	case kcerr.KindTransformRejected:
		out.Code = ErrTransformRejected
	case kcerr.KindRetired:
		out.Code = ErrRetired
	case kcerr.KindDigest, kcerr.KindDecode, kcerr.KindSchema, kcerr.KindSignature:
		out.Code = ErrInvalidRequest
	}
	return out
}
