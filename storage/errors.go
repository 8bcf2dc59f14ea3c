package storage

import "errors"

var (
	ErrNotFound       = errors.New("storage: not found")
	ErrInvalidDigest  = errors.New("storage: invalid digest")
	ErrDigestMismatch = errors.New("storage: digest mismatch")
	ErrImmutable      = errors.New("storage: immutable object mismatch")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
