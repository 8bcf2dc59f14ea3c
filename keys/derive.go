package keys

import (
	"crypto/sha256"
	"errors"
	"fmt"
)

// DeriveRoleSeed deterministically derives a role-specific seed from a root
// seed, e.g. the circle group key from a device root.
func DeriveRoleSeed(rootSeed []byte, role string) ([]byte, error) {
	if len(rootSeed) != SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", SeedSize)
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}

	h := sha256.New()
	_, _ = h.Write(rootSeed)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("keycircle-kms-lite-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("role:"))
	_, _ = h.Write([]byte(role))
	sum := h.Sum(nil)
	out := make([]byte, SeedSize)
	copy(out, sum[:SeedSize])
	return out, nil
}

func CheckRole(role string) error {
	if role == "" {
		return errors.New("role cannot be empty")
	}
	for _, char := range role {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in role", char)
	}
	return nil
}
