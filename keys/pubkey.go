package keys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Alg names a signature algorithm.
type Alg string

const (
	AlgEd25519    Alg = "ed25519"
	AlgDilithium3 Alg = "dilithium3"
)

func (a Alg) publicKeySize() int {
	switch a {
	case AlgEd25519:
		return ed25519.PublicKeySize
	case AlgDilithium3:
		return mode3.PublicKeySize
	default:
		return -1
	}
}

// PublicKey is an algorithm-tagged public key.
type PublicKey struct {
	Alg   Alg
	Bytes []byte
}

// NewPublicKey validates the key length for alg.
func NewPublicKey(alg Alg, b []byte) (PublicKey, error) {
	want := alg.publicKeySize()
	if want < 0 {
		return PublicKey{}, fmt.Errorf("unsupported key algorithm %q", alg)
	}
	if len(b) != want {
		return PublicKey{}, fmt.Errorf("%s public key must be %d bytes, got %d", alg, want, len(b))
	}
	return PublicKey{Alg: alg, Bytes: append([]byte(nil), b...)}, nil
}

// ParsePublicKey parses the "<alg>:<base64>" form produced by String.
func ParsePublicKey(s string) (PublicKey, error) {
	alg, b64, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return PublicKey{}, fmt.Errorf("public key %q: missing algorithm prefix", s)
	}
	b, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return PublicKey{}, fmt.Errorf("public key: %w", err)
	}
	return NewPublicKey(Alg(alg), b)
}

func (k PublicKey) String() string {
	return string(k.Alg) + ":" + base64.StdEncoding.EncodeToString(k.Bytes)
}

func (k PublicKey) IsZero() bool { return k.Alg == "" && len(k.Bytes) == 0 }

func (k PublicKey) Equal(o PublicKey) bool {
	return k.Alg == o.Alg && bytes.Equal(k.Bytes, o.Bytes)
}

// Fingerprint is a stable, filename-safe identifier for the key:
// hex(sha256(alg || 0x00 || key))[:32].
func (k PublicKey) Fingerprint() string {
	h := sha256.New()
	_, _ = h.Write([]byte(k.Alg))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(k.Bytes)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Verify checks sig over hashAlg(message).
func (k PublicKey) Verify(hashAlg string, message, sig []byte) bool {
	digest, err := digestFor(hashAlg, message)
	if err != nil {
		return false
	}
	switch k.Alg {
	case AlgEd25519:
		if len(k.Bytes) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(k.Bytes), digest, sig)
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(k.Bytes); err != nil {
			return false
		}
		return mode3.Verify(&pk, digest, sig)
	default:
		return false
	}
}
