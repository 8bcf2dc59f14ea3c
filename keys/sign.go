package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// Hash algorithms accepted by Sign and Verify.
const (
	HashSHA256  = "sha256"
	HashSHA512  = "sha512"
	HashSHA3256 = "sha3-256"
)

// SeedSize is the private key seed length for every supported algorithm.
const SeedSize = 32

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case HashSHA256:
		s := sha256.Sum256(message)
		return s[:], nil
	case HashSHA512:
		s := sha512.Sum512(message)
		return s[:], nil
	case HashSHA3256:
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %q", hashAlg)
	}
}

// Signer signs with a private key whose public half is Public().
type Signer interface {
	Public() PublicKey
	Sign(hashAlg string, message []byte) ([]byte, error)
}

// PrivateKey is a seed-derived signing key.
type PrivateKey struct {
	alg  Alg
	seed []byte
	pub  PublicKey

	ed    ed25519.PrivateKey
	dilPk *mode3.PublicKey
	dilSk *mode3.PrivateKey
}

var _ Signer = (*PrivateKey)(nil)

// FromSeed derives the alg key pair for a 32-byte seed.
func FromSeed(alg Alg, seed []byte) (*PrivateKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", SeedSize, len(seed))
	}
	k := &PrivateKey{alg: alg, seed: append([]byte(nil), seed...)}
	switch alg {
	case AlgEd25519:
		k.ed = ed25519.NewKeyFromSeed(seed)
		k.pub = PublicKey{Alg: alg, Bytes: append([]byte(nil), k.ed.Public().(ed25519.PublicKey)...)}
	case AlgDilithium3:
		var s [mode3.SeedSize]byte
		copy(s[:], seed)
		k.dilPk, k.dilSk = mode3.NewKeyFromSeed(&s)
		k.pub = PublicKey{Alg: alg, Bytes: k.dilPk.Bytes()}
	default:
		return nil, fmt.Errorf("unsupported key algorithm %q", alg)
	}
	return k, nil
}

// Generate reads a fresh seed from rand.
func Generate(alg Alg, rand io.Reader) (*PrivateKey, error) {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, err
	}
	return FromSeed(alg, seed)
}

func (k *PrivateKey) Alg() Alg { return k.alg }

func (k *PrivateKey) Public() PublicKey { return k.pub }

// Seed returns a copy of the key's seed.
func (k *PrivateKey) Seed() []byte { return append([]byte(nil), k.seed...) }

// Sign returns a signature over hashAlg(message).
func (k *PrivateKey) Sign(hashAlg string, message []byte) ([]byte, error) {
	digest, err := digestFor(hashAlg, message)
	if err != nil {
		return nil, err
	}
	switch k.alg {
	case AlgEd25519:
		return ed25519.Sign(k.ed, digest), nil
	case AlgDilithium3:
		sig := make([]byte, mode3.SignatureSize)
		mode3.SignTo(k.dilSk, digest, sig)
		return sig, nil
	default:
		return nil, fmt.Errorf("unsupported key algorithm %q", k.alg)
	}
}
