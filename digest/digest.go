// Package digest derives the fixed-size SHA-1 digests used as content keys,
// primary keys and manifest digests.
//
// Digests are computed through go-multihash so that every digest also has a
// self-describing CIDv1 form ("raw" codec + sha1 multihash), which is what
// crosses process boundaries (gRPC, CLI output, file names).
package digest

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Size is the digest length in bytes.
const Size = 20

var (
	ErrInvalid = errors.New("digest: invalid digest")
	errNotSHA1 = errors.New("digest: multihash is not sha1")
)

// Digest is a SHA-1 value. The zero Digest is "undefined".
type Digest [Size]byte

// Sum returns the SHA-1 digest of data.
func Sum(data []byte) Digest {
	mh, err := multihash.Sum(data, multihash.SHA1, -1)
	if err != nil {
		// sha1 is always registered and -1 selects its default length.
		panic(fmt.Sprintf("digest: sha1 multihash: %v", err))
	}
	d, err := FromMultihash(mh)
	if err != nil {
		panic(err)
	}
	return d
}

// FromMultihash extracts a Digest from a sha1 multihash.
func FromMultihash(mh multihash.Multihash) (Digest, error) {
	dec, err := multihash.Decode(mh)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if dec.Code != multihash.SHA1 {
		return Digest{}, errNotSHA1
	}
	if len(dec.Digest) != Size {
		return Digest{}, ErrInvalid
	}
	var d Digest
	copy(d[:], dec.Digest)
	return d, nil
}

// FromBytes copies a raw 20-byte digest.
func FromBytes(b []byte) (Digest, error) {
	if len(b) != Size {
		return Digest{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalid, Size, len(b))
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}

// Parse accepts either the CID form or 40 hex characters.
func Parse(s string) (Digest, error) {
	if len(s) == 2*Size {
		if b, err := hex.DecodeString(s); err == nil {
			return FromBytes(b)
		}
	}
	id, err := cid.Decode(s)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return FromCID(id)
}

// FromCID extracts the digest from a CID carrying a sha1 multihash.
func FromCID(id cid.Cid) (Digest, error) {
	if !id.Defined() {
		return Digest{}, ErrInvalid
	}
	return FromMultihash(id.Hash())
}

// Defined reports whether d is not the zero digest.
func (d Digest) Defined() bool { return d != Digest{} }

// Compare orders digests as fixed-width unsigned big-endian integers.
func (d Digest) Compare(o Digest) int { return bytes.Compare(d[:], o[:]) }

func (d Digest) Less(o Digest) bool { return d.Compare(o) < 0 }

func (d Digest) Bytes() []byte { return append([]byte{}, d[:]...) }

func (d Digest) Hex() string { return hex.EncodeToString(d[:]) }

func (d Digest) String() string { return d.Hex() }

// Multihash returns d wrapped as a sha1 multihash.
func (d Digest) Multihash() multihash.Multihash {
	mh, err := multihash.Encode(d[:], multihash.SHA1)
	if err != nil {
		panic(fmt.Sprintf("digest: encode multihash: %v", err))
	}
	return mh
}

// CID returns the CIDv1 (raw codec) form of d.
func (d Digest) CID() cid.Cid {
	return cid.NewCidV1(cid.Raw, d.Multihash())
}
