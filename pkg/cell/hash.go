package cell

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// HashSize is the digest length of Convex's content hash, SHA3-256.
const HashSize = 32

// Hash is a cell's content address: SHA3-256 of its canonical encoding.
// It is a plain digest type, not itself a Cell — a Hash value is
// non-canonical and always canonicalizes to a Blob cell wrapping these
// same 32 bytes.
type Hash [HashSize]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) Bytes() []byte { return h[:] }

func HashFromBytes(b []byte) (Hash, error) {
	if len(b) != HashSize {
		return Hash{}, ErrBadFormat("hash must be %d bytes, got %d", HashSize, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// hashCache holds a memoized hash. No cell type embeds or points to one;
// HashOf recomputes a cell's hash on every call.
type hashCache struct {
	set bool
	h   Hash
}

func (c *hashCache) get(compute func() Hash) Hash {
	if !c.set {
		c.h = compute()
		c.set = true
	}
	return c.h
}

// HashOf computes SHA3-256 over c's canonical encoding. Equal cells hash
// equal; distinct canonical encodings hash distinct (up to collision,
// which SHA3-256 makes computationally infeasible).
func HashOf(c Cell) Hash {
	return sha3.Sum256(Encode(c))
}

// HashBytes computes SHA3-256 over an arbitrary byte string, for
// peer-level values (signed orders, blocks) that carry a compiled op
// tree rather than a pure cell graph and so hash their own canonical
// byte representation directly instead of going through HashOf.
func HashBytes(b []byte) Hash {
	return sha3.Sum256(b)
}
