package headerssync

import (
	"golang.org/x/crypto/blake2b"

	"github.com/vesperanet/vesperad/util/chainhash"
	"github.com/vesperanet/vesperad/util/random"
)

// saltedHasher derives single commitment bits from header hashes. The salt is
// drawn from a cryptographic randomness source per instance, so an online
// adversary that doesn't know the salt cannot predict which of two chains
// will produce a matching bit sequence. A salt must never be reused across
// sync instances.
type saltedHasher struct {
	key [32]byte
}

// newSaltedHasher returns a hasher with a freshly drawn salt.
func newSaltedHasher() (*saltedHasher, error) {
	hasher := &saltedHasher{}
	err := random.Bytes(hasher.key[:])
	if err != nil {
		return nil, err
	}
	return hasher, nil
}

// hashBit returns the salted one-bit commitment for the given header hash.
func (h *saltedHasher) hashBit(hash *chainhash.Hash) bool {
	digest, err := blake2b.New256(h.key[:])
	if err != nil {
		// Only reachable with a key longer than 64 bytes.
		panic(err)
	}
	digest.Write(hash[:])
	return digest.Sum(nil)[0]&1 == 1
}
