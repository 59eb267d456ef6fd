// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package random

import (
	"io"
	"testing"

	"github.com/pkg/errors"
)

// fakeRandReader implements the io.Reader interface and is used to force
// errors in the random number generation functions.
type fakeRandReader struct {
	n   int
	err error
}

// Read returns the fake reader error and the lesser of the fake reader value
// and the length of p.
func (r *fakeRandReader) Read(p []byte) (int, error) {
	n := r.n
	if n > len(p) {
		n = len(p)
	}
	return n, r.err
}

// TestRandomUint64 exercises the randomness of the random number generator on
// the system by ensuring the probability of the generated numbers. If the RNG
// is evenly distributed as a proper cryptographic RNG should be, there really
// should only be 1 number < 2^56 in 2^8 tries for a 64-bit number. However,
// use a higher number of 5 to really ensure the test doesn't fail unless the
// RNG is just horrendous.
func TestRandomUint64(t *testing.T) {
	tries := 1 << 8              // 2^8
	watermark := uint64(1 << 56) // 2^56
	maxHits := 5

	numHits := 0
	for i := 0; i < tries; i++ {
		nonce, err := Uint64()
		if err != nil {
			t.Errorf("Uint64 iteration %d failed - err %v", i, err)
			return
		}
		if nonce < watermark {
			numHits++
		}
		if numHits > maxHits {
			str := "The random number generator on this system is clearly " +
				"terrible since we got %d values less than %d in %d runs " +
				"when only %d was expected"
			t.Errorf(str, numHits, watermark, tries, maxHits)
			return
		}
	}
}

// TestRandomUint64Errors ensures the error paths work as expected.
func TestRandomUint64Errors(t *testing.T) {
	// Test short reads.
	fr := &fakeRandReader{n: 2, err: io.EOF}
	nonce, err := randomUint64(fr)
	if errors.Cause(err) != io.ErrUnexpectedEOF {
		t.Errorf("Error not expected value of %v [%v]",
			io.ErrUnexpectedEOF, err)
	}
	if nonce != 0 {
		t.Errorf("Nonce is not 0 [%v]", nonce)
	}
}

// TestUint64Range ensures the ranged generator stays within bounds and
// covers small ranges.
func TestUint64Range(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 1000; i++ {
		v, err := Uint64Range(600)
		if err != nil {
			t.Fatalf("Uint64Range: %v", err)
		}
		if v >= 600 {
			t.Fatalf("Uint64Range returned %d, out of [0, 600)", v)
		}
		seen[v/100] = true
	}

	// With 1000 draws over [0, 600), every bucket of 100 should be hit.
	if len(seen) != 6 {
		t.Errorf("Uint64Range coverage suspicious: hit %d of 6 buckets",
			len(seen))
	}
}
