// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package random

import (
	"crypto/rand"
	"encoding/binary"
	"io"
)

// randomUint64 returns a cryptographically random uint64 value. This
// unexported version takes a reader primarily to ensure the error paths
// can be properly tested by passing a fake reader in the tests.
func randomUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	_, err := io.ReadFull(r, b[:])
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// Uint64 returns a cryptographically random uint64 value.
func Uint64() (uint64, error) {
	return randomUint64(rand.Reader)
}

// uint64Range returns a cryptographically random uint64 in the range [0, n)
// with no modulo bias. n must be greater than zero.
func uint64Range(r io.Reader, n uint64) (uint64, error) {
	// Rejection sampling: discard values from the biased tail of the
	// uint64 space.
	limit := -n % n // (2^64 - n) mod n
	for {
		v, err := randomUint64(r)
		if err != nil {
			return 0, err
		}
		if v >= limit {
			return v % n, nil
		}
	}
}

// Uint64Range returns a cryptographically random uint64 in the range [0, n)
// with no modulo bias. n must be greater than zero.
func Uint64Range(n uint64) (uint64, error) {
	return uint64Range(rand.Reader, n)
}

// Bytes fills the given slice with cryptographically random data.
func Bytes(b []byte) error {
	_, err := io.ReadFull(rand.Reader, b)
	return err
}
