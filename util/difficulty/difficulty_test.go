// Copyright (c) 2014-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package difficulty

import (
	"math/big"
	"testing"

	"github.com/vesperanet/vesperad/util/chainhash"
)

// TestBigToCompact ensures BigToCompact converts big integers to the expected
// compact representation.
func TestBigToCompact(t *testing.T) {
	tests := []struct {
		in  int64
		out uint32
	}{
		{0, 0},
		{-1, 25231360},
		{1, 0x01010000},
		{255, 0x0200ff00},
		{256, 0x02010000},
		{65535, 0x0300ffff},
	}

	for x, test := range tests {
		n := big.NewInt(test.in)
		r := BigToCompact(n)
		if r != test.out {
			t.Errorf("TestBigToCompact test #%d failed: got 0x%08x want 0x%08x\n",
				x, r, test.out)
			return
		}
	}
}

// TestCompactToBig ensures CompactToBig converts numbers using the compact
// representation to the expected big integers.
func TestCompactToBig(t *testing.T) {
	tests := []struct {
		in  uint32
		out int64
	}{
		{10000000, 0},
		{0x01010000, 1},
		{0x01800000, 0}, // zero mantissa is not negative
		{0x02010000, 256},
		{0x0300ffff, 65535},
	}

	for x, test := range tests {
		n := CompactToBig(test.in)
		want := big.NewInt(test.out)
		if n.Cmp(want) != 0 {
			t.Errorf("TestCompactToBig test #%d failed: got %d want %d\n",
				x, n.Int64(), want.Int64())
			return
		}
	}
}

// TestCompactToBigWithFlags ensures the negative and overflow flags are
// reported the way the proof-of-work check needs them.
func TestCompactToBigWithFlags(t *testing.T) {
	tests := []struct {
		in         uint32
		isNegative bool
		isOverflow bool
	}{
		{0x01810000, true, false},
		{0x01010000, false, false},
		{0x23010000, false, true},  // exponent 35
		{0x22000100, false, true},  // mantissa > 0xff at exponent 34
		{0x21010000, false, true},  // mantissa > 0xffff at exponent 33
		{0x21000100, false, false}, // mantissa fits at exponent 33
		{0x20ffffff, true, false},  // sign bit set
	}

	for x, test := range tests {
		_, isNegative, isOverflow := CompactToBigWithFlags(test.in)
		if isNegative != test.isNegative {
			t.Errorf("TestCompactToBigWithFlags test #%d failed: "+
				"got negative %t want %t\n", x, isNegative, test.isNegative)
			return
		}
		if isOverflow != test.isOverflow {
			t.Errorf("TestCompactToBigWithFlags test #%d failed: "+
				"got overflow %t want %t\n", x, isOverflow, test.isOverflow)
			return
		}
	}
}

// TestCompactRoundTrip ensures that re-decoding a compact-encoded target
// yields a value no smaller than the original and within one unit in the
// last place of the encoding.
func TestCompactRoundTrip(t *testing.T) {
	tests := []string{
		"00000fffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
		"00ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
		"0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f",
		"000000000000000000000000000000000000000000000000000000000001ffff",
		"123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef0",
	}

	for x, hexStr := range tests {
		target, ok := new(big.Int).SetString(hexStr, 16)
		if !ok {
			t.Fatalf("malformed test #%d", x)
		}

		decoded := CompactToBig(BigToCompact(target))
		if decoded.Cmp(target) < 0 {
			t.Errorf("TestCompactRoundTrip test #%d failed: decoded %x "+
				"smaller than original %x\n", x, decoded, target)
			return
		}

		// One ULP of the encoding at this magnitude.
		exponent := uint(len(target.Bytes()))
		ulp := new(big.Int).Lsh(big.NewInt(1), 8*(exponent-3))
		diff := new(big.Int).Sub(decoded, target)
		if diff.Cmp(ulp) > 0 {
			t.Errorf("TestCompactRoundTrip test #%d failed: decoded %x "+
				"further than one ULP from original %x\n", x, decoded, target)
			return
		}
	}
}

// TestCalcWork ensures CalcWork calculates the expected work value from
// values in compact representation.
func TestCalcWork(t *testing.T) {
	tests := []struct {
		in  uint32
		out int64
	}{
		{10000000, 0},  // negative target
		{0x23010000, 0}, // overflowing target
		{0, 0},          // zero target
	}

	for x, test := range tests {
		r := CalcWork(test.in)
		if r.Int64() != test.out {
			t.Errorf("TestCalcWork test #%d failed: got %v want %d\n",
				x, r.Int64(), test.out)
			return
		}
	}

	// The full 256-bit target yields one expected hash, and work is
	// monotonically decreasing in the target.
	easy := CalcWork(0x2100ffff)
	hard := CalcWork(0x2000ffff)
	if easy.Cmp(hard) >= 0 {
		t.Errorf("TestCalcWork: work did not decrease with an easier target")
	}
}

// TestCheckProofOfWork ensures hashes are accepted and rejected against
// claimed targets per the range and comparison rules.
func TestCheckProofOfWork(t *testing.T) {
	powLimit, _ := new(big.Int).SetString(
		"00000fffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", 16)
	powLimitBits := BigToCompact(powLimit)

	var zeroHash chainhash.Hash
	var maxHash chainhash.Hash
	for i := range maxHash {
		maxHash[i] = 0xff
	}

	tests := []struct {
		name string
		hash *chainhash.Hash
		bits uint32
		want bool
	}{
		{"zero hash passes the limit", &zeroHash, powLimitBits, true},
		{"max hash fails the limit", &maxHash, powLimitBits, false},
		{"zero target rejected", &zeroHash, 0, false},
		{"negative target rejected", &zeroHash, 0x01810000, false},
		{"overflowing target rejected", &zeroHash, 0x23010000, false},
		{"target above limit rejected", &zeroHash, BigToCompact(new(big.Int).Lsh(powLimit, 1)), false},
	}

	for _, test := range tests {
		got := CheckProofOfWork(test.hash, test.bits, powLimit)
		if got != test.want {
			t.Errorf("TestCheckProofOfWork (%s): got %t want %t", test.name,
				got, test.want)
		}
	}
}
