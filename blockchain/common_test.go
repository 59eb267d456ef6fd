// Copyright (c) 2014-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/vesperanet/vesperad/chaincfg"
	"github.com/vesperanet/vesperad/util/chainhash"
	"github.com/vesperanet/vesperad/wire"
)

// testGenesisTime is an arbitrary fixed timestamp for deterministic chains.
var testGenesisTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// cloneParams returns a private copy of the passed parameters so tests can
// mutate consensus fields freely.
func cloneParams(params *chaincfg.Params) *chaincfg.Params {
	cloned := *params
	return &cloned
}

// testMerkleRoot fabricates a unique merkle root so fabricated headers hash
// differently even with identical bits and timestamps.
func testMerkleRoot(height int64) chainhash.Hash {
	var root chainhash.Hash
	binary.LittleEndian.PutUint64(root[:8], uint64(height))
	return root
}

// testGenesisHeader fabricates a genesis header for the given parameters.
func testGenesisHeader(params *chaincfg.Params) *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:    1,
		MerkleRoot: testMerkleRoot(0),
		Timestamp:  testGenesisTime,
		Bits:       params.PowLimitBits,
	}
}

// nextTestHeader fabricates a header extending tip with the given bits and an
// ideal spacing timestamp.
func nextTestHeader(params *chaincfg.Params, tip *BlockNode, bits uint32) *wire.BlockHeader {
	height := tip.Height() + 1
	return &wire.BlockHeader{
		Version:    1,
		PrevBlock:  *tip.Hash(),
		MerkleRoot: testMerkleRoot(height),
		Timestamp:  testGenesisTime.Add(time.Duration(height) * params.TargetTimePerBlock),
		Bits:       bits,
	}
}

// buildTestIndex builds a block index holding count blocks on top of a
// fabricated genesis, all at the given bits with ideal spacing.
func buildTestIndex(t *testing.T, params *chaincfg.Params, count int64, bits uint32) *BlockIndex {
	t.Helper()

	index := NewBlockIndex(params, testGenesisHeader(params))
	for i := int64(0); i < count; i++ {
		_, err := index.AddHeader(nextTestHeader(params, index.Tip(), bits))
		if err != nil {
			t.Fatalf("AddHeader at height %d: %v", i+1, err)
		}
	}
	return index
}
