package main

import (
	"encoding/binary"
	"time"

	"github.com/vesperanet/vesperad/chaincfg"
	"github.com/vesperanet/vesperad/util/chainhash"
	utilmath "github.com/vesperanet/vesperad/util/math"
	"github.com/vesperanet/vesperad/wire"
)

// simulatedChain is a fabricated header chain a simulated peer serves. All
// headers carry the proof-of-work limit as their target with ideal spacing,
// which every difficulty rule accepts, so no actual mining is needed: the
// sync engine never checks the hash against the target, only the difficulty
// transitions.
type simulatedChain struct {
	params  *chaincfg.Params
	genesis wire.BlockHeader
	headers []*wire.BlockHeader
	byHash  map[chainhash.Hash]int
}

// newSimulatedChain fabricates a chain of count headers on top of a genesis
// header.
func newSimulatedChain(params *chaincfg.Params, count int) *simulatedChain {
	genesisTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	genesis := wire.BlockHeader{
		Version:    1,
		MerkleRoot: merkleForHeight(0),
		Timestamp:  genesisTime,
		Bits:       params.PowLimitBits,
	}

	chain := &simulatedChain{
		params:  params,
		genesis: genesis,
		headers: make([]*wire.BlockHeader, 0, count),
		byHash:  make(map[chainhash.Hash]int, count+1),
	}
	chain.byHash[genesis.BlockHash()] = -1

	prevHash := genesis.BlockHash()
	for height := 1; height <= count; height++ {
		header := &wire.BlockHeader{
			Version:    1,
			PrevBlock:  prevHash,
			MerkleRoot: merkleForHeight(height),
			Timestamp:  genesisTime.Add(time.Duration(height) * params.TargetTimePerBlock),
			Bits:       params.PowLimitBits,
		}
		chain.headers = append(chain.headers, header)
		prevHash = header.BlockHash()
		chain.byHash[prevHash] = height - 1
	}
	return chain
}

// merkleForHeight fabricates a unique merkle root per height so every header
// hash is distinct.
func merkleForHeight(height int) chainhash.Hash {
	var root chainhash.Hash
	binary.LittleEndian.PutUint64(root[:8], uint64(height))
	return root
}

// forgeAt rebuilds the chain from the given height on with a different header
// at that height, the way an adversary serving a divergent chain during
// redownload would. Continuity and difficulty rules still hold on the forged
// chain, so only the commitment check can catch the divergence.
func (c *simulatedChain) forgeAt(height int) {
	idx := height - 1
	forged := *c.headers[idx]
	forged.Nonce++
	c.headers[idx] = &forged

	prevHash := forged.BlockHash()
	c.byHash[prevHash] = idx
	for i := idx + 1; i < len(c.headers); i++ {
		rebuilt := *c.headers[i]
		rebuilt.PrevBlock = prevHash
		c.headers[i] = &rebuilt
		prevHash = rebuilt.BlockHash()
		c.byHash[prevHash] = i
	}
}

// headersAfter serves up to batchSize headers following the given block
// hash, mimicking a headers message response to a locator. The bool result
// reports whether the hash is known at all.
func (c *simulatedChain) headersAfter(hash *chainhash.Hash, batchSize int) ([]*wire.BlockHeader, bool) {
	idx, ok := c.byHash[*hash]
	if !ok {
		return nil, false
	}
	start := idx + 1
	end := utilmath.MinInt(start+batchSize, len(c.headers))
	return c.headers[start:end], true
}
