// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/vesperanet/vesperad/chaincfg"
	"github.com/vesperanet/vesperad/util/chainhash"
	"github.com/vesperanet/vesperad/util/difficulty"
	"github.com/vesperanet/vesperad/wire"
)

// BlockIndex provides facilities for keeping track of an in-memory index of
// the header chain. The chain is kept in an arena ordered by height with a
// side map from hash to node, so lookups by height are direct reads.
//
// A BlockIndex is owned by a single goroutine; it performs no locking of its
// own.
type BlockIndex struct {
	params *chaincfg.Params

	// nodes is the arena of all accepted nodes ordered by height.
	nodes []*BlockNode

	// index maps a block hash to its node.
	index map[chainhash.Hash]*BlockNode
}

// NewBlockIndex returns a new instance of a block index seeded with the
// passed genesis header.
func NewBlockIndex(params *chaincfg.Params, genesis *wire.BlockHeader) *BlockIndex {
	bi := &BlockIndex{
		params: params,
		nodes:  make([]*BlockNode, 0, 1024),
		index:  make(map[chainhash.Hash]*BlockNode),
	}

	node := newBlockNode(genesis, nil)
	bi.nodes = append(bi.nodes, node)
	bi.index[node.hash] = node
	return bi
}

// newBlockNode returns a new block node for the given block header, linked to
// the passed parent (nil for the genesis block).
func newBlockNode(header *wire.BlockHeader, parent *BlockNode) *BlockNode {
	node := &BlockNode{
		hash:       header.BlockHash(),
		version:    header.Version,
		bits:       header.Bits,
		nonce:      header.Nonce,
		timestamp:  header.Timestamp.Unix(),
		merkleRoot: header.MerkleRoot,
		workSum:    difficulty.CalcWork(header.Bits),
	}
	if parent != nil {
		node.parent = parent
		node.height = parent.height + 1
		node.workSum = node.workSum.Add(parent.workSum, node.workSum)
	}
	return node
}

// AddHeader appends a header that extends the current tip and returns the new
// node. A RuleError with ErrPrevBlockMismatch is returned when the header
// doesn't connect, and ErrDuplicateBlock when it is already present.
func (bi *BlockIndex) AddHeader(header *wire.BlockHeader) (*BlockNode, error) {
	hash := header.BlockHash()
	if _, ok := bi.index[hash]; ok {
		return nil, ruleError(ErrDuplicateBlock, "already have block "+hash.String())
	}

	tip := bi.Tip()
	if !header.PrevBlock.IsEqual(tip.Hash()) {
		return nil, ruleError(ErrPrevBlockMismatch, "header "+hash.String()+
			" does not extend the current tip "+tip.Hash().String())
	}

	node := newBlockNode(header, tip)
	bi.nodes = append(bi.nodes, node)
	bi.index[hash] = node
	return node, nil
}

// Tip returns the current tip of the chain. There is always a tip since the
// index is seeded with the genesis header.
func (bi *BlockIndex) Tip() *BlockNode {
	return bi.nodes[len(bi.nodes)-1]
}

// Genesis returns the genesis node.
func (bi *BlockIndex) Genesis() *BlockNode {
	return bi.nodes[0]
}

// Height returns the height of the current tip.
func (bi *BlockIndex) Height() int64 {
	return bi.Tip().height
}

// NodeByHeight returns the node at the given height, or nil when the height
// is out of range.
func (bi *BlockIndex) NodeByHeight(height int64) *BlockNode {
	if height < 0 || height >= int64(len(bi.nodes)) {
		return nil
	}
	return bi.nodes[height]
}

// LookupNode returns the block node for the given hash. It returns nil and
// false if there is no entry for the hash.
func (bi *BlockIndex) LookupNode(hash *chainhash.Hash) (*BlockNode, bool) {
	node, ok := bi.index[*hash]
	return node, ok
}
