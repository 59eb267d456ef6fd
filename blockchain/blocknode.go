// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"
	"sort"
	"time"

	"github.com/vesperanet/vesperad/util/chainhash"
	"github.com/vesperanet/vesperad/wire"
)

// BlockNode represents a block within the block chain. The chain is stored
// into the block index.
type BlockNode struct {
	// parent is the parent block for this node.
	parent *BlockNode

	// hash is the double sha 256 of the block.
	hash chainhash.Hash

	// workSum is the total amount of work in the chain up to and including
	// this node.
	workSum *big.Int

	// height is the position in the block chain.
	height int64

	// Some fields from block headers to aid in reconstructing headers
	// from memory. These must be treated as immutable and are intentionally
	// ordered to avoid padding on 64-bit platforms.
	version    int32
	bits       uint32
	nonce      uint32
	timestamp  int64
	merkleRoot chainhash.Hash
}

// Hash returns the hash of the block this node represents.
func (node *BlockNode) Hash() *chainhash.Hash {
	return &node.hash
}

// Height returns the position of the block in the chain.
func (node *BlockNode) Height() int64 {
	return node.height
}

// Bits returns the compact difficulty target of the block.
func (node *BlockNode) Bits() uint32 {
	return node.bits
}

// Timestamp returns the unix time the block was created.
func (node *BlockNode) Timestamp() int64 {
	return node.timestamp
}

// WorkSum returns the total amount of work in the chain up to and including
// this node.
func (node *BlockNode) WorkSum() *big.Int {
	return node.workSum
}

// Parent returns the parent node, or nil for the genesis block.
func (node *BlockNode) Parent() *BlockNode {
	return node.parent
}

// Header constructs a block header from the node and returns it.
//
// This function is safe for concurrent access.
func (node *BlockNode) Header() wire.BlockHeader {
	// No lock is needed because all accessed fields are immutable.
	prevHash := &chainhash.Hash{}
	if node.parent != nil {
		prevHash = &node.parent.hash
	}
	return wire.BlockHeader{
		Version:    node.version,
		PrevBlock:  *prevHash,
		MerkleRoot: node.merkleRoot,
		Timestamp:  time.Unix(node.timestamp, 0),
		Bits:       node.bits,
		Nonce:      node.nonce,
	}
}

// Ancestor returns the ancestor block node at the provided height by
// following the chain backwards from this node. The returned block will be
// nil when a height is requested that is after the height of the passed node
// or is less than zero.
//
// This function is safe for concurrent access.
func (node *BlockNode) Ancestor(height int64) *BlockNode {
	if height < 0 || height > node.height {
		return nil
	}

	n := node
	for ; n != nil && n.height != height; n = n.parent {
		// Intentionally left blank
	}

	return n
}

// RelativeAncestor returns the ancestor block node a relative 'distance'
// blocks before this node. This is equivalent to calling Ancestor with the
// node's height minus provided distance.
//
// This function is safe for concurrent access.
func (node *BlockNode) RelativeAncestor(distance int64) *BlockNode {
	return node.Ancestor(node.height - distance)
}

// CalcPastMedianTime calculates the median time of the previous few blocks
// prior to, and including, the block node.
//
// This function is safe for concurrent access.
func (node *BlockNode) CalcPastMedianTime() int64 {
	// Create a slice of the previous few block timestamps used to calculate
	// the median per the number defined by the constant MedianTimeBlocks.
	// When there aren't enough blocks yet the median is taken over the
	// available set without padding.
	timestamps := make([]int64, 0, MedianTimeBlocks)
	iterNode := node
	for i := 0; i < MedianTimeBlocks && iterNode != nil; i++ {
		timestamps = append(timestamps, iterNode.timestamp)
		iterNode = iterNode.parent
	}

	sort.Sort(timeSorter(timestamps))

	return timestamps[len(timestamps)/2]
}

// timeSorter implements sort.Interface to allow a slice of timestamps to
// be sorted.
type timeSorter []int64

// Len returns the number of timestamps in the slice. It is part of the
// sort.Interface implementation.
func (s timeSorter) Len() int {
	return len(s)
}

// Swap swaps the timestamps at the passed indices. It is part of the
// sort.Interface implementation.
func (s timeSorter) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

// Less returns whether the timestamp with index i should sort before the
// timestamp with index j. It is part of the sort.Interface implementation.
func (s timeSorter) Less(i, j int) bool {
	return s[i] < s[j]
}
