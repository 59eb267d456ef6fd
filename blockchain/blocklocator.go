// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/vesperanet/vesperad/util/chainhash"
)

// BlockLocator is used to help locate a specific block. The algorithm for
// building the block locator is to add block hashes in reverse order until
// the genesis block is reached. In order to keep the list of locator hashes
// to a reasonable number of entries, the first 11 entries are consecutive
// blocks and after that the step between entries doubles each loop iteration
// to exponentially decrease the number of hashes as a function of the
// distance from the block being located.
//
// For example, assume a block chain as depicted below:
// 	genesis -> 1 -> 2 -> ... -> 15 -> 16 -> 17 -> 18
//
// The block locator for block 17 would be the hashes of blocks:
// [17 16 15 14 13 12 11 10 9 8 7 6 4 genesis]
type BlockLocator []chainhash.Hash

// LocatorEntries returns a block locator for the passed block node. See the
// BlockLocator type comments for more details.
//
// This function is safe for concurrent access.
func LocatorEntries(node *BlockNode) BlockLocator {
	if node == nil {
		return nil
	}

	locator := make(BlockLocator, 0, 32)
	step := int64(1)
	for node != nil {
		locator = append(locator, node.hash)

		// Nothing more to add once the genesis block has been added.
		if node.height == 0 {
			break
		}

		// Calculate height of previous node to include ensuring the
		// final node is the genesis block.
		height := node.height - step
		if height < 0 {
			height = 0
		}

		// Walk backwards through the nodes to the correct ancestor.
		node = node.Ancestor(height)

		// Once 11 entries have been included, start doubling the
		// distance between included hashes.
		if len(locator) > 10 {
			step *= 2
		}
	}

	return locator
}
