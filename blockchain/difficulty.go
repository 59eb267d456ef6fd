// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"
	"time"

	"github.com/vesperanet/vesperad/chaincfg"
	"github.com/vesperanet/vesperad/util/difficulty"
)

// calcNextRequiredDifficultyWindow calculates the required difficulty for the
// next block from the average target over the averaging window and the median
// time past at both ends of the window.
//
// The actual timespan between the two medians is damped by a quarter-weighted
// deviation from the ideal window timespan, limiting the per-retarget
// influence of adversarial timestamp manipulation, and then clamped to the
// configured adjustment bounds.
func calcNextRequiredDifficultyWindow(avgTarget *big.Int, lastMTP, firstMTP int64,
	params *chaincfg.Params) uint32 {

	averagingWindowTimespan := params.AveragingWindowTimespan()
	minActualTimespan := params.MinActualTimespan()
	maxActualTimespan := params.MaxActualTimespan()

	// Limit adjustment step. Use medians to prevent time-warp attacks.
	actualTimespan := lastMTP - firstMTP
	actualTimespan = averagingWindowTimespan + (actualTimespan-averagingWindowTimespan)/4

	if actualTimespan < minActualTimespan {
		actualTimespan = minActualTimespan
	}
	if actualTimespan > maxActualTimespan {
		actualTimespan = maxActualTimespan
	}

	// Retarget.
	newTarget := new(big.Int).Set(avgTarget)
	newTarget.Div(newTarget, big.NewInt(averagingWindowTimespan))
	newTarget.Mul(newTarget, big.NewInt(actualTimespan))

	if newTarget.Cmp(params.PowLimit) > 0 {
		newTarget.Set(params.PowLimit)
	}

	return difficulty.BigToCompact(newTarget)
}

// calcLegacyRetarget calculates the required difficulty for the block at
// nextHeight using the legacy per-interval rule, given the last block's bits
// and the actual timespan observed between the first and last blocks of the
// interval.
//
// The timespan clamp tightens with height: [T/16, 4T] below 5000, [T/8, 4T]
// up to 10000 and [T/4, 4T] above that, where T is the target timespan.
func calcLegacyRetarget(lastBits uint32, nextHeight int64, lastTime, firstTime int64,
	params *chaincfg.Params) uint32 {

	retargetTimespan := int64(params.TargetTimespan / time.Second)
	actualTimespan := lastTime - firstTime
	modulatedTimespan := actualTimespan

	var minTimespan, maxTimespan int64
	switch {
	case nextHeight > 10000:
		minTimespan = retargetTimespan / 4
		maxTimespan = retargetTimespan * 4
	case nextHeight > 5000:
		minTimespan = retargetTimespan / 8
		maxTimespan = retargetTimespan * 4
	default:
		minTimespan = retargetTimespan / 16
		maxTimespan = retargetTimespan * 4
	}

	// Limit adjustment step.
	if modulatedTimespan < minTimespan {
		modulatedTimespan = minTimespan
	} else if modulatedTimespan > maxTimespan {
		modulatedTimespan = maxTimespan
	}

	// Retarget.
	newTarget := difficulty.CompactToBig(lastBits)
	newTarget.Mul(newTarget, big.NewInt(modulatedTimespan))
	newTarget.Div(newTarget, big.NewInt(retargetTimespan))

	if newTarget.Cmp(params.PowLimit) > 0 {
		newTarget.Set(params.PowLimit)
	}

	return difficulty.BigToCompact(newTarget)
}

// getNextWorkRequiredLegacy calculates the required difficulty for the block
// after lastNode under the legacy per-interval rule.
func getNextWorkRequiredLegacy(lastNode *BlockNode, newBlockTime int64,
	params *chaincfg.Params) uint32 {

	// Genesis block.
	if lastNode == nil {
		return params.PowLimitBits
	}

	interval := params.DifficultyAdjustmentInterval()
	nextHeight := lastNode.height + 1

	// Only change once per difficulty adjustment interval.
	if nextHeight%interval != 0 {
		if params.PowAllowMinDifficultyBlocks {
			// Special difficulty rule for testnet:
			// if the new block's timestamp is more than four spacings
			// then allow mining of a min-difficulty block.
			spacing := int64(params.TargetTimePerBlock / time.Second)
			if newBlockTime > lastNode.timestamp+spacing*4 {
				return params.PowLimitBits
			}

			// Return the difficulty of the last block that didn't
			// have the special rule applied.
			iterNode := lastNode
			for iterNode.parent != nil && iterNode.height%interval != 0 &&
				iterNode.bits == params.PowLimitBits {

				iterNode = iterNode.parent
			}
			return iterNode.bits
		}
		return lastNode.bits
	}

	// Go back the full interval, unless it's the first retarget after
	// genesis, to prevent a 51% attacker from shifting the interval
	// boundary at will.
	blocksToGoBack := interval - 1
	if nextHeight != interval {
		blocksToGoBack = interval
	}

	firstNode := lastNode.Ancestor(lastNode.height - blocksToGoBack)
	if firstNode == nil {
		return params.PowLimitBits
	}

	return calcLegacyRetarget(lastNode.bits, nextHeight, lastNode.timestamp,
		firstNode.timestamp, params)
}

// getNextWorkRequiredWindow calculates the required difficulty for the block
// after lastNode under the averaging-window rule.
func getNextWorkRequiredWindow(lastNode *BlockNode, newBlockTime int64,
	params *chaincfg.Params) uint32 {

	// Genesis block.
	if lastNode == nil {
		return params.PowLimitBits
	}

	// Regtest.
	if params.PowNoRetargeting {
		return lastNode.bits
	}

	// Special difficulty rule for testnet: once activated, a block whose
	// timestamp is more than six spacings after its parent may be mined at
	// minimum difficulty. Comparing lastNode.height with >= because this
	// function returns the work required for the block after lastNode.
	if params.PowAllowMinDifficultyBlocksAfterHeight != nil &&
		lastNode.height >= *params.PowAllowMinDifficultyBlocksAfterHeight {

		spacing := int64(params.TargetTimePerBlock / time.Second)
		if newBlockTime > lastNode.timestamp+spacing*6 {
			return params.PowLimitBits
		}
	}

	// Sum the targets over the averaging window, walking back from
	// lastNode.
	firstNode := lastNode
	total := new(big.Int)
	for i := int64(0); firstNode != nil && i < params.PowAveragingWindow; i++ {
		total.Add(total, difficulty.CompactToBig(firstNode.bits))
		firstNode = firstNode.parent
	}

	// Not enough blocks for a full window.
	if firstNode == nil {
		return params.PowLimitBits
	}

	avgTarget := total.Div(total, big.NewInt(params.PowAveragingWindow))

	return calcNextRequiredDifficultyWindow(avgTarget,
		lastNode.CalcPastMedianTime(), firstNode.CalcPastMedianTime(), params)
}

// GetNextWorkRequired calculates the required difficulty for the block after
// lastNode. Blocks at or below the activation height use the legacy
// per-interval rule; later blocks use the averaging-window rule.
//
// This function is safe for concurrent access.
func GetNextWorkRequired(lastNode *BlockNode, newBlockTime int64,
	params *chaincfg.Params) uint32 {

	if lastNode == nil || lastNode.height < params.NewPowDiffHeight {
		return getNextWorkRequiredLegacy(lastNode, newBlockTime, params)
	}
	return getNextWorkRequiredWindow(lastNode, newBlockTime, params)
}

// CalcNextRequiredDifficulty calculates the required difficulty for the
// block after the current tip of the index.
func (bi *BlockIndex) CalcNextRequiredDifficulty(newBlockTime int64) uint32 {
	return GetNextWorkRequired(bi.Tip(), newBlockTime, bi.params)
}

// PermittedDifficultyTransition returns whether the difficulty transition
// from oldBits to newBits at the given height is within the envelope the
// legacy rule could ever produce. On a retarget boundary the new target must
// lie within [old/4 .. old*4] of the old target (after capping at the
// proof-of-work limit and re-rounding through the compact encoding); off a
// boundary the bits must not change at all.
func PermittedDifficultyTransition(params *chaincfg.Params, height int64,
	oldBits, newBits uint32) bool {

	if params.PowAllowMinDifficultyBlocks {
		return true
	}

	if height%params.DifficultyAdjustmentInterval() == 0 {
		retargetTimespan := int64(params.TargetTimespan / time.Second)
		smallestTimespan := retargetTimespan / 4
		largestTimespan := retargetTimespan * 4

		observedNewTarget := difficulty.CompactToBig(newBits)

		// Calculate the largest difficulty value possible.
		largestDifficultyTarget := difficulty.CompactToBig(oldBits)
		largestDifficultyTarget.Mul(largestDifficultyTarget, big.NewInt(largestTimespan))
		largestDifficultyTarget.Div(largestDifficultyTarget, big.NewInt(retargetTimespan))

		if largestDifficultyTarget.Cmp(params.PowLimit) > 0 {
			largestDifficultyTarget.Set(params.PowLimit)
		}

		// Round and then compare this new calculated value to what is
		// observed.
		maximumNewTarget := difficulty.CompactToBig(difficulty.BigToCompact(largestDifficultyTarget))
		if maximumNewTarget.Cmp(observedNewTarget) < 0 {
			return false
		}

		// Calculate the smallest difficulty value possible.
		smallestDifficultyTarget := difficulty.CompactToBig(oldBits)
		smallestDifficultyTarget.Mul(smallestDifficultyTarget, big.NewInt(smallestTimespan))
		smallestDifficultyTarget.Div(smallestDifficultyTarget, big.NewInt(retargetTimespan))

		if smallestDifficultyTarget.Cmp(params.PowLimit) > 0 {
			smallestDifficultyTarget.Set(params.PowLimit)
		}

		// Round and then compare this new calculated value to what is
		// observed.
		minimumNewTarget := difficulty.CompactToBig(difficulty.BigToCompact(smallestDifficultyTarget))
		if minimumNewTarget.Cmp(observedNewTarget) > 0 {
			return false
		}
	} else if oldBits != newBits {
		return false
	}
	return true
}
