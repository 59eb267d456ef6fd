// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/vesperanet/vesperad/chaincfg"
	"github.com/vesperanet/vesperad/util/difficulty"
)

// compactSlack is the absolute tolerance, added to and subtracted from the
// decoded expected target, applied when comparing an observed target against
// the expected window retarget. It absorbs compact-encoding rounding and early-window
// variance at activation boundaries.
var compactSlack = big.NewInt(4)

// RetargetWindow tracks the sliding window of difficulty samples a streamed
// header chain produces, and checks each difficulty transition against the
// averaging-window retarget rule without access to a block index.
//
// Two bounded FIFOs are kept: the last window compact targets and the last
// window+1 median-time-past values. The extra median sample yields the first
// endpoint of the window timespan.
type RetargetWindow struct {
	params *chaincfg.Params

	recentBits []uint32
	recentMTP  []int64
	mtpTracker *MedianTimeTracker
}

// NewRetargetWindow returns an empty retarget window for the given network
// parameters.
func NewRetargetWindow(params *chaincfg.Params) *RetargetWindow {
	return &RetargetWindow{
		params:     params,
		recentBits: make([]uint32, 0, params.PowAveragingWindow),
		recentMTP:  make([]int64, 0, params.PowAveragingWindow+1),
		mtpTracker: NewMedianTimeTracker(),
	}
}

// Reset empties all sample buffers.
func (w *RetargetWindow) Reset() {
	w.recentBits = w.recentBits[:0]
	w.recentMTP = w.recentMTP[:0]
	w.mtpTracker.Reset()
}

// Push records the compact target and timestamp of an accepted header. The
// median time past is derived from the window of timestamps pushed so far,
// the candidate included.
func (w *RetargetWindow) Push(bits uint32, timestamp int64) {
	mtp := w.mtpTracker.Push(timestamp)

	w.recentBits = append(w.recentBits, bits)
	w.recentMTP = append(w.recentMTP, mtp)

	window := int(w.params.PowAveragingWindow)
	for len(w.recentBits) > window {
		w.recentBits = w.recentBits[1:]
	}
	for len(w.recentMTP) > window+1 {
		w.recentMTP = w.recentMTP[1:]
	}
}

// IsWarmedUp returns whether enough samples have been pushed for the window
// retarget to be meaningful.
func (w *RetargetWindow) IsWarmedUp() bool {
	return int64(len(w.recentBits)) >= w.params.PowAveragingWindow &&
		int64(len(w.recentMTP)) >= w.params.PowAveragingWindow+1
}

// expectedBits computes the averaging-window retarget over the current
// sample buffers. The window must be warmed up.
func (w *RetargetWindow) expectedBits() uint32 {
	total := new(big.Int)
	for _, bits := range w.recentBits {
		total.Add(total, difficulty.CompactToBig(bits))
	}
	avgTarget := total.Div(total, big.NewInt(w.params.PowAveragingWindow))

	lastMTP := w.recentMTP[len(w.recentMTP)-1]
	firstMTP := w.recentMTP[0]

	return calcNextRequiredDifficultyWindow(avgTarget, lastMTP, firstMTP, w.params)
}

// CheckTransition decides whether a single header transition is admissible.
// prevBits and prevTime belong to the last accepted header, nextBits and
// nextTime to the candidate, and nextHeight is the candidate's height. A nil
// return means the transition is acceptable.
//
// The policy, in order: accept while the window is warming up; accept inside
// the activation transition window so peers on the legacy rule still
// interoperate; apply the post-activation min-difficulty rule when enabled;
// otherwise require the observed target to be within slack of the window
// retarget, falling back to the envelope of transitions the legacy rule
// permits before rejecting.
func (w *RetargetWindow) CheckTransition(prevBits, nextBits uint32,
	nextTime, prevTime, nextHeight int64) error {

	if !w.IsWarmedUp() {
		return nil
	}

	if nextHeight <= w.params.NewPowDiffHeight+w.params.PowAveragingWindow {
		return nil
	}

	// Handle the special min-difficulty after long delay rule, if enabled.
	if w.params.PowAllowMinDifficultyBlocksAfterHeight != nil &&
		nextHeight-1 >= *w.params.PowAllowMinDifficultyBlocksAfterHeight {

		spacing := int64(w.params.TargetTimePerBlock / time.Second)
		if nextTime > prevTime+spacing*6 {
			// The only acceptable bits in this case is the proof-of-work
			// limit.
			if nextBits == w.params.PowLimitBits {
				return nil
			}
			return ruleError(ErrUnexpectedDifficulty, fmt.Sprintf(
				"block at height %d after a long delay has bits %08x, "+
					"expected the proof-of-work limit %08x", nextHeight,
				nextBits, w.params.PowLimitBits))
		}
	}

	expectedCompact := w.expectedBits()
	expectedTarget := difficulty.CompactToBig(expectedCompact)
	observedTarget := difficulty.CompactToBig(nextBits)

	minTarget := new(big.Int).Sub(expectedTarget, compactSlack)
	if minTarget.Sign() < 0 {
		minTarget.SetInt64(0)
	}
	maxTarget := new(big.Int).Add(expectedTarget, compactSlack)

	if observedTarget.Cmp(minTarget) >= 0 && observedTarget.Cmp(maxTarget) <= 0 {
		return nil
	}

	// Not within slack of the window retarget. Transitions the legacy rule
	// could produce remain acceptable across the activation boundary.
	if PermittedDifficultyTransition(w.params, nextHeight, prevBits, nextBits) {
		return nil
	}

	if observedTarget.Cmp(minTarget) < 0 {
		return ruleError(ErrDifficultyTooHigh, fmt.Sprintf(
			"difficulty too hard: height=%d observed=%08x expected=%08x "+
				"mtpLast=%d mtpFirst=%d window=[%s]", nextHeight, nextBits,
			expectedCompact, w.recentMTP[len(w.recentMTP)-1], w.recentMTP[0],
			w.formatRecentBits()))
	}
	return ruleError(ErrDifficultyTooLow, fmt.Sprintf(
		"difficulty too easy: height=%d observed=%08x expected=%08x "+
			"mtpLast=%d mtpFirst=%d window=[%s]", nextHeight, nextBits,
		expectedCompact, w.recentMTP[len(w.recentMTP)-1], w.recentMTP[0],
		w.formatRecentBits()))
}

// formatRecentBits renders the bits window for rejection diagnostics.
func (w *RetargetWindow) formatRecentBits() string {
	entries := make([]string, 0, len(w.recentBits))
	for _, bits := range w.recentBits {
		entries = append(entries, fmt.Sprintf("%08x", bits))
	}
	return strings.Join(entries, " ")
}
