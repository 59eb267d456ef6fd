// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"sort"
)

// MedianTimeBlocks is the number of previous blocks used to calculate the
// median time past of a block.
const MedianTimeBlocks = 11

// MedianTimeTracker maintains the median of a sliding window of the last
// MedianTimeBlocks header timestamps fed to it. It is used by the headers
// sync engine to track the median time past of a streamed header chain
// without access to a block index.
//
// The candidate time takes part in its own median: Push appends the time to
// the window first and only then takes the median. This matches the way the
// median time past of a block includes the block's own timestamp, and must be
// preserved to reproduce identical admissibility decisions.
type MedianTimeTracker struct {
	times []int64
}

// NewMedianTimeTracker returns a new median time tracker with an empty
// window.
func NewMedianTimeTracker() *MedianTimeTracker {
	return &MedianTimeTracker{
		times: make([]int64, 0, MedianTimeBlocks),
	}
}

// Push adds a timestamp to the window, evicting the oldest entry when the
// window is over capacity, and returns the median of the entries present.
// For fewer entries than the full window the median of the available set is
// returned, without padding.
func (m *MedianTimeTracker) Push(timestamp int64) int64 {
	m.times = append(m.times, timestamp)
	if len(m.times) > MedianTimeBlocks {
		m.times = m.times[1:]
	}
	return m.median()
}

// median returns the median of the currently present entries. The window is
// never empty when this is called from Push.
func (m *MedianTimeTracker) median() int64 {
	sorted := make([]int64, len(m.times))
	copy(sorted, m.times)
	sort.Sort(timeSorter(sorted))
	return sorted[len(sorted)/2]
}

// Reset empties the window.
func (m *MedianTimeTracker) Reset() {
	m.times = m.times[:0]
}

// Len returns the number of entries currently in the window.
func (m *MedianTimeTracker) Len() int {
	return len(m.times)
}
