package headerssync

import (
	"math/big"
	"time"

	"github.com/vesperanet/vesperad/blockchain"
	"github.com/vesperanet/vesperad/chaincfg"
	"github.com/vesperanet/vesperad/util/chainhash"
	"github.com/vesperanet/vesperad/util/difficulty"
	utilmath "github.com/vesperanet/vesperad/util/math"
	"github.com/vesperanet/vesperad/util/random"
	"github.com/vesperanet/vesperad/wire"
)

const (
	// headerCommitmentPeriod is the stride, in blocks, at which one
	// commitment bit is sampled during the presync phase.
	headerCommitmentPeriod = 600

	// redownloadBufferSize is the number of headers that must be received
	// on top of a redownloaded header, and validated against commitments,
	// before it is fed to validation. 12330/600 = ~20.6 commitments.
	redownloadBufferSize = 12330
)

// PeerID identifies the peer a sync instance serves.
type PeerID int64

// State represents the phase a sync instance is in.
type State int

const (
	// StatePresync is the initial phase: headers are minimally validated
	// and sampled for commitments while total work accumulates, but
	// nothing is buffered.
	StatePresync State = iota

	// StateRedownload is the second phase: the same headers are received
	// again, verified against the stored commitments, buffered, and
	// released in order.
	StateRedownload

	// StateFinal is the terminal phase: all buffers are released and the
	// instance is no longer usable.
	StateFinal
)

// String returns the state as a human-readable string.
func (s State) String() string {
	switch s {
	case StatePresync:
		return "presync"
	case StateRedownload:
		return "redownload"
	case StateFinal:
		return "final"
	}
	return "unknown"
}

// ProcessingResult is the outcome of processing one headers message.
type ProcessingResult struct {
	// Success is false when the peer violated the protocol and should be
	// severed.
	Success bool

	// RequestMore is true when the caller should request more headers
	// using NextHeadersRequestLocator.
	RequestMore bool

	// PowValidatedHeaders are headers that passed the redownload
	// commitment checks and are ready for downstream acceptance, in the
	// order they were received from the peer.
	PowValidatedHeaders []*wire.BlockHeader
}

// HeadersSyncState tracks the headers-sync progress of a single peer during
// the node's initial block download.
//
// The engine protects the node from memory exhaustion by an adversarial peer:
// during presync it validates difficulty transitions and accumulates claimed
// work while storing only one salted bit per headerCommitmentPeriod headers;
// only once the claimed work crosses the required threshold are the headers
// downloaded a second time, checked against the stored bits, and handed to
// validation.
//
// An instance is owned by a single peer goroutine and must not be shared.
type HeadersSyncState struct {
	id     PeerID
	params *chaincfg.Params

	// chainStart is the local block the peer's chain must extend.
	chainStart *blockchain.BlockNode

	// minimumRequiredWork is the work threshold the peer's chain must
	// cross before any of it is fed to validation.
	minimumRequiredWork *big.Int

	// commitOffset is the offset within each commitment period at which a
	// bit is sampled. Drawn at random so a peer cannot precompute which
	// heights will be sampled.
	commitOffset uint64

	hasher *saltedHasher
	state  State

	// Presync phase fields.
	currentChainWork   *big.Int
	lastHeaderReceived wire.BlockHeader
	lastHeaderHash     chainhash.Hash
	currentHeight      int64
	headerCommitments  bitFIFO
	maxCommitments     uint64

	// Redownload phase fields.
	redownloadedHeaders           []compressedHeader
	redownloadChainWork           *big.Int
	redownloadBufferLastHeight    int64
	redownloadBufferLastHash      chainhash.Hash
	redownloadBufferFirstPrevHash chainhash.Hash
	processAllRemainingHeaders    bool

	// retargetWindow mirrors the sliding difficulty window of whichever
	// header stream is currently being consumed.
	retargetWindow *blockchain.RetargetWindow
}

// New creates a sync instance for the given peer. chainStart is the local tip
// the peer must extend; it needs at least window+1+MedianTimeBlocks ancestors
// for the difficulty checks to warm up from real history.
func New(id PeerID, params *chaincfg.Params, chainStart *blockchain.BlockNode,
	minimumRequiredWork *big.Int) (*HeadersSyncState, error) {

	return newHeadersSyncState(id, params, chainStart, minimumRequiredWork,
		time.Now())
}

// newHeadersSyncState constructs an instance against an explicit wall-clock
// reading so the commitment memory bound is testable.
func newHeadersSyncState(id PeerID, params *chaincfg.Params,
	chainStart *blockchain.BlockNode, minimumRequiredWork *big.Int,
	now time.Time) (*HeadersSyncState, error) {

	commitOffset, err := random.Uint64Range(headerCommitmentPeriod)
	if err != nil {
		return nil, err
	}
	hasher, err := newSaltedHasher()
	if err != nil {
		return nil, err
	}

	state := &HeadersSyncState{
		id:                  id,
		params:              params,
		chainStart:          chainStart,
		minimumRequiredWork: minimumRequiredWork,
		commitOffset:        commitOffset,
		hasher:              hasher,
		state:               StatePresync,
		currentChainWork:    new(big.Int).Set(chainStart.WorkSum()),
		lastHeaderReceived:  chainStart.Header(),
		lastHeaderHash:      *chainStart.Hash(),
		currentHeight:       chainStart.Height(),
		retargetWindow:      blockchain.NewRetargetWindow(params),
	}

	// Estimate the number of blocks that could possibly exist on the
	// peer's chain right now, using six blocks per second (the fastest
	// block rate the median-time-past rule allows) times the seconds from
	// the last allowed block until today. This bounds how many commitments
	// this peer can make us store: a consensus-valid chain cannot be
	// longer than this at the current time, so exceeding the bound is
	// proof of a hostile peer.
	maxFutureSeconds := int64(params.MaxFutureBlockTime / time.Second)
	horizon := utilmath.MaxInt64(
		now.Unix()-chainStart.CalcPastMedianTime()+maxFutureSeconds, 0)
	state.maxCommitments = uint64(6 * horizon / headerCommitmentPeriod)

	log.Debugf("Initial headers sync started with peer=%d: height=%d, "+
		"max_commitments=%d, min_work=%s", id, state.currentHeight,
		state.maxCommitments, minimumRequiredWork)

	// Prefill the retarget buffers so the first received headers can
	// immediately be checked against real history.
	state.resetRetargetBuffersToChainStart()

	return state, nil
}

// State returns the phase the instance is currently in.
func (hss *HeadersSyncState) State() State {
	return hss.state
}

// CurrentHeight returns the height of the last header received during
// presync.
func (hss *HeadersSyncState) CurrentHeight() int64 {
	return hss.currentHeight
}

// CurrentChainWork returns the claimed total work of the peer's chain up to
// the last header received during presync.
func (hss *HeadersSyncState) CurrentChainWork() *big.Int {
	return new(big.Int).Set(hss.currentChainWork)
}

// Finalize frees all memory in use and marks the instance as no longer
// usable. It is idempotent and safe to call in any phase. The salted hasher
// is never reused: a new sync requires a new instance with a fresh salt.
func (hss *HeadersSyncState) Finalize() {
	hss.headerCommitments.clear()
	hss.lastHeaderReceived = wire.BlockHeader{}
	hss.lastHeaderHash.SetNull()
	hss.redownloadedHeaders = nil
	hss.redownloadBufferLastHash.SetNull()
	hss.redownloadBufferFirstPrevHash.SetNull()
	hss.processAllRemainingHeaders = false
	hss.currentHeight = 0
	hss.retargetWindow.Reset()

	hss.state = StateFinal
}

// ProcessNextHeaders processes the next message of headers received from the
// peer. fullHeadersMessage indicates whether the message carried the protocol
// maximum number of headers, meaning the peer may have more to give.
//
// On any protocol violation the instance finalizes itself and the returned
// result has Success false; the caller is expected to sever the peer.
func (hss *HeadersSyncState) ProcessNextHeaders(receivedHeaders []*wire.BlockHeader,
	fullHeadersMessage bool) ProcessingResult {

	var ret ProcessingResult

	// The caller should neither hand us an empty message nor use a
	// finalized instance.
	if len(receivedHeaders) == 0 || hss.state == StateFinal {
		return ret
	}

	switch hss.state {
	case StatePresync:
		// During presync, minimally validate block headers and
		// occasionally sample commitments from them, until the work
		// threshold is reached (at which point the state is updated to
		// redownload).
		ret.Success = hss.validateAndStoreHeadersCommitments(receivedHeaders)
		if ret.Success {
			if fullHeadersMessage || hss.state == StateRedownload {
				// A full headers message means the peer may have more to
				// give; also if we just switched to redownload we need to
				// re-request headers from the beginning.
				ret.RequestMore = true
			} else {
				// A non-full message during presync means the peer's chain
				// ended and definitely doesn't have enough work, so the
				// sync can stop. Not a protocol violation.
				log.Debugf("Initial headers sync aborted with peer=%d: "+
					"incomplete headers message at height=%d (presync phase)",
					hss.id, hss.currentHeight)
			}
		}

	case StateRedownload:
		// During redownload, compare the stored commitments to what is
		// received, and buffer the headers. Once the buffer grows past its
		// size (meaning enough commitments have been checked), headers are
		// returned to the caller for processing.
		ret.Success = true
		for _, header := range receivedHeaders {
			if !hss.validateAndStoreRedownloadedHeader(header) {
				// The peer gave us an unexpected chain; give up on the
				// sync.
				ret.Success = false
				break
			}
		}
		if ret.Success {
			// Return any headers that are ready for acceptance.
			ret.PowValidatedHeaders = hss.popHeadersReadyForAcceptance()

			if len(hss.redownloadedHeaders) == 0 && hss.processAllRemainingHeaders {
				// The target was reached and the buffer has drained: all
				// remaining headers were returned and leftover state can be
				// cleared.
				log.Debugf("Initial headers sync complete with peer=%d: "+
					"releasing all at height=%d (redownload phase)", hss.id,
					hss.redownloadBufferLastHeight)
			} else if fullHeadersMessage {
				ret.RequestMore = true
			} else {
				// For some reason the peer gave us a high-work chain but is
				// now declining to serve it again. Give up. There is no
				// more processing to be done with these headers, so this
				// still counts as success.
				log.Debugf("Initial headers sync aborted with peer=%d: "+
					"incomplete headers message at height=%d (redownload "+
					"phase)", hss.id, hss.redownloadBufferLastHeight)
			}
		}
	}

	if !(ret.Success && ret.RequestMore) {
		hss.Finalize()
	}
	return ret
}

// validateAndStoreHeadersCommitments validates the continuity of a presync
// batch against the last header received, processes each header, and
// transitions to the redownload phase once the accumulated work crosses the
// threshold. It returns false when the peer should be severed.
func (hss *HeadersSyncState) validateAndStoreHeadersCommitments(
	headers []*wire.BlockHeader) bool {

	if !headers[0].PrevBlock.IsEqual(&hss.lastHeaderHash) {
		// The peer gave us a header that doesn't connect. This might be
		// benign - the peer may have reorged away from the chain it was
		// on - so give up on this sync; a new one will likely start from
		// a new starting point.
		log.Debugf("Initial headers sync aborted with peer=%d: "+
			"non-continuous headers at height=%d (presync phase)", hss.id,
			hss.currentHeight)
		return false
	}

	for _, header := range headers {
		if !hss.validateAndProcessSingleHeader(header) {
			return false
		}
	}

	if hss.currentChainWork.Cmp(hss.minimumRequiredWork) >= 0 {
		hss.redownloadedHeaders = nil
		hss.redownloadBufferLastHeight = hss.chainStart.Height()
		hss.redownloadBufferFirstPrevHash = *hss.chainStart.Hash()
		hss.redownloadBufferLastHash = *hss.chainStart.Hash()
		hss.redownloadChainWork = new(big.Int).Set(hss.chainStart.WorkSum())

		// Reset the retarget buffers to the chain start so they mirror the
		// redownload stream.
		hss.resetRetargetBuffersToChainStart()
		hss.state = StateRedownload

		log.Debugf("Initial headers sync transition with peer=%d: reached "+
			"sufficient work at height=%d, redownloading from height=%d",
			hss.id, hss.currentHeight, hss.redownloadBufferLastHeight)
	}
	return true
}

// validateAndProcessSingleHeader validates one presync header against the
// difficulty rules, samples a commitment when the height falls on the
// sampling schedule, and accumulates the claimed work.
func (hss *HeadersSyncState) validateAndProcessSingleHeader(
	header *wire.BlockHeader) bool {

	nextHeight := hss.currentHeight + 1

	// Verify that the difficulty isn't growing too fast: an adversary with
	// limited hashing capability has a greater chance of producing a
	// high-work chain by compressing the work into as few blocks as
	// possible, so don't accept a chain that would violate the difficulty
	// adjustment maximum.
	err := hss.retargetWindow.CheckTransition(hss.lastHeaderReceived.Bits,
		header.Bits, header.Timestamp.Unix(),
		hss.lastHeaderReceived.Timestamp.Unix(), nextHeight)
	if err != nil {
		log.Debugf("Initial headers sync aborted with peer=%d: invalid "+
			"difficulty transition at height=%d (presync phase): %s", hss.id,
			nextHeight, err)
		return false
	}

	headerHash := header.BlockHash()

	if uint64(nextHeight)%headerCommitmentPeriod == hss.commitOffset {
		// Sample a commitment.
		hss.headerCommitments.pushBack(hss.hasher.hashBit(&headerHash))
		if hss.headerCommitments.len() > hss.maxCommitments {
			// The peer's chain is too long: a consensus-valid chain cannot
			// have this many blocks yet, so give up. The chain may have
			// grown since the sync started, so trying again later could
			// succeed.
			log.Debugf("Initial headers sync aborted with peer=%d: exceeded "+
				"max commitments at height=%d (presync phase)", hss.id,
				nextHeight)
			return false
		}
	}

	hss.currentChainWork.Add(hss.currentChainWork,
		difficulty.CalcWork(header.Bits))
	hss.lastHeaderReceived = *header
	hss.lastHeaderHash = headerHash
	hss.currentHeight = nextHeight

	hss.retargetWindow.Push(header.Bits, header.Timestamp.Unix())

	return true
}

// validateAndStoreRedownloadedHeader validates one redownload header against
// continuity, the difficulty rules, and the stored commitment bits, then
// appends it to the redownload buffer.
func (hss *HeadersSyncState) validateAndStoreRedownloadedHeader(
	header *wire.BlockHeader) bool {

	nextHeight := hss.redownloadBufferLastHeight + 1

	// Ensure this header connects to the chain being redownloaded.
	if !header.PrevBlock.IsEqual(&hss.redownloadBufferLastHash) {
		log.Debugf("Initial headers sync aborted with peer=%d: "+
			"non-continuous headers at height=%d (redownload phase)", hss.id,
			nextHeight)
		return false
	}

	// Check that the difficulty adjustments are within tolerance, this time
	// against the redownload-side previous header.
	previousBits := hss.chainStart.Bits()
	previousTime := hss.chainStart.Timestamp()
	if len(hss.redownloadedHeaders) > 0 {
		last := hss.redownloadedHeaders[len(hss.redownloadedHeaders)-1]
		previousBits = last.bits
		previousTime = int64(last.timestamp)
	}

	err := hss.retargetWindow.CheckTransition(previousBits, header.Bits,
		header.Timestamp.Unix(), previousTime, nextHeight)
	if err != nil {
		log.Debugf("Initial headers sync aborted with peer=%d: invalid "+
			"difficulty transition at height=%d (redownload phase): %s",
			hss.id, nextHeight, err)
		return false
	}

	// Track work on the redownloaded chain. Once the threshold is crossed,
	// the tail anchor is latched and every buffered header becomes ready
	// for release.
	hss.redownloadChainWork.Add(hss.redownloadChainWork,
		difficulty.CalcWork(header.Bits))
	if hss.redownloadChainWork.Cmp(hss.minimumRequiredWork) >= 0 {
		hss.processAllRemainingHeaders = true
	}

	headerHash := header.BlockHash()

	// If a commitment was stored for this height, verify it. Commitments
	// are not checked past the work threshold: the peer may have extended
	// its chain between the two phases, and running out of commitments
	// after the threshold is not a failure.
	if !hss.processAllRemainingHeaders &&
		uint64(nextHeight)%headerCommitmentPeriod == hss.commitOffset {

		expectedCommitment, ok := hss.headerCommitments.popFront()
		if !ok {
			// The peer somehow managed to feed us a different chain and
			// we've run out of commitments.
			log.Debugf("Initial headers sync aborted with peer=%d: "+
				"commitment overrun at height=%d (redownload phase)", hss.id,
				nextHeight)
			return false
		}
		if hss.hasher.hashBit(&headerHash) != expectedCommitment {
			log.Debugf("Initial headers sync aborted with peer=%d: "+
				"commitment mismatch at height=%d (redownload phase)", hss.id,
				nextHeight)
			return false
		}
	}

	// Store this header for later processing.
	hss.redownloadedHeaders = append(hss.redownloadedHeaders,
		compressHeader(header))
	hss.redownloadBufferLastHeight = nextHeight
	hss.redownloadBufferLastHash = headerHash

	hss.retargetWindow.Push(header.Bits, header.Timestamp.Unix())

	return true
}

// popHeadersReadyForAcceptance removes and returns the prefix of the
// redownload buffer that is ready for downstream acceptance: everything past
// the buffer size, or everything at all once the tail anchor was reached.
// The previous-block hash of each returned header is reconstructed from the
// advancing first-prev-hash cursor.
func (hss *HeadersSyncState) popHeadersReadyForAcceptance() []*wire.BlockHeader {
	var ret []*wire.BlockHeader

	for len(hss.redownloadedHeaders) > redownloadBufferSize ||
		(len(hss.redownloadedHeaders) > 0 && hss.processAllRemainingHeaders) {

		header := hss.redownloadedHeaders[0].fullHeader(&hss.redownloadBufferFirstPrevHash)
		hss.redownloadedHeaders = hss.redownloadedHeaders[1:]
		hss.redownloadBufferFirstPrevHash = header.BlockHash()
		ret = append(ret, header)
	}
	return ret
}

// NextHeadersRequestLocator returns the block locator to send to the peer to
// continue syncing: the head of the current phase's chain followed by locator
// entries over the ancestors of the chain start.
func (hss *HeadersSyncState) NextHeadersRequestLocator() blockchain.BlockLocator {
	if hss.state == StateFinal {
		return nil
	}

	chainStartLocator := blockchain.LocatorEntries(hss.chainStart)
	locator := make(blockchain.BlockLocator, 0, len(chainStartLocator)+1)

	if hss.state == StatePresync {
		// During presync, continue from the last header received.
		locator = append(locator, hss.lastHeaderHash)
	}
	if hss.state == StateRedownload {
		// During redownload, continue from the last header stored in the
		// redownload buffer.
		locator = append(locator, hss.redownloadBufferLastHash)
	}

	return append(locator, chainStartLocator...)
}

// resetRetargetBuffersToChainStart reseeds the difficulty window from real
// ancestors of the chain start, oldest first, so both sync phases start their
// checks from identical history.
func (hss *HeadersSyncState) resetRetargetBuffersToChainStart() {
	hss.retargetWindow.Reset()

	// Enough history for both the averaging window endpoints and the
	// median-time window.
	needed := int(hss.params.PowAveragingWindow) + 1 + blockchain.MedianTimeBlocks

	history := make([]*blockchain.BlockNode, 0, needed)
	for cursor := hss.chainStart; cursor != nil && len(history) < needed; cursor = cursor.Parent() {
		history = append(history, cursor)
	}

	for i := len(history) - 1; i >= 0; i-- {
		node := history[i]
		hss.retargetWindow.Push(node.Bits(), node.Timestamp())
	}
}
