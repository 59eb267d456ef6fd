package headerssync

import (
	"encoding/binary"
	"math/big"
	"testing"
	"time"

	"github.com/vesperanet/vesperad/blockchain"
	"github.com/vesperanet/vesperad/chaincfg"
	"github.com/vesperanet/vesperad/util/chainhash"
	"github.com/vesperanet/vesperad/util/difficulty"
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

// testChain is a fabricated header chain for a simulated peer. All headers
// carry the proof-of-work limit with ideal spacing, which every difficulty
// rule accepts without mining.
type testChain struct {
	params  *chaincfg.Params
	genesis wire.BlockHeader
	headers []*wire.BlockHeader // heights 1..len
	byHash  map[chainhash.Hash]int64
}

// newTestChain fabricates a chain of count headers on top of a genesis.
func newTestChain(params *chaincfg.Params, count int64) *testChain {
	genesis := wire.BlockHeader{
		Version:    1,
		MerkleRoot: testMerkleRoot(0),
		Timestamp:  testGenesisTime,
		Bits:       params.PowLimitBits,
	}

	chain := &testChain{
		params:  params,
		genesis: genesis,
		headers: make([]*wire.BlockHeader, 0, count),
		byHash:  make(map[chainhash.Hash]int64, count+1),
	}
	chain.byHash[genesis.BlockHash()] = 0

	prevHash := genesis.BlockHash()
	for height := int64(1); height <= count; height++ {
		header := &wire.BlockHeader{
			Version:    1,
			PrevBlock:  prevHash,
			MerkleRoot: testMerkleRoot(height),
			Timestamp:  testGenesisTime.Add(time.Duration(height) * params.TargetTimePerBlock),
			Bits:       params.PowLimitBits,
		}
		chain.headers = append(chain.headers, header)
		prevHash = header.BlockHash()
		chain.byHash[prevHash] = height
	}
	return chain
}

func testMerkleRoot(height int64) chainhash.Hash {
	var root chainhash.Hash
	binary.LittleEndian.PutUint64(root[:8], uint64(height))
	return root
}

// indexThrough builds the local block index holding the chain up to the
// given height.
func (c *testChain) indexThrough(t *testing.T, height int64) *blockchain.BlockIndex {
	t.Helper()

	index := blockchain.NewBlockIndex(c.params, &c.genesis)
	for h := int64(1); h <= height; h++ {
		_, err := index.AddHeader(c.headers[h-1])
		if err != nil {
			t.Fatalf("AddHeader at height %d: %v", h, err)
		}
	}
	return index
}

// headersAfter serves up to batchSize headers following the given hash, the
// way a peer responds to a locator, along with whether the message is full.
func (c *testChain) headersAfter(t *testing.T, hash *chainhash.Hash,
	batchSize int) ([]*wire.BlockHeader, bool) {

	t.Helper()

	height, ok := c.byHash[*hash]
	if !ok {
		t.Fatalf("peer asked for unknown hash %s", hash)
	}
	start := height
	end := start + int64(batchSize)
	if end > int64(len(c.headers)) {
		end = int64(len(c.headers))
	}
	batch := c.headers[start:end]
	return batch, len(batch) == batchSize
}

// forgeAt rebuilds the chain from the given height on with a different
// header at that height. Continuity and difficulty rules still hold, so only
// the commitment check can catch the divergence.
func (c *testChain) forgeAt(height int64) {
	idx := height - 1
	forged := *c.headers[idx]
	forged.Nonce++
	c.headers[idx] = &forged

	prevHash := forged.BlockHash()
	c.byHash[prevHash] = height
	for i := idx + 1; i < int64(len(c.headers)); i++ {
		rebuilt := *c.headers[i]
		rebuilt.PrevBlock = prevHash
		c.headers[i] = &rebuilt
		prevHash = rebuilt.BlockHash()
		c.byHash[prevHash] = i + 1
	}
}

// fullChainWork returns the work threshold equal to the whole fabricated
// chain.
func (c *testChain) fullChainWork(chainStart *blockchain.BlockNode) *big.Int {
	perBlock := difficulty.CalcWork(c.params.PowLimitBits)
	remaining := int64(len(c.headers)) - chainStart.Height()
	work := new(big.Int).Mul(perBlock, big.NewInt(remaining))
	return work.Add(work, chainStart.WorkSum())
}

// driveResult captures the outcome of driving a sync to completion.
type driveResult struct {
	released []*wire.BlockHeader
	rejected bool
	messages int
}

// drive runs the full locator/respond loop against the chain until the sync
// stops asking for more, collecting every released header.
func drive(t *testing.T, sync *HeadersSyncState, chain *testChain,
	batchSize int, onRedownloadStart func()) driveResult {

	t.Helper()

	var result driveResult
	redownloadSeen := false
	for {
		if sync.State() == StateRedownload && !redownloadSeen {
			redownloadSeen = true
			if onRedownloadStart != nil {
				onRedownloadStart()
			}
		}

		locator := sync.NextHeadersRequestLocator()
		if len(locator) == 0 {
			t.Fatalf("empty locator in state %s", sync.State())
		}

		batch, fullMessage := chain.headersAfter(t, &locator[0], batchSize)
		if len(batch) == 0 {
			t.Fatalf("peer has nothing to serve in state %s", sync.State())
		}

		processingResult := sync.ProcessNextHeaders(batch, fullMessage)
		result.messages++
		result.released = append(result.released, processingResult.PowValidatedHeaders...)

		if !processingResult.Success {
			result.rejected = true
			return result
		}
		if !processingResult.RequestMore {
			return result
		}
	}
}

// TestHeadersSyncHappyPath runs the full two-phase sync over an honest chain
// and verifies every header is released exactly once, in order.
func TestHeadersSyncHappyPath(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full-size happy path in short mode")
	}

	params := cloneParams(&chaincfg.SimnetParams)
	const chainLength = 20000
	const batchSize = 2000

	chain := newTestChain(params, chainLength)
	index := chain.indexThrough(t, 0)
	chainStart := index.Tip()

	sync, err := New(1, params, chainStart, chain.fullChainWork(chainStart))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if sync.State() != StatePresync {
		t.Fatalf("initial state: got %s, want presync", sync.State())
	}

	result := drive(t, sync, chain, batchSize, nil)
	if result.rejected {
		t.Fatal("honest chain was rejected")
	}
	if sync.State() != StateFinal {
		t.Fatalf("final state: got %s, want final", sync.State())
	}
	if len(result.released) != chainLength {
		t.Fatalf("released %d headers, want %d", len(result.released), chainLength)
	}

	// Every released header matches the chain, in order, with the
	// previous-block hash reconstructed correctly.
	prevHash := chain.genesis.BlockHash()
	for i, header := range result.released {
		if !header.PrevBlock.IsEqual(&prevHash) {
			t.Fatalf("released header %d does not connect", i)
		}
		want := chain.headers[i].BlockHash()
		got := header.BlockHash()
		if !got.IsEqual(&want) {
			t.Fatalf("released header %d hashes differently", i)
		}
		prevHash = got
	}

	// A finalized instance refuses further work.
	refused := sync.ProcessNextHeaders(chain.headers[:1], true)
	if refused.Success || refused.RequestMore || len(refused.PowValidatedHeaders) != 0 {
		t.Fatal("finalized instance accepted more headers")
	}
	if sync.NextHeadersRequestLocator() != nil {
		t.Fatal("finalized instance produced a locator")
	}
}

// TestHeadersSyncCommitmentForgery serves an honest chain during presync and
// a chain forged at a sampled height during redownload, repeatedly; the
// sampled one-bit commitments must catch at least one of the forgeries.
func TestHeadersSyncCommitmentForgery(t *testing.T) {
	params := cloneParams(&chaincfg.SimnetParams)
	const chainLength = 3000
	const batchSize = 1000
	const trials = 40

	rejections := 0
	for trial := 0; trial < trials; trial++ {
		chain := newTestChain(params, chainLength)
		index := chain.indexThrough(t, 0)
		chainStart := index.Tip()

		sync, err := New(PeerID(trial), params, chainStart,
			chain.fullChainWork(chainStart))
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		// Forge the first sampled height past the first commitment period,
		// right when the redownload starts, so presync sampled the honest
		// chain.
		forgedHeight := int64(headerCommitmentPeriod + sync.commitOffset)
		if sync.commitOffset == 0 {
			forgedHeight = 2 * headerCommitmentPeriod
		}

		result := drive(t, sync, chain, batchSize, func() {
			chain.forgeAt(forgedHeight)
		})
		if result.rejected {
			rejections++
		}
		if sync.State() != StateFinal {
			t.Fatalf("trial %d: state %s, want final", trial, sync.State())
		}
	}

	// Each forged bit agrees with the stored commitment with probability
	// one half, so zero rejections across all trials is vanishingly
	// unlikely.
	if rejections == 0 {
		t.Fatalf("no forgery detected in %d trials", trials)
	}
}

// TestHeadersSyncMemoryExhaustion feeds an endless chain that never reaches
// the work threshold and verifies the commitment cap cuts the peer off.
func TestHeadersSyncMemoryExhaustion(t *testing.T) {
	params := cloneParams(&chaincfg.SimnetParams)
	params.MaxFutureBlockTime = 0

	const chainLength = 4800
	chain := newTestChain(params, chainLength)
	index := chain.indexThrough(t, 0)
	chainStart := index.Tip()

	// An unreachable work threshold keeps the sync in presync forever.
	unreachable := new(big.Int).Lsh(big.NewInt(1), 255)

	// Constructing against a clock barely past the chain start bounds
	// maxCommitments near zero: the peer can't possibly have a valid chain
	// longer than a few commitment periods.
	now := time.Unix(chainStart.CalcPastMedianTime(), 0).Add(10 * time.Minute)
	sync, err := newHeadersSyncState(7, params, chainStart, unreachable, now)
	if err != nil {
		t.Fatalf("newHeadersSyncState: %v", err)
	}

	maxLen := (sync.maxCommitments + 2) * headerCommitmentPeriod
	if maxLen > chainLength {
		t.Fatalf("test chain too short for cap %d", sync.maxCommitments)
	}

	result := drive(t, sync, chain, 500, nil)
	if !result.rejected {
		t.Fatal("peer exceeding the commitment cap was not rejected")
	}
	if sync.State() != StateFinal {
		t.Fatalf("state: got %s, want final", sync.State())
	}
	if len(result.released) != 0 {
		t.Fatal("rejected peer still released headers")
	}
}

// TestHeadersSyncTooHardRetarget serves a chain that claims a difficulty far
// outside the permitted adjustment and verifies presync rejects it.
func TestHeadersSyncTooHardRetarget(t *testing.T) {
	params := cloneParams(&chaincfg.SimnetParams)
	params.NewPowDiffHeight = 0

	const chainStartHeight = 40
	chain := newTestChain(params, chainStartHeight)
	index := chain.indexThrough(t, chainStartHeight)
	chainStart := index.Tip()

	sync, err := New(2, params, chainStart, new(big.Int).Lsh(big.NewInt(1), 255))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// One header with an eightfold difficulty jump. The retarget buffers
	// were seeded from real ancestors, so the window check applies
	// immediately.
	hardTarget := new(big.Int).Div(params.PowLimit, big.NewInt(8))
	header := &wire.BlockHeader{
		Version:    1,
		PrevBlock:  *chainStart.Hash(),
		MerkleRoot: testMerkleRoot(chainStartHeight + 1),
		Timestamp:  testGenesisTime.Add((chainStartHeight + 1) * time.Minute),
		Bits:       difficulty.BigToCompact(hardTarget),
	}

	result := sync.ProcessNextHeaders([]*wire.BlockHeader{header}, true)
	if result.Success {
		t.Fatal("too-hard difficulty transition was accepted")
	}
	if sync.State() != StateFinal {
		t.Fatalf("state: got %s, want final", sync.State())
	}
}

// TestHeadersSyncShortButHonest verifies a peer whose chain honestly ends
// below the work threshold is dropped without being treated as hostile.
func TestHeadersSyncShortButHonest(t *testing.T) {
	params := cloneParams(&chaincfg.SimnetParams)
	const chainLength = 5000
	const batchSize = 2000

	chain := newTestChain(params, chainLength)
	index := chain.indexThrough(t, 0)
	chainStart := index.Tip()

	// Demand more work than the peer's whole chain carries.
	tooMuch := chain.fullChainWork(chainStart)
	tooMuch.Mul(tooMuch, big.NewInt(2))

	sync, err := New(3, params, chainStart, tooMuch)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := drive(t, sync, chain, batchSize, nil)
	if result.rejected {
		t.Fatal("short but honest peer was treated as hostile")
	}
	if len(result.released) != 0 {
		t.Fatalf("released %d headers without reaching the threshold",
			len(result.released))
	}
	if sync.State() != StateFinal {
		t.Fatalf("state: got %s, want final", sync.State())
	}
}

// TestHeadersSyncNonContinuousHeaders verifies a batch that doesn't connect
// fails the sync.
func TestHeadersSyncNonContinuousHeaders(t *testing.T) {
	params := cloneParams(&chaincfg.SimnetParams)
	chain := newTestChain(params, 100)
	index := chain.indexThrough(t, 0)
	chainStart := index.Tip()

	sync, err := New(4, params, chainStart, chain.fullChainWork(chainStart))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Serve a batch starting at height 2 instead of height 1.
	result := sync.ProcessNextHeaders(chain.headers[1:10], true)
	if result.Success {
		t.Fatal("non-continuous batch was accepted")
	}
	if sync.State() != StateFinal {
		t.Fatalf("state: got %s, want final", sync.State())
	}
}

// TestHeadersSyncLocator verifies the locator leads with the current phase
// head followed by the chain-start entries.
func TestHeadersSyncLocator(t *testing.T) {
	params := cloneParams(&chaincfg.SimnetParams)
	const chainStartHeight = 30
	chain := newTestChain(params, chainStartHeight+1000)
	index := chain.indexThrough(t, chainStartHeight)
	chainStart := index.Tip()

	sync, err := New(5, params, chainStart, new(big.Int).Lsh(big.NewInt(1), 255))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	chainStartEntries := blockchain.LocatorEntries(chainStart)

	// Before any headers the presync head is the chain start itself.
	locator := sync.NextHeadersRequestLocator()
	if len(locator) != len(chainStartEntries)+1 {
		t.Fatalf("locator length: got %d, want %d", len(locator),
			len(chainStartEntries)+1)
	}
	if !locator[0].IsEqual(chainStart.Hash()) {
		t.Fatal("locator head is not the chain start")
	}

	// After a batch the head advances to the last received header.
	batch, _ := chain.headersAfter(t, chainStart.Hash(), 100)
	result := sync.ProcessNextHeaders(batch, true)
	if !result.Success {
		t.Fatal("honest batch rejected")
	}
	locator = sync.NextHeadersRequestLocator()
	lastHash := batch[len(batch)-1].BlockHash()
	if !locator[0].IsEqual(&lastHash) {
		t.Fatal("locator head did not advance to the last received header")
	}
	for i, entry := range chainStartEntries {
		if !locator[i+1].IsEqual(&entry) {
			t.Fatalf("locator entry %d does not match the chain start locator", i)
		}
	}
}

// TestHeadersSyncFinalizeIdempotent verifies Finalize can be called at any
// time, repeatedly.
func TestHeadersSyncFinalizeIdempotent(t *testing.T) {
	params := cloneParams(&chaincfg.SimnetParams)
	chain := newTestChain(params, 10)
	index := chain.indexThrough(t, 0)

	sync, err := New(6, params, index.Tip(), big.NewInt(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sync.Finalize()
	if sync.State() != StateFinal {
		t.Fatalf("state after finalize: got %s, want final", sync.State())
	}
	sync.Finalize()
	if sync.State() != StateFinal {
		t.Fatalf("state after double finalize: got %s, want final", sync.State())
	}
	if sync.NextHeadersRequestLocator() != nil {
		t.Fatal("finalized instance produced a locator")
	}
}
