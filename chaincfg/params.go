// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"math/big"
	"time"

	"github.com/pkg/errors"

	"github.com/vesperanet/vesperad/util/difficulty"
)

// VesperaNet represents which vespera network a message belongs to.
type VesperaNet uint32

// Constants used to indicate the message vespera network.
const (
	// Mainnet represents the main vespera network.
	Mainnet VesperaNet = 0xd9b4bef9

	// Testnet represents the test network.
	Testnet VesperaNet = 0x0709110b

	// Regtest represents the regression test network.
	Regtest VesperaNet = 0xdab5bffa

	// Simnet represents the simulation test network.
	Simnet VesperaNet = 0x12141c16
)

// These variables are the chain proof-of-work limit parameters for each
// default network.
var (
	// bigOne is 1 represented as a big.Int. It is defined here to avoid
	// the overhead of creating it multiple times.
	bigOne = big.NewInt(1)

	// mainPowLimit is the highest proof of work value a vespera block can
	// have for the main network.
	mainPowLimit = hexToBig("00000fffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")

	// testnetPowLimit is the highest proof of work value a vespera block
	// can have for the test network.
	testnetPowLimit = hexToBig("00ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")

	// regtestPowLimit is the highest proof of work value a vespera block
	// can have for the regression test network. A full averaging window of
	// targets at this limit sums to a value that still fits in 256 bits.
	regtestPowLimit = hexToBig("0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f")

	// simnetPowLimit is the highest proof of work value a vespera block
	// can have for the simulation test network.
	simnetPowLimit = hexToBig("00ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
)

// hexToBig converts the passed big-endian hex string into a big.Int. It only
// differs from the one available in math/big in that it panics on an invalid
// hex string since it will only be used with hardcoded values.
func hexToBig(hexStr string) *big.Int {
	n, ok := new(big.Int).SetString(hexStr, 16)
	if !ok {
		panic("invalid hex in source file: " + hexStr)
	}
	return n
}

// Params defines a vespera network by its parameters. These parameters may be
// used by vespera applications to differentiate networks as well as addresses
// and keys for one network from those intended for use on another network.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// Net defines the magic bytes used to identify the network.
	Net VesperaNet

	// DefaultPort defines the default peer-to-peer port for the network.
	DefaultPort string

	// PowLimit defines the highest allowed proof of work value for a block
	// as a uint256.
	PowLimit *big.Int

	// PowLimitBits defines the highest allowed proof of work value for a
	// block in compact form.
	PowLimitBits uint32

	// PowAveragingWindow is the number of blocks in the averaging window
	// the post-activation retarget inspects.
	PowAveragingWindow int64

	// PowMaxAdjustUp is the maximum difficulty adjustment upwards, as a
	// percentage of the averaging window timespan.
	PowMaxAdjustUp int64

	// PowMaxAdjustDown is the maximum difficulty adjustment downwards, as a
	// percentage of the averaging window timespan.
	PowMaxAdjustDown int64

	// TargetTimePerBlock is the desired amount of time to generate each
	// block.
	TargetTimePerBlock time.Duration

	// TargetTimespan is the desired amount of time that should elapse
	// before the block difficulty requirement is examined by the legacy
	// retarget rule to determine how it should be changed in order to
	// maintain the desired block generation rate.
	TargetTimespan time.Duration

	// PowAllowMinDifficultyBlocks defines whether the network should allow
	// minimum difficulty blocks after a long enough gap between blocks.
	// This is the legacy testnet rule.
	PowAllowMinDifficultyBlocks bool

	// PowAllowMinDifficultyBlocksAfterHeight, if non-nil, enables the
	// post-activation variant of the min-difficulty rule for blocks whose
	// previous block is at or above the given height.
	PowAllowMinDifficultyBlocksAfterHeight *int64

	// PowNoRetargeting defines whether the network has difficulty
	// retargeting enabled or not. This should only be set to true for
	// regression test networks.
	PowNoRetargeting bool

	// NewPowDiffHeight is the height at which the averaging-window
	// retarget rule activates. Blocks at or below this height use the
	// legacy per-interval rule.
	NewPowDiffHeight int64

	// MaxFutureBlockTime is the maximum offset a block timestamp is
	// allowed to be in the future of the adjusted network time.
	MaxFutureBlockTime time.Duration
}

// DifficultyAdjustmentInterval returns the legacy retarget interval, in
// blocks.
func (p *Params) DifficultyAdjustmentInterval() int64 {
	return int64(p.TargetTimespan / p.TargetTimePerBlock)
}

// AveragingWindowTimespan returns the expected timespan of a full averaging
// window, in seconds.
func (p *Params) AveragingWindowTimespan() int64 {
	return p.PowAveragingWindow * int64(p.TargetTimePerBlock/time.Second)
}

// MinActualTimespan returns the lower clamp on the damped window timespan,
// in seconds.
func (p *Params) MinActualTimespan() int64 {
	return (p.AveragingWindowTimespan() * (100 - p.PowMaxAdjustUp)) / 100
}

// MaxActualTimespan returns the upper clamp on the damped window timespan,
// in seconds.
func (p *Params) MaxActualTimespan() int64 {
	return (p.AveragingWindowTimespan() * (100 + p.PowMaxAdjustDown)) / 100
}

// MainnetParams defines the network parameters for the main vespera network.
var MainnetParams = Params{
	Name:        "mainnet",
	Net:         Mainnet,
	DefaultPort: "16111",

	PowLimit:                               mainPowLimit,
	PowLimitBits:                           difficulty.BigToCompact(mainPowLimit),
	PowAveragingWindow:                     17,
	PowMaxAdjustUp:                         16,
	PowMaxAdjustDown:                       32,
	TargetTimePerBlock:                     time.Minute,
	TargetTimespan:                         4 * time.Hour,
	PowAllowMinDifficultyBlocks:            false,
	PowAllowMinDifficultyBlocksAfterHeight: nil,
	PowNoRetargeting:                       false,
	NewPowDiffHeight:                       144000,
	MaxFutureBlockTime:                     2 * time.Hour,
}

// TestnetParams defines the network parameters for the test vespera network.
var TestnetParams = Params{
	Name:        "testnet",
	Net:         Testnet,
	DefaultPort: "16211",

	PowLimit:                               testnetPowLimit,
	PowLimitBits:                           difficulty.BigToCompact(testnetPowLimit),
	PowAveragingWindow:                     17,
	PowMaxAdjustUp:                         16,
	PowMaxAdjustDown:                       32,
	TargetTimePerBlock:                     time.Minute,
	TargetTimespan:                         4 * time.Hour,
	PowAllowMinDifficultyBlocks:            false,
	PowAllowMinDifficultyBlocksAfterHeight: int64Ptr(20),
	PowNoRetargeting:                       false,
	NewPowDiffHeight:                       20,
	MaxFutureBlockTime:                     2 * time.Hour,
}

// RegtestParams defines the network parameters for the regression test
// vespera network.
var RegtestParams = Params{
	Name:        "regtest",
	Net:         Regtest,
	DefaultPort: "16311",

	PowLimit:                               regtestPowLimit,
	PowLimitBits:                           difficulty.BigToCompact(regtestPowLimit),
	PowAveragingWindow:                     17,
	PowMaxAdjustUp:                         0,
	PowMaxAdjustDown:                       0,
	TargetTimePerBlock:                     time.Minute,
	TargetTimespan:                         4 * time.Hour,
	PowAllowMinDifficultyBlocks:            true,
	PowAllowMinDifficultyBlocksAfterHeight: nil,
	PowNoRetargeting:                       true,
	NewPowDiffHeight:                       0,
	MaxFutureBlockTime:                     2 * time.Hour,
}

// SimnetParams defines the network parameters for the simulation test
// vespera network.
var SimnetParams = Params{
	Name:        "simnet",
	Net:         Simnet,
	DefaultPort: "16411",

	PowLimit:                               simnetPowLimit,
	PowLimitBits:                           difficulty.BigToCompact(simnetPowLimit),
	PowAveragingWindow:                     17,
	PowMaxAdjustUp:                         16,
	PowMaxAdjustDown:                       32,
	TargetTimePerBlock:                     time.Minute,
	TargetTimespan:                         4 * time.Hour,
	PowAllowMinDifficultyBlocks:            false,
	PowAllowMinDifficultyBlocksAfterHeight: nil,
	PowNoRetargeting:                       false,
	NewPowDiffHeight:                       20,
	MaxFutureBlockTime:                     2 * time.Hour,
}

func int64Ptr(n int64) *int64 {
	return &n
}

var (
	// ErrDuplicateNet describes an error where the parameters for a
	// network could not be set due to the network already being a standard
	// network or previously-registered via this package.
	ErrDuplicateNet = errors.New("duplicate network")

	registeredNets = make(map[VesperaNet]struct{})
)

// Register registers the network parameters for a vespera network. This may
// error with ErrDuplicateNet if the network is already registered (either
// due to a previous Register call, or the network being one of the default
// networks).
//
// Network parameters should be registered into this package by a main package
// as early as possible. Then, library packages may lookup networks or network
// parameters based on inputs and work regardless of the network being standard
// or not.
func Register(params *Params) error {
	if _, ok := registeredNets[params.Net]; ok {
		return ErrDuplicateNet
	}
	registeredNets[params.Net] = struct{}{}

	return nil
}

// mustRegister performs the same function as Register except it panics if
// there is an error. This should only be called from package init functions.
func mustRegister(params *Params) {
	if err := Register(params); err != nil {
		panic("failed to register network: " + err.Error())
	}
}

func init() {
	// Register all default networks when the package is initialized.
	mustRegister(&MainnetParams)
	mustRegister(&TestnetParams)
	mustRegister(&RegtestParams)
	mustRegister(&SimnetParams)
}
