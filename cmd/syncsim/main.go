package main

import (
	"fmt"
	"math/big"
	"os"

	"github.com/pkg/errors"

	"github.com/vesperanet/vesperad/blockchain"
	"github.com/vesperanet/vesperad/infrastructure/logger"
	"github.com/vesperanet/vesperad/protocol/headerssync"
	"github.com/vesperanet/vesperad/protocol/protocolerrors"
	"github.com/vesperanet/vesperad/util/difficulty"
	"github.com/vesperanet/vesperad/util/panics"
	"github.com/vesperanet/vesperad/version"
)

var log = logger.RegisterSubSystem("SSIM")

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.ShowVersion {
		fmt.Println("syncsim version", version.Version())
		os.Exit(0)
	}

	logFile, errLogFile := cfg.logFilePaths()
	logger.InitLog(logFile, errLogFile)
	_ = logger.SetLogLevels(cfg.DebugLevel)

	ok := runSimulation(cfg)
	logger.BackendLog.Close()
	if !ok {
		os.Exit(1)
	}
}

// runSimulation drives one full headers sync against a fabricated peer chain
// and reports whether the engine's verdict matches expectations.
func runSimulation(cfg *config) bool {
	defer panics.HandlePanic(log, nil)

	params := cfg.activeParams()

	peerChain := newSimulatedChain(params, cfg.Headers)

	// The local node knows only the shared genesis block.
	index := blockchain.NewBlockIndex(params, &peerChain.genesis)
	chainStart := index.Tip()

	// Require the work of the full fabricated chain.
	perBlockWork := difficulty.CalcWork(params.PowLimitBits)
	minimumRequiredWork := new(big.Int).Mul(perBlockWork, big.NewInt(int64(cfg.Headers)))
	minimumRequiredWork.Add(minimumRequiredWork, chainStart.WorkSum())

	sync, err := headerssync.New(1, params, chainStart, minimumRequiredWork)
	if err != nil {
		log.Errorf("Failed to create sync state: %s", err)
		return false
	}

	log.Infof("Simulating sync of %d headers on %s in batches of %d (forge=%t)",
		cfg.Headers, params.Name, cfg.BatchSize, cfg.Forge)

	released := 0
	messages := 0
	forged := false
	for {
		locator := sync.NextHeadersRequestLocator()
		if len(locator) == 0 {
			log.Errorf("Sync produced an empty locator in state %s", sync.State())
			return false
		}

		// Inject the forged chain only for the redownload serving pass, so
		// the presync commitments were sampled from the honest chain.
		if cfg.Forge && !forged && sync.State() == headerssync.StateRedownload {
			peerChain.forgeAt(cfg.Headers / 2)
			forged = true
			log.Infof("Forged peer chain at height %d before redownload", cfg.Headers/2)
		}

		batch, known := peerChain.headersAfter(&locator[0], cfg.BatchSize)
		if !known || len(batch) == 0 {
			log.Errorf("Peer has nothing to serve for locator head %s", locator[0])
			return false
		}

		fullMessage := len(batch) == cfg.BatchSize
		result := sync.ProcessNextHeaders(batch, fullMessage)
		messages++
		released += len(result.PowValidatedHeaders)

		if !result.Success {
			// The way a protocol manager would report this to the
			// connection layer.
			peerErr := protocolerrors.Errorf(true,
				"peer 1 served an invalid headers chain after %d messages",
				messages)
			var protocolErr *protocolerrors.ProtocolError
			if errors.As(peerErr, &protocolErr) && protocolErr.ShouldBan {
				log.Debugf("Banning peer 1: %s", protocolErr)
			}

			if cfg.Forge {
				log.Infof("Sync rejected the forged chain after %d messages, "+
					"as it should", messages)
				return true
			}
			log.Errorf("Sync rejected an honest chain after %d messages", messages)
			return false
		}
		if !result.RequestMore {
			break
		}
	}

	if cfg.Forge {
		// A forged serving pass may still slip through when the flipped
		// header's sampled bit happens to match.
		log.Warnf("Forged chain evaded the sampled commitments "+
			"(released %d headers); repeated runs reject with probability 1/2",
			released)
		return true
	}

	if released != cfg.Headers {
		log.Errorf("Sync released %d headers, want %d", released, cfg.Headers)
		return false
	}
	log.Infof("Sync complete: released all %d headers in order over %d messages",
		released, messages)
	return true
}
