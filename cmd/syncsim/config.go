package main

import (
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/vesperanet/vesperad/chaincfg"
)

const (
	defaultLogFilename    = "syncsim.log"
	defaultErrLogFilename = "syncsim_err.log"
)

// config defines the configuration options for the sync simulator.
//
// See loadConfig for details on the configuration load process.
type config struct {
	Network     string `long:"network" description:"Network to simulate against" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"simnet" default:"simnet"`
	Headers     int    `long:"headers" description:"Number of headers on the simulated peer's chain" default:"20000"`
	BatchSize   int    `long:"batchsize" description:"Number of headers per headers message" default:"2000"`
	Forge       bool   `long:"forge" description:"Serve a chain that differs in one header during redownload"`
	LogDir      string `long:"logdir" description:"Directory to log output" default:"logs"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}" default:"debug"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
}

// activeParams returns the chain parameters selected by the configuration.
func (cfg *config) activeParams() *chaincfg.Params {
	switch cfg.Network {
	case "mainnet":
		return &chaincfg.MainnetParams
	case "testnet":
		return &chaincfg.TestnetParams
	case "regtest":
		return &chaincfg.RegtestParams
	default:
		return &chaincfg.SimnetParams
	}
}

// loadConfig initializes and parses the config using command line options.
func loadConfig() (*config, error) {
	cfg := &config{}
	parser := flags.NewParser(cfg, flags.HelpFlag)
	_, err := parser.Parse()
	if err != nil {
		return nil, err
	}

	if cfg.Headers <= 0 {
		return nil, errors.Errorf("--headers must be positive, got %d", cfg.Headers)
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("--batchsize must be positive, got %d", cfg.BatchSize)
	}

	return cfg, nil
}

// logFilePaths returns the paths of the log files inside the configured log
// directory.
func (cfg *config) logFilePaths() (logFile, errLogFile string) {
	return filepath.Join(cfg.LogDir, defaultLogFilename),
		filepath.Join(cfg.LogDir, defaultErrLogFilename)
}
