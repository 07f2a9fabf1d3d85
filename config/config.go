// Package config handles application configuration for the node and
// wallet binaries, loaded entirely from command-line flags. There is no
// persisted config file and no genesis file: the genesis block is
// hardcoded identically on every node (see pkg/block.Genesis), and
// difficulty is fixed for the lifetime of a node rather than retargeted.
package config

import (
	"flag"
	"fmt"
	"strings"
)

// Config holds a node's runtime settings.
type Config struct {
	Difficulty     int
	ListenAddr     string
	SelfURL        string
	Seeds          []string
	MiningEnabled  bool
	MiningAddress  string
	MinerTag       string
	MaxTxsPerBlock int
	LogLevel       string
	LogJSON        bool
}

// seedList is a flag.Value that accumulates a comma-separated or
// repeated --peer flag into a slice.
type seedList []string

func (s *seedList) String() string { return strings.Join(*s, ",") }

func (s *seedList) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// Parse builds a Config from command-line arguments (normally
// os.Args[1:]).
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("klingnetd", flag.ContinueOnError)

	difficulty := fs.Int("difficulty", 3, "required leading hex-zero digits of a valid block hash (0-64)")
	listenAddr := fs.String("listen", ":7000", "address the HTTP server listens on")
	selfURL := fs.String("self-url", "http://localhost:7000", "this node's own URL, as advertised to peers")
	var seeds seedList
	fs.Var(&seeds, "peer", "seed peer base URL (repeatable, or comma-separated)")
	miningEnabled := fs.Bool("mine", false, "start mining immediately")
	miningAddress := fs.String("mining-address", "", "address to receive block rewards")
	minerTag := fs.String("miner-tag", "klingnet", "free-form tag embedded in mined blocks")
	maxTxs := fs.Int("max-block-txs", 2, "maximum non-coinbase transactions per mined block")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	logJSON := fs.Bool("log-json", false, "emit logs as JSON instead of console format")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *difficulty < 0 || *difficulty > 64 {
		return Config{}, fmt.Errorf("difficulty must be between 0 and 64, got %d", *difficulty)
	}
	if *miningEnabled && *miningAddress == "" {
		return Config{}, fmt.Errorf("--mine requires --mining-address")
	}

	return Config{
		Difficulty:     *difficulty,
		ListenAddr:     *listenAddr,
		SelfURL:        *selfURL,
		Seeds:          seeds,
		MiningEnabled:  *miningEnabled,
		MiningAddress:  *miningAddress,
		MinerTag:       *minerTag,
		MaxTxsPerBlock: *maxTxs,
		LogLevel:       *logLevel,
		LogJSON:        *logJSON,
	}, nil
}
