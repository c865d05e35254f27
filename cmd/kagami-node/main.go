// kagami-node is the thin CLI entrypoint for a Kagami BFT node: parse
// flags into a config.Config, load the identity key and topology member
// list, wire a node.Node, and run it until interrupted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/kagami-chain/kagami/config"
	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/node"
)

type multiStringFlag []string

func (m *multiStringFlag) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *multiStringFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := config.DefaultConfig()
	var members multiStringFlag

	cfg := defaults
	fs := flag.NewFlagSet("kagami-node", flag.ContinueOnError)
	fs.SetOutput(stderr)

	memberCSV := fs.String("members", "", "topology members, comma-separated hexpubkey@host:port (must include this node)")
	fs.Var(&members, "member", "single topology member hexpubkey@host:port (repeatable)")
	fs.StringVar(&cfg.Network, "network", defaults.Network, "network name (devnet/testnet/mainnet)")
	fs.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "node data directory")
	fs.StringVar(&cfg.BindAddr, "bind", defaults.BindAddr, "bind address host:port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	fs.StringVar(&cfg.GenesisPath, "genesis", defaults.GenesisPath, "path to the genesis spec file")
	fs.BoolVar(&cfg.SubmitGenesis, "submit-genesis", defaults.SubmitGenesis, "build and submit the genesis block on an empty chain")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	memberStrings := config.NormalizePeers(append([]string{*memberCSV}, members...)...)
	cfg.Peers = memberStrings
	if err := config.Validate(cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}

	if *dryRun {
		if err := printConfig(stdout, cfg); err != nil {
			_, _ = fmt.Fprintf(stderr, "config encode failed: %v\n", err)
			return 1
		}
		return 0
	}

	identity, err := node.LoadOrCreateIdentity(cfg.DataDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "identity load failed: %v\n", err)
		return 2
	}

	memberIds := make([]data.PeerId, 0, len(memberStrings))
	for _, m := range memberStrings {
		id, err := node.ParseMember(m)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "invalid member: %v\n", err)
			return 2
		}
		memberIds = append(memberIds, id)
	}

	logger := logrus.New()
	logger.SetOutput(stderr)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	n, err := node.New(cfg, identity, memberIds, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "node init failed: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Run(ctx); err != nil && ctx.Err() == nil {
		_, _ = fmt.Fprintf(stderr, "node exited: %v\n", err)
		return 1
	}
	return 0
}

func printConfig(w io.Writer, cfg config.Config) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
