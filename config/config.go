// Package config holds the node's static configuration: a plain
// JSON-tagged struct plus DefaultConfig/Validate. No config-file-format
// parser lives here — callers build a Config value and pass it in.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// Config is the full set of knobs a Kagami node needs at startup.
type Config struct {
	Network  string   `json:"network"`
	DataDir  string   `json:"data_dir"`
	BindAddr string   `json:"bind_addr"`
	LogLevel string   `json:"log_level"`
	Peers    []string `json:"peers"`
	MaxPeers int      `json:"max_peers"`

	MaxTransactionsInBlock        int    `json:"max_transactions_in_block"`
	MaxInstructionsPerTransaction int    `json:"max_instructions_per_transaction"`
	MaxWasmSize                   int    `json:"max_wasm_size"`
	PayloadTTLDriftMs             uint64 `json:"payload_ttl_drift_ms"`

	BlockTimeMs      uint64 `json:"block_time_ms"`
	CommitTimeMs     uint64 `json:"commit_time_ms"`
	ViewChangeTimeMs uint64 `json:"view_change_time_ms"`
	IdlePeerTimeoutMs uint64 `json:"idle_peer_timeout_ms"`

	BlockSyncIntervalMs uint64 `json:"block_sync_interval_ms"`
	BlockSyncBatchSize  int    `json:"block_sync_batch_size"`

	GenesisPath   string `json:"genesis_path"`
	SubmitGenesis bool   `json:"submit_genesis"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// DefaultDataDir is the $HOME-based default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".kagami"
	}
	return filepath.Join(home, ".kagami")
}

// DefaultConfig returns a Config with conservative defaults suitable for a
// local devnet.
func DefaultConfig() Config {
	return Config{
		Network:  "devnet",
		DataDir:  DefaultDataDir(),
		BindAddr: "0.0.0.0:19211",
		Peers:    nil,
		LogLevel: "info",
		MaxPeers: 64,

		MaxTransactionsInBlock:        512,
		MaxInstructionsPerTransaction: 4096,
		MaxWasmSize:                   4 * 1024 * 1024,
		PayloadTTLDriftMs:             1000,

		BlockTimeMs:       2000,
		CommitTimeMs:      4000,
		ViewChangeTimeMs:  10000,
		IdlePeerTimeoutMs: 60000,

		BlockSyncIntervalMs: 5000,
		BlockSyncBatchSize:  100,

		SubmitGenesis: false,
	}
}

// NormalizePeers splits, trims, and deduplicates comma-joined peer address
// lists, preserving first-seen order.
func NormalizePeers(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Validate checks cfg for internal consistency.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if err := validateAddr(cfg.BindAddr); err != nil {
		return fmt.Errorf("invalid bind_addr: %w", err)
	}
	for _, peer := range cfg.Peers {
		if err := validatePeerAddr(peer); err != nil {
			return fmt.Errorf("invalid peer %q: %w", peer, err)
		}
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.MaxPeers <= 0 || cfg.MaxPeers > 4096 {
		return errors.New("max_peers must be in (0, 4096]")
	}
	if cfg.MaxTransactionsInBlock <= 0 {
		return errors.New("max_transactions_in_block must be > 0")
	}
	if cfg.MaxInstructionsPerTransaction <= 0 {
		return errors.New("max_instructions_per_transaction must be > 0")
	}
	if cfg.BlockTimeMs == 0 || cfg.CommitTimeMs == 0 || cfg.ViewChangeTimeMs == 0 {
		return errors.New("block_time_ms, commit_time_ms, and view_change_time_ms must be > 0")
	}
	if cfg.CommitTimeMs <= cfg.BlockTimeMs {
		return errors.New("commit_time_ms must exceed block_time_ms")
	}
	if cfg.ViewChangeTimeMs <= cfg.CommitTimeMs {
		return errors.New("view_change_time_ms must exceed commit_time_ms")
	}
	if cfg.BlockSyncBatchSize <= 0 {
		return errors.New("block_sync_batch_size must be > 0")
	}
	if cfg.SubmitGenesis && strings.TrimSpace(cfg.GenesisPath) == "" {
		return errors.New("genesis_path is required when submit_genesis is set")
	}
	return nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}

func validatePeerAddr(addr string) error {
	if err := validateAddr(addr); err != nil {
		return err
	}
	host, _, _ := net.SplitHostPort(addr)
	if strings.TrimSpace(host) == "" {
		return errors.New("missing host")
	}
	return nil
}
