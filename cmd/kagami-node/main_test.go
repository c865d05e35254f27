package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kagami-chain/kagami/config"
)

func TestRunDryRunPrintsEffectiveConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{
		"-dry-run",
		"-datadir", t.TempDir(),
		"-network", "testnet",
		"-bind", "127.0.0.1:29211",
	}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr: %s)", code, stderr.String())
	}
	var cfg config.Config
	if err := json.Unmarshal(stdout.Bytes(), &cfg); err != nil {
		t.Fatalf("dry-run output is not JSON: %v", err)
	}
	if cfg.Network != "testnet" || cfg.BindAddr != "127.0.0.1:29211" {
		t.Fatalf("flags not reflected in config: %+v", cfg)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-dry-run", "-log-level", "verbose"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(stderr.String(), "invalid config") {
		t.Fatalf("expected an invalid-config message, got %q", stderr.String())
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-definitely-not-a-flag"}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestMultiStringFlagAccumulates(t *testing.T) {
	var m multiStringFlag
	_ = m.Set("a@h:1")
	_ = m.Set("b@h:2")
	if m.String() != "a@h:1,b@h:2" {
		t.Fatalf("unexpected join: %q", m.String())
	}
}
