package config

import "testing"

func TestNormalizePeers(t *testing.T) {
	got := NormalizePeers("127.0.0.1:19211, 127.0.0.1:19212", "127.0.0.1:19211", " ", "10.0.0.1:19211")
	want := []string{"127.0.0.1:19211", "127.0.0.1:19212", "10.0.0.1:19211"}
	if len(got) != len(want) {
		t.Fatalf("len=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("at %d got=%q want=%q", i, got[i], want[i])
		}
	}
}

func TestValidateOK(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Peers = []string{"127.0.0.1:19211"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsBadBind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BindAddr = "127.0.0.1"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidateRejectsBadPeer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Peers = []string{"bad-peer"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidateRejectsBackwardTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ViewChangeTimeMs = cfg.CommitTimeMs
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when view_change_time_ms does not exceed commit_time_ms")
	}
}

func TestValidateRequiresGenesisPathWhenSubmitting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubmitGenesis = true
	cfg.GenesisPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error")
	}
}
