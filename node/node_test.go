package node

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/sirupsen/logrus"
	"io"

	"github.com/kagami-chain/kagami/config"
	"github.com/kagami-chain/kagami/data"
)

func TestParseMember(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	raw := hex.EncodeToString(pub) + "@127.0.0.1:19211"
	id, err := ParseMember(raw)
	if err != nil {
		t.Fatal(err)
	}
	if string(id.PublicKey) != string(pub) || id.Address != "127.0.0.1:19211" {
		t.Fatalf("bad parse: %+v", id)
	}
}

func TestParseMemberRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"127.0.0.1:19211",            // no key
		"zz@127.0.0.1:19211",         // not hex
		"deadbeef@127.0.0.1:19211",   // wrong key length
	}
	for _, raw := range cases {
		if _, err := ParseMember(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func testMembers(t *testing.T, n int) ([]data.PeerId, []ed25519.PrivateKey) {
	t.Helper()
	ids := make([]data.PeerId, 0, n)
	keys := make([]ed25519.PrivateKey, 0, n)
	for i := 0; i < n; i++ {
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, data.PeerId{PublicKey: pub, Address: "127.0.0.1:0"})
		keys = append(keys, priv)
	}
	return ids, keys
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.BindAddr = "127.0.0.1:0"
	return cfg
}

func TestNewRejectsOutsiderIdentity(t *testing.T) {
	members, _ := testMembers(t, 3)
	_, outsider, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(testConfig(t), outsider, members, quietLogger()); err == nil {
		t.Fatal("expected an error for an identity outside the member list")
	}
}

func TestNewWiresAMemberNode(t *testing.T) {
	members, keys := testMembers(t, 4)
	n, err := New(testConfig(t), keys[0], members, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = n.store.Close() }()

	if n.topo.Len() != 4 {
		t.Fatalf("expected 4 topology members, got %d", n.topo.Len())
	}
	if n.topo.MinVotesForCommit() != 3 {
		t.Fatalf("expected min_votes_for_commit 3 for n=4, got %d", n.topo.MinVotesForCommit())
	}
	if string(n.self.PublicKey) != string(members[0].PublicKey) {
		t.Fatal("self should be the matching member entry")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	members, keys := testMembers(t, 1)
	cfg := testConfig(t)
	cfg.BlockTimeMs = 0
	if _, err := New(cfg, keys[0], members, quietLogger()); err == nil {
		t.Fatal("expected config validation to fail")
	}
}
