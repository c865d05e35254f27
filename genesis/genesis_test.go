package genesis

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kagami-chain/kagami/crypto"
	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/isi"
	"github.com/kagami-chain/kagami/wsv"
)

func testSpec(t *testing.T) Spec {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	return Spec{
		Authority: "genesis@genesis",
		Domains: []DomainSpec{
			{
				Name: "genesis",
				Accounts: []AccountSpec{
					{Name: "genesis", PublicKeys: []string{hex.EncodeToString(pub)}},
				},
			},
			{
				Name: "wonderland",
				Accounts: []AccountSpec{
					{Name: "alice", PublicKeys: []string{hex.EncodeToString(pub)}},
				},
				AssetDefinitions: []AssetDefinitionSpec{
					{Name: "rose", Kind: "u32"},
				},
				Mints: []MintSpec{
					{Asset: "rose", Account: "alice", Amount: 13},
				},
			},
		},
	}
}

func TestLoadRoundTrip(t *testing.T) {
	spec := testSpec(t)
	raw, err := json.Marshal(spec)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Authority != spec.Authority || len(got.Domains) != len(spec.Domains) {
		t.Fatalf("loaded spec does not match: %+v", got)
	}
}

func TestInstructionsOrderResolvesReferences(t *testing.T) {
	ins, err := Instructions(testSpec(t))
	if err != nil {
		t.Fatal(err)
	}
	// Per domain: register domain before anything inside it, mints last.
	var sawWonderland, sawAlice, sawRose bool
	for _, i := range ins {
		switch i.Kind {
		case isi.KindRegisterDomain:
			if i.Domain.String() == "wonderland" {
				sawWonderland = true
			}
		case isi.KindRegisterAccount:
			if i.Account.String() == "alice@wonderland" {
				if !sawWonderland {
					t.Fatal("account registered before its domain")
				}
				sawAlice = true
			}
		case isi.KindRegisterAssetDefinition:
			if i.AssetDefinition.String() == "rose#wonderland" {
				if !sawWonderland {
					t.Fatal("asset definition registered before its domain")
				}
				sawRose = true
			}
		case isi.KindMint:
			if !sawAlice || !sawRose {
				t.Fatal("mint ordered before its account/definition")
			}
		}
	}
}

func TestBuildProducesACommittableBlock(t *testing.T) {
	provider := crypto.StdProvider{}
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	committed, err := Build(provider, priv, testSpec(t), 1_700_000_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if committed.Header.Height != 1 {
		t.Fatalf("genesis must sit at height 1, got %d", committed.Header.Height)
	}
	if committed.Header.PreviousBlockHash != ([32]byte{}) {
		t.Fatal("genesis previous_block_hash must be zero")
	}
	if !committed.MinVotesSatisfied(provider, 1) {
		t.Fatal("genesis must carry its builder's valid signature")
	}
}

func TestApplyGenesisReachesConfiguredState(t *testing.T) {
	provider := crypto.StdProvider{}
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	committed, err := Build(provider, priv, testSpec(t), 1_700_000_000_000)
	if err != nil {
		t.Fatal(err)
	}

	world := wsv.NewWorldStateView(wsv.NewWorld(), provider, nil, nil)
	if _, err := wsv.Apply(world, committed); err != nil {
		t.Fatal(err)
	}

	alice, err := data.ParseAccountId("alice@wonderland")
	if err != nil {
		t.Fatal(err)
	}
	rose, err := data.ParseAssetDefinitionId("rose#wonderland")
	if err != nil {
		t.Fatal(err)
	}
	qty, err := world.FindAssetQuantityById(data.AssetId{Definition: rose, Account: alice})
	if err != nil {
		t.Fatal(err)
	}
	if qty.Kind != wsv.KindU32 || qty.U32 != 13 {
		t.Fatalf("expected alice to hold 13 rose, got %+v", qty)
	}
	if world.Height() != 1 {
		t.Fatalf("expected height 1 after genesis, got %d", world.Height())
	}
}

func TestBuildRejectsEmptySpec(t *testing.T) {
	provider := crypto.StdProvider{}
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Build(provider, priv, Spec{Authority: "genesis@genesis"}, 0); err == nil {
		t.Fatal("expected an error for a spec with no instructions")
	}
}
