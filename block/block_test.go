package block

import (
	"crypto/ed25519"
	"testing"

	"github.com/kagami-chain/kagami/crypto"
	"github.com/kagami-chain/kagami/data"
)

func testAuthority(t *testing.T) data.AccountId {
	t.Helper()
	dom, err := data.NewDomainId("wonderland")
	if err != nil {
		t.Fatal(err)
	}
	acc, err := data.NewAccountId("alice", dom)
	if err != nil {
		t.Fatal(err)
	}
	return acc
}

func TestHeaderHashIsStable(t *testing.T) {
	provider := crypto.StdProvider{}
	h := Header{Height: 7, TimestampMs: 1234, ViewChangeIndex: 2}
	if Hash(provider, h) != Hash(provider, h) {
		t.Fatal("identical headers must hash identically")
	}
	h2 := h
	h2.Height = 8
	if Hash(provider, h) == Hash(provider, h2) {
		t.Fatal("differing headers must not collide")
	}
}

func TestPayloadHashIgnoresSignatures(t *testing.T) {
	provider := crypto.StdProvider{}
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	pub := priv.Public().(ed25519.PublicKey)

	tx := SignedTransaction{Payload: Payload{Authority: testAuthority(t), Nonce: 9}}
	unsignedHash := tx.Hash(provider)
	tx.Signatures = append(tx.Signatures, Sign(provider, tx, pub, priv))
	if tx.Hash(provider) != unsignedHash {
		t.Fatal("a transaction's identity must not depend on its signature set")
	}
}

func TestWithAddedSignaturesIsSetUnion(t *testing.T) {
	provider := crypto.StdProvider{}
	_, privA, _ := ed25519.GenerateKey(nil)
	_, privB, _ := ed25519.GenerateKey(nil)
	pubA := privA.Public().(ed25519.PublicKey)
	pubB := privB.Public().(ed25519.PublicKey)

	tx := SignedTransaction{Payload: Payload{Authority: testAuthority(t)}}
	sigA := Sign(provider, tx, pubA, privA)
	sigB := Sign(provider, tx, pubB, privB)

	tx.Signatures = []TxSignature{sigA}
	merged := tx.WithAddedSignatures([]TxSignature{sigA, sigB})
	if len(merged.Signatures) != 2 {
		t.Fatalf("expected union of 2 distinct keys, got %d", len(merged.Signatures))
	}
	signedBy := merged.SignedBy(provider)
	if _, ok := signedBy[string(pubA)]; !ok {
		t.Fatal("missing signatory A")
	}
	if _, ok := signedBy[string(pubB)]; !ok {
		t.Fatal("missing signatory B")
	}
}

func TestMinVotesSatisfiedCountsDistinctValidSigners(t *testing.T) {
	provider := crypto.StdProvider{}
	pending := PendingBlock{Header: Header{Height: 3}}
	hash := pending.Hash(provider)

	var sigs []Signature
	for i := 0; i < 3; i++ {
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			t.Fatal(err)
		}
		sigs = append(sigs, Signature{PeerPublicKey: pub, Sig: provider.Sign(priv, hash[:])})
	}
	// Duplicate one signer and add a garbage signature: neither may count.
	pending.Signatures = append(append([]Signature{}, sigs...), sigs[0], Signature{PeerPublicKey: sigs[1].PeerPublicKey, Sig: []byte("junk")})

	if !pending.MinVotesSatisfied(provider, 3) {
		t.Fatal("3 distinct valid signatures should satisfy min votes of 3")
	}
	if pending.MinVotesSatisfied(provider, 4) {
		t.Fatal("duplicates and invalid signatures must not inflate the count")
	}
}

func TestToCommittedRequiresQuorum(t *testing.T) {
	provider := crypto.StdProvider{}
	pending := PendingBlock{Header: Header{Height: 1}}
	if _, err := pending.ToCommitted(provider, 1); err == nil {
		t.Fatal("expected ToCommitted to fail without signatures")
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	hash := pending.Hash(provider)
	pending.Signatures = append(pending.Signatures, Signature{PeerPublicKey: pub, Sig: provider.Sign(priv, hash[:])})
	if _, err := pending.ToCommitted(provider, 1); err != nil {
		t.Fatal(err)
	}
}

func TestPayloadExpiry(t *testing.T) {
	p := Payload{CreatedAtMs: 1000, TimeToLiveMs: 500}
	if p.Expired(1400) {
		t.Fatal("not yet expired")
	}
	if !p.Expired(1501) {
		t.Fatal("expected expiry after created_at + ttl")
	}
	forever := Payload{CreatedAtMs: 1000, TimeToLiveMs: 0}
	if forever.Expired(1 << 60) {
		t.Fatal("zero TTL means no expiry")
	}
}
