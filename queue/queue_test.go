package queue

import (
	"crypto/ed25519"
	"testing"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/crypto"
	"github.com/kagami-chain/kagami/data"
)

func mustAccount(t *testing.T, name string) data.AccountId {
	t.Helper()
	dom, err := data.NewDomainId("wonderland")
	if err != nil {
		t.Fatal(err)
	}
	acc, err := data.NewAccountId(name, dom)
	if err != nil {
		t.Fatal(err)
	}
	return acc
}

func newTx(t *testing.T, authority data.AccountId, nonce uint32) block.SignedTransaction {
	t.Helper()
	return block.SignedTransaction{Payload: block.Payload{Authority: authority, Nonce: nonce, TimeToLiveMs: 60_000, CreatedAtMs: 0}}
}

func TestPushMergesDuplicateHash(t *testing.T) {
	q := New(Config{MaxTransactionsInQueue: 10, MaxTransactionsPerAccount: 10}, crypto.StdProvider{}, nil)
	acc := mustAccount(t, "alice")
	tx := newTx(t, acc, 1)
	if err := q.Push(tx, nil, 0); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(tx, nil, 0); err != nil {
		t.Fatalf("resubmission should merge, not error: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 queued transaction after resubmission, got %d", q.Len())
	}
}

func TestPushRejectsPerAccountCap(t *testing.T) {
	q := New(Config{MaxTransactionsInQueue: 10, MaxTransactionsPerAccount: 1}, crypto.StdProvider{}, nil)
	acc := mustAccount(t, "alice")
	if err := q.Push(newTx(t, acc, 1), nil, 0); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(newTx(t, acc, 2), nil, 0); err != ErrPerAccountLimit {
		t.Fatalf("expected ErrPerAccountLimit, got %v", err)
	}
}

func TestPushRejectsExpired(t *testing.T) {
	q := New(Config{MaxTransactionsInQueue: 10, MaxTransactionsPerAccount: 10}, crypto.StdProvider{}, nil)
	acc := mustAccount(t, "alice")
	tx := newTx(t, acc, 1)
	if err := q.Push(tx, nil, 120_000); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestPopSkipsUnsatisfiedSignatureCondition(t *testing.T) {
	q := New(Config{MaxTransactionsInQueue: 10, MaxTransactionsPerAccount: 10}, crypto.StdProvider{}, nil)
	acc := mustAccount(t, "alice")
	if err := q.Push(newTx(t, acc, 1), nil, 0); err != nil {
		t.Fatal(err)
	}
	unsatisfied := func(data.AccountId, block.SignedTransaction) bool { return false }
	got := q.Pop(10, 0, unsatisfied)
	if len(got) != 0 {
		t.Fatalf("expected 0 transactions popped when signature condition unsatisfied, got %d", len(got))
	}
	if q.Len() != 1 {
		t.Fatal("expected transaction to remain queued, not dropped")
	}
}

func TestPopDropsExpiredPermanently(t *testing.T) {
	q := New(Config{MaxTransactionsInQueue: 10, MaxTransactionsPerAccount: 10}, crypto.StdProvider{}, nil)
	acc := mustAccount(t, "alice")
	if err := q.Push(newTx(t, acc, 1), nil, 0); err != nil {
		t.Fatal(err)
	}
	got := q.Pop(10, 120_000, func(data.AccountId, block.SignedTransaction) bool { return true })
	if len(got) != 0 {
		t.Fatal("expected expired transaction not to be returned")
	}
	if q.Len() != 0 {
		t.Fatal("expected expired transaction to be dropped from the queue")
	}
}

func TestSignatureSetUnionMerge(t *testing.T) {
	_, priv1, _ := ed25519.GenerateKey(nil)
	pub1 := priv1.Public().(ed25519.PublicKey)
	acc := mustAccount(t, "alice")
	tx := newTx(t, acc, 1)
	sig := block.Sign(crypto.StdProvider{}, tx, pub1, priv1)
	tx2 := tx.WithAddedSignatures([]block.TxSignature{sig})
	if len(tx2.Signatures) != 1 {
		t.Fatalf("expected 1 signature after merge, got %d", len(tx2.Signatures))
	}
	tx3 := tx2.WithAddedSignatures([]block.TxSignature{sig})
	if len(tx3.Signatures) != 1 {
		t.Fatalf("expected duplicate signature to be deduplicated, got %d", len(tx3.Signatures))
	}
}
