package node

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/isi"
	"github.com/kagami-chain/kagami/rpc"
	"github.com/kagami-chain/kagami/wsv"
)

func newTestNode(t *testing.T) (*Node, []ed25519.PrivateKey) {
	t.Helper()
	members, keys := testMembers(t, 1)
	n, err := New(testConfig(t), keys[0], members, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = n.store.Close() })
	return n, keys
}

func signedTx(t *testing.T, n *Node, priv ed25519.PrivateKey, instructions int) block.SignedTransaction {
	t.Helper()
	dom, err := data.NewDomainId("wonderland")
	if err != nil {
		t.Fatal(err)
	}
	authority, err := data.NewAccountId("alice", dom)
	if err != nil {
		t.Fatal(err)
	}
	var ins []isi.InstructionBox
	for i := 0; i < instructions; i++ {
		ins = append(ins, isi.InstructionBox{Kind: isi.KindRegisterDomain, Domain: dom})
	}
	tx := block.SignedTransaction{Payload: block.Payload{
		Authority:    authority,
		Instructions: ins,
		CreatedAtMs:  uint64(time.Now().UnixMilli()),
		TimeToLiveMs: 60_000,
	}}
	pub := priv.Public().(ed25519.PublicKey)
	tx.Signatures = append(tx.Signatures, block.Sign(n.provider, tx, pub, priv))
	return tx
}

func TestSubmitTransactionAccepts(t *testing.T) {
	n, keys := newTestNode(t)
	tx := signedTx(t, n, keys[0], 1)
	if err := n.SubmitTransaction(context.Background(), tx); err != nil {
		t.Fatal(err)
	}
	if n.queue.Len() != 1 {
		t.Fatalf("expected 1 queued transaction, got %d", n.queue.Len())
	}
}

func TestSubmitTransactionRejectsUnsigned(t *testing.T) {
	n, keys := newTestNode(t)
	tx := signedTx(t, n, keys[0], 1)
	tx.Signatures = nil
	err := n.SubmitTransaction(context.Background(), tx)
	if _, ok := err.(*AcceptanceError); !ok {
		t.Fatalf("expected AcceptanceError, got %v", err)
	}
}

func TestSubmitTransactionRejectsTooManyInstructions(t *testing.T) {
	members, keys := testMembers(t, 1)
	cfg := testConfig(t)
	cfg.MaxInstructionsPerTransaction = 2
	n, err := New(cfg, keys[0], members, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = n.store.Close() }()

	tx := signedTx(t, n, keys[0], 3)
	if err := n.SubmitTransaction(context.Background(), tx); err == nil {
		t.Fatal("expected instruction-count limit to reject")
	}
}

func TestSubmitTransactionRejectsFutureTimestamp(t *testing.T) {
	n, keys := newTestNode(t)
	tx := signedTx(t, n, keys[0], 1)
	tx.Payload.CreatedAtMs = uint64(time.Now().UnixMilli()) + n.cfg.PayloadTTLDriftMs + 60_000
	tx.Signatures = nil
	pub := keys[0].Public().(ed25519.PublicKey)
	tx.Signatures = append(tx.Signatures, block.Sign(n.provider, tx, pub, keys[0]))
	err := n.SubmitTransaction(context.Background(), tx)
	if _, ok := err.(*AcceptanceError); !ok {
		t.Fatalf("expected AcceptanceError for future created_at, got %v", err)
	}
}

func queryFor(t *testing.T, n *Node, priv ed25519.PrivateKey, authority data.AccountId, expr isi.ExpressionBox) rpc.SignedQuery {
	t.Helper()
	q := rpc.SignedQuery{Authority: authority, Query: expr}
	hash, err := QueryHash(n.provider, q)
	if err != nil {
		t.Fatal(err)
	}
	pub := priv.Public().(ed25519.PublicKey)
	q.Signature = block.TxSignature{Key: pub, Sig: n.provider.Sign(priv, hash[:])}
	return q
}

func registerAccount(t *testing.T, n *Node, name, domain string, pub ed25519.PublicKey) data.AccountId {
	t.Helper()
	dom, err := data.NewDomainId(domain)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.wsv.RegisterDomain(dom); err != nil {
		t.Fatal(err)
	}
	id, err := data.NewAccountId(name, dom)
	if err != nil {
		t.Fatal(err)
	}
	acc, err := wsv.NewAccount(id, []ed25519.PublicKey{pub})
	if err != nil {
		t.Fatal(err)
	}
	if err := n.wsv.ModifyDomain(dom, func(d *wsv.Domain) error {
		d.Accounts[id] = acc
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestQueryVerifiesSignatureAndEvaluates(t *testing.T) {
	n, keys := newTestNode(t)
	pub := keys[0].Public().(ed25519.PublicKey)
	authority := registerAccount(t, n, "alice", "wonderland", pub)

	expr := isi.ExpressionBox{Kind: isi.ExprRaw, Raw: isi.RawValue{Kind: isi.RawU32, U32: 7}}
	q := queryFor(t, n, keys[0], authority, expr)

	res, err := n.Query(context.Background(), q, rpc.QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || len(res.Items) != 1 {
		t.Fatalf("expected a single scalar item, got %+v", res)
	}
}

func TestQueryRejectsBadSignature(t *testing.T) {
	n, keys := newTestNode(t)
	pub := keys[0].Public().(ed25519.PublicKey)
	authority := registerAccount(t, n, "alice", "wonderland", pub)

	expr := isi.ExpressionBox{Kind: isi.ExprRaw, Raw: isi.RawValue{Kind: isi.RawU32, U32: 7}}
	q := queryFor(t, n, keys[0], authority, expr)
	q.Signature.Sig[0] ^= 0xff

	_, err := n.Query(context.Background(), q, rpc.QueryOptions{})
	qe, ok := err.(*QueryError)
	if !ok || qe.Kind != "Signature" {
		t.Fatalf("expected Signature query error, got %v", err)
	}
}

func TestQueryRejectsNonSignatory(t *testing.T) {
	n, keys := newTestNode(t)
	_, otherPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	pub := keys[0].Public().(ed25519.PublicKey)
	authority := registerAccount(t, n, "alice", "wonderland", pub)

	expr := isi.ExpressionBox{Kind: isi.ExprRaw, Raw: isi.RawValue{Kind: isi.RawU32, U32: 7}}
	q := queryFor(t, n, otherPriv, authority, expr)

	_, err = n.Query(context.Background(), q, rpc.QueryOptions{})
	qe, ok := err.(*QueryError)
	if !ok || qe.Kind != "Permission" {
		t.Fatalf("expected Permission query error, got %v", err)
	}
}

func TestQueryUnknownAccountIsFind(t *testing.T) {
	n, keys := newTestNode(t)
	dom, _ := data.NewDomainId("nowhere")
	ghost := data.AccountId{Name: "ghost", Domain: dom}

	expr := isi.ExpressionBox{Kind: isi.ExprRaw, Raw: isi.RawValue{Kind: isi.RawU32, U32: 7}}
	q := queryFor(t, n, keys[0], ghost, expr)

	_, err := n.Query(context.Background(), q, rpc.QueryOptions{})
	qe, ok := err.(*QueryError)
	if !ok || qe.Kind != "Find" {
		t.Fatalf("expected Find query error, got %v", err)
	}
}

func TestPendingTransactionsPaginates(t *testing.T) {
	n, keys := newTestNode(t)
	for i := 0; i < 3; i++ {
		tx := signedTx(t, n, keys[0], 1)
		tx.Payload.Nonce = uint32(i)
		pub := keys[0].Public().(ed25519.PublicKey)
		tx.Signatures = []block.TxSignature{block.Sign(n.provider, tx, pub, keys[0])}
		if err := n.SubmitTransaction(context.Background(), tx); err != nil {
			t.Fatal(err)
		}
	}
	res, err := n.PendingTransactions(context.Background(), rpc.QueryOptions{Page: wsv.Page{Start: 1, Limit: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 3 || len(res.Transactions) != 1 {
		t.Fatalf("expected total 3 / page 1, got total %d / page %d", res.Total, len(res.Transactions))
	}
}

func TestStatusReportsHeightAndQueue(t *testing.T) {
	n, keys := newTestNode(t)
	if err := n.SubmitTransaction(context.Background(), signedTx(t, n, keys[0], 1)); err != nil {
		t.Fatal(err)
	}
	st, err := n.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Height != 0 || st.QueueLength != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
}
