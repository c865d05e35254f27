package node

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/crypto"
	"github.com/kagami-chain/kagami/p2p"
	"github.com/kagami-chain/kagami/rpc"
	"github.com/kagami-chain/kagami/triggers"
	"github.com/kagami-chain/kagami/wsv"
)

var _ rpc.Service = (*Node)(nil)

// AcceptanceError is returned to a submitter whose transaction failed the
// syntactic admission checks of the Signed -> Accepted transition; it
// never enters consensus.
type AcceptanceError struct{ Reason string }

func (e *AcceptanceError) Error() string { return "node: accept transaction: " + e.Reason }

// acceptTransaction runs the Signed -> Accepted checks: signature
// presence, instruction-count limit, and the creation-timestamp drift
// window. Queue-level checks (dedup, caps, TTL expiry) happen inside the
// queue on Push.
func (n *Node) acceptTransaction(tx block.SignedTransaction, nowMs uint64) error {
	if len(tx.Signatures) == 0 {
		return &AcceptanceError{Reason: "no signatures"}
	}
	if len(tx.Payload.Instructions) == 0 {
		return &AcceptanceError{Reason: "no instructions"}
	}
	if len(tx.Payload.Instructions) > n.cfg.MaxInstructionsPerTransaction {
		return &AcceptanceError{Reason: fmt.Sprintf("too many instructions (max %d)", n.cfg.MaxInstructionsPerTransaction)}
	}
	drift := n.cfg.PayloadTTLDriftMs
	if tx.Payload.CreatedAtMs > nowMs+drift {
		return &AcceptanceError{Reason: "created_at is in the future beyond allowed drift"}
	}
	if len(tx.SignedBy(n.provider)) == 0 {
		return &AcceptanceError{Reason: "no valid signatures"}
	}
	return nil
}

// SubmitTransaction implements rpc.Service: acceptance checks, queue
// admission, then gossip to peers so the current leader sees it whichever
// node it was submitted to.
func (n *Node) SubmitTransaction(ctx context.Context, tx block.SignedTransaction) error {
	nowMs := uint64(time.Now().UnixMilli())
	if err := n.acceptTransaction(tx, nowMs); err != nil {
		return err
	}
	if err := n.engine.HandleTransactionGossip(tx); err != nil {
		return err
	}
	if err := n.net.Broadcast(p2p.Message{Kind: p2p.KindTransactionGossip, Transaction: &tx}); err != nil {
		n.log.WithError(err).Warn("node: gossip transaction")
	}
	return nil
}

// QueryHash is the canonical signing pre-image of a SignedQuery's
// authority + expression, shared by clients producing signatures and
// nodes verifying them.
func QueryHash(provider crypto.Provider, q rpc.SignedQuery) ([32]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(struct {
		Authority string
		Query     interface{}
	}{Authority: q.Authority.String(), Query: q.Query}); err != nil {
		return [32]byte{}, fmt.Errorf("node: encode query: %w", err)
	}
	return provider.SHA3_256(buf.Bytes()), nil
}

// QueryError carries the typed reason a query was refused, mapping to
// gateway response statuses (Signature -> 401, Permission -> 403,
// Find -> 404).
type QueryError struct {
	Kind  string // "Signature" | "Permission" | "Find" | "Conversion"
	Cause error
}

func (e *QueryError) Error() string { return "node: query: " + e.Kind + ": " + e.Cause.Error() }
func (e *QueryError) Unwrap() error { return e.Cause }

// Query implements rpc.Service: verify the submitting account's
// signature, evaluate the expression against the current state, and
// paginate the result.
func (n *Node) Query(ctx context.Context, q rpc.SignedQuery, opts rpc.QueryOptions) (rpc.PaginatedResult, error) {
	hash, err := QueryHash(n.provider, q)
	if err != nil {
		return rpc.PaginatedResult{}, &QueryError{Kind: "Conversion", Cause: err}
	}
	if !n.provider.Verify(q.Signature.Key, hash[:], q.Signature.Sig) {
		return rpc.PaginatedResult{}, &QueryError{Kind: "Signature", Cause: fmt.Errorf("invalid signature")}
	}

	authorized := false
	if err := n.wsv.MapAccount(q.Authority, func(acc *wsv.Account) error {
		for _, key := range acc.Signatories {
			if string(key) == string(q.Signature.Key) {
				authorized = true
			}
		}
		return nil
	}); err != nil {
		return rpc.PaginatedResult{}, &QueryError{Kind: "Find", Cause: err}
	}
	if !authorized {
		return rpc.PaginatedResult{}, &QueryError{Kind: "Permission", Cause: fmt.Errorf("key is not a signatory of %s", q.Authority)}
	}

	value, err := wsv.Eval(q.Query, wsv.Context{"authority": wsv.StringValue(q.Authority.String())})
	if err != nil {
		return rpc.PaginatedResult{}, &QueryError{Kind: "Conversion", Cause: err}
	}

	items, convErr := value.AsVec()
	if convErr != nil {
		// A scalar result is a single-item page.
		items = []wsv.Value{value}
	}
	if opts.MetadataSortKey != "" {
		rpc.SortByMetadataKey(items, opts.MetadataSortKey)
	}
	total := len(items)
	start, end := rpc.Slice(total, opts.Page)
	return rpc.PaginatedResult{Items: items[start:end], Total: total}, nil
}

// SubscribeEvents implements rpc.Service by deriving the
// transaction-lifecycle event stream from committed blocks as Kura
// reports them. Only pipeline-level events are observable at this
// contract boundary; instruction-level data events are consumed
// internally by the trigger set during block application.
func (n *Node) SubscribeEvents(ctx context.Context, filter triggers.DataEventFilter) (<-chan rpc.EventMessage, error) {
	out := make(chan rpc.EventMessage, 64)
	watch := n.store.Watch()
	last := n.store.Height()
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case tip := <-watch:
				for h := last + 1; h <= tip; h++ {
					b, found, err := n.store.GetBlockByHeight(h)
					if err != nil || !found {
						continue
					}
					for _, tx := range b.Transactions {
						ev := wsv.DataEvent{Kind: wsv.EventTransactionCommitted, Account: tx.Payload.Authority, TimestampMs: b.Header.TimestampMs}
						if !filter.Matches(ev) {
							continue
						}
						select {
						case out <- rpc.EventMessage{Event: ev}:
						case <-ctx.Done():
							return
						}
					}
				}
				last = tip
			}
		}
	}()
	return out, nil
}

// SubscribeBlocks implements rpc.Service: replay from fromHeight, then
// stream live commits off Kura's watch channel.
func (n *Node) SubscribeBlocks(ctx context.Context, fromHeight uint64) (<-chan rpc.BlockMessage, error) {
	out := make(chan rpc.BlockMessage, 16)
	watch := n.store.Watch()
	go func() {
		defer close(out)
		next := fromHeight
		if next == 0 {
			next = 1
		}
		emit := func(tip uint64) bool {
			for ; next <= tip; next++ {
				b, found, err := n.store.GetBlockByHeight(next)
				if err != nil || !found {
					return true
				}
				select {
				case out <- rpc.BlockMessage{Block: b}:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}
		if !emit(n.store.Height()) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case tip := <-watch:
				if !emit(tip) {
					return
				}
			}
		}
	}()
	return out, nil
}

// PendingTransactions implements rpc.Service.
func (n *Node) PendingTransactions(ctx context.Context, opts rpc.QueryOptions) (rpc.PendingTransactionsResult, error) {
	all := n.queue.AllTransactions()
	total := len(all)
	start, end := rpc.Slice(total, opts.Page)
	return rpc.PendingTransactionsResult{Transactions: all[start:end], Total: total}, nil
}

// Health implements rpc.Service: healthy as long as the supervisor group
// has not tripped.
func (n *Node) Health(ctx context.Context) error {
	if n.group != nil && n.group.Context().Err() != nil {
		return fmt.Errorf("node: shutting down")
	}
	return nil
}

// Status implements rpc.Service.
func (n *Node) Status(ctx context.Context) (rpc.StatusReport, error) {
	return rpc.StatusReport{
		Height:          n.store.Height(),
		LatestBlockHash: n.wsv.LatestBlockHash(),
		PeerCount:       len(n.net.ConnectedPeers()),
		QueueLength:     n.queue.Len(),
	}, nil
}

// Metrics implements rpc.Service with the counters Status already tracks;
// a richer registry belongs to an external exporter.
func (n *Node) Metrics(ctx context.Context) (rpc.MetricsSnapshot, error) {
	return rpc.MetricsSnapshot{
		"height":     float64(n.store.Height()),
		"peers":      float64(len(n.net.ConnectedPeers())),
		"queue_size": float64(n.queue.Len()),
	}, nil
}
