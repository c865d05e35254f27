// Package rpc declares the client-facing contract: the method signatures
// and request/response shapes a gateway (HTTP, WebSocket, whatever) would
// translate into wire calls against a running node. No transport is
// implemented; this package exists so the node can be built and tested
// against a stable interface before any gateway exists.
package rpc

import (
	"context"
	"sort"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/isi"
	"github.com/kagami-chain/kagami/triggers"
	"github.com/kagami-chain/kagami/wsv"
)

// SignedQuery is a read request signed by its submitting account, the
// query-side analog of block.SignedTransaction.
type SignedQuery struct {
	Authority data.AccountId
	Query     isi.ExpressionBox
	Signature block.TxSignature
}

// QueryOptions carries a query's pagination window and optional
// metadata-key sort.
type QueryOptions struct {
	Page       wsv.Page
	MetadataSortKey string
}

// PaginatedResult is the generic envelope for any query's output: Total is
// the pre-pagination length, Items is already sliced to the requested page.
type PaginatedResult struct {
	Items []wsv.Value
	Total int
}

// Slice resolves a pagination window against a result set of the given
// pre-pagination length, returning the [start, end) indices of the page
// (defaults: start=0, limit=unbounded; slicing never reads past the
// end).
func Slice(total int, p wsv.Page) (start, end int) {
	start = int(p.Start)
	if start > total {
		start = total
	}
	end = total
	if p.Limit > 0 && start+int(p.Limit) < end {
		end = start + int(p.Limit)
	}
	return start, end
}

// SortByMetadataKey stably sorts items by the value stored under key in
// each item's metadata: items whose
// metadata lacks the key (or that carry no metadata at all) sort after
// those that have it, preserving their relative order.
func SortByMetadataKey(items []wsv.Value, key string) {
	type ranked struct {
		present bool
		sortKey string
	}
	rank := func(v wsv.Value) ranked {
		if v.Kind != wsv.ValueMetadata {
			return ranked{}
		}
		entry, ok := v.Metadata.Get(key)
		if !ok {
			return ranked{}
		}
		s, err := entry.AsStringRaw()
		if err != nil {
			return ranked{}
		}
		return ranked{present: true, sortKey: s}
	}
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := rank(items[i]), rank(items[j])
		if ri.present != rj.present {
			return ri.present
		}
		return ri.present && ri.sortKey < rj.sortKey
	})
}

// EventMessage is one entry in an event subscription stream.
type EventMessage struct {
	Event wsv.DataEvent
}

// BlockMessage is one entry in a block subscription stream.
type BlockMessage struct {
	Block block.CommittedBlock
}

// PendingTransactionsResult reports the submitter-visible view of the
// queue.
type PendingTransactionsResult struct {
	Transactions []block.SignedTransaction
	Total        int
}

// StatusReport is the operator-facing snapshot returned by Status.
type StatusReport struct {
	Height          uint64
	LatestBlockHash [32]byte
	PeerCount       int
	QueueLength     int
}

// MetricsSnapshot is a point-in-time counter dump; a real implementation
// would back this with a metrics registry, deliberately left unspecified
// here.
type MetricsSnapshot map[string]float64

// Service is the client-facing contract a node implementation exposes.
// Every method is safe for concurrent use.
type Service interface {
	// SubmitTransaction admits tx into the local queue. A nil error means
	// "Accepted"; typed admission errors must be surfaced to the
	// submitter, never silently retried.
	SubmitTransaction(ctx context.Context, tx block.SignedTransaction) error

	// Query evaluates q against the current WorldStateView and returns a
	// paginated, optionally sorted result.
	Query(ctx context.Context, q SignedQuery, opts QueryOptions) (PaginatedResult, error)

	// SubscribeEvents streams DataEvents matching filter until ctx is
	// cancelled. Implementations must not block a slow subscriber's
	// cancellation behind a full channel.
	SubscribeEvents(ctx context.Context, filter triggers.DataEventFilter) (<-chan EventMessage, error)

	// SubscribeBlocks streams every committed block from fromHeight
	// onward, then live as new blocks commit.
	SubscribeBlocks(ctx context.Context, fromHeight uint64) (<-chan BlockMessage, error)

	// PendingTransactions reports the submitter-visible queue contents.
	PendingTransactions(ctx context.Context, opts QueryOptions) (PendingTransactionsResult, error)

	// Health returns nil when the node considers itself healthy.
	Health(ctx context.Context) error

	// Status returns the current chain/peer/queue snapshot.
	Status(ctx context.Context) (StatusReport, error)

	// Metrics returns a point-in-time counter snapshot.
	Metrics(ctx context.Context) (MetricsSnapshot, error)
}
