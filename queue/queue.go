// Package queue implements the bounded transaction pool: FIFO
// admission with duplicate/cap/TTL checks, FIFO retrieval skipping
// expired or under-signed transactions, and signature-set-union merge on
// resubmission.
//
// Internally a slice-backed FIFO index plus a hash-keyed map gives O(1)
// dedup lookup, guarded by a single sync.Mutex: concurrent pushers, one
// popper, and no separate read/write paths since every queue operation
// mutates the FIFO index.
package queue

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/crypto"
	"github.com/kagami-chain/kagami/data"
)

// AdmissionError tags why a submitted transaction was rejected: pool
// full, per-account cap, expired, or duplicate.
type AdmissionError struct {
	Reason string
}

func (e *AdmissionError) Error() string { return "queue: " + e.Reason }

var (
	ErrDuplicate       = &AdmissionError{Reason: "duplicate transaction hash"}
	ErrQueueFull       = &AdmissionError{Reason: "Full"}
	ErrPerAccountLimit = &AdmissionError{Reason: "MaximumTransactionsPerUser"}
	ErrExpired         = &AdmissionError{Reason: "Expired"}
)

// SignatureChecker reports whether the given signed-by set currently
// satisfies the authority account's signature condition — a narrow
// callback into wsv so package queue never imports package wsv directly
// (queue only needs this one predicate, not the whole account model).
type SignatureChecker func(authority data.AccountId, tx block.SignedTransaction) bool

// Config bounds queue admission.
type Config struct {
	MaxTransactionsInQueue    int
	MaxTransactionsPerAccount int
	MaxClockDriftMs           uint64
}

type entry struct {
	tx block.SignedTransaction
}

// Queue is the bounded FIFO pool of accepted transactions.
type Queue struct {
	mu sync.Mutex

	log      *logrus.Entry
	cfg      Config
	provider crypto.Provider

	order   []string // transaction hash, FIFO order of first admission
	byHash  map[string]*entry
	perAcct map[string]int
}

// New constructs an empty Queue. A nil log entry disables logging
// (tests).
func New(cfg Config, provider crypto.Provider, log *logrus.Entry) *Queue {
	if log == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		log = logrus.NewEntry(quiet)
	}
	return &Queue{
		log:      log,
		cfg:      cfg,
		provider: provider,
		byHash:   make(map[string]*entry),
		perAcct:  make(map[string]int),
	}
}

// Push admits tx, or merges its signatures into an already-queued copy of
// the same payload. nowMs is the node's current clock.
func (q *Queue) Push(tx block.SignedTransaction, recentlyCommitted func(hash [32]byte) bool, nowMs uint64) error {
	hash := tx.Hash(q.provider)
	key := string(hash[:])

	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.byHash[key]; ok {
		existing.tx = existing.tx.WithAddedSignatures(tx.Signatures)
		return nil
	}
	if recentlyCommitted != nil && recentlyCommitted(hash) {
		return ErrDuplicate
	}
	if tx.Payload.Expired(nowMs + q.cfg.MaxClockDriftMs) {
		return ErrExpired
	}
	if q.cfg.MaxTransactionsInQueue > 0 && len(q.order) >= q.cfg.MaxTransactionsInQueue {
		return ErrQueueFull
	}
	acctKey := tx.Payload.Authority.String()
	if q.cfg.MaxTransactionsPerAccount > 0 && q.perAcct[acctKey] >= q.cfg.MaxTransactionsPerAccount {
		return ErrPerAccountLimit
	}

	q.byHash[key] = &entry{tx: tx}
	q.order = append(q.order, key)
	q.perAcct[acctKey]++
	return nil
}

// Pop drains up to limit transactions in FIFO order, skipping (and
// permanently dropping) expired entries and skipping (but retaining)
// entries whose merged signature set does not yet satisfy the authority's
// signature condition.
func (q *Queue) Pop(limit int, nowMs uint64, satisfied SignatureChecker) []block.SignedTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]block.SignedTransaction, 0, limit)
	remaining := q.order[:0:0]
	removed := make(map[string]struct{})
	expired := 0

	for _, key := range q.order {
		e, ok := q.byHash[key]
		if !ok {
			continue
		}
		if e.tx.Payload.Expired(nowMs) {
			delete(q.byHash, key)
			q.perAcct[e.tx.Payload.Authority.String()]--
			removed[key] = struct{}{}
			expired++
			continue
		}
		if len(out) >= limit {
			remaining = append(remaining, key)
			continue
		}
		if satisfied != nil && !satisfied(e.tx.Payload.Authority, e.tx) {
			remaining = append(remaining, key)
			continue
		}
		out = append(out, e.tx)
		delete(q.byHash, key)
		q.perAcct[e.tx.Payload.Authority.String()]--
		removed[key] = struct{}{}
	}
	q.order = remaining
	if expired > 0 {
		q.log.WithField("count", expired).Debug("queue: expired transactions dropped")
	}
	return out
}

// AllTransactions returns the current pending set for introspection.
func (q *Queue) AllTransactions() []block.SignedTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]block.SignedTransaction, 0, len(q.order))
	for _, key := range q.order {
		if e, ok := q.byHash[key]; ok {
			out = append(out, e.tx)
		}
	}
	return out
}

// Len reports the number of transactions currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Remove drops tx by hash unconditionally (used once a transaction has
// been committed via another path, e.g. block sync catch-up).
func (q *Queue) Remove(hash [32]byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := string(hash[:])
	e, ok := q.byHash[key]
	if !ok {
		return
	}
	delete(q.byHash, key)
	q.perAcct[e.tx.Payload.Authority.String()]--
	for i, k := range q.order {
		if k == key {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}
