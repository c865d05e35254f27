package sumeragi

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/crypto"
	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/kura"
	"github.com/kagami-chain/kagami/p2p"
	"github.com/kagami-chain/kagami/queue"
	"github.com/kagami-chain/kagami/topology"
	"github.com/kagami-chain/kagami/triggers"
	"github.com/kagami-chain/kagami/wsv"
)

// Config bounds block production and the per-state deadlines. It is a
// narrowed, runtime-only view of config.Config; node.New translates one
// into the other so this package never imports config.
type Config struct {
	MaxTransactionsInBlock int
	MaxClockDriftMs        uint64

	BlockTimeout      time.Duration
	CommitTimeout     time.Duration
	ViewChangeTimeout time.Duration
}

// recentCommittedTxs is a bounded FIFO set of recently committed
// transaction hashes, the queue's "recently committed" dedup oracle.
// Kura indexes blocks by hash, not by the transaction
// hashes inside them, so Sumeragi keeps this window itself rather than
// querying Kura per admission.
type recentCommittedTxs struct {
	cap   int
	order [][32]byte
	set   map[[32]byte]struct{}
}

func newRecentCommittedTxs(cap int) *recentCommittedTxs {
	return &recentCommittedTxs{cap: cap, set: make(map[[32]byte]struct{}, cap)}
}

func (r *recentCommittedTxs) add(hash [32]byte) {
	if _, ok := r.set[hash]; ok {
		return
	}
	r.set[hash] = struct{}{}
	r.order = append(r.order, hash)
	for len(r.order) > r.cap {
		delete(r.set, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *recentCommittedTxs) has(hash [32]byte) bool {
	_, ok := r.set[hash]
	return ok
}

// preApplySnapshot is the WSV/trigger state captured immediately before a
// height's block was applied, retained only long enough to undo a commit
// that later loses a same-height soft-fork comparison.
// Heights beyond the retention window are assumed final — a fork surfacing
// that far back would mean an already-irrecoverable partition.
type preApplySnapshot struct {
	world    *wsv.World
	triggers *triggers.Set
}

type preApplyLog struct {
	cap   int
	order []uint64
	byH   map[uint64]preApplySnapshot
}

func newPreApplyLog(cap int) *preApplyLog {
	return &preApplyLog{cap: cap, byH: make(map[uint64]preApplySnapshot, cap)}
}

func (l *preApplyLog) put(height uint64, snap preApplySnapshot) {
	if _, exists := l.byH[height]; !exists {
		l.order = append(l.order, height)
	}
	l.byH[height] = snap
	for len(l.order) > l.cap {
		delete(l.byH, l.order[0])
		l.order = l.order[1:]
	}
}

func (l *preApplyLog) get(height uint64) (preApplySnapshot, bool) {
	snap, ok := l.byH[height]
	return snap, ok
}

// dropFrom discards every retained snapshot at or after height, called once
// a soft fork has been resolved and the branch is being replayed forward.
func (l *preApplyLog) dropFrom(height uint64) {
	kept := l.order[:0]
	for _, h := range l.order {
		if h < height {
			kept = append(kept, h)
			continue
		}
		delete(l.byH, h)
	}
	l.order = kept
}

type createdMsg struct {
	from    data.PeerId
	pending block.PendingBlock
}

type signedMsg struct {
	from data.PeerId
	hash [32]byte
	sig  block.Signature
}

type viewChangeMsg struct {
	from  data.PeerId
	index uint64
	sig   block.Signature
}

// Engine drives the consensus loop for one node. Exactly one Engine runs
// per node; its Run goroutine is the sole writer of WSV, the trigger set,
// and Kura: the single-writer discipline every snapshot reader relies on.
type Engine struct {
	log      *logrus.Entry
	provider crypto.Provider
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	self     data.PeerId

	wsv      *wsv.WorldStateView
	store    *kura.Store
	triggers *triggers.Set
	queue    *queue.Queue
	topo     *topology.Topology
	net      *p2p.Network

	cfg Config

	mu          sync.Mutex
	state       State
	invalidated map[[32]byte]struct{}
	chain       ProofChain
	recent      *recentCommittedTxs
	preApply    *preApplyLog

	incomingCreated    chan createdMsg
	incomingSigned     chan signedMsg
	incomingCommitted  chan block.CommittedBlock
	incomingViewChange chan viewChangeMsg
}

// New constructs an Engine bound to the given collaborators. self must be
// a member of topo's peer set.
func New(log *logrus.Entry, provider crypto.Provider, priv ed25519.PrivateKey, self data.PeerId,
	w *wsv.WorldStateView, store *kura.Store, trig *triggers.Set, q *queue.Queue, topo *topology.Topology,
	net *p2p.Network, cfg Config) *Engine {
	if log == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		log = logrus.NewEntry(quiet)
	}
	return &Engine{
		log:         log,
		provider:    provider,
		priv:        priv,
		pub:         priv.Public().(ed25519.PublicKey),
		self:        self,
		wsv:         w,
		store:       store,
		triggers:    trig,
		queue:       q,
		topo:        topo,
		net:         net,
		cfg:         cfg,
		invalidated: make(map[[32]byte]struct{}),
		recent:      newRecentCommittedTxs(4096),
		preApply:    newPreApplyLog(64),

		incomingCreated:    make(chan createdMsg, 8),
		incomingSigned:     make(chan signedMsg, 64),
		incomingCommitted:  make(chan block.CommittedBlock, 8),
		incomingViewChange: make(chan viewChangeMsg, 64),
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// State reports the engine's current phase, for status reporting.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run drives the consensus loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := e.runHeight(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var vc *ErrViewChangeRequired
			if asViewChange(err, &vc) {
				e.log.WithFields(logrus.Fields{"reason": vc.Reason.String(), "height": e.nextHeight()}).
					Info("sumeragi: view change")
				continue
			}
			e.log.WithError(err).Warn("sumeragi: height attempt failed, retrying")
		}
	}
}

func asViewChange(err error, target **ErrViewChangeRequired) bool {
	vc, ok := err.(*ErrViewChangeRequired)
	if ok {
		*target = vc
	}
	return ok
}

func (e *Engine) nextHeight() uint64 { return e.store.Height() + 1 }

// role returns the local node's current derived role.
func (e *Engine) role() topology.Role { return e.topo.RoleOfPeer(e.self) }

// runHeight drives a single attempt at producing and committing the next
// block; a view-change deadline returns *ErrViewChangeRequired, letting Run
// rotate the topology and retry the same height.
func (e *Engine) runHeight(ctx context.Context) error {
	height := e.nextHeight()
	e.setState(Idle)
	e.setState(CollectingTx)

	role := e.role()
	var pending block.PendingBlock

	switch role {
	case topology.Leader:
		p, err := e.leaderCollectAndBuild(ctx, height)
		if err != nil {
			return err
		}
		pending = p
		if err := e.broadcastBlockCreated(pending); err != nil {
			e.log.WithError(err).Warn("sumeragi: broadcast block_created")
		}
	default:
		p, err := e.waitForBlockCreated(ctx)
		if err != nil {
			return err
		}
		pending = p
	}

	e.setState(BlockCreatedState)

	sig, ok := e.validateAndSign(pending)
	if !ok {
		// Invalid block: record it and force a view change instead of
		// signing.
		hash := pending.Hash(e.provider)
		e.mu.Lock()
		e.invalidated[hash] = struct{}{}
		e.mu.Unlock()
		return e.triggerViewChange(ctx, height, BlockCreationTimeout)
	}
	e.setState(BlockSignedState)

	// Proxy-tail duty is decided by index, not by the role enum: in a
	// one-peer topology index 0 is leader AND proxy tail, and RoleOf
	// reports Leader for it.
	isProxyTail := e.topo.IndexOf(e.self) == e.topo.ProxyTailIndex()

	switch {
	case isProxyTail:
		pending.Signatures = append(pending.Signatures, sig)
		committed, err := e.collectSignatures(ctx, pending)
		if err != nil {
			return err
		}
		if err := e.net.Broadcast(p2p.Message{Kind: p2p.KindBlockCommitted, Committed: &committed}); err != nil {
			e.log.WithError(err).Warn("sumeragi: broadcast block_committed")
		}
		return e.applyAndAdvance(committed)
	default:
		if err := e.sendSignatureToProxyTail(pending, sig); err != nil {
			e.log.WithError(err).Warn("sumeragi: send block_signed")
		}
	}

	return e.waitForCommit(ctx, pending.Hash(e.provider))
}

func (e *Engine) proxyTailId() (data.PeerId, bool) {
	peers := e.topo.Peers()
	idx := e.topo.ProxyTailIndex()
	if idx < 0 || idx >= len(peers) {
		return data.PeerId{}, false
	}
	return peers[idx], true
}

func (e *Engine) sendSignatureToProxyTail(pending block.PendingBlock, sig block.Signature) error {
	tail, ok := e.proxyTailId()
	if !ok {
		return fmt.Errorf("sumeragi: no proxy tail in topology")
	}
	hash := pending.Hash(e.provider)
	if tail.Compare(e.self) == 0 {
		select {
		case e.incomingSigned <- signedMsg{from: e.self, hash: hash, sig: sig}:
		default:
		}
		return nil
	}
	return e.net.Post(tail, p2p.Message{Kind: p2p.KindBlockSigned, BlockHash: hash, Signature: sig})
}

func (e *Engine) broadcastBlockCreated(pending block.PendingBlock) error {
	return e.net.Broadcast(p2p.Message{Kind: p2p.KindBlockCreated, Block: &pending})
}

// validateAndSign applies pending to a disposable WSV snapshot, checking
// that its rejection set is exactly what local execution would produce
// (every validator verifies the leader's rejections are exactly what
// deterministic execution produces), and signs
// the block hash on success.
func (e *Engine) validateAndSign(pending block.PendingBlock) (block.Signature, bool) {
	wantRejections, err := simulateBlock(e.provider, e.wsv, e.triggers.Snapshot(), pending)
	if err != nil {
		return block.Signature{}, false
	}
	if len(wantRejections) != len(pending.RejectedTransactions) {
		return block.Signature{}, false
	}
	for i, got := range pending.RejectedTransactions {
		if got.Transaction.Hash(e.provider) != wantRejections[i].Transaction.Hash(e.provider) {
			return block.Signature{}, false
		}
	}
	hash := pending.Hash(e.provider)
	return block.Signature{PeerPublicKey: e.pub, Sig: e.provider.Sign(e.priv, hash[:])}, true
}

// simulateBlock executes pending's accepted transactions against a
// snapshot of w and returns the rejection set a local build would produce,
// without mutating w (mirrors ModifyAccount/ModifyDomain's clone-on-write
// discipline one level up: the whole World is snapshotted up front).
// Callers pass a trigger-set snapshot, never the live set: instructions
// that register or unregister triggers mutate the store they are executed
// against, and a simulation must leave real state untouched.
func simulateBlock(provider crypto.Provider, w *wsv.WorldStateView, triggerStore wsv.TriggerStore, pending block.PendingBlock) ([]block.RejectedTransaction, error) {
	snap := w.Snapshot()
	scratch := wsv.NewWorldStateView(snap, provider, noopHistoric{}, triggerStore)
	var rejected []block.RejectedTransaction
	for _, tx := range pending.Transactions {
		for _, ins := range tx.Payload.Instructions {
			if _, err := wsv.Execute(ins, tx.Payload.Authority, scratch); err != nil {
				rejected = append(rejected, block.RejectedTransaction{Transaction: tx, Reason: err.Error()})
				break
			}
		}
	}
	return rejected, nil
}

type noopHistoric struct{}

func (noopHistoric) Height() uint64 { return 0 }
