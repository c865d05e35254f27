package sumeragi

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/crypto"
	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/isi"
	"github.com/kagami-chain/kagami/queue"
	"github.com/kagami-chain/kagami/wsv"
)

// nowMs is the node's wall clock in milliseconds, a thin seam so tests can
// stub time without the engine depending on a clock interface end to end.
var nowMs = func() uint64 { return uint64(time.Now().UnixMilli()) }

// signatureChecker adapts wsv's per-account signature condition into the
// queue.SignatureChecker shape, satisfying a transaction's admission to the
// block-building pool once enough distinct signatories have signed.
func (e *Engine) signatureChecker() queue.SignatureChecker {
	return func(authority data.AccountId, tx block.SignedTransaction) bool {
		signedBy := tx.SignedBy(e.provider)
		var ok bool
		err := e.wsv.MapAccount(authority, func(acc *wsv.Account) error {
			ok = acc.SignatureCondition.Satisfied(acc.Signatories, signedBy)
			return nil
		})
		return err == nil && ok
	}
}

// HandleTransactionGossip admits a gossiped transaction into the local
// queue.
func (e *Engine) HandleTransactionGossip(tx block.SignedTransaction) error {
	return e.queue.Push(tx, e.recent.has, nowMs())
}

// HandleBlockCreated delivers a leader's proposal to the engine's consensus
// loop. Non-blocking: a slow consumer drops the oldest pending proposal
// rather than stalling the peer's read loop.
func (e *Engine) HandleBlockCreated(from data.PeerId, pending block.PendingBlock) error {
	if e.topo.IndexOf(from) < 0 {
		return fmt.Errorf("sumeragi: block_created from non-member peer %s", from)
	}
	select {
	case e.incomingCreated <- createdMsg{from: from, pending: pending}:
	default:
		select {
		case <-e.incomingCreated:
		default:
		}
		e.incomingCreated <- createdMsg{from: from, pending: pending}
	}
	return nil
}

// HandleBlockSigned forwards a validator's signature share to the proxy
// tail's aggregation loop.
func (e *Engine) HandleBlockSigned(from data.PeerId, hash [32]byte, sig block.Signature) error {
	if e.topo.IndexOf(from) < 0 {
		return fmt.Errorf("sumeragi: block_signed from non-member peer %s", from)
	}
	select {
	case e.incomingSigned <- signedMsg{from: from, hash: hash, sig: sig}:
	default:
	}
	return nil
}

// HandleBlockCommitted delivers the proxy tail's final commit to every
// other peer's consensus loop.
func (e *Engine) HandleBlockCommitted(from data.PeerId, committed block.CommittedBlock) error {
	if e.topo.IndexOf(from) < 0 {
		return fmt.Errorf("sumeragi: block_committed from non-member peer %s", from)
	}
	select {
	case e.incomingCommitted <- committed:
	default:
		select {
		case <-e.incomingCommitted:
		default:
		}
		e.incomingCommitted <- committed
	}
	return nil
}

// HandleViewChangeSuggested records another peer's vote to abandon the
// current view.
func (e *Engine) HandleViewChangeSuggested(from data.PeerId, index uint64, sig block.Signature) error {
	if e.topo.IndexOf(from) < 0 {
		return fmt.Errorf("sumeragi: view_change from non-member peer %s", from)
	}
	select {
	case e.incomingViewChange <- viewChangeMsg{from: from, index: index, sig: sig}:
	default:
	}
	return nil
}

// leaderCollectAndBuild drains the queue and builds a PendingBlock:
// candidates come out in FIFO admission order, and a simulation pass
// splits them into the accepted and deterministically-rejected sets
// before the header commits to both.
func (e *Engine) leaderCollectAndBuild(ctx context.Context, height uint64) (block.PendingBlock, error) {
	deadline := time.Now().Add(e.cfg.BlockTimeout)
	for e.queue.Len() == 0 {
		select {
		case <-ctx.Done():
			return block.PendingBlock{}, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		case <-afterDeadline(deadline):
			return block.PendingBlock{}, &ErrViewChangeRequired{Reason: NoTransactionReceiptReceived}
		}
	}

	candidates := e.queue.Pop(e.cfg.MaxTransactionsInBlock, nowMs(), e.signatureChecker())
	rejected, err := simulateBlock(e.provider, e.wsv, e.triggers.Snapshot(), block.PendingBlock{Transactions: candidates})
	if err != nil {
		return block.PendingBlock{}, err
	}
	rejectedHashes := make(map[[32]byte]struct{}, len(rejected))
	for _, r := range rejected {
		rejectedHashes[r.Transaction.Hash(e.provider)] = struct{}{}
	}
	var accepted []block.SignedTransaction
	for _, tx := range candidates {
		if _, bad := rejectedHashes[tx.Hash(e.provider)]; !bad {
			accepted = append(accepted, tx)
		}
	}

	header := block.Header{
		Height:            height,
		TimestampMs:       nowMs(),
		PreviousBlockHash: e.wsv.LatestBlockHash(),
		ViewChangeIndex:   e.topo.ViewChangeIndex(),
	}
	header.TransactionsHash = merkleRoot(e.provider, accepted)
	header.RejectedTransactionsHash = merkleRootRejected(e.provider, rejected)
	// The proof chain accumulated by view changes at this height rides
	// along in the header so peers that missed the live voting can
	// reconstruct how the role assignment was reached.
	header.ViewChangeProofsHash = e.chain.Hash(e.provider)

	return block.PendingBlock{Header: header, Transactions: accepted, RejectedTransactions: rejected}, nil
}

// afterDeadline returns a channel that fires once deadline has passed, or
// immediately if it already has.
func afterDeadline(deadline time.Time) <-chan time.Time {
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	return time.After(d)
}

// waitForBlockCreated blocks until a leader's proposal arrives or the
// no-transaction-receipt deadline expires.
func (e *Engine) waitForBlockCreated(ctx context.Context) (block.PendingBlock, error) {
	select {
	case <-ctx.Done():
		return block.PendingBlock{}, ctx.Err()
	case msg := <-e.incomingCreated:
		return msg.pending, nil
	case <-time.After(e.cfg.BlockTimeout):
		return block.PendingBlock{}, &ErrViewChangeRequired{Reason: NoTransactionReceiptReceived}
	}
}

// collectSignatures is the proxy tail's aggregation loop: gather distinct
// valid signatures for pending's hash until min_votes_for_commit is met or
// the commit deadline expires.
func (e *Engine) collectSignatures(ctx context.Context, pending block.PendingBlock) (block.CommittedBlock, error) {
	hash := pending.Hash(e.provider)
	minVotes := e.topo.MinVotesForCommit()
	deadline := time.Now().Add(e.cfg.CommitTimeout)
	for !pending.MinVotesSatisfied(e.provider, minVotes) {
		select {
		case <-ctx.Done():
			return block.CommittedBlock{}, ctx.Err()
		case msg := <-e.incomingSigned:
			if msg.hash != hash {
				continue
			}
			pending.Signatures = append(pending.Signatures, msg.sig)
		case <-afterDeadline(deadline):
			return block.CommittedBlock{}, &ErrViewChangeRequired{Reason: CommitTimeout}
		}
	}
	return pending.ToCommitted(e.provider, minVotes)
}

// waitForCommit blocks until the proxy tail's committed block for the
// height matching hash arrives, or the commit deadline expires.
func (e *Engine) waitForCommit(ctx context.Context, hash [32]byte) error {
	deadline := time.Now().Add(e.cfg.CommitTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case committed := <-e.incomingCommitted:
			if committed.Hash(e.provider) != hash {
				continue
			}
			return e.applyAndAdvance(committed)
		case <-afterDeadline(deadline):
			return &ErrViewChangeRequired{Reason: CommitTimeout}
		}
	}
}

// applyAndAdvance applies committed to WSV, persists it to Kura, rotates
// the topology, and dispatches the resulting data/pipeline/time events to
// the trigger set — the shared tail end of every role's path through a
// height.
func (e *Engine) applyAndAdvance(committed block.CommittedBlock) error {
	return e.ApplyCommitted(committed, false)
}

// ApplyCommitted is the single entry point for installing a committed
// block into this node's state, shared by the live consensus path,
// blocksync catch-up, and genesis installation (viaSync distinguishes the
// latter two from a block this node just helped produce, for logging and
// to skip topology CommitRotation when replaying history block-sync
// already rotated elsewhere).
func (e *Engine) ApplyCommitted(committed block.CommittedBlock, viaSync bool) error {
	// A genesis block is committed under its builder's virtual one-peer
	// topology, so a single valid signature suffices; every other block
	// must carry a full vote set.
	minVotes := 1
	if committed.Header.Height > 1 {
		minVotes = e.topo.MinVotesForCommit()
	}
	if !committed.MinVotesSatisfied(e.provider, minVotes) {
		return fmt.Errorf("sumeragi: block %d lacks %d valid signatures", committed.Header.Height, minVotes)
	}

	if existing, found, err := e.store.GetBlockByHeight(committed.Header.Height); err == nil && found {
		existingHash := existing.Hash(e.provider)
		incomingHash := committed.Hash(e.provider)
		if existingHash != incomingHash {
			return e.resolveSoftFork(existing, committed)
		}
		return nil
	}

	if committed.Header.Height == e.store.Height()+1 && committed.Header.PreviousBlockHash != e.wsv.LatestBlockHash() {
		return fmt.Errorf("sumeragi: block %d does not extend the local chain", committed.Header.Height)
	}

	snapWorld := e.wsv.Snapshot()
	snapTriggers := e.triggers.Snapshot()
	e.preApply.put(committed.Header.Height, preApplySnapshot{world: snapWorld, triggers: snapTriggers})

	events, err := wsv.Apply(e.wsv, committed)
	if err != nil {
		e.wsv.Restore(snapWorld)
		return fmt.Errorf("sumeragi: apply block %d: %w", committed.Header.Height, err)
	}
	for _, ev := range events {
		e.triggers.HandleDataEvent(ev)
	}
	for _, tx := range committed.Transactions {
		e.triggers.HandlePipelineEvent(wsv.DataEvent{Kind: wsv.EventTransactionCommitted, Account: tx.Payload.Authority, TimestampMs: committed.Header.TimestampMs})
	}
	for _, r := range committed.RejectedTransactions {
		e.triggers.HandlePipelineEvent(wsv.DataEvent{Kind: wsv.EventTransactionRejected, Account: r.Transaction.Payload.Authority, TimestampMs: committed.Header.TimestampMs})
	}
	e.triggers.HandleTimeEvent(wsv.DataEvent{Kind: wsv.EventBlockCommitted, TimestampMs: committed.Header.TimestampMs})

	if err := e.store.StoreBlock(committed); err != nil {
		e.wsv.Restore(snapWorld)
		e.triggers.Restore(snapTriggers)
		return fmt.Errorf("sumeragi: store block %d: %w", committed.Header.Height, err)
	}

	for _, tx := range committed.Transactions {
		e.recent.add(tx.Hash(e.provider))
		e.queue.Remove(tx.Hash(e.provider))
	}

	if !viaSync {
		e.topo.CommitRotation()
		e.chain = nil
	}

	e.dispatchTriggerActions(committed.Header.Height)

	e.log.WithFields(logrus.Fields{"height": committed.Header.Height, "txs": len(committed.Transactions)}).
		Info("sumeragi: block committed")
	return nil
}

// dispatchTriggerActions runs every trigger matched during this height's
// event dispatch, executing its action instructions under its own
// authority.
func (e *Engine) dispatchTriggerActions(height uint64) {
	e.triggers.InspectMatched(func(id data.TriggerId, authority data.AccountId, action []isi.InstructionBox, event wsv.DataEvent) bool {
		for _, ins := range action {
			if _, err := wsv.Execute(ins, authority, e.wsv); err != nil {
				e.log.WithError(err).WithFields(logrus.Fields{"trigger": id.String(), "height": height}).
					Warn("sumeragi: trigger action failed")
				return false
			}
		}
		return true
	})
}

// resolveSoftFork compares two committed blocks at the same height and
// keeps the one produced under the higher view-change index, rolling back
// whichever is currently applied if it loses.
func (e *Engine) resolveSoftFork(existing, incoming block.CommittedBlock) error {
	if incoming.Header.ViewChangeIndex <= existing.Header.ViewChangeIndex {
		return nil
	}
	pre, ok := e.preApply.get(existing.Header.Height)
	if !ok {
		return fmt.Errorf("sumeragi: soft fork at height %d outside retained rollback window", existing.Header.Height)
	}
	if err := e.store.RewindTo(existing.Header.Height - 1); err != nil {
		return fmt.Errorf("sumeragi: soft fork rewind: %w", err)
	}
	e.wsv.Restore(pre.world)
	e.triggers.Restore(pre.triggers)
	e.preApply.dropFrom(existing.Header.Height)
	return e.ApplyCommitted(incoming, true)
}

// merkleRoot and merkleRootRejected compute the canonical hash committing
// a block's transaction lists, letting every honest node derive the same
// header.TransactionsHash/RejectedTransactionsHash independently.
func merkleRoot(provider crypto.Provider, txs []block.SignedTransaction) [32]byte {
	var out []byte
	for _, tx := range txs {
		h := tx.Hash(provider)
		out = append(out, h[:]...)
	}
	return provider.SHA3_256(out)
}

func merkleRootRejected(provider crypto.Provider, rejected []block.RejectedTransaction) [32]byte {
	var out []byte
	for _, r := range rejected {
		h := r.Transaction.Hash(provider)
		out = append(out, h[:]...)
		out = append(out, []byte(r.Reason)...)
	}
	return provider.SHA3_256(out)
}
