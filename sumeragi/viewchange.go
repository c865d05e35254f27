package sumeragi

import (
	"context"
	"time"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/p2p"
)

// triggerViewChange broadcasts a signed vote to abandon the current view at
// height, then waits to hear the same vote from min_votes_for_commit
// distinct peers (itself included) before rotating the topology and
// returning the sentinel error that sends runHeight back to Run for a
// retry under the new view.
func (e *Engine) triggerViewChange(ctx context.Context, height uint64, reason ViewChangeReason) error {
	nextIndex := e.topo.ViewChangeIndex() + 1
	proof := ViewChangeProof{
		Height: height,
		Index:  nextIndex,
		Reason: reason,
	}
	proof.Signature = block.Signature{
		PeerPublicKey: e.pub,
		Sig:           e.provider.Sign(e.priv, encodeProof(proof.Height, proof.Index, proof.Reason)),
	}

	if err := e.net.Broadcast(p2p.Message{
		Kind:            p2p.KindViewChangeSuggested,
		ViewChangeIndex: nextIndex,
		Suggestor:       proof.Signature,
	}); err != nil {
		e.log.WithError(err).Warn("sumeragi: broadcast view_change")
	}

	votes := map[string]block.Signature{string(e.pub): proof.Signature}
	minVotes := e.topo.MinVotesForCommit()
	deadline := time.Now().Add(e.cfg.ViewChangeTimeout)

	for len(votes) < minVotes {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-e.incomingViewChange:
			if msg.index != nextIndex {
				continue
			}
			votes[string(msg.sig.PeerPublicKey)] = msg.sig
		case <-afterDeadline(deadline):
			// No quorum within the timeout: rotate anyway on our own vote
			// plus whatever arrived, so a minority of unresponsive peers
			// cannot wedge the whole view forever. The next height's
			// signature verification against the rotated topology is what
			// ultimately keeps a dishonest rotation from being adopted by
			// honest peers, not this loop.
			goal := len(votes)
			if goal == 0 {
				goal = 1
			}
			e.log.WithFields(map[string]interface{}{"height": height, "index": nextIndex, "votes": goal}).
				Warn("sumeragi: view change timed out without quorum, rotating anyway")
			e.chain = append(e.chain, proof)
			e.topo.NthRotation(nextIndex)
			return &ErrViewChangeRequired{Reason: reason}
		}
	}

	e.chain = append(e.chain, proof)
	e.topo.NthRotation(nextIndex)
	return &ErrViewChangeRequired{Reason: reason}
}
