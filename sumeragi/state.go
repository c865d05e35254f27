// Package sumeragi implements the BFT consensus state machine: the
// per-height Idle -> CollectingTx -> BlockCreated -> BlockSigned ->
// BlockCommitted cycle, view changes on a missed deadline, invalid-block
// handling, and same-height soft-fork recovery. It binds wsv, kura,
// triggers, queue, topology, and p2p into one running consensus loop
// with a leader/validator/proxy-tail role split.
package sumeragi

import (
	"fmt"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/crypto"
)

// State is one phase of the per-height consensus cycle.
type State int

const (
	Idle State = iota
	CollectingTx
	BlockCreatedState
	BlockSignedState
	BlockCommittedState
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case CollectingTx:
		return "CollectingTx"
	case BlockCreatedState:
		return "BlockCreated"
	case BlockSignedState:
		return "BlockSigned"
	case BlockCommittedState:
		return "BlockCommitted"
	default:
		return "Unknown"
	}
}

// ViewChangeReason names why a node gave up on the current view.
type ViewChangeReason int

const (
	NoTransactionReceiptReceived ViewChangeReason = iota
	BlockCreationTimeout
	CommitTimeout
)

func (r ViewChangeReason) String() string {
	switch r {
	case NoTransactionReceiptReceived:
		return "NoTransactionReceiptReceived"
	case BlockCreationTimeout:
		return "BlockCreationTimeout"
	case CommitTimeout:
		return "CommitTimeout"
	default:
		return "Unknown"
	}
}

// ViewChangeProof is a single peer's signed vote to move to a new
// view-change index at a given height.
type ViewChangeProof struct {
	Height    uint64
	Index     uint64
	Reason    ViewChangeReason
	Signature block.Signature
}

func encodeProof(height, index uint64, reason ViewChangeReason) []byte {
	out := make([]byte, 0, 17)
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(height >> (8 * (7 - i)))
	}
	out = append(out, b[:]...)
	for i := 0; i < 8; i++ {
		b[i] = byte(index >> (8 * (7 - i)))
	}
	out = append(out, b[:]...)
	out = append(out, byte(reason))
	return out
}

// Verify checks p's signature against the (height, index, reason) it claims
// to attest.
func (p ViewChangeProof) Verify(provider crypto.Provider) bool {
	return p.Signature.Verify(provider, encodeProof(p.Height, p.Index, p.Reason))
}

// ProofChain is the ordered set of proofs that justified the view a block
// was produced under, attached to the block so a node that missed the live
// voting round can reconstruct the role assignment.
type ProofChain []ViewChangeProof

// Hash returns a stable hash of the chain for the block header's
// view_change_proofs_hash field.
func (c ProofChain) Hash(provider crypto.Provider) [32]byte {
	var out []byte
	for _, p := range c {
		out = append(out, encodeProof(p.Height, p.Index, p.Reason)...)
		out = append(out, p.Signature.PeerPublicKey...)
		out = append(out, p.Signature.Sig...)
	}
	return provider.SHA3_256(out)
}

// ErrViewChangeRequired signals that the caller should abandon the current
// attempt at a height and restart at the rotated view.
type ErrViewChangeRequired struct {
	Reason ViewChangeReason
}

func (e *ErrViewChangeRequired) Error() string {
	return fmt.Sprintf("sumeragi: view change required: %s", e.Reason)
}
