// Package block defines the block and transaction wire types: Header,
// PendingBlock, CommittedBlock, and the signed-transaction payload whose
// lifecycle runs Raw -> Signed -> Accepted -> Valid -> Committed |
// Rejected.
package block

import (
	"crypto/ed25519"
	"fmt"

	"github.com/kagami-chain/kagami/crypto"
)

// Header is the fixed-shape part of a block.
type Header struct {
	Height                    uint64
	TimestampMs               uint64
	PreviousBlockHash         [32]byte
	TransactionsHash          [32]byte // Merkle root of accepted transactions
	RejectedTransactionsHash  [32]byte
	ViewChangeProofsHash      [32]byte
	CommittedWithTopologyHash [32]byte
	ConsensusEstimationMs     uint64
	// ViewChangeIndex is the topology view at which this block was produced.
	// It is carried as a plain field rather than derived from
	// ViewChangeProofsHash so soft-fork recovery can compare two committed
	// blocks at the same height without needing the losing fork's full
	// proof chain on hand.
	ViewChangeIndex uint64
}

// Encode produces the canonical byte representation of a header, used both
// for hashing and for the Kura on-disk record.
func (h Header) Encode() []byte {
	out := make([]byte, 0, 8*4+32*5)
	out = appendU64(out, h.Height)
	out = appendU64(out, h.TimestampMs)
	out = append(out, h.PreviousBlockHash[:]...)
	out = append(out, h.TransactionsHash[:]...)
	out = append(out, h.RejectedTransactionsHash[:]...)
	out = append(out, h.ViewChangeProofsHash[:]...)
	out = append(out, h.CommittedWithTopologyHash[:]...)
	out = appendU64(out, h.ConsensusEstimationMs)
	out = appendU64(out, h.ViewChangeIndex)
	return out
}

func appendU64(out []byte, v uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * (7 - i)))
	}
	return append(out, b[:]...)
}

// Hash computes the SHA3-256 hash of the header's canonical encoding. Two
// blocks with identical headers (including previous_block_hash) hash
// identically on every honest node.
func Hash(p crypto.Provider, h Header) [32]byte {
	return p.SHA3_256(h.Encode())
}

// Signature pairs a peer's public key with its signature over a block
// hash or view-change proof.
type Signature struct {
	PeerPublicKey ed25519.PublicKey
	Sig           []byte
}

func (s Signature) Verify(p crypto.Provider, message []byte) bool {
	return p.Verify(s.PeerPublicKey, message, s.Sig)
}

// PendingBlock is header + accepted/rejected transactions + validator
// signatures, not yet committed. It carries no event recommendations.
type PendingBlock struct {
	Header              Header
	Transactions        []SignedTransaction
	RejectedTransactions []RejectedTransaction
	Signatures          []Signature
}

// RejectedTransaction pairs a transaction with the reason it failed
// application, so every node converges on an identical rejection set.
type RejectedTransaction struct {
	Transaction SignedTransaction
	Reason      string
}

// CommittedBlock is a PendingBlock that has accumulated at least
// min_votes_for_commit signatures.
type CommittedBlock struct {
	PendingBlock
}

// Hash returns the block's header hash — the canonical block hash used as
// previous_block_hash by the next block and as the Kura lookup key.
func (b PendingBlock) Hash(p crypto.Provider) [32]byte { return Hash(p, b.Header) }

// MinVotesSatisfied reports whether b carries at least minVotes valid
// signatures from distinct peers.
func (b PendingBlock) MinVotesSatisfied(p crypto.Provider, minVotes int) bool {
	hash := b.Hash(p)
	seen := make(map[string]struct{}, len(b.Signatures))
	valid := 0
	for _, sig := range b.Signatures {
		if !sig.Verify(p, hash[:]) {
			continue
		}
		key := string(sig.PeerPublicKey)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		valid++
	}
	return valid >= minVotes
}

// ToCommitted promotes a PendingBlock to CommittedBlock, failing if it does
// not yet carry enough signatures.
func (b PendingBlock) ToCommitted(p crypto.Provider, minVotes int) (CommittedBlock, error) {
	if !b.MinVotesSatisfied(p, minVotes) {
		return CommittedBlock{}, fmt.Errorf("block: insufficient signatures for commit (need %d)", minVotes)
	}
	return CommittedBlock{PendingBlock: b}, nil
}
