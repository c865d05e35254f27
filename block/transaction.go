package block

import (
	"crypto/ed25519"

	"github.com/kagami-chain/kagami/crypto"
	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/isi"
)

// Payload is the unsigned content of a transaction: the authority on whose
// behalf it executes, its instructions, a creation timestamp, and a
// time-to-live past which it may no longer be accepted.
type Payload struct {
	Authority    data.AccountId
	Instructions []isi.InstructionBox
	CreatedAtMs  uint64
	TimeToLiveMs uint64
	Nonce        uint32
}

// Encode produces a canonical byte representation for hashing and signing.
// Only the fields that affect execution semantics are covered; instruction
// encoding delegates to a stable field-order walk.
func (p Payload) Encode() []byte {
	out := append([]byte(nil), p.Authority.String()...)
	out = append(out, 0)
	out = appendU64(out, p.CreatedAtMs)
	out = appendU64(out, p.TimeToLiveMs)
	out = appendU64(out, uint64(p.Nonce))
	for _, ins := range p.Instructions {
		out = append(out, encodeInstruction(ins)...)
	}
	return out
}

// encodeInstruction is a deliberately shallow canonical encoding: it only
// needs to be stable and collision-resistant enough for hashing/signing,
// not a full wire codec (that lives at the p2p layer).
func encodeInstruction(ins isi.InstructionBox) []byte {
	out := []byte{byte(ins.Kind)}
	out = append(out, ins.Domain.String()...)
	out = append(out, 0)
	out = append(out, ins.Account.String()...)
	out = append(out, 0)
	out = append(out, ins.AssetDefinition.String()...)
	out = append(out, 0)
	out = append(out, ins.Asset.String()...)
	out = append(out, 0)
	out = append(out, ins.Role.String()...)
	out = append(out, 0)
	out = append(out, ins.Trigger.String()...)
	out = append(out, 0)
	out = append(out, ins.Destination.String()...)
	out = append(out, 0)
	for _, sub := range ins.Sequence {
		out = append(out, encodeInstruction(sub)...)
	}
	if ins.Left != nil {
		out = append(out, encodeInstruction(*ins.Left)...)
	}
	if ins.Right != nil {
		out = append(out, encodeInstruction(*ins.Right)...)
	}
	return out
}

// Hash returns the SHA3-256 hash of the payload's canonical encoding — a
// transaction's identity, used for queue deduplication.
func (p Payload) Hash(provider crypto.Provider) [32]byte {
	return provider.SHA3_256(p.Encode())
}

// TxSignature pairs a signatory public key with its signature over a
// payload hash.
type TxSignature struct {
	Key ed25519.PublicKey
	Sig []byte
}

// SignedTransaction is a Payload plus the signatures accumulated for it.
// Multiple submissions of the same payload merge their signature sets in
// the queue until the account's signature condition is met.
type SignedTransaction struct {
	Payload    Payload
	Signatures []TxSignature
}

// Hash is the transaction's identity, independent of its signature set.
func (t SignedTransaction) Hash(provider crypto.Provider) [32]byte {
	return t.Payload.Hash(provider)
}

// SignedBy returns the set of signatory keys (as raw bytes) that have
// signed a valid signature over this transaction's hash.
func (t SignedTransaction) SignedBy(provider crypto.Provider) map[string]struct{} {
	hash := t.Hash(provider)
	out := make(map[string]struct{}, len(t.Signatures))
	for _, s := range t.Signatures {
		if provider.Verify(s.Key, hash[:], s.Sig) {
			out[string(s.Key)] = struct{}{}
		}
	}
	return out
}

// WithAddedSignatures returns a new SignedTransaction whose signature set
// is the union of t's and extra's, deduplicated by signatory key — the
// queue's merge-on-resubmit behavior.
func (t SignedTransaction) WithAddedSignatures(extra []TxSignature) SignedTransaction {
	seen := make(map[string]struct{}, len(t.Signatures))
	merged := make([]TxSignature, 0, len(t.Signatures)+len(extra))
	for _, s := range t.Signatures {
		if _, ok := seen[string(s.Key)]; ok {
			continue
		}
		seen[string(s.Key)] = struct{}{}
		merged = append(merged, s)
	}
	for _, s := range extra {
		if _, ok := seen[string(s.Key)]; ok {
			continue
		}
		seen[string(s.Key)] = struct{}{}
		merged = append(merged, s)
	}
	return SignedTransaction{Payload: t.Payload, Signatures: merged}
}

// Sign produces a TxSignature over the transaction's hash with priv.
func Sign(provider crypto.Provider, t SignedTransaction, key ed25519.PublicKey, priv ed25519.PrivateKey) TxSignature {
	hash := t.Hash(provider)
	return TxSignature{Key: key, Sig: provider.Sign(priv, hash[:])}
}

// Expired reports whether t's TTL has elapsed as of nowMs.
func (p Payload) Expired(nowMs uint64) bool {
	if p.TimeToLiveMs == 0 {
		return false
	}
	return nowMs > p.CreatedAtMs+p.TimeToLiveMs
}
