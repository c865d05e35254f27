package p2p

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/kagami-chain/kagami/block"
)

// MessageKind tags the union of messages exchanged between peers: the
// Sumeragi consensus traffic (block proposal/signature/commit), mempool
// gossip, block-sync catch-up, and health probes.
type MessageKind byte

const (
	KindBlockCreated MessageKind = iota
	KindBlockSigned
	KindBlockCommitted
	KindTransactionGossip
	KindBlockSyncRequest
	KindBlockSyncUpdate
	KindViewChangeSuggested
	KindHealth
)

// Message is a tagged union of every wire message; only the field(s)
// matching Kind are populated. A struct-of-optional-fields keeps the union
// exhaustive and gob-encodable without runtime type registration, the same
// discipline used for isi.InstructionBox/isi.ExpressionBox.
type Message struct {
	Kind MessageKind

	// KindBlockCreated, KindBlockCommitted's underlying pending block, and
	// KindBlockSyncUpdate's batch share the same PendingBlock/CommittedBlock
	// shapes.
	Block     *block.PendingBlock
	Committed *block.CommittedBlock
	Batch     []block.CommittedBlock

	// KindBlockSigned.
	BlockHash [32]byte
	Signature block.Signature

	// KindTransactionGossip.
	Transaction *block.SignedTransaction

	// KindBlockSyncRequest.
	FromHeight uint64

	// KindViewChangeSuggested.
	ViewChangeIndex uint64
	Suggestor       block.Signature

	// KindHealth.
	HealthHeight uint64
}

// EncodeMessage serializes msg for a single AEAD-sealed frame.
func EncodeMessage(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("p2p: encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeMessage deserializes a plaintext frame payload back into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("p2p: decode message: %w", err)
	}
	return msg, nil
}
