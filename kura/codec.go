package kura

import (
	"bytes"
	"encoding/gob"

	"github.com/kagami-chain/kagami/block"
)

// encodeBlock/decodeBlock serialize a CommittedBlock for the segment
// file's payload. Unlike the flat header/transaction hashing encoding in
// package block (hand-rolled, SCALE-style field concatenation — see
// block/header.go and block/transaction.go), the full on-disk record also
// carries the recursive InstructionBox/ExpressionBox trees nested inside
// every transaction. Hand-rolling a recursive tagged-union codec for that
// tree has no payoff here: the record is never sent over the wire (p2p
// has its own envelope codec) and is read back only by this process on
// the same machine, so encoding/gob's reflection-based codec is used
// instead. p2p/messages.go makes the same choice for the same reason
// (gossiped blocks and transactions carry the same recursive trees); both
// are the only places in this module that reach for the standard library
// where the corpus offers no ready analog for a recursive AST encoder.
func encodeBlock(committed block.CommittedBlock) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(committed); err != nil {
		// Every field of CommittedBlock is gob-encodable (structs, slices,
		// maps of exported fields); a failure here indicates a programming
		// error, not a runtime condition callers can recover from.
		panic("kura: encode block: " + err.Error())
	}
	return buf.Bytes()
}

func decodeBlock(payload []byte) (block.CommittedBlock, error) {
	var cb block.CommittedBlock
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&cb); err != nil {
		return block.CommittedBlock{}, err
	}
	return cb, nil
}
