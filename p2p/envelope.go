// Package p2p implements the authenticated, encrypted peer transport: a
// per-link AEAD session established by an X25519 handshake,
// length-prefixed ciphertext framing, ban-score policy, and a
// topology-driven connection/dialer discipline.
//
// envelope.go is the framing layer: a u32 big-endian ciphertext length
// followed by the sealed payload, with every read failure weighed by
// ReadError{BanScoreDelta, Disconnect}.
package p2p

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kagami-chain/kagami/crypto"
)

// MaxMessageLength is the largest ciphertext frame a peer will accept
// (16 MiB).
const MaxMessageLength = 16 * 1024 * 1024

// sessionAAD is the fixed additional-authenticated-data tag for every
// application frame on an established session.
var sessionAAD = []byte("Kagami AAD")

// ReadError conveys how the caller should treat a malformed or
// undecryptable frame — ban-score delta plus whether to disconnect,
// so the read loop can weigh each failure.
type ReadError struct {
	Err           error
	BanScoreDelta int
	Disconnect    bool
}

func (e *ReadError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// WriteFrame seals plaintext under aead at the given nonce counter and
// writes it as len:u32_be ‖ ciphertext.
func WriteFrame(w io.Writer, aead crypto.AEAD, counter uint64, plaintext []byte) error {
	ciphertext := aead.Seal(counter, sessionAAD, plaintext)
	if len(ciphertext) > MaxMessageLength {
		return fmt.Errorf("p2p: frame exceeds MAX_MESSAGE_LENGTH")
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(ciphertext)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(ciphertext)
	return err
}

// ReadFrame reads one length-prefixed ciphertext frame from r and opens
// it under aead at the given nonce counter.
func ReadFrame(r io.Reader, aead crypto.AEAD, counter uint64) ([]byte, *ReadError) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, &ReadError{Err: err, Disconnect: true}
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > MaxMessageLength {
		return nil, &ReadError{Err: fmt.Errorf("p2p: oversize frame length %d", n), BanScoreDelta: 20, Disconnect: true}
	}
	ciphertext := make([]byte, n)
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return nil, &ReadError{Err: err, BanScoreDelta: 20, Disconnect: true}
	}
	plaintext, err := aead.Open(counter, sessionAAD, ciphertext)
	if err != nil {
		return nil, &ReadError{Err: err, BanScoreDelta: 10, Disconnect: false}
	}
	return plaintext, nil
}
