package p2p

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kagami-chain/kagami/crypto"
	"github.com/kagami-chain/kagami/data"
)

// HandshakeTimeout bounds the whole handshake exchange under a single
// deadline.
const HandshakeTimeout = 10 * time.Second

// maxGarbageLen bounds the random padding sent ahead of the ephemeral
// public key (`garbage(len:u8, bytes) ‖ ephemeral_pub(32 bytes)` each
// direction); the length byte makes the padding variable so a passive
// observer cannot fingerprint the link by a fixed frame size.
const maxGarbageLen = 32

// responderCounterBase offsets the responder's nonce counter sequence away
// from the initiator's. Both sides derive the same session key (see
// crypto.SharedSessionKey); without a disjoint counter space the two
// directions would eventually reuse a (key, nonce) pair, which is
// catastrophic for an AEAD cipher. Splitting the 64-bit counter space in
// half by role is simpler than deriving two directional keys and needs no
// extra HKDF output.
const responderCounterBase = uint64(1) << 63

// HandshakeReason classifies why a handshake failed — framing, key
// derivation, or I/O — so callers can apply ban-score independently of
// disconnection.
type HandshakeReason int

const (
	ReasonHandshake HandshakeReason = iota
	ReasonKeys
	ReasonIo
)

// HandshakeError reports a failed handshake: the stage that failed
// (Reason) and the underlying error.
type HandshakeError struct {
	Reason HandshakeReason
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("p2p: handshake: %s", e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Session is an established, authenticated link: the AEAD session cipher
// plus independent send/receive nonce counters.
type Session struct {
	aead         crypto.AEAD
	sendCounter  uint64
	recvCounter  uint64
	PeerIdentity ed25519.PublicKey
}

// WriteMessage seals and writes one application frame, advancing the send
// counter.
func (s *Session) WriteMessage(w io.Writer, plaintext []byte) error {
	if err := WriteFrame(w, s.aead, s.sendCounter, plaintext); err != nil {
		return err
	}
	s.sendCounter++
	return nil
}

// ReadMessage reads and opens one application frame, advancing the receive
// counter.
func (s *Session) ReadMessage(r io.Reader) ([]byte, *ReadError) {
	plaintext, rerr := ReadFrame(r, s.aead, s.recvCounter)
	if rerr != nil {
		return nil, rerr
	}
	s.recvCounter++
	return plaintext, nil
}

// HandshakeResult is the outcome of a successful handshake.
type HandshakeResult struct {
	Session    *Session
	PeerPeerId data.PeerId
}

// Handshake performs the X25519 ephemeral exchange and authenticates the
// peer's long-term identity under the resulting session key.
//
// Both sides send garbage‖ephemeral_pub, derive the shared session key,
// then each sends its own long-term Ed25519 public key encrypted under
// that key, length-prefixed with a single byte (the key is fixed-size, so
// 255 is ample headroom). initiator distinguishes which half of the nonce
// counter space this side owns; it does not affect wire bytes.
func Handshake(conn net.Conn, ourIdentity ed25519.PublicKey, initiator bool) (*HandshakeResult, error) {
	if conn == nil {
		return nil, &HandshakeError{Reason: ReasonIo, Err: fmt.Errorf("nil conn")}
	}
	_ = conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	kp, err := crypto.NewEphemeralKeyPair()
	if err != nil {
		return nil, &HandshakeError{Reason: ReasonKeys, Err: err}
	}

	var garbageLenByte [1]byte
	if _, err := io.ReadFull(rand.Reader, garbageLenByte[:]); err != nil {
		return nil, &HandshakeError{Reason: ReasonIo, Err: err}
	}
	garbageLen := int(garbageLenByte[0]) % (maxGarbageLen + 1)
	garbage := make([]byte, garbageLen)
	if _, err := io.ReadFull(rand.Reader, garbage); err != nil {
		return nil, &HandshakeError{Reason: ReasonIo, Err: err}
	}
	outFrame := make([]byte, 0, 1+len(garbage)+32)
	outFrame = append(outFrame, byte(len(garbage)))
	outFrame = append(outFrame, garbage...)
	outFrame = append(outFrame, kp.Public[:]...)

	writeErrCh := make(chan error, 1)
	go func() {
		_, err := conn.Write(outFrame)
		writeErrCh <- err
	}()

	var inGarbageLen [1]byte
	if _, err := io.ReadFull(conn, inGarbageLen[:]); err != nil {
		return nil, &HandshakeError{Reason: ReasonHandshake, Err: err}
	}
	inGarbage := make([]byte, inGarbageLen[0])
	if _, err := io.ReadFull(conn, inGarbage); err != nil {
		return nil, &HandshakeError{Reason: ReasonHandshake, Err: err}
	}
	var peerEphemeral [32]byte
	if _, err := io.ReadFull(conn, peerEphemeral[:]); err != nil {
		return nil, &HandshakeError{Reason: ReasonHandshake, Err: err}
	}
	if err := <-writeErrCh; err != nil {
		return nil, &HandshakeError{Reason: ReasonIo, Err: err}
	}

	sessionKey, err := crypto.SharedSessionKey(kp, peerEphemeral)
	if err != nil {
		return nil, &HandshakeError{Reason: ReasonKeys, Err: err}
	}
	aead, err := crypto.NewAEAD(sessionKey)
	if err != nil {
		return nil, &HandshakeError{Reason: ReasonKeys, Err: err}
	}

	sendBase, recvBase := uint64(0), responderCounterBase
	if !initiator {
		sendBase, recvBase = responderCounterBase, 0
	}
	session := &Session{aead: aead, sendCounter: sendBase, recvCounter: recvBase}

	if err := writeLengthPrefixedEncrypted(conn, session, ourIdentity); err != nil {
		return nil, &HandshakeError{Reason: ReasonIo, Err: err}
	}
	peerIdentity, err := readLengthPrefixedEncrypted(conn, session)
	if err != nil {
		return nil, &HandshakeError{Reason: ReasonHandshake, Err: err}
	}
	session.PeerIdentity = peerIdentity

	return &HandshakeResult{
		Session: session,
		PeerPeerId: data.PeerId{
			PublicKey: peerIdentity,
			Address:   conn.RemoteAddr().String(),
		},
	}, nil
}

func writeLengthPrefixedEncrypted(w io.Writer, s *Session, plaintext []byte) error {
	if len(plaintext) > 255 {
		return fmt.Errorf("p2p: identity payload exceeds 255 bytes")
	}
	ciphertext := s.aead.Seal(s.sendCounter, sessionAAD, plaintext)
	s.sendCounter++
	if len(ciphertext) > 255 {
		return fmt.Errorf("p2p: sealed identity payload exceeds 255 bytes")
	}
	if _, err := w.Write([]byte{byte(len(ciphertext))}); err != nil {
		return err
	}
	_, err := w.Write(ciphertext)
	return err
}

func readLengthPrefixedEncrypted(r io.Reader, s *Session) (ed25519.PublicKey, error) {
	var lenByte [1]byte
	if _, err := io.ReadFull(r, lenByte[:]); err != nil {
		return nil, err
	}
	ciphertext := make([]byte, lenByte[0])
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return nil, err
	}
	plaintext, err := s.aead.Open(s.recvCounter, sessionAAD, ciphertext)
	s.recvCounter++
	if err != nil {
		return nil, err
	}
	if len(plaintext) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("p2p: identity payload has wrong length %d", len(plaintext))
	}
	return ed25519.PublicKey(plaintext), nil
}
