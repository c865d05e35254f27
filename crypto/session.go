package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// SessionKeyLen is the ChaCha20-Poly1305 key size used for the encrypted
// P2P transport established by the handshake.
const SessionKeyLen = chacha20poly1305.KeySize

// EphemeralKeyPair holds an X25519 key used for exactly one handshake.
type EphemeralKeyPair struct {
	Public  [32]byte
	private [32]byte
}

// NewEphemeralKeyPair generates a fresh X25519 keypair.
func NewEphemeralKeyPair() (EphemeralKeyPair, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return EphemeralKeyPair{}, fmt.Errorf("crypto: generate ephemeral key: %w", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return EphemeralKeyPair{}, fmt.Errorf("crypto: derive ephemeral public: %w", err)
	}
	var kp EphemeralKeyPair
	kp.private = priv
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSessionKey derives a session key from our ephemeral private key and
// the peer's ephemeral public key, used as the AEAD key for the rest of the
// link's lifetime. The HKDF info is a fixed string with no
// initiator/responder label, so both ends derive the same key regardless
// of dial direction.
func SharedSessionKey(kp EphemeralKeyPair, peerPublic [32]byte) ([SessionKeyLen]byte, error) {
	shared, err := curve25519.X25519(kp.private[:], peerPublic[:])
	if err != nil {
		return [SessionKeyLen]byte{}, fmt.Errorf("crypto: x25519 exchange: %w", err)
	}
	r := hkdf.New(sha3.New256, shared, nil, []byte("Kagami P2P session v1"))
	var out [SessionKeyLen]byte
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return [SessionKeyLen]byte{}, fmt.Errorf("crypto: hkdf expand: %w", err)
	}
	return out, nil
}

// NewAEAD constructs the ChaCha20-Poly1305 AEAD cipher used to seal/open
// every frame on an established link.
func NewAEAD(sessionKey [SessionKeyLen]byte) (AEAD, error) {
	aead, err := chacha20poly1305.New(sessionKey[:])
	if err != nil {
		return AEAD{}, fmt.Errorf("crypto: build aead: %w", err)
	}
	return AEAD{aead: aead}, nil
}

// AEAD wraps the session cipher. It keeps no nonce state: Seal and Open
// build the nonce from a message counter that the caller supplies and
// advances per direction.
type AEAD struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

func nonceFromCounter(counter uint64) [chacha20poly1305.NonceSize]byte {
	var nonce [chacha20poly1305.NonceSize]byte
	for i := 0; i < 8; i++ {
		nonce[chacha20poly1305.NonceSize-1-i] = byte(counter >> (8 * i))
	}
	return nonce
}

// Seal encrypts plaintext under the given message counter and AAD.
func (a AEAD) Seal(counter uint64, aad, plaintext []byte) []byte {
	nonce := nonceFromCounter(counter)
	return a.aead.Seal(nil, nonce[:], plaintext, aad)
}

// Open decrypts ciphertext under the given message counter and AAD.
func (a AEAD) Open(counter uint64, aad, ciphertext []byte) ([]byte, error) {
	nonce := nonceFromCounter(counter)
	out, err := a.aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("crypto: aead open: %w", err)
	}
	return out, nil
}
