// Package crypto provides the narrow cryptographic primitives the rest of
// the node depends on: hashing, Ed25519 signatures, and the X25519 +
// ChaCha20-Poly1305 authenticated key exchange used by the P2P handshake.
// Keeping it behind a small interface lets production code and tests swap
// providers without touching call sites.
package crypto

import "crypto/ed25519"

// Provider is the crypto interface used by wsv, block, and p2p.
type Provider interface {
	SHA3_256(input []byte) [32]byte
	Sign(priv ed25519.PrivateKey, message []byte) []byte
	Verify(pub ed25519.PublicKey, message, sig []byte) bool
}

// StdProvider is the production Provider, backed by golang.org/x/crypto/sha3
// and the standard library's ed25519 implementation.
type StdProvider struct{}

var _ Provider = StdProvider{}
