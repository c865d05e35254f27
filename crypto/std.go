package crypto

import (
	"crypto/ed25519"

	"golang.org/x/crypto/sha3"
)

// SHA3_256 hashes input with plain SHA3-256 (no domain-separation
// prefix); block headers and transaction ids are hashed with it.
func (StdProvider) SHA3_256(input []byte) [32]byte {
	h := sha3.New256()
	_, _ = h.Write(input)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Sign signs message with an Ed25519 private key.
func (StdProvider) Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Verify checks an Ed25519 signature.
func (StdProvider) Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	return ed25519.Verify(pub, message, sig)
}

// GenerateKeyPair creates a new Ed25519 signing keypair for an account
// signatory or a peer identity.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}
