package node

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const identityFileName = "identity.key"

// LoadOrCreateIdentity returns the node's long-term Ed25519 identity key,
// reading the hex-encoded seed from dataDir/identity.key or generating and
// persisting a fresh one on first start. The file is mode 0600; a key
// readable by other users is refused rather than silently used.
func LoadOrCreateIdentity(dataDir string) (ed25519.PrivateKey, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("node: datadir: %w", err)
	}
	path := filepath.Join(dataDir, identityFileName)

	raw, err := os.ReadFile(path)
	if err == nil {
		info, statErr := os.Stat(path)
		if statErr == nil && info.Mode().Perm()&0o077 != 0 {
			return nil, fmt.Errorf("node: %s is readable by other users (mode %v)", path, info.Mode().Perm())
		}
		seed, decErr := hex.DecodeString(strings.TrimSpace(string(raw)))
		if decErr != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("node: %s does not contain a valid key seed", path)
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("node: read identity: %w", err)
	}

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("node: generate identity: %w", err)
	}
	encoded := hex.EncodeToString(priv.Seed()) + "\n"
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("node: write identity: %w", err)
	}
	return priv, nil
}
