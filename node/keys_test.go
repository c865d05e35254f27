package node

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateIdentityRoundTrip(t *testing.T) {
	dir := t.TempDir()
	first, err := LoadOrCreateIdentity(dir)
	if err != nil {
		t.Fatal(err)
	}
	second, err := LoadOrCreateIdentity(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Equal(second) {
		t.Fatal("expected the same key on reload")
	}
}

func TestLoadOrCreateIdentityRejectsLooseMode(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadOrCreateIdentity(dir); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, identityFileName)
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateIdentity(dir); err == nil {
		t.Fatal("expected a world-readable key file to be refused")
	}
}

func TestLoadOrCreateIdentityRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, identityFileName)
	if err := os.WriteFile(path, []byte("not-a-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateIdentity(dir); err == nil {
		t.Fatal("expected a malformed key file to be refused")
	}
}
