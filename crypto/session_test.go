package crypto

import "testing"

func TestSharedSessionKeyMatchesBothSides(t *testing.T) {
	a, err := NewEphemeralKeyPair()
	if err != nil {
		t.Fatalf("a: %v", err)
	}
	b, err := NewEphemeralKeyPair()
	if err != nil {
		t.Fatalf("b: %v", err)
	}
	ka, err := SharedSessionKey(a, b.Public)
	if err != nil {
		t.Fatalf("shared key a: %v", err)
	}
	kb, err := SharedSessionKey(b, a.Public)
	if err != nil {
		t.Fatalf("shared key b: %v", err)
	}
	if ka != kb {
		t.Fatalf("expected both sides to derive the same session key")
	}
}

func TestAEADSealOpenRoundTrip(t *testing.T) {
	a, _ := NewEphemeralKeyPair()
	b, _ := NewEphemeralKeyPair()
	key, err := SharedSessionKey(a, b.Public)
	if err != nil {
		t.Fatalf("shared key: %v", err)
	}
	aead, err := NewAEAD(key)
	if err != nil {
		t.Fatalf("new aead: %v", err)
	}
	aad := []byte("Kagami AAD")
	plaintext := []byte("BlockCreated payload")
	ct := aead.Seal(0, aad, plaintext)
	pt, err := aead.Open(0, aad, ct)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(pt) != string(plaintext) {
		t.Fatalf("got %q want %q", pt, plaintext)
	}
	if _, err := aead.Open(1, aad, ct); err == nil {
		t.Fatalf("expected open with wrong counter to fail")
	}
}
