package crypto

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	var p StdProvider
	msg := []byte("hello kagami")
	sig := p.Sign(priv, msg)
	if !p.Verify(pub, msg, sig) {
		t.Fatalf("expected signature to verify")
	}
	if p.Verify(pub, []byte("tampered"), sig) {
		t.Fatalf("expected signature over different message to fail")
	}
}

func TestSHA3_256Deterministic(t *testing.T) {
	var p StdProvider
	a := p.SHA3_256([]byte("abc"))
	b := p.SHA3_256([]byte("abc"))
	if a != b {
		t.Fatalf("expected deterministic hash")
	}
	c := p.SHA3_256([]byte("abd"))
	if a == c {
		t.Fatalf("expected different hash for different input")
	}
}
