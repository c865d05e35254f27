package p2p

import (
	"bytes"
	"io"
	"testing"

	"github.com/kagami-chain/kagami/crypto"
)

type chunkReader struct {
	b     []byte
	step  int
	index int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.index >= len(r.b) {
		return 0, io.EOF
	}
	n := r.step
	if n <= 0 {
		n = 1
	}
	if r.index+n > len(r.b) {
		n = len(r.b) - r.index
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p[:n], r.b[r.index:r.index+n])
	r.index += n
	return n, nil
}

func testAEAD(t *testing.T) crypto.AEAD {
	t.Helper()
	kpA, err := crypto.NewEphemeralKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	kpB, err := crypto.NewEphemeralKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	key, err := crypto.SharedSessionKey(kpA, kpB.Public)
	if err != nil {
		t.Fatal(err)
	}
	aead, err := crypto.NewAEAD(key)
	if err != nil {
		t.Fatal(err)
	}
	return aead
}

func TestWriteReadFrameRoundTripPartialReads(t *testing.T) {
	aead := testAEAD(t)
	var buf bytes.Buffer
	payload := []byte("hello kagami")

	if err := WriteFrame(&buf, aead, 0, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	r := &chunkReader{b: buf.Bytes(), step: 1}
	got, rerr := ReadFrame(r, aead, 0)
	if rerr != nil {
		t.Fatalf("ReadFrame: %v", rerr)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestReadFrameRejectsWrongCounter(t *testing.T) {
	aead := testAEAD(t)
	var buf bytes.Buffer
	if err := WriteFrame(&buf, aead, 5, []byte("data")); err != nil {
		t.Fatal(err)
	}
	_, rerr := ReadFrame(bytes.NewReader(buf.Bytes()), aead, 6)
	if rerr == nil {
		t.Fatal("expected open failure under mismatched nonce counter")
	}
	if rerr.Disconnect {
		t.Fatal("a bad-auth frame should not force disconnect, only ban-score")
	}
	if rerr.BanScoreDelta != 10 {
		t.Fatalf("expected ban score delta 10, got %d", rerr.BanScoreDelta)
	}
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	aead := testAEAD(t)
	var lenPrefix [4]byte
	lenPrefix[0] = 0xff
	r := bytes.NewReader(lenPrefix[:])
	_, rerr := ReadFrame(r, aead, 0)
	if rerr == nil || !rerr.Disconnect {
		t.Fatal("expected disconnect on oversize frame length")
	}
}
