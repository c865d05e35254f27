package p2p

import (
	"crypto/ed25519"
	"net"
	"testing"
)

func TestHandshakeRoundTripTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverPub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	clientPub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	serverErr := make(chan error, 1)
	serverResult := make(chan *HandshakeResult, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			serverErr <- err
			return
		}
		defer c.Close()
		res, err := Handshake(c, serverPub, false)
		serverErr <- err
		serverResult <- res
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientConn.Close()

	clientRes, err := Handshake(clientConn, clientPub, true)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	serverRes := <-serverResult

	if string(clientRes.PeerPeerId.PublicKey) != string(serverPub) {
		t.Fatalf("client learned wrong peer identity")
	}
	if string(serverRes.PeerPeerId.PublicKey) != string(clientPub) {
		t.Fatalf("server learned wrong peer identity")
	}
}

func TestHandshakeEstablishesUsableSession(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverPub, _, _ := ed25519.GenerateKey(nil)
	clientPub, _, _ := ed25519.GenerateKey(nil)

	done := make(chan *Session, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			t.Error(err)
			return
		}
		res, err := Handshake(c, serverPub, false)
		if err != nil {
			t.Error(err)
			return
		}
		msg := make([]byte, 1024)
		n, ok := readMessageLoop(c, res.Session, msg)
		if !ok {
			t.Error("server failed to read application message")
			return
		}
		if string(msg[:n]) != "hello" {
			t.Errorf("unexpected payload %q", msg[:n])
		}
		done <- res.Session
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	clientRes, err := Handshake(clientConn, clientPub, true)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := clientRes.Session.WriteMessage(clientConn, []byte("hello")); err != nil {
		t.Fatalf("write application message: %v", err)
	}
	<-done
}

func readMessageLoop(conn net.Conn, s *Session, buf []byte) (int, bool) {
	payload, rerr := s.ReadMessage(conn)
	if rerr != nil {
		return 0, false
	}
	n := copy(buf, payload)
	return n, true
}
