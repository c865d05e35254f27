// network.go is the topology-driven connection manager: a PeerId
// addresses a RefPeer for the member's whole tenure, across however many
// physical connections it takes. Network owns the active-dialer
// tie-break and an unbounded per-peer send queue, since every peer in a
// fixed BFT topology must stay connected to every other rather than a
// best-effort gossip mesh.
package p2p

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kagami-chain/kagami/crypto"
	"github.com/kagami-chain/kagami/data"
)

// RefPeer is a peer slot addressed by identity rather than by live
// connection: Network keeps one RefPeer per topology member for the
// member's whole tenure, across however many physical connections it
// takes to stay linked to them.
type RefPeer struct {
	Id data.PeerId

	mu       sync.Mutex
	live     *Peer
	queue    [][]byte // pre-encoded Message payloads awaiting a live connection
	wake     chan struct{}
	stopPump chan struct{}
}

func newRefPeer(id data.PeerId) *RefPeer {
	return &RefPeer{Id: id, wake: make(chan struct{}, 1), stopPump: make(chan struct{})}
}

// enqueue appends to the unbounded send queue and wakes the pump. Callers
// never block: a slow or disconnected peer only grows this slice, it never
// backs up into the caller.
func (r *RefPeer) enqueue(payload []byte) {
	r.mu.Lock()
	r.queue = append(r.queue, payload)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *RefPeer) setLive(p *Peer) {
	r.mu.Lock()
	r.live = p
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *RefPeer) clearLive(p *Peer) {
	r.mu.Lock()
	if r.live == p {
		r.live = nil
	}
	r.mu.Unlock()
}

// pump drains the queue onto whatever connection is live, retrying the
// head-of-line item until it is sent or the peer goes away; a depth-1 wake
// channel is enough since the pump only needs to know "something changed",
// not how many times.
func (r *RefPeer) pump() {
	for {
		select {
		case <-r.stopPump:
			return
		case <-r.wake:
		}
		for {
			r.mu.Lock()
			live := r.live
			if live == nil || len(r.queue) == 0 {
				r.mu.Unlock()
				break
			}
			payload := r.queue[0]
			r.mu.Unlock()

			if err := live.Session.WriteMessage(live.Conn, payload); err != nil {
				break
			}
			r.mu.Lock()
			if len(r.queue) > 0 {
				r.queue = r.queue[1:]
			}
			r.mu.Unlock()
		}
	}
}

// Network manages one RefPeer per topology member, the active-dialer rule,
// and simultaneous-connect disambiguation.
type Network struct {
	mu       sync.Mutex
	log      *logrus.Entry
	self     data.PeerId
	identity ed25519.PrivateKey
	provider crypto.Provider
	idle     time.Duration
	handler  Handler

	refs map[string]*RefPeer
}

func peerKey(id data.PeerId) string { return string(id.PublicKey) }

// NewNetwork constructs a Network for the local node identified by self.
// A nil log entry disables logging (tests).
func NewNetwork(self data.PeerId, identity ed25519.PrivateKey, provider crypto.Provider, idle time.Duration, h Handler, log *logrus.Entry) *Network {
	if log == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		log = logrus.NewEntry(quiet)
	}
	return &Network{
		log:      log,
		self:     self,
		identity: identity,
		provider: provider,
		idle:     idle,
		handler:  h,
		refs:     make(map[string]*RefPeer),
	}
}

// UpdateMembers replaces the set of topology peers Network tracks,
// starting a RefPeer (and its pump goroutine) for every newly-seen member
// and tearing down any that left the topology.
func (n *Network) UpdateMembers(members []data.PeerId) {
	n.mu.Lock()
	defer n.mu.Unlock()

	keep := make(map[string]struct{}, len(members))
	for _, m := range members {
		k := peerKey(m)
		keep[k] = struct{}{}
		if _, ok := n.refs[k]; !ok {
			ref := newRefPeer(m)
			n.refs[k] = ref
			go ref.pump()
		}
	}
	for k, ref := range n.refs {
		if _, ok := keep[k]; !ok {
			close(ref.stopPump)
			delete(n.refs, k)
			n.log.WithField("peer", ref.Id.String()).Info("p2p: peer left topology")
		}
	}
}

// rank is the dialer tie-break key: SHA3-256 of the peer's long-term
// public key, compared byte-wise. The peer with the numerically larger
// rank is the active dialer; this gives both sides of a pair the same
// answer without coordination.
func (n *Network) rank(id data.PeerId) [32]byte {
	return n.provider.SHA3_256(id.PublicKey)
}

// ShouldDialActively reports whether the local node is responsible for
// initiating the connection to peer, per the topology-driven dialer rule.
func (n *Network) ShouldDialActively(peer data.PeerId) bool {
	selfRank := n.rank(n.self)
	peerRank := n.rank(peer)
	return bytes.Compare(selfRank[:], peerRank[:]) >= 0
}

// disambiguator is exchanged right after the handshake, before any
// Message traffic, purely to resolve a simultaneous-connect race: if both
// ends of a pair dial each other at once, two live connections briefly
// exist for the same RefPeer and one must be dropped. The side with the
// larger disambiguator keeps its connection.
func exchangeDisambiguator(conn net.Conn, session *Session) (uint64, uint64, error) {
	var local [8]byte
	if _, err := io.ReadFull(rand.Reader, local[:]); err != nil {
		return 0, 0, err
	}
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- session.WriteMessage(conn, local[:])
	}()
	remotePayload, rerr := session.ReadMessage(conn)
	if rerr != nil {
		return 0, 0, rerr
	}
	if err := <-writeErr; err != nil {
		return 0, 0, err
	}
	if len(remotePayload) != 8 {
		return 0, 0, fmt.Errorf("p2p: disambiguator has wrong length %d", len(remotePayload))
	}
	return binary.BigEndian.Uint64(local[:]), binary.BigEndian.Uint64(remotePayload), nil
}

// Connect dials addr, expecting to find peerId on the other end, and
// installs the resulting Peer as the RefPeer's live connection.
func (n *Network) Connect(ctx context.Context, addr string, peerId data.PeerId) error {
	p, err := Dial(ctx, addr, Config{OurIdentity: n.identity.Public().(ed25519.PublicKey), IdleTimeout: n.idle, Log: n.log})
	if err != nil {
		return err
	}
	if !bytes.Equal(p.Id.PublicKey, peerId.PublicKey) {
		_ = p.Conn.Close()
		return fmt.Errorf("p2p: dialed %s but reached %s", peerId, p.Id)
	}
	return n.adopt(ctx, p)
}

// AcceptConn completes a passive handshake over an already-accepted
// connection and installs the result if it wins any simultaneous-connect
// tie-break.
func (n *Network) AcceptConn(ctx context.Context, conn net.Conn) error {
	p, err := Accept(conn, Config{OurIdentity: n.identity.Public().(ed25519.PublicKey), IdleTimeout: n.idle, Log: n.log})
	if err != nil {
		return err
	}
	return n.adopt(ctx, p)
}

func (n *Network) adopt(ctx context.Context, p *Peer) error {
	localDis, remoteDis, err := exchangeDisambiguator(p.Conn, p.Session)
	if err != nil {
		_ = p.Conn.Close()
		return err
	}

	n.mu.Lock()
	ref, ok := n.refs[peerKey(p.Id)]
	n.mu.Unlock()
	if !ok {
		_ = p.Conn.Close()
		return fmt.Errorf("p2p: peer %s is not a topology member", p.Id)
	}

	ref.mu.Lock()
	existing := ref.live
	ref.mu.Unlock()
	if existing != nil && localDis <= remoteDis {
		_ = p.Conn.Close()
		n.log.WithField("peer", p.Id.String()).Debug("p2p: simultaneous connect lost tie-break")
		return nil
	}
	if existing != nil {
		_ = existing.Conn.Close()
	}

	ref.setLive(p)
	n.log.WithField("peer", p.Id.String()).Info("p2p: peer connected")
	go func() {
		err := p.Run(ctx, n.handler)
		ref.clearLive(p)
		n.log.WithError(err).WithField("peer", p.Id.String()).Info("p2p: peer disconnected")
	}()
	return nil
}

// Post enqueues msg for delivery to exactly one peer, returning
// immediately regardless of whether that peer is currently connected.
func (n *Network) Post(id data.PeerId, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	n.mu.Lock()
	ref, ok := n.refs[peerKey(id)]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("p2p: post: unknown peer %s", id)
	}
	ref.enqueue(payload)
	return nil
}

// Broadcast enqueues msg for delivery to every tracked peer.
func (n *Network) Broadcast(msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	n.mu.Lock()
	refs := make([]*RefPeer, 0, len(n.refs))
	for _, ref := range n.refs {
		refs = append(refs, ref)
	}
	n.mu.Unlock()
	for _, ref := range refs {
		ref.enqueue(payload)
	}
	return nil
}

// ConnectedPeers returns the ids of every tracked peer that currently has
// a live connection, in no particular order.
func (n *Network) ConnectedPeers() []data.PeerId {
	n.mu.Lock()
	refs := make([]*RefPeer, 0, len(n.refs))
	for _, ref := range n.refs {
		refs = append(refs, ref)
	}
	n.mu.Unlock()
	var out []data.PeerId
	for _, ref := range refs {
		ref.mu.Lock()
		live := ref.live != nil
		ref.mu.Unlock()
		if live {
			out = append(out, ref.Id)
		}
	}
	return out
}

// Connected reports whether id currently has a live connection.
func (n *Network) Connected(id data.PeerId) bool {
	n.mu.Lock()
	ref, ok := n.refs[peerKey(id)]
	n.mu.Unlock()
	if !ok {
		return false
	}
	ref.mu.Lock()
	defer ref.mu.Unlock()
	return ref.live != nil
}
