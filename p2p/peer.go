package p2p

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/data"
)

// Handler receives dispatched messages from a running Peer. Handlers
// report domain errors (invalid block, invalid signature, ...) so Run can
// translate them into per-offense ban-score deltas.
type Handler interface {
	OnBlockCreated(peer *Peer, pending block.PendingBlock) error
	OnBlockSigned(peer *Peer, hash [32]byte, sig block.Signature) error
	OnBlockCommitted(peer *Peer, committed block.CommittedBlock) error
	OnTransactionGossip(peer *Peer, tx block.SignedTransaction) error
	OnBlockSyncRequest(peer *Peer, fromHeight uint64) error
	OnBlockSyncUpdate(peer *Peer, batch []block.CommittedBlock) error
	OnViewChangeSuggested(peer *Peer, index uint64, suggestor block.Signature) error
	OnHealth(peer *Peer, height uint64) error
}

// Config holds the per-peer parameters needed to run a link.
type Config struct {
	OurIdentity ed25519.PublicKey
	// IdleTimeout, if non-zero, disconnects a peer that sends nothing
	// within the window.
	IdleTimeout time.Duration
	// Log, if set, receives per-link misbehavior and disconnect events.
	Log *logrus.Entry
}

// Peer is one established, authenticated connection.
type Peer struct {
	Conn    net.Conn
	Session *Session
	Id      data.PeerId
	Config  Config

	Ban BanScore
}

// Dial connects to addr and performs the handshake as the active side.
func Dial(ctx context.Context, addr string, cfg Config) (*Peer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	res, err := Handshake(conn, cfg.OurIdentity, true)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Peer{Conn: conn, Session: res.Session, Id: res.PeerPeerId, Config: cfg}, nil
}

// Accept completes the handshake as the passive side over an
// already-accepted connection.
func Accept(conn net.Conn, cfg Config) (*Peer, error) {
	res, err := Handshake(conn, cfg.OurIdentity, false)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Peer{Conn: conn, Session: res.Session, Id: res.PeerPeerId, Config: cfg}, nil
}

// Send seals and writes a single message to the peer.
func (p *Peer) Send(msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	return p.Session.WriteMessage(p.Conn, payload)
}

// Run reads and dispatches messages until ctx is cancelled, the connection
// fails, or the peer's ban score crosses BanThreshold. Closing conn is how
// ctx cancellation unblocks the in-flight read.
func (p *Peer) Run(ctx context.Context, h Handler) error {
	if h == nil {
		return fmt.Errorf("p2p: peer: nil handler")
	}

	if ctx != nil {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = p.Conn.Close()
			case <-done:
			}
		}()
		defer close(done)
	}

	for {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		if p.Config.IdleTimeout > 0 {
			_ = p.Conn.SetReadDeadline(time.Now().Add(p.Config.IdleTimeout))
		}

		payload, rerr := p.Session.ReadMessage(p.Conn)
		if rerr != nil {
			now := time.Now()
			p.Ban.Add(now, rerr.BanScoreDelta)
			if p.Ban.ShouldBan(now) {
				if p.Config.Log != nil {
					p.Config.Log.WithError(rerr.Err).WithField("peer", p.Id.String()).Warn("p2p: peer banned")
				}
				return fmt.Errorf("p2p: peer: banned (score=%d): %w", p.Ban.Score(now), rerr.Err)
			}
			if rerr.Disconnect {
				return rerr
			}
			if p.Config.Log != nil {
				p.Config.Log.WithError(rerr.Err).WithField("peer", p.Id.String()).Debug("p2p: malformed frame")
			}
			continue
		}

		now := time.Now()
		if p.Ban.ShouldThrottle(now) {
			time.Sleep(ThrottleDelay)
		}

		msg, err := DecodeMessage(payload)
		if err != nil {
			p.Ban.Add(now, 10)
			if p.Ban.ShouldBan(now) {
				return fmt.Errorf("p2p: peer: malformed message (banned): %w", err)
			}
			continue
		}

		if err := p.dispatch(now, msg, h); err != nil {
			if p.Ban.ShouldBan(now) {
				return fmt.Errorf("p2p: peer: misbehavior (banned): %w", err)
			}
		}
	}
}

// dispatch routes one decoded message to h, applying the ban-score delta
// appropriate to the failure: an invalid block weighs +100, a bad
// signature or gossiped transaction more lightly (+10/+5).
func (p *Peer) dispatch(now time.Time, msg Message, h Handler) error {
	switch msg.Kind {
	case KindBlockCreated:
		if msg.Block == nil {
			p.Ban.Add(now, 10)
			return fmt.Errorf("p2p: empty block_created")
		}
		if err := h.OnBlockCreated(p, *msg.Block); err != nil {
			p.Ban.Add(now, 100)
			return err
		}
	case KindBlockSigned:
		if err := h.OnBlockSigned(p, msg.BlockHash, msg.Signature); err != nil {
			p.Ban.Add(now, 10)
			return err
		}
	case KindBlockCommitted:
		if msg.Committed == nil {
			p.Ban.Add(now, 10)
			return fmt.Errorf("p2p: empty block_committed")
		}
		if err := h.OnBlockCommitted(p, *msg.Committed); err != nil {
			p.Ban.Add(now, 100)
			return err
		}
	case KindTransactionGossip:
		if msg.Transaction == nil {
			p.Ban.Add(now, 5)
			return fmt.Errorf("p2p: empty transaction_gossip")
		}
		if err := h.OnTransactionGossip(p, *msg.Transaction); err != nil {
			p.Ban.Add(now, 5)
			return err
		}
	case KindBlockSyncRequest:
		if err := h.OnBlockSyncRequest(p, msg.FromHeight); err != nil {
			return err
		}
	case KindBlockSyncUpdate:
		if err := h.OnBlockSyncUpdate(p, msg.Batch); err != nil {
			p.Ban.Add(now, 100)
			return err
		}
	case KindViewChangeSuggested:
		if err := h.OnViewChangeSuggested(p, msg.ViewChangeIndex, msg.Suggestor); err != nil {
			p.Ban.Add(now, 10)
			return err
		}
	case KindHealth:
		return h.OnHealth(p, msg.HealthHeight)
	default:
		// Unknown kind: ignore, no ban-score (forward compatibility).
	}
	return nil
}
