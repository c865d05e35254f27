// Package node assembles a full Kagami node out of the component
// packages: Kura under the WSV, the trigger set and queue beside it, the
// topology-driven P2P network, the Sumeragi engine on top, and blocksync
// alongside — all running under one supervisor group.
package node

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/blocksync"
	"github.com/kagami-chain/kagami/config"
	"github.com/kagami-chain/kagami/crypto"
	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/genesis"
	"github.com/kagami-chain/kagami/isi"
	"github.com/kagami-chain/kagami/kura"
	"github.com/kagami-chain/kagami/p2p"
	"github.com/kagami-chain/kagami/queue"
	"github.com/kagami-chain/kagami/sumeragi"
	"github.com/kagami-chain/kagami/supervisor"
	"github.com/kagami-chain/kagami/topology"
	"github.com/kagami-chain/kagami/triggers"
	"github.com/kagami-chain/kagami/wsv"
)

// dialRetryInterval paces the reconnection sweep over topology members
// that should be connected but are not.
const dialRetryInterval = 3 * time.Second

// ParseMember decodes a "hexpubkey@host:port" topology-member string into
// a PeerId.
func ParseMember(s string) (data.PeerId, error) {
	keyHex, addr, ok := strings.Cut(s, "@")
	if !ok {
		return data.PeerId{}, fmt.Errorf("node: member %q missing '@'", s)
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return data.PeerId{}, fmt.Errorf("node: member %q has a bad public key", s)
	}
	return data.PeerId{PublicKey: ed25519.PublicKey(key), Address: addr}, nil
}

// Node is one fully wired Kagami node.
type Node struct {
	cfg      config.Config
	log      *logrus.Entry
	provider crypto.Provider
	identity ed25519.PrivateKey
	self     data.PeerId

	store    *kura.Store
	wsv      *wsv.WorldStateView
	triggers *triggers.Set
	queue    *queue.Queue
	topo     *topology.Topology
	net      *p2p.Network
	engine   *sumeragi.Engine
	syncer   *blocksync.Syncer

	group *supervisor.Group
}

// handler routes inbound p2p traffic to the engine and the syncer. Its
// fields are assigned after Network construction, breaking the
// network-needs-handler / engine-needs-network cycle: the handler is a
// join point, not an owner.
type handler struct {
	engine *sumeragi.Engine
	syncer *blocksync.Syncer
}

func (h *handler) OnBlockCreated(peer *p2p.Peer, pending block.PendingBlock) error {
	return h.engine.HandleBlockCreated(peer.Id, pending)
}

func (h *handler) OnBlockSigned(peer *p2p.Peer, hash [32]byte, sig block.Signature) error {
	return h.engine.HandleBlockSigned(peer.Id, hash, sig)
}

func (h *handler) OnBlockCommitted(peer *p2p.Peer, committed block.CommittedBlock) error {
	return h.engine.HandleBlockCommitted(peer.Id, committed)
}

func (h *handler) OnTransactionGossip(peer *p2p.Peer, tx block.SignedTransaction) error {
	return h.engine.HandleTransactionGossip(tx)
}

func (h *handler) OnBlockSyncRequest(peer *p2p.Peer, fromHeight uint64) error {
	return h.syncer.HandleRequest(peer.Id, fromHeight)
}

func (h *handler) OnBlockSyncUpdate(peer *p2p.Peer, batch []block.CommittedBlock) error {
	return h.syncer.HandleUpdate(batch)
}

func (h *handler) OnViewChangeSuggested(peer *p2p.Peer, index uint64, suggestor block.Signature) error {
	return h.engine.HandleViewChangeSuggested(peer.Id, index, suggestor)
}

func (h *handler) OnHealth(peer *p2p.Peer, height uint64) error { return nil }

// New wires a node from its configuration, long-term identity key, and
// the initial topology member list (which must include the local node).
func New(cfg config.Config, identity ed25519.PrivateKey, members []data.PeerId, logger *logrus.Logger) (*Node, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("node: config: %w", err)
	}
	pub := identity.Public().(ed25519.PublicKey)
	var self data.PeerId
	found := false
	for _, m := range members {
		if string(m.PublicKey) == string(pub) {
			self = m
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("node: local identity is not in the member list")
	}

	log := logger.WithFields(logrus.Fields{"node": self.String()})
	provider := crypto.StdProvider{}

	store, err := kura.Open(cfg.DataDir, provider, log.WithField("component", "kura"))
	if err != nil {
		return nil, fmt.Errorf("node: open kura: %w", err)
	}

	trig := triggers.New()
	world := wsv.NewWorldStateView(wsv.NewWorld(), provider, store, trig)
	q := queue.New(queue.Config{
		MaxTransactionsInQueue:    cfg.MaxTransactionsInBlock * 8,
		MaxTransactionsPerAccount: cfg.MaxTransactionsInBlock,
		MaxClockDriftMs:           cfg.PayloadTTLDriftMs,
	}, provider, log.WithField("component", "queue"))
	topo := topology.New(members)

	h := &handler{}
	network := p2p.NewNetwork(self, identity, provider,
		time.Duration(cfg.IdlePeerTimeoutMs)*time.Millisecond, h,
		log.WithField("component", "p2p"))
	network.UpdateMembers(members)

	engine := sumeragi.New(log.WithField("component", "sumeragi"), provider, identity, self,
		world, store, trig, q, topo, network, sumeragi.Config{
			MaxTransactionsInBlock: cfg.MaxTransactionsInBlock,
			MaxClockDriftMs:        cfg.PayloadTTLDriftMs,
			BlockTimeout:           time.Duration(cfg.BlockTimeMs) * time.Millisecond,
			CommitTimeout:          time.Duration(cfg.CommitTimeMs) * time.Millisecond,
			ViewChangeTimeout:      time.Duration(cfg.ViewChangeTimeMs) * time.Millisecond,
		})
	syncer := blocksync.New(log.WithField("component", "blocksync"), store, engine, network,
		blocksync.Config{
			Interval:  time.Duration(cfg.BlockSyncIntervalMs) * time.Millisecond,
			BatchSize: cfg.BlockSyncBatchSize,
		})
	h.engine = engine
	h.syncer = syncer

	return &Node{
		cfg:      cfg,
		log:      log,
		provider: provider,
		identity: identity,
		self:     self,
		store:    store,
		wsv:      world,
		triggers: trig,
		queue:    q,
		topo:     topo,
		net:      network,
		engine:   engine,
		syncer:   syncer,
	}, nil
}

// replayChain rebuilds WSV and trigger state from the persisted block log
// after a restart: Kura is the durable record, everything else is derived.
func (n *Node) replayChain() error {
	tip := n.store.Height()
	for h := uint64(1); h <= tip; h++ {
		b, found, err := n.store.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("node: replay height %d: %w", h, err)
		}
		if !found {
			return fmt.Errorf("node: replay: missing block at height %d", h)
		}
		events, err := wsv.Apply(n.wsv, b)
		if err != nil {
			return fmt.Errorf("node: replay apply %d: %w", h, err)
		}
		for _, ev := range events {
			n.triggers.HandleDataEvent(ev)
		}
		n.triggers.InspectMatched(func(id data.TriggerId, authority data.AccountId, action []isi.InstructionBox, event wsv.DataEvent) bool {
			for _, ins := range action {
				if _, err := wsv.Execute(ins, authority, n.wsv); err != nil {
					return false
				}
			}
			return true
		})
	}
	if tip > 0 {
		n.log.WithField("height", tip).Info("node: chain replayed")
	}
	return nil
}

// submitGenesisIfNeeded builds and installs the genesis block when this
// node is configured as the genesis submitter and its chain is empty;
// Sumeragi then broadcasts it to peers via the normal commit/blocksync
// paths.
func (n *Node) submitGenesisIfNeeded() error {
	if !n.cfg.SubmitGenesis || n.store.HasData() {
		return nil
	}
	spec, err := genesis.Load(n.cfg.GenesisPath)
	if err != nil {
		return err
	}
	committed, err := genesis.Build(n.provider, n.identity, spec, uint64(time.Now().UnixMilli()))
	if err != nil {
		return err
	}
	if err := n.engine.ApplyCommitted(committed, true); err != nil {
		return fmt.Errorf("node: apply genesis: %w", err)
	}
	if err := n.net.Broadcast(p2p.Message{Kind: p2p.KindBlockCommitted, Committed: &committed}); err != nil {
		n.log.WithError(err).Warn("node: broadcast genesis")
	}
	n.log.Info("node: genesis submitted")
	return nil
}

// Run starts every task and blocks until ctx is cancelled or a task
// fails fatally; storage errors are fatal and shut the whole node down
// via the supervisor.
func (n *Node) Run(ctx context.Context) error {
	if err := n.replayChain(); err != nil {
		return err
	}
	if err := n.submitGenesisIfNeeded(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", n.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("node: listen %s: %w", n.cfg.BindAddr, err)
	}

	group := supervisor.New(ctx, n.log.WithField("component", "supervisor"))
	n.group = group

	group.Supervise("listener", func(tctx context.Context) error {
		go func() {
			<-tctx.Done()
			_ = listener.Close()
		}()
		for {
			conn, err := listener.Accept()
			if err != nil {
				if tctx.Err() != nil {
					return tctx.Err()
				}
				return err
			}
			go func() {
				if err := n.net.AcceptConn(tctx, conn); err != nil {
					n.log.WithError(err).Debug("node: inbound connection rejected")
				}
			}()
		}
	}, supervisor.Immediate)

	group.Supervise("dialer", func(tctx context.Context) error {
		ticker := time.NewTicker(dialRetryInterval)
		defer ticker.Stop()
		for {
			n.dialMissing(tctx)
			select {
			case <-tctx.Done():
				return tctx.Err()
			case <-ticker.C:
			}
		}
	}, supervisor.Immediate)

	group.Supervise("sumeragi", n.engine.Run, supervisor.Wait(2*time.Second))
	group.Supervise("blocksync", n.syncer.Run, supervisor.Immediate)

	err = group.Wait()
	_ = n.store.Close()
	if err != nil && errors.Is(err, context.Canceled) {
		// Clean shutdown: every task wound down on the shared signal.
		return nil
	}
	return err
}

// dialMissing connects to every topology member the local node is the
// active dialer for and does not currently have a live link to.
func (n *Node) dialMissing(ctx context.Context) {
	for _, m := range n.topo.Peers() {
		if string(m.PublicKey) == string(n.self.PublicKey) {
			continue
		}
		if !n.net.ShouldDialActively(m) || n.net.Connected(m) {
			continue
		}
		if err := n.net.Connect(ctx, m.Address, m); err != nil {
			n.log.WithError(err).WithField("peer", m.String()).Debug("node: dial failed")
		}
	}
}

// Shutdown trips the supervisor's shared signal; Run returns once every
// task has wound down.
func (n *Node) Shutdown() {
	if n.group != nil {
		n.group.Shutdown()
	}
}
