// Package blocksync implements chain catch-up: on a periodic tick a node
// reports its chain tip to one randomly chosen connected peer; a peer
// that is ahead replies with the next batch of committed blocks, which
// are applied through the same path as a live BlockCommitted. A BFT log
// has exactly one honest chain, so no locator walk or best-work
// comparison is needed — just "my tip is H, send me H+1..".
package blocksync

import (
	"context"
	"io"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/kura"
	"github.com/kagami-chain/kagami/p2p"
)

// Applier installs one committed block into local state. Satisfied by
// *sumeragi.Engine; the indirection keeps blocksync testable without a
// full consensus engine behind it.
type Applier interface {
	ApplyCommitted(committed block.CommittedBlock, viaSync bool) error
}

// Sender is the slice of p2p.Network blocksync needs: unicast plus the
// live-peer listing the tick samples from.
type Sender interface {
	Post(id data.PeerId, msg p2p.Message) error
	ConnectedPeers() []data.PeerId
}

// Config bounds the sync loop.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Syncer drives periodic tip announcements and serves/applies catch-up
// batches.
type Syncer struct {
	log     *logrus.Entry
	store   *kura.Store
	applier Applier
	net     Sender
	cfg     Config

	// pick chooses the tick's target among the connected peers; a seam so
	// tests can pin the choice. Defaults to uniform random.
	pick func(n int) int
}

// New constructs a Syncer.
func New(log *logrus.Entry, store *kura.Store, applier Applier, net Sender, cfg Config) *Syncer {
	if log == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		log = logrus.NewEntry(quiet)
	}
	return &Syncer{
		log:     log,
		store:   store,
		applier: applier,
		net:     net,
		cfg:     cfg,
		pick:    rand.Intn,
	}
}

// Run announces the local tip to one random connected peer per tick until
// ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Syncer) tick() {
	peers := s.net.ConnectedPeers()
	if len(peers) == 0 {
		return
	}
	target := peers[s.pick(len(peers))]
	msg := p2p.Message{Kind: p2p.KindBlockSyncRequest, FromHeight: s.store.Height()}
	if err := s.net.Post(target, msg); err != nil {
		s.log.WithError(err).WithField("peer", target.String()).Warn("blocksync: tip announce failed")
	}
}

// HandleRequest serves a peer's tip announcement: if the local chain is
// ahead of fromHeight, reply with up to BatchSize blocks starting at
// fromHeight+1. A peer at or ahead of our tip gets no reply.
func (s *Syncer) HandleRequest(from data.PeerId, fromHeight uint64) error {
	tip := s.store.Height()
	if tip <= fromHeight {
		return nil
	}
	batch := make([]block.CommittedBlock, 0, s.cfg.BatchSize)
	for h := fromHeight + 1; h <= tip && len(batch) < s.cfg.BatchSize; h++ {
		b, found, err := s.store.GetBlockByHeight(h)
		if err != nil {
			return err
		}
		if !found {
			break
		}
		batch = append(batch, b)
	}
	if len(batch) == 0 {
		return nil
	}
	return s.net.Post(from, p2p.Message{Kind: p2p.KindBlockSyncUpdate, Batch: batch})
}

// HandleUpdate applies a catch-up batch in order through the same path as
// a live BlockCommitted. Out-of-order or gap-breaking batches are
// discarded silently: the next tick re-announces the
// unchanged tip and the peer resends from the right height. Signature
// re-verification against the topology happens inside the applier, the
// same as for a live commit.
func (s *Syncer) HandleUpdate(batch []block.CommittedBlock) error {
	for _, b := range batch {
		tip := s.store.Height()
		switch {
		case b.Header.Height <= tip:
			continue
		case b.Header.Height != tip+1:
			return nil
		}
		if err := s.applier.ApplyCommitted(b, true); err != nil {
			s.log.WithError(err).WithField("height", b.Header.Height).Warn("blocksync: apply failed")
			return nil
		}
	}
	return nil
}
