package blocksync

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/crypto"
	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/kura"
	"github.com/kagami-chain/kagami/p2p"
)

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

type postRecord struct {
	to  data.PeerId
	msg p2p.Message
}

type fakeSender struct {
	peers []data.PeerId
	posts []postRecord
}

func (f *fakeSender) Post(id data.PeerId, msg p2p.Message) error {
	f.posts = append(f.posts, postRecord{to: id, msg: msg})
	return nil
}

func (f *fakeSender) ConnectedPeers() []data.PeerId { return f.peers }

type fakeApplier struct {
	applied []uint64
	store   *kura.Store
}

func (f *fakeApplier) ApplyCommitted(committed block.CommittedBlock, viaSync bool) error {
	if err := f.store.StoreBlock(committed); err != nil {
		return err
	}
	f.applied = append(f.applied, committed.Header.Height)
	return nil
}

func newTestStore(t *testing.T) *kura.Store {
	t.Helper()
	s, err := kura.Open(t.TempDir(), crypto.StdProvider{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func committedAt(height uint64) block.CommittedBlock {
	return block.CommittedBlock{PendingBlock: block.PendingBlock{
		Header: block.Header{Height: height},
	}}
}

func fillStore(t *testing.T, s *kura.Store, upTo uint64) {
	t.Helper()
	for h := uint64(1); h <= upTo; h++ {
		if err := s.StoreBlock(committedAt(h)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestTickAnnouncesTipToAPeer(t *testing.T) {
	store := newTestStore(t)
	fillStore(t, store, 3)
	peer := data.PeerId{PublicKey: []byte("peer-a-public-key-32-bytes-long!"), Address: "a:1"}
	sender := &fakeSender{peers: []data.PeerId{peer}}
	s := New(testLog(), store, &fakeApplier{store: newTestStore(t)}, sender, Config{BatchSize: 10})
	s.pick = func(n int) int { return 0 }

	s.tick()

	if len(sender.posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(sender.posts))
	}
	got := sender.posts[0]
	if got.msg.Kind != p2p.KindBlockSyncRequest || got.msg.FromHeight != 3 {
		t.Fatalf("unexpected announce: kind=%v from=%d", got.msg.Kind, got.msg.FromHeight)
	}
}

func TestTickWithNoConnectedPeersIsANoop(t *testing.T) {
	store := newTestStore(t)
	sender := &fakeSender{}
	s := New(testLog(), store, &fakeApplier{store: newTestStore(t)}, sender, Config{BatchSize: 10})
	s.tick()
	if len(sender.posts) != 0 {
		t.Fatalf("expected no posts, got %d", len(sender.posts))
	}
}

func TestHandleRequestServesBatchFromNextHeight(t *testing.T) {
	store := newTestStore(t)
	fillStore(t, store, 5)
	sender := &fakeSender{}
	s := New(testLog(), store, &fakeApplier{store: newTestStore(t)}, sender, Config{BatchSize: 2})
	from := data.PeerId{PublicKey: []byte("peer-b-public-key-32-bytes-long!"), Address: "b:1"}

	if err := s.HandleRequest(from, 2); err != nil {
		t.Fatal(err)
	}
	if len(sender.posts) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(sender.posts))
	}
	batch := sender.posts[0].msg.Batch
	if len(batch) != 2 {
		t.Fatalf("expected batch of 2 (BatchSize cap), got %d", len(batch))
	}
	if batch[0].Header.Height != 3 || batch[1].Header.Height != 4 {
		t.Fatalf("expected heights 3,4, got %d,%d", batch[0].Header.Height, batch[1].Header.Height)
	}
}

func TestHandleRequestFromPeerAtOrAheadOfTip(t *testing.T) {
	store := newTestStore(t)
	fillStore(t, store, 2)
	sender := &fakeSender{}
	s := New(testLog(), store, &fakeApplier{store: newTestStore(t)}, sender, Config{BatchSize: 10})
	from := data.PeerId{PublicKey: []byte("peer-c-public-key-32-bytes-long!"), Address: "c:1"}

	for _, h := range []uint64{2, 7} {
		if err := s.HandleRequest(from, h); err != nil {
			t.Fatal(err)
		}
	}
	if len(sender.posts) != 0 {
		t.Fatalf("expected no replies, got %d", len(sender.posts))
	}
}

func TestHandleUpdateAppliesInOrder(t *testing.T) {
	local := newTestStore(t)
	applier := &fakeApplier{store: local}
	s := New(testLog(), local, applier, &fakeSender{}, Config{BatchSize: 10})

	batch := []block.CommittedBlock{committedAt(1), committedAt(2), committedAt(3)}
	if err := s.HandleUpdate(batch); err != nil {
		t.Fatal(err)
	}
	if len(applier.applied) != 3 {
		t.Fatalf("expected 3 applies, got %d", len(applier.applied))
	}
	if local.Height() != 3 {
		t.Fatalf("expected tip 3, got %d", local.Height())
	}
}

func TestHandleUpdateDiscardsGapSilently(t *testing.T) {
	local := newTestStore(t)
	fillStore(t, local, 1)
	applier := &fakeApplier{store: local}
	s := New(testLog(), local, applier, &fakeSender{}, Config{BatchSize: 10})

	// Heights 3,4 break the chain (we are at 1); the whole tail is dropped.
	if err := s.HandleUpdate([]block.CommittedBlock{committedAt(3), committedAt(4)}); err != nil {
		t.Fatal(err)
	}
	if len(applier.applied) != 0 {
		t.Fatalf("expected no applies on gap, got %d", len(applier.applied))
	}
	if local.Height() != 1 {
		t.Fatalf("tip should be unchanged, got %d", local.Height())
	}
}

func TestHandleUpdateSkipsAlreadyKnownHeights(t *testing.T) {
	local := newTestStore(t)
	fillStore(t, local, 2)
	applier := &fakeApplier{store: local}
	s := New(testLog(), local, applier, &fakeSender{}, Config{BatchSize: 10})

	if err := s.HandleUpdate([]block.CommittedBlock{committedAt(1), committedAt(2), committedAt(3)}); err != nil {
		t.Fatal(err)
	}
	if len(applier.applied) != 1 || applier.applied[0] != 3 {
		t.Fatalf("expected only height 3 applied, got %v", applier.applied)
	}
}
