package triggers

import (
	"testing"

	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/isi"
	"github.com/kagami-chain/kagami/wsv"
)

func mustTriggerId(t *testing.T, name string) data.TriggerId {
	t.Helper()
	id, err := data.NewTriggerId(name)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestAddRejectsDuplicateAcrossPartitions(t *testing.T) {
	s := New()
	id := mustTriggerId(t, "on_mint")
	tr := &Trigger{Id: id, Filter: DataEventFilter{Kind: wsv.EventAccountAssetChanged}, Repeats: Repeats{Indefinite: true}}
	if !s.AddDataTrigger(tr) {
		t.Fatal("expected first registration to succeed")
	}
	if s.AddPipelineTrigger(tr) {
		t.Fatal("expected duplicate id registration in another partition to fail")
	}
}

func TestRemoveSilentOnMissing(t *testing.T) {
	s := New()
	if s.Remove(mustTriggerId(t, "nope")) {
		t.Fatal("expected Remove on missing id to return false")
	}
}

func TestModRepeatsOverflowOnIndefinite(t *testing.T) {
	s := New()
	id := mustTriggerId(t, "forever")
	s.AddDataTrigger(&Trigger{Id: id, Filter: DataEventFilter{Kind: wsv.EventAccountAssetChanged}, Repeats: Repeats{Indefinite: true}})
	err := s.ModRepeats(id, func(n uint32) uint32 { return n + 1 })
	if err != ErrRepeatsOverflow {
		t.Fatalf("expected ErrRepeatsOverflow, got %v", err)
	}
}

func TestHandleAndInspectMatchedOrderAndRepeats(t *testing.T) {
	s := New()
	a := mustTriggerId(t, "a_trigger")
	b := mustTriggerId(t, "b_trigger")
	s.AddDataTrigger(&Trigger{Id: b, Filter: DataEventFilter{Kind: wsv.EventAccountAssetChanged}, Repeats: Repeats{Count: 1}})
	s.AddDataTrigger(&Trigger{Id: a, Filter: DataEventFilter{Kind: wsv.EventAccountAssetChanged}, Repeats: Repeats{Count: 1}})

	ev := wsv.DataEvent{Kind: wsv.EventAccountAssetChanged}
	s.HandleDataEvent(ev)

	var order []data.TriggerId
	s.InspectMatched(func(id data.TriggerId, authority data.AccountId, action []isi.InstructionBox, event wsv.DataEvent) bool {
		order = append(order, id)
		return true
	})
	if len(order) != 2 || order[0].Compare(a) != 0 || order[1].Compare(b) != 0 {
		t.Fatalf("expected canonical id order [a_trigger, b_trigger], got %v", order)
	}

	// Both triggers were Exactly(1) and successfully inspected once, so
	// both should now be fully removed from the set.
	if s.InspectById(a, func(*Trigger) {}) {
		t.Fatal("expected a_trigger to be removed after exhausting repeats")
	}
	if s.InspectById(b, func(*Trigger) {}) {
		t.Fatal("expected b_trigger to be removed after exhausting repeats")
	}
}
