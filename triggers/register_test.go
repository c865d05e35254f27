package triggers

import (
	"testing"

	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/isi"
	"github.com/kagami-chain/kagami/wsv"
)

func mustAccountId(t *testing.T, name, domain string) (data.DomainId, data.AccountId) {
	t.Helper()
	dom, err := data.NewDomainId(domain)
	if err != nil {
		t.Fatal(err)
	}
	acc, err := data.NewAccountId(name, dom)
	if err != nil {
		t.Fatal(err)
	}
	return dom, acc
}

func TestRegisterInstallsIntoRequestedPartition(t *testing.T) {
	s := New()
	id := mustTriggerId(t, "welcome")
	dom, acc := mustAccountId(t, "alice", "wonderland")

	spec := isi.TriggerSpec{
		EventKind:       int(KindData),
		FilterEventKind: int(wsv.EventAccountRegistered),
		Repeats:         3,
		Mintable:        true,
		Action:          []isi.InstructionBox{{Kind: isi.KindFail, FailMessage: "x"}},
	}
	if err := s.Register(id, dom, acc, spec); err != nil {
		t.Fatal(err)
	}
	action, ok := s.ActionFor(id)
	if !ok || len(action) != 1 {
		t.Fatalf("expected the registered action to be retrievable, ok=%v len=%d", ok, len(action))
	}
	found := false
	s.InspectById(id, func(tr *Trigger) {
		found = true
		if tr.Repeats.Indefinite || tr.Repeats.Count != 3 {
			t.Fatalf("unexpected repeats %+v", tr.Repeats)
		}
		if tr.Authority.Compare(acc) != 0 {
			t.Fatal("authority not carried through registration")
		}
	})
	if !found {
		t.Fatal("trigger missing after Register")
	}
}

func TestRegisterRejectsIndefiniteNonMintable(t *testing.T) {
	s := New()
	id := mustTriggerId(t, "one_shot")
	dom, acc := mustAccountId(t, "alice", "wonderland")

	err := s.Register(id, dom, acc, isi.TriggerSpec{
		EventKind:  int(KindData),
		Indefinite: true,
		Mintable:   false,
	})
	if err != ErrIndefiniteNonMintable {
		t.Fatalf("expected ErrIndefiniteNonMintable, got %v", err)
	}
	if _, ok := s.ActionFor(id); ok {
		t.Fatal("rejected trigger must not be installed")
	}
}

func TestRegisterRequiresExactlyOneForNonMintable(t *testing.T) {
	s := New()
	dom, acc := mustAccountId(t, "alice", "wonderland")

	if err := s.Register(mustTriggerId(t, "twice"), dom, acc, isi.TriggerSpec{
		EventKind: int(KindData),
		Repeats:   2,
		Mintable:  false,
	}); err == nil {
		t.Fatal("expected repeats=2 non-mintable registration to fail")
	}
	if err := s.Register(mustTriggerId(t, "once"), dom, acc, isi.TriggerSpec{
		EventKind: int(KindData),
		Repeats:   1,
		Mintable:  false,
	}); err != nil {
		t.Fatalf("repeats=1 non-mintable must be accepted: %v", err)
	}
}

func TestRegisterRejectsDuplicateId(t *testing.T) {
	s := New()
	dom, acc := mustAccountId(t, "alice", "wonderland")
	id := mustTriggerId(t, "dup")
	spec := isi.TriggerSpec{EventKind: int(KindData), Repeats: 1, Mintable: true}

	if err := s.Register(id, dom, acc, spec); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(id, dom, acc, spec); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestUnregisterReportsExistence(t *testing.T) {
	s := New()
	dom, acc := mustAccountId(t, "alice", "wonderland")
	id := mustTriggerId(t, "ephemeral")

	if s.Unregister(id) {
		t.Fatal("unregistering a missing trigger must report false")
	}
	if err := s.Register(id, dom, acc, isi.TriggerSpec{EventKind: int(KindData), Repeats: 1, Mintable: true}); err != nil {
		t.Fatal(err)
	}
	if !s.Unregister(id) {
		t.Fatal("expected Unregister to report true for an installed trigger")
	}
}
