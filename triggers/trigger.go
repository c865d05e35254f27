// Package triggers implements the event-dispatched trigger set: four
// event-kind-partitioned maps plus a side index enforcing that a trigger
// id lives in exactly one partition, and the two-phase match-then-inspect
// dispatch that gives every honest node an identical invocation order for
// a given block.
//
// The scan phase walks partitions in a fixed order and each partition in
// canonical id order, so the matched sequence is byte-for-byte identical
// across nodes.
package triggers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/isi"
	"github.com/kagami-chain/kagami/wsv"
)

// EventKind tags which of the four partitions a trigger lives in.
type EventKind int

const (
	KindData EventKind = iota
	KindPipeline
	KindTime
	KindExecute
)

// Repeats is the trigger's remaining-invocation budget: either a fixed
// count or Indefinite (fires forever until explicitly unregistered).
type Repeats struct {
	Indefinite bool
	Count      uint32
}

// ErrRepeatsOverflow is returned by ModRepeats against an Indefinite
// trigger, which has no finite count to modify.
var ErrRepeatsOverflow = fmt.Errorf("triggers: repeats overflow on indefinite trigger")

// Filter matches a DataEvent and reports how many times it matches (time
// triggers may match a single tick multiple times; every other kind
// matches 0 or 1 times).
type Filter interface {
	Matches(ev wsv.DataEvent) bool
	CountMatches(ev wsv.DataEvent) int
}

// DataEventFilter matches on DataEvent.Kind and, if set, a specific
// domain/account/asset scope.
type DataEventFilter struct {
	Kind    wsv.DataEventKind
	Domain  *data.DomainId
	Account *data.AccountId
}

func (f DataEventFilter) Matches(ev wsv.DataEvent) bool {
	if ev.Kind != f.Kind {
		return false
	}
	if f.Domain != nil && ev.Domain.Compare(*f.Domain) != 0 {
		return false
	}
	if f.Account != nil && ev.Account.Compare(*f.Account) != 0 {
		return false
	}
	return true
}

func (f DataEventFilter) CountMatches(ev wsv.DataEvent) int {
	if f.Matches(ev) {
		return 1
	}
	return 0
}

// Trigger bundles a matching filter, an owning domain (for
// InspectByDomainId scoping) and account (the authority its action
// instructions execute as), the action
// instructions it runs, and its remaining repeats budget.
type Trigger struct {
	Id        data.TriggerId
	Domain    data.DomainId
	Authority data.AccountId
	Filter    Filter
	Action    []isi.InstructionBox
	Repeats   Repeats
}

// matchedEntry is one (event, trigger id) pair appended during the scan
// phase, walked in order during InspectMatched.
type matchedEntry struct {
	event wsv.DataEvent
	id    data.TriggerId
}

// Set is the trigger set: four partitions plus the id→kind side index.
type Set struct {
	mu sync.Mutex

	data      map[data.TriggerId]*Trigger
	pipeline  map[data.TriggerId]*Trigger
	time      map[data.TriggerId]*Trigger
	execute   map[data.TriggerId]*Trigger
	ids       map[data.TriggerId]EventKind

	matched []matchedEntry
}

// New constructs an empty trigger set.
func New() *Set {
	return &Set{
		data:     make(map[data.TriggerId]*Trigger),
		pipeline: make(map[data.TriggerId]*Trigger),
		time:     make(map[data.TriggerId]*Trigger),
		execute:  make(map[data.TriggerId]*Trigger),
		ids:      make(map[data.TriggerId]EventKind),
	}
}

func (s *Set) partitionFor(kind EventKind) map[data.TriggerId]*Trigger {
	switch kind {
	case KindData:
		return s.data
	case KindPipeline:
		return s.pipeline
	case KindTime:
		return s.time
	default:
		return s.execute
	}
}

// add inserts t into the partition for kind, failing (returning false) if
// t.Id already exists in any partition.
func (s *Set) add(kind EventKind, t *Trigger) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ids[t.Id]; exists {
		return false
	}
	s.partitionFor(kind)[t.Id] = t
	s.ids[t.Id] = kind
	return true
}

// AddDataTrigger registers a trigger on the data-event partition.
func (s *Set) AddDataTrigger(t *Trigger) bool { return s.add(KindData, t) }

// AddPipelineTrigger registers a trigger on the pipeline-event partition.
func (s *Set) AddPipelineTrigger(t *Trigger) bool { return s.add(KindPipeline, t) }

// AddTimeTrigger registers a trigger on the time-event partition.
func (s *Set) AddTimeTrigger(t *Trigger) bool { return s.add(KindTime, t) }

// AddExecuteTrigger registers a trigger that only fires via an explicit
// ExecuteTrigger instruction.
func (s *Set) AddExecuteTrigger(t *Trigger) bool { return s.add(KindExecute, t) }

// Remove deletes id from its partition and the side index. Failure (id not
// found) is silent.
func (s *Set) Remove(id data.TriggerId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := s.ids[id]
	if !ok {
		return false
	}
	delete(s.partitionFor(kind), id)
	delete(s.ids, id)
	return true
}

// InspectById runs f against the trigger's action read-only.
func (s *Set) InspectById(id data.TriggerId, f func(*Trigger)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := s.ids[id]
	if !ok {
		return false
	}
	f(s.partitionFor(kind)[id])
	return true
}

// InspectByDomainId iterates every trigger scoped to domain, in canonical
// id order, across all four partitions.
func (s *Set) InspectByDomainId(domain data.DomainId, f func(*Trigger)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []*Trigger
	for _, part := range []map[data.TriggerId]*Trigger{s.data, s.pipeline, s.time, s.execute} {
		for _, t := range part {
			if t.Domain.Compare(domain) == 0 {
				matches = append(matches, t)
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Id.Compare(matches[j].Id) < 0 })
	for _, t := range matches {
		f(t)
	}
}

// ModRepeats applies f to id's current repeats count. Only valid for
// Exactly(n) triggers (Repeats.Indefinite == false); indefinite triggers
// fail with ErrRepeatsOverflow.
func (s *Set) ModRepeats(id data.TriggerId, f func(uint32) uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := s.ids[id]
	if !ok {
		return fmt.Errorf("triggers: trigger %s not found", id)
	}
	t := s.partitionFor(kind)[id]
	if t.Repeats.Indefinite {
		return ErrRepeatsOverflow
	}
	t.Repeats.Count = f(t.Repeats.Count)
	return nil
}

// Snapshot captures the current partitions for later rollback. Triggers
// mutate in place (ModRepeats, InspectMatched's repeats decrement), unlike
// wsv's clone-then-swap accounts, so a snapshot copies every partition map
// and clones each *Trigger's Repeats by value rather than sharing pointers.
func (s *Set) Snapshot() *Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := New()
	for kind, part := range map[EventKind]map[data.TriggerId]*Trigger{
		KindData: s.data, KindPipeline: s.pipeline, KindTime: s.time, KindExecute: s.execute,
	} {
		for id, t := range part {
			cp := *t
			clone.partitionFor(kind)[id] = &cp
			clone.ids[id] = kind
		}
	}
	return clone
}

// Restore replaces s's partitions with those captured by Snapshot, used by
// Sumeragi's soft-fork recovery to undo trigger-repeats bookkeeping applied
// by a block that later lost a view-change-index comparison.
func (s *Set) Restore(snap *Set) {
	snap.mu.Lock()
	dataPart, pipelinePart, timePart, executePart, ids := snap.data, snap.pipeline, snap.time, snap.execute, snap.ids
	snap.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data, s.pipeline, s.time, s.execute, s.ids = dataPart, pipelinePart, timePart, executePart, ids
	s.matched = nil
}

// ErrIndefiniteNonMintable rejects a registration combining Indefinite
// repeats with a non-mintable trigger; such a trigger could never
// legally fire more than once, so the combination is refused outright.
var ErrIndefiniteNonMintable = fmt.Errorf("triggers: non-mintable trigger cannot have indefinite repeats")

// Register implements wsv.TriggerStore, lowering a RegisterTrigger
// instruction's spec into a Trigger in the right partition. A
// non-mintable trigger must be registered with exactly one execution.
func (s *Set) Register(id data.TriggerId, domain data.DomainId, authority data.AccountId, spec isi.TriggerSpec) error {
	if !spec.Mintable {
		if spec.Indefinite {
			return ErrIndefiniteNonMintable
		}
		if spec.Repeats != 1 {
			return fmt.Errorf("triggers: non-mintable trigger %s must have exactly one execution", id)
		}
	}
	t := &Trigger{
		Id:        id,
		Domain:    domain,
		Authority: authority,
		Filter:    DataEventFilter{Kind: wsv.DataEventKind(spec.FilterEventKind)},
		Action:    spec.Action,
		Repeats:   Repeats{Indefinite: spec.Indefinite, Count: spec.Repeats},
	}
	if !s.add(EventKind(spec.EventKind), t) {
		return fmt.Errorf("triggers: trigger %s already registered", id)
	}
	return nil
}

// Unregister implements wsv.TriggerStore.
func (s *Set) Unregister(id data.TriggerId) bool { return s.Remove(id) }

// ActionFor implements wsv.TriggerStore: it returns the action
// instructions for id, satisfying the ExecuteTrigger instruction's lookup
// without package wsv ever importing package triggers.
func (s *Set) ActionFor(id data.TriggerId) ([]isi.InstructionBox, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := s.ids[id]
	if !ok {
		return nil, false
	}
	return s.partitionFor(kind)[id].Action, true
}
