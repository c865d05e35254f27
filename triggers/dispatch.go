package triggers

import (
	"sort"

	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/isi"
	"github.com/kagami-chain/kagami/wsv"
)

// handle scans partition for triggers whose filter matches ev, appending
// (ev, id) to s.matched once per CountMatches (capped by the trigger's
// remaining repeats, so an exhausted fixed-repeat trigger contributes no
// entries even if its filter still matches). Partitions are always walked
// in the fixed order KindData, KindPipeline, KindTime, KindExecute (see
// the four Handle* wrappers below), and each partition's ids are visited
// in canonical order — together these give every node an identical
// matched sequence for the same event (the cross-node ordering guarantee).
func (s *Set) handle(part map[data.TriggerId]*Trigger, ev wsv.DataEvent) {
	ids := make([]data.TriggerId, 0, len(part))
	for id := range part {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
	for _, id := range ids {
		t := part[id]
		n := t.Filter.CountMatches(ev)
		if n <= 0 {
			continue
		}
		if !t.Repeats.Indefinite {
			if int(t.Repeats.Count) < n {
				n = int(t.Repeats.Count)
			}
		}
		for i := 0; i < n; i++ {
			s.matched = append(s.matched, matchedEntry{event: ev, id: id})
		}
	}
}

// HandleDataEvent scans the data partition for triggers matching ev.
func (s *Set) HandleDataEvent(ev wsv.DataEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle(s.data, ev)
}

// HandlePipelineEvent scans the pipeline partition.
func (s *Set) HandlePipelineEvent(ev wsv.DataEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle(s.pipeline, ev)
}

// HandleTimeEvent scans the time partition. A time trigger may match the
// same tick multiple times (e.g. "every 5s" against a 30s-wide tick), so
// CountMatches on a time Filter commonly exceeds 1.
func (s *Set) HandleTimeEvent(ev wsv.DataEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle(s.time, ev)
}

// HandleExecuteTriggerEvent scans the execute partition — reached only via
// an explicit ExecuteTrigger instruction, never an ambient data/time event.
func (s *Set) HandleExecuteTriggerEvent(ev wsv.DataEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle(s.execute, ev)
}

// InspectMatched walks the accumulated matched_ids in order, calling
// f(id, authority, action, event) for each. A successful inspection
// (f returns true) decrements the trigger's Exactly(n) repeats by one
// (never below zero); after the full walk, any trigger whose repeats
// reached zero is removed atomically. The matched buffer is cleared at the
// end of the call, ready for the next event-handling round.
func (s *Set) InspectMatched(f func(id data.TriggerId, authority data.AccountId, action []isi.InstructionBox, event wsv.DataEvent) bool) {
	s.mu.Lock()
	entries := s.matched
	s.matched = nil
	s.mu.Unlock()

	exhausted := make(map[data.TriggerId]struct{})
	for _, entry := range entries {
		s.mu.Lock()
		kind, ok := s.ids[entry.id]
		if !ok {
			s.mu.Unlock()
			continue
		}
		t := s.partitionFor(kind)[entry.id]
		s.mu.Unlock()

		ok2 := f(entry.id, t.Authority, t.Action, entry.event)
		if !ok2 {
			continue
		}

		s.mu.Lock()
		if !t.Repeats.Indefinite && t.Repeats.Count > 0 {
			t.Repeats.Count--
			if t.Repeats.Count == 0 {
				exhausted[entry.id] = struct{}{}
			}
		}
		s.mu.Unlock()
	}

	for id := range exhausted {
		s.Remove(id)
	}
}
