package plan

import (
	"sort"
	"sync"
)

// Store is the single source of local truth for an edit session. It holds
// the day-partitioned item collection and reconciles three inputs: the
// initial snapshot, remote operation broadcasts, and the caller's own
// optimistic operations. Local state is modeled as snapshot plus the
// pending unconfirmed operations applied since that snapshot, so a refresh
// is a snapshot replace plus a pending clear.
//
// All mutation happens inside transport callbacks or direct UI handlers;
// the mutex serializes those entry points.
type Store struct {
	mu      sync.Mutex
	items   map[string]*PlanItem
	applied map[string]struct{}
	pending []Operation
	cursors map[int]string
	marks   map[string]map[string]updateMark
}

// updateMark records the last writer of one item field, for the
// last-writer-wins-by-(opTimestamp, clientId) update merge rule. The opId
// breaks the residual tie between two updates from one client in the same
// millisecond, so replicas agree regardless of arrival order.
type updateMark struct {
	ts       int64
	clientID string
	opID     string
}

func (m updateMark) beats(ts int64, clientID, opID string) bool {
	if m.ts != ts {
		return m.ts > ts
	}
	if m.clientID != clientID {
		return m.clientID > clientID
	}
	return m.opID >= opID
}

func NewStore() *Store {
	return &Store{
		items:   map[string]*PlanItem{},
		applied: map[string]struct{}{},
		cursors: map[int]string{},
		marks:   map[string]map[string]updateMark{},
	}
}

// Apply interprets one operation against the collection. Redelivery of an
// already-applied opId is a no-op; the returned bool reports whether the
// collection changed. Remote broadcasts and local optimistic applies share
// this interpreter — ApplyLocal additionally records the op in the pending
// log.
func (s *Store) Apply(op Operation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(op)
}

// ApplyLocal applies the caller's own operation optimistically, before any
// publish confirmation, and tracks it as pending until the next snapshot.
func (s *Store) ApplyLocal(op Operation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed, err := s.applyLocked(op)
	if err != nil {
		return changed, err
	}
	s.pending = append(s.pending, op)
	return changed, nil
}

func (s *Store) applyLocked(op Operation) (bool, error) {
	if err := op.Validate(); err != nil {
		return false, err
	}
	if _, seen := s.applied[op.OpID]; seen {
		return false, nil
	}
	s.applied[op.OpID] = struct{}{}

	switch op.Type {
	case OpInsert:
		return s.applyInsertLocked(op), nil
	case OpMove:
		return s.applyMoveLocked(op), nil
	case OpMoveDay:
		return s.applyMoveDayLocked(op), nil
	case OpUpdate:
		return s.applyUpdateLocked(op), nil
	case OpDelete:
		return s.applyDeleteLocked(op), nil
	}
	return false, nil
}

func (s *Store) applyInsertLocked(op Operation) bool {
	payload := op.Insert
	// A crdtId is never reused: an insert for an identity already seen,
	// live or tombstoned, is inert.
	if _, exists := s.items[payload.CrdtID]; exists {
		return false
	}
	item := &PlanItem{
		CrdtID:         payload.CrdtID,
		Day:            op.Day,
		Place:          payload.Place,
		Address:        payload.Address,
		Cost:           payload.Cost,
		CategoryCode:   payload.CategoryCode,
		Position:       s.placementLocked(payload.PrevCrdtID, payload.NextCrdtID, payload.CrdtID, op),
		OpTimestamp:    op.OpTimestamp,
		OriginClientID: op.ClientID,
	}
	s.items[payload.CrdtID] = item
	return true
}

func (s *Store) applyMoveLocked(op Operation) bool {
	payload := op.Move
	item, ok := s.items[payload.CrdtID]
	if !ok || item.Tombstone {
		return false
	}
	item.Position = s.placementLocked(payload.PrevCrdtID, payload.NextCrdtID, payload.CrdtID, op)
	item.OpTimestamp = op.OpTimestamp
	item.OriginClientID = op.ClientID
	return true
}

func (s *Store) applyMoveDayLocked(op Operation) bool {
	payload := op.MoveDay
	item, ok := s.items[payload.CrdtID]
	if !ok || item.Tombstone {
		return false
	}
	item.Day = payload.NewDay
	item.Position = s.placementLocked(payload.PrevCrdtID, payload.NextCrdtID, payload.CrdtID, op)
	item.OpTimestamp = op.OpTimestamp
	item.OriginClientID = op.ClientID
	return true
}

func (s *Store) applyUpdateLocked(op Operation) bool {
	payload := op.Update
	item, ok := s.items[payload.CrdtID]
	if !ok || item.Tombstone {
		return false
	}
	marks := s.marks[payload.CrdtID]
	if marks == nil {
		marks = map[string]updateMark{}
		s.marks[payload.CrdtID] = marks
	}
	changed := false
	if payload.Cost != nil && !marks["cost"].beats(op.OpTimestamp, op.ClientID, op.OpID) {
		item.Cost = *payload.Cost
		marks["cost"] = updateMark{ts: op.OpTimestamp, clientID: op.ClientID, opID: op.OpID}
		changed = true
	}
	if payload.CategoryCode != nil && !marks["categoryCode"].beats(op.OpTimestamp, op.ClientID, op.OpID) {
		item.CategoryCode = *payload.CategoryCode
		marks["categoryCode"] = updateMark{ts: op.OpTimestamp, clientID: op.ClientID, opID: op.OpID}
		changed = true
	}
	return changed
}

func (s *Store) applyDeleteLocked(op Operation) bool {
	item, ok := s.items[op.Delete.CrdtID]
	if !ok || item.Tombstone {
		return false
	}
	// Terminal for this crdtId: the record stays so late references to it
	// still resolve, but it is excluded from rendering and from neighbor
	// computation.
	item.Tombstone = true
	return true
}

// placementLocked resolves the named neighbor bounds to position keys and
// derives the deterministic placement for op. A missing or self-referential
// neighbor degrades to the open bound; a tombstoned neighbor still supplies
// its retained position.
func (s *Store) placementLocked(prevCrdtID, nextCrdtID, selfCrdtID string, op Operation) Position {
	var lower, upper Position
	if prevCrdtID != "" && prevCrdtID != selfCrdtID {
		if item, ok := s.items[prevCrdtID]; ok {
			lower = item.Position
		}
	}
	if nextCrdtID != "" && nextCrdtID != selfCrdtID {
		if item, ok := s.items[nextCrdtID]; ok {
			upper = item.Position
		}
	}
	return placementPosition(lower, upper, op.OpTimestamp, op.ClientID)
}

// ReplaceSnapshot discards the whole local collection in favor of the
// authoritative server snapshot, clearing the pending log and the applied
// set. This is the resynchronization fallback whenever an operation cannot
// be confirmed delivered.
func (s *Store) ReplaceSnapshot(snapshot map[int]DaySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = map[string]*PlanItem{}
	s.applied = map[string]struct{}{}
	s.pending = nil
	s.cursors = map[int]string{}
	s.marks = map[string]map[string]updateMark{}
	for day, daySnap := range snapshot {
		s.cursors[day] = daySnap.LastStreamOffset
		for _, item := range daySnap.Items {
			clone := item.Clone()
			s.items[clone.CrdtID] = &clone
		}
	}
}

// Item returns a copy of the record for a crdtId, tombstoned or not.
func (s *Store) Item(crdtID string) (PlanItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[crdtID]
	if !ok {
		return PlanItem{}, false
	}
	return item.Clone(), true
}

// Day returns the live, ordered view of one day.
func (s *Store) Day(day int) []PlanItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dayLocked(day)
}

func (s *Store) dayLocked(day int) []PlanItem {
	out := make([]PlanItem, 0, 8)
	for _, item := range s.items {
		if item.Day != day || item.Tombstone {
			continue
		}
		out = append(out, item.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Days returns the day numbers that currently hold live items, ascending.
func (s *Store) Days() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int]struct{}{}
	for _, item := range s.items {
		if item.Tombstone {
			continue
		}
		seen[item.Day] = struct{}{}
	}
	days := make([]int, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	sort.Ints(days)
	return days
}

// Flatten derives the single ordered list across all days: live items only,
// grouped by day, each group in tie-break order. The derived view is never
// primary; the per-day collection is.
func (s *Store) Flatten() []PlanItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int]struct{}{}
	for _, item := range s.items {
		if item.Tombstone {
			continue
		}
		seen[item.Day] = struct{}{}
	}
	days := make([]int, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	sort.Ints(days)
	out := make([]PlanItem, 0, len(s.items))
	for _, day := range days {
		out = append(out, s.dayLocked(day)...)
	}
	return out
}

// PendingOps returns a copy of the unconfirmed local operations applied
// since the last snapshot.
func (s *Store) PendingOps() []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Operation(nil), s.pending...)
}

// ConfirmPending drops the pending record for an operation the server has
// echoed back on the broadcast topic.
func (s *Store) ConfirmPending(opID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, op := range s.pending {
		if op.OpID == opID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// Cursor returns the last stream offset recorded for a day at snapshot
// time.
func (s *Store) Cursor(day int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[day]
}

// Export captures the full collection, tombstones included, in snapshot
// form. Used by the edit journal.
func (s *Store) Export() map[int]DaySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDay := map[int][]PlanItem{}
	for _, item := range s.items {
		byDay[item.Day] = append(byDay[item.Day], item.Clone())
	}
	out := make(map[int]DaySnapshot, len(byDay))
	for day, items := range byDay {
		sort.Slice(items, func(i, j int) bool { return items[i].Before(items[j]) })
		out[day] = DaySnapshot{Items: items, LastStreamOffset: s.cursors[day]}
	}
	return out
}
