package plan

import (
	"time"

	"github.com/google/uuid"
)

// Builder constructs typed operations from UI-level parameters. It has no
// network or state side effects: neighbor ids are supplied by the caller
// (the ordering resolver computes them) and only serialized here.
//
// Every call stamps a fresh opId and the current wall clock; a retry is a
// new operation with a new opId, never a reuse.
type Builder struct {
	clientID string
	now      func() time.Time
	newID    func() string
}

// BuilderOptions override the clock and id source, used by tests.
type BuilderOptions struct {
	Now   func() time.Time
	NewID func() string
}

func NewBuilder(clientID string) *Builder {
	return NewBuilderWithOptions(clientID, BuilderOptions{})
}

func NewBuilderWithOptions(clientID string, opts BuilderOptions) *Builder {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Builder{clientID: clientID, now: now, newID: newID}
}

func (b *Builder) ClientID() string {
	return b.clientID
}

func (b *Builder) stamp(opType OpType, day int) Operation {
	return Operation{
		OpID:        b.newID(),
		ClientID:    b.clientID,
		OpTimestamp: b.now().UnixMilli(),
		Type:        opType,
		Day:         day,
	}
}

// NewItemFields is the caller-authored portion of an insert.
type NewItemFields struct {
	Place        string
	Address      string
	Cost         int
	CategoryCode CategoryCode
}

func (b *Builder) BuildInsert(day int, fields NewItemFields, prevCrdtID, nextCrdtID string) Operation {
	op := b.stamp(OpInsert, day)
	op.Insert = &InsertPayload{
		CrdtID:       b.newID(),
		Place:        fields.Place,
		Address:      fields.Address,
		Cost:         fields.Cost,
		CategoryCode: fields.CategoryCode,
		PrevCrdtID:   prevCrdtID,
		NextCrdtID:   nextCrdtID,
	}
	return op
}

func (b *Builder) BuildMove(day int, crdtID, prevCrdtID, nextCrdtID string) Operation {
	op := b.stamp(OpMove, day)
	op.Move = &MovePayload{CrdtID: crdtID, PrevCrdtID: prevCrdtID, NextCrdtID: nextCrdtID}
	return op
}

// BuildMoveDay targets the source day; newDay is where the item lands.
func (b *Builder) BuildMoveDay(sourceDay, newDay int, crdtID, prevCrdtID, nextCrdtID string) Operation {
	op := b.stamp(OpMoveDay, sourceDay)
	op.MoveDay = &MoveDayPayload{CrdtID: crdtID, NewDay: newDay, PrevCrdtID: prevCrdtID, NextCrdtID: nextCrdtID}
	return op
}

// ItemPatch is the partial field set accepted by update; nil fields are
// not repeated on the wire.
type ItemPatch struct {
	Cost         *int
	CategoryCode *CategoryCode
}

func (b *Builder) BuildUpdate(day int, crdtID string, patch ItemPatch) Operation {
	op := b.stamp(OpUpdate, day)
	op.Update = &UpdatePayload{CrdtID: crdtID, Cost: patch.Cost, CategoryCode: patch.CategoryCode}
	return op
}

func (b *Builder) BuildDelete(day int, crdtID string) Operation {
	op := b.stamp(OpDelete, day)
	op.Delete = &DeletePayload{CrdtID: crdtID}
	return op
}
