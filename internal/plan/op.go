package plan

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOperation = errors.New("invalid operation")
	ErrUnknownItem      = errors.New("unknown item")
)

// OpType tags the variant carried by an Operation.
type OpType string

const (
	OpInsert  OpType = "insert"
	OpMove    OpType = "move"
	OpMoveDay OpType = "moveDay"
	OpUpdate  OpType = "update"
	OpDelete  OpType = "delete"
)

// InsertPayload carries the full fields of a new item plus its neighbor
// references. Empty neighbor ids mean the open start/end bound.
type InsertPayload struct {
	CrdtID       string       `json:"crdtId"`
	Place        string       `json:"place"`
	Address      string       `json:"address"`
	Cost         int          `json:"cost"`
	CategoryCode CategoryCode `json:"categoryCode"`
	PrevCrdtID   string       `json:"prevCrdtId,omitempty"`
	NextCrdtID   string       `json:"nextCrdtId,omitempty"`
}

type MovePayload struct {
	CrdtID     string `json:"crdtId"`
	PrevCrdtID string `json:"prevCrdtId,omitempty"`
	NextCrdtID string `json:"nextCrdtId,omitempty"`
}

type MoveDayPayload struct {
	CrdtID     string `json:"crdtId"`
	NewDay     int    `json:"newDay"`
	PrevCrdtID string `json:"prevCrdtId,omitempty"`
	NextCrdtID string `json:"nextCrdtId,omitempty"`
}

// UpdatePayload is a partial field set; nil fields are left untouched.
type UpdatePayload struct {
	CrdtID       string        `json:"crdtId"`
	Cost         *int          `json:"cost,omitempty"`
	CategoryCode *CategoryCode `json:"categoryCode,omitempty"`
}

type DeletePayload struct {
	CrdtID string `json:"crdtId"`
}

// Operation is the unit of intent sent over the wire. Exactly one payload
// pointer matching Type is set; Validate enforces this so the store's
// interpreter can switch exhaustively on Type.
type Operation struct {
	OpID        string `json:"opId"`
	ClientID    string `json:"clientId"`
	OpTimestamp int64  `json:"opTimestamp"`
	Type        OpType `json:"type"`
	Day         int    `json:"day"`

	Insert  *InsertPayload  `json:"insert,omitempty"`
	Move    *MovePayload    `json:"move,omitempty"`
	MoveDay *MoveDayPayload `json:"moveDay,omitempty"`
	Update  *UpdatePayload  `json:"update,omitempty"`
	Delete  *DeletePayload  `json:"delete,omitempty"`
}

// TargetCrdtID returns the item identity the operation refers to.
func (op Operation) TargetCrdtID() string {
	switch op.Type {
	case OpInsert:
		if op.Insert != nil {
			return op.Insert.CrdtID
		}
	case OpMove:
		if op.Move != nil {
			return op.Move.CrdtID
		}
	case OpMoveDay:
		if op.MoveDay != nil {
			return op.MoveDay.CrdtID
		}
	case OpUpdate:
		if op.Update != nil {
			return op.Update.CrdtID
		}
	case OpDelete:
		if op.Delete != nil {
			return op.Delete.CrdtID
		}
	}
	return ""
}

func (op Operation) payloadCount() int {
	count := 0
	if op.Insert != nil {
		count++
	}
	if op.Move != nil {
		count++
	}
	if op.MoveDay != nil {
		count++
	}
	if op.Update != nil {
		count++
	}
	if op.Delete != nil {
		count++
	}
	return count
}

// Validate checks the envelope fields and that the payload variant matches
// the declared type.
func (op Operation) Validate() error {
	if op.OpID == "" {
		return fmt.Errorf("%w: missing opId", ErrInvalidOperation)
	}
	if op.ClientID == "" {
		return fmt.Errorf("%w: missing clientId", ErrInvalidOperation)
	}
	if op.OpTimestamp <= 0 {
		return fmt.Errorf("%w: missing opTimestamp", ErrInvalidOperation)
	}
	if op.Day < 1 {
		return fmt.Errorf("%w: day %d out of range", ErrInvalidOperation, op.Day)
	}
	if op.payloadCount() != 1 {
		return fmt.Errorf("%w: exactly one payload required", ErrInvalidOperation)
	}
	switch op.Type {
	case OpInsert:
		if op.Insert == nil {
			return fmt.Errorf("%w: type %s without matching payload", ErrInvalidOperation, op.Type)
		}
		if op.Insert.CrdtID == "" {
			return fmt.Errorf("%w: insert missing crdtId", ErrInvalidOperation)
		}
		if op.Insert.Cost < 0 {
			return fmt.Errorf("%w: negative cost", ErrInvalidOperation)
		}
		if !op.Insert.CategoryCode.Valid() {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidOperation, op.Insert.CategoryCode)
		}
	case OpMove:
		if op.Move == nil || op.Move.CrdtID == "" {
			return fmt.Errorf("%w: malformed move payload", ErrInvalidOperation)
		}
	case OpMoveDay:
		if op.MoveDay == nil || op.MoveDay.CrdtID == "" {
			return fmt.Errorf("%w: malformed moveDay payload", ErrInvalidOperation)
		}
		if op.MoveDay.NewDay < 1 {
			return fmt.Errorf("%w: moveDay target day %d out of range", ErrInvalidOperation, op.MoveDay.NewDay)
		}
	case OpUpdate:
		if op.Update == nil || op.Update.CrdtID == "" {
			return fmt.Errorf("%w: malformed update payload", ErrInvalidOperation)
		}
		if op.Update.Cost != nil && *op.Update.Cost < 0 {
			return fmt.Errorf("%w: negative cost", ErrInvalidOperation)
		}
		if op.Update.CategoryCode != nil && !op.Update.CategoryCode.Valid() {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidOperation, *op.Update.CategoryCode)
		}
	case OpDelete:
		if op.Delete == nil || op.Delete.CrdtID == "" {
			return fmt.Errorf("%w: malformed delete payload", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, op.Type)
	}
	return nil
}
