package wire

import (
	"errors"
	"fmt"

	"github.com/wayfarerhq/plansync/internal/plan"
)

var ErrMalformedMessage = errors.New("malformed message")

// MessageType tags a server-to-client envelope.
type MessageType string

const (
	MsgApplied       MessageType = "applied"
	MsgSaved         MessageType = "saved"
	MsgPresenceJoin  MessageType = "presence-join"
	MsgPresenceLeave MessageType = "presence-leave"
	MsgJoinResponse  MessageType = "join-response"
)

// ServerMessage is the broadcast/unicast envelope: a type tag plus the
// type-specific fields. Snapshot maps day number to its DaySnapshot.
type ServerMessage struct {
	Type     MessageType              `json:"type"`
	Op       *plan.Operation          `json:"op,omitempty"`
	UserID   string                   `json:"userId,omitempty"`
	ClientID string                   `json:"clientId,omitempty"`
	Snapshot map[int]plan.DaySnapshot `json:"snapshot,omitempty"`
}

// Validate checks that the fields required by the type tag are present.
func (m ServerMessage) Validate() error {
	switch m.Type {
	case MsgApplied:
		if m.Op == nil {
			return fmt.Errorf("%w: applied without op", ErrMalformedMessage)
		}
		return m.Op.Validate()
	case MsgSaved:
		if m.ClientID == "" {
			return fmt.Errorf("%w: saved without clientId", ErrMalformedMessage)
		}
	case MsgPresenceJoin, MsgPresenceLeave:
		if m.ClientID == "" {
			return fmt.Errorf("%w: %s without clientId", ErrMalformedMessage, m.Type)
		}
	case MsgJoinResponse:
		if m.Snapshot == nil {
			return fmt.Errorf("%w: join-response without snapshot", ErrMalformedMessage)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, m.Type)
	}
	return nil
}

// JoinRequest is the body published to the edit/join destination.
type JoinRequest struct {
	UserID string `json:"userId"`
}

// LeaveRequest is the body published to the edit/leave destination.
type LeaveRequest struct {
	UserID string `json:"userId"`
}

// SaveRequest is the body published to the edit/save destination.
type SaveRequest struct {
	ClientID string `json:"clientId"`
}
