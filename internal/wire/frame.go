package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Command is the frame verb of the STOMP-like protocol carried over the
// websocket. Clients send SEND/SUBSCRIBE/UNSUBSCRIBE; the broker delivers
// MESSAGE.
type Command string

const (
	CommandSend        Command = "SEND"
	CommandSubscribe   Command = "SUBSCRIBE"
	CommandUnsubscribe Command = "UNSUBSCRIBE"
	CommandMessage     Command = "MESSAGE"
)

// Frame is one protocol unit: a verb, a string destination, an optional
// subscription id, and a JSON body.
type Frame struct {
	Command     Command         `json:"command"`
	Destination string          `json:"destination,omitempty"`
	ID          string          `json:"id,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// NewSendFrame builds a SEND frame with the body JSON-encoded.
func NewSendFrame(destination string, body any) (Frame, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Command: CommandSend, Destination: destination, Body: raw}, nil
}

func NewSubscribeFrame(destination, subscriptionID string) Frame {
	return Frame{Command: CommandSubscribe, Destination: destination, ID: subscriptionID}
}

func NewUnsubscribeFrame(subscriptionID string) Frame {
	return Frame{Command: CommandUnsubscribe, ID: subscriptionID}
}

// EncodeFrame serializes a frame for the wire.
func EncodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame validates raw bytes against the frame schema and decodes
// them. Invalid frames are reported as ErrMalformedFrame so the transport
// can drop and count them instead of crashing the edit surface.
func DecodeFrame(data []byte) (Frame, error) {
	if err := validateAgainst(frameSchema, data); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

// DecodeServerMessage validates and decodes a MESSAGE frame body.
func DecodeServerMessage(body []byte) (ServerMessage, error) {
	if err := validateAgainst(messageSchema, body); err != nil {
		return ServerMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	var m ServerMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return ServerMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := m.Validate(); err != nil {
		return ServerMessage{}, err
	}
	return m, nil
}
