package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event is an outbound event. The set is closed: every kind is declared in
// this file and handled by Encode and Decode.
type Event interface {
	isEvent()
}

// ChatMessage is fanned out to the whole room, sender included.
type ChatMessage struct {
	Message  string
	SenderID uint64
}

// Typing is fanned out to the whole room and never persisted.
type Typing struct {
	SenderID uint64
}

// Failure goes to the sender's connection only.
type Failure struct {
	Code    string
	Message string
}

func (ChatMessage) isEvent() {}
func (Typing) isEvent()      {}
func (Failure) isEvent()     {}

type chatWire struct {
	Message  string `json:"message"`
	SenderID uint64 `json:"sender_id"`
}

type typingWire struct {
	Typing   bool   `json:"typing"`
	SenderID uint64 `json:"sender_id"`
}

type failureWire struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func Encode(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case ChatMessage:
		return json.Marshal(chatWire{Message: e.Message, SenderID: e.SenderID})
	case Typing:
		return json.Marshal(typingWire{Typing: true, SenderID: e.SenderID})
	case Failure:
		return json.Marshal(failureWire{Error: e.Message, Code: e.Code})
	default:
		return nil, fmt.Errorf("realtime: unknown event %T", ev)
	}
}

// Frame is an event with its wire encoding. A broadcast encodes once and hands
// the same frame to every connection.
type Frame struct {
	Event Event
	Data  []byte
}

func NewFrame(ev Event) (Frame, error) {
	b, err := Encode(ev)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: ev, Data: b}, nil
}

var ErrUnknownEvent = errors.New("realtime: unrecognised event payload")

// Decode is the inverse of Encode.
func Decode(b []byte) (Event, error) {
	var w struct {
		Message  *string `json:"message"`
		SenderID *uint64 `json:"sender_id"`
		Typing   bool    `json:"typing"`
		Error    *string `json:"error"`
		Code     string  `json:"code"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	switch {
	case w.Error != nil:
		return Failure{Code: w.Code, Message: *w.Error}, nil
	case w.Typing && w.SenderID != nil:
		return Typing{SenderID: *w.SenderID}, nil
	case w.Message != nil && w.SenderID != nil:
		return ChatMessage{Message: *w.Message, SenderID: *w.SenderID}, nil
	default:
		return nil, ErrUnknownEvent
	}
}

// inbound is what clients send on either socket.
type inbound struct {
	Message string `json:"message"`
	Typing  bool   `json:"typing"`
}
