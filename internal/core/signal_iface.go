package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrBackpressure means the outbound queue of a connection is full.
var ErrBackpressure = errors.New("backpressure")

type MessageType string

// Client -> server.
const (
	MsgJoinSession  MessageType = "join-session"
	MsgReady        MessageType = "ready"
	MsgOffer        MessageType = "offer"
	MsgAnswer       MessageType = "answer"
	MsgICECandidate MessageType = "ice-candidate"
	MsgEndSession   MessageType = "end-session"
	MsgPing         MessageType = "ping"
)

// Server -> client. Offer, answer and ice-candidate are relayed under their own names.
const (
	MsgUserJoined   MessageType = "user-joined"
	MsgPeerReady    MessageType = "peer-ready"
	MsgSessionEnded MessageType = "session-ended"
	MsgError        MessageType = "error"
	MsgPong         MessageType = "pong"
)

// Message is the envelope of every signaling frame.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewMessage(t MessageType, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: t}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Message{Type: t, Payload: data}, nil
}

func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: bad payload: %w", m.Type, err)
	}
	return nil
}

type JoinSessionPayload struct {
	SessionID     string `json:"sessionId" validate:"required,uuid"`
	ParticipantID string `json:"participantId" validate:"required,max=64"`
	Role          string `json:"role" validate:"required,oneof=user expert"`
}

type ReadyPayload struct {
	SessionID string `json:"sessionId" validate:"required,uuid"`
	FromID    string `json:"fromId" validate:"required"`
}

// SDPPayload carries an offer or an answer.
type SDPPayload struct {
	SessionID string `json:"sessionId,omitempty" validate:"omitempty,uuid"`
	SDP       string `json:"sdp" validate:"required"`
	FromID    string `json:"fromId,omitempty"`
}

type ICECandidatePayload struct {
	SessionID string                  `json:"sessionId,omitempty" validate:"omitempty,uuid"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	FromID    string                  `json:"fromId,omitempty"`
}

type EndSessionPayload struct {
	SessionID string `json:"sessionId" validate:"required,uuid"`
}

// UserJoinedPayload names the role of the participant that joined.
type UserJoinedPayload struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

type PeerReadyPayload struct {
	Role string `json:"role"`
}

type SessionEndedPayload struct {
	Reason string `json:"reason,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// SignalTransport is the participant's persistent channel to the signaling server.
// Messages is closed once the underlying connection is gone.
type SignalTransport interface {
	Connect(ctx context.Context) error
	Send(Message) error
	Messages() <-chan Message
	Close() error
}
