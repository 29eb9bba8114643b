// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxParticipantIDLen = 64
	MaxDisplayNameLen   = 36
)

var (
	ErrParticipantIDEmpty   = errors.New("participant id empty")
	ErrParticipantIDTooLong = errors.New("participant id too long")
	ErrDisplayNameTooLong   = errors.New("display name too long")
)

type ParticipantID string

// Role decides who offers: the expert always creates the offer, the user always answers.
type Role string

const (
	RoleUser   Role = "user"
	RoleExpert Role = "expert"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleExpert }

// Other returns the counterpart role of a session.
func (r Role) Other() Role {
	if r == RoleExpert {
		return RoleUser
	}
	return RoleExpert
}

// Offerer reports whether this role initiates negotiation.
func (r Role) Offerer() bool { return r == RoleExpert }

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

// Participant is the explicit identity context handed to a call controller.
type Participant struct {
	SessionID   SessionID     `json:"session_id"`
	ID          ParticipantID `json:"id"`
	Role        Role          `json:"role"`
	DisplayName string        `json:"display_name,omitempty"`
}

// NewParticipant validates the identity triple before a call can be started.
func NewParticipant(sessionID, id, role, displayName string) (*Participant, error) {
	sid, err := ParseSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if len(id) == 0 {
		return nil, ErrParticipantIDEmpty
	}
	if len(id) > MaxParticipantIDLen {
		return nil, ErrParticipantIDTooLong
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	r, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	return &Participant{SessionID: sid, ID: ParticipantID(id), Role: r, DisplayName: displayName}, nil
}

// NewParticipantID is a tiny helper for tools that need an ad-hoc identity.
func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}
