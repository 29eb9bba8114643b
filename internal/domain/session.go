package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionID is issued by the booking backend; it is opaque here but must be a UUID.
type SessionID string

func ParseSessionID(s string) (SessionID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", ErrInvalidSessionID
	}
	return SessionID(s), nil
}

// Appointment is a booked consultation as seen by the session list.
type Appointment struct {
	SessionID   SessionID     `json:"session_id"`
	Title       string        `json:"title"`
	ExpertID    ParticipantID `json:"expert_id"`
	UserID      ParticipantID `json:"user_id"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	MeetingLink string        `json:"meeting_link,omitempty"`
}

type CallStatus string

const (
	CallStatusWaiting   CallStatus = "waiting"
	CallStatusActive    CallStatus = "active"
	CallStatusCompleted CallStatus = "completed"
)

// CallRecord is the server-side lifecycle trace of one session.
type CallRecord struct {
	SessionID       SessionID     `json:"session_id"`
	UserID          ParticipantID `json:"user_id,omitempty"`
	ExpertID        ParticipantID `json:"expert_id,omitempty"`
	UserJoinedAt    *time.Time    `json:"user_joined_at,omitempty"`
	ExpertJoinedAt  *time.Time    `json:"expert_joined_at,omitempty"`
	UserLeftAt      *time.Time    `json:"user_left_at,omitempty"`
	ExpertLeftAt    *time.Time    `json:"expert_left_at,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	DurationSeconds int           `json:"duration_seconds"`
	Status          CallStatus    `json:"status"`
	EndReason       string        `json:"end_reason,omitempty"`
}
