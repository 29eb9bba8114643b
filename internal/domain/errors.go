package domain

import "errors"

// User-visible call failures. Adapters wrap these with %w so callers match with errors.Is.
var (
	ErrNoDevice            = errors.New("no camera or microphone found")
	ErrDeviceBusy          = errors.New("camera or microphone is in use by another application")
	ErrPermissionDenied    = errors.New("media permission denied")
	ErrNegotiation         = errors.New("negotiation failed")
	ErrSignalingConnection = errors.New("signaling connection failed")
	ErrVideoUnavailable    = errors.New("video unavailable, running audio-only")
	ErrSessionEnded        = errors.New("session already ended")
)

var (
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidSessionID = errors.New("invalid session id")
)

// Retryable reports whether the user can fix err without a hardware change.
func Retryable(err error) bool {
	return errors.Is(err, ErrDeviceBusy) || errors.Is(err, ErrPermissionDenied)
}
