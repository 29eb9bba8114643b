package call

import "time"

type State int

const (
	StateIdle State = iota
	StateJoining
	StateNegotiating
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// ticking reports whether the call clock runs in this state.
func (s State) ticking() bool {
	return s == StateJoining || s == StateNegotiating || s == StateConnected
}

// Status is a point-in-time view of the controller for the UI.
type Status struct {
	State        State         `json:"state"`
	Muted        bool          `json:"muted"`
	VideoOn      bool          `json:"video_on"`
	VideoError   bool          `json:"video_error"`
	AudioError   bool          `json:"audio_error"`
	Duration     time.Duration `json:"duration"`
	ICEState     string        `json:"ice_state"`
	RemoteTracks int           `json:"remote_tracks"`
	OfferSent    bool          `json:"offer_sent"`
}
