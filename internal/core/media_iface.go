package core

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// LocalTrack is a captured track that can be attached to a peer connection.
type LocalTrack interface {
	webrtc.TrackLocal
	Enabled() bool
	SetEnabled(bool)
	// Stop releases the capture device. Idempotent.
	Stop() error
	Stopped() bool
}

// RemoteTrack is a track received from the peer.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Stop() error
}

// MediaStream groups at most one audio and one video local track.
type MediaStream struct {
	mu     sync.RWMutex
	tracks []LocalTrack
}

func NewMediaStream(tracks ...LocalTrack) *MediaStream {
	return &MediaStream{tracks: tracks}
}

func (s *MediaStream) Tracks() []LocalTrack {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LocalTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// Track returns the first track of the given kind, or nil.
func (s *MediaStream) Track(kind webrtc.RTPCodecType) LocalTrack {
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func (s *MediaStream) HasVideo() bool { return s.Track(webrtc.RTPCodecTypeVideo) != nil }
func (s *MediaStream) HasAudio() bool { return s.Track(webrtc.RTPCodecTypeAudio) != nil }

// Stop stops every track in the stream.
func (s *MediaStream) Stop() error {
	var errs []error
	for _, t := range s.Tracks() {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MediaResult is what media acquisition hands to the controller.
type MediaResult struct {
	Stream *MediaStream
	// VideoError is set when the camera could not be used and the stream is audio-only.
	VideoError bool
	// AudioError is set when there is no microphone and the stream is video-only.
	AudioError bool
}

type MediaAcquirer interface {
	Acquire(ctx context.Context, preferVideo bool) (MediaResult, error)
	// Release stops the current stream, if any.
	Release() error
}

// PeerConnection is the single WebRTC connection of a call attempt.
type PeerConnection interface {
	// AddLocalTracks attaches the stream's tracks, skipping ids already attached.
	AddLocalTracks(stream *MediaStream) (int, error)
	// DetachLocalTracks stops sending on every sender without renegotiating.
	DetachLocalTracks() error
	SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error

	OnRemoteTrack(func(RemoteTrack))
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.ICEConnectionState))

	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	// AddRemoteCandidate queues candidates until a remote description is set.
	AddRemoteCandidate(webrtc.ICECandidateInit) error

	Close() error
}

type PeerFactory func() (PeerConnection, error)
