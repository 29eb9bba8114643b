package media

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/consult/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// opus TOC byte for a 20ms silent frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticSource produces static-sample tracks that write placeholder frames.
// AudioErr and VideoErr make Open fail whenever that kind is requested.
type SyntheticSource struct {
	Audio    bool
	Video    bool
	AudioErr error
	VideoErr error

	mu     sync.Mutex
	opened []*Track
}

func (s *SyntheticSource) Enumerate() Devices {
	return Devices{HasAudio: s.Audio, HasVideo: s.Video}
}

func (s *SyntheticSource) MediaEngine() (*webrtc.MediaEngine, error) { return nil, nil }

func (s *SyntheticSource) Open(ctx context.Context, c Constraints) ([]core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Video && s.VideoErr != nil {
		return nil, s.VideoErr
	}
	if c.Audio && s.AudioErr != nil {
		return nil, s.AudioErr
	}

	var tracks []core.LocalTrack
	if c.Audio {
		t, err := s.newTrack(webrtc.MimeTypeOpus, "audio", opusSilence, 20*time.Millisecond)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Video {
		t, err := s.newTrack(webrtc.MimeTypeVP8, "video", make([]byte, 64), 33*time.Millisecond)
		if err != nil {
			stopAll(tracks)
			return nil, err
		}
		tracks = append(tracks, t)
	}
	log.Debug().Str("module", "media").Str("constraints", c.String()).Msg("synthetic tracks opened")
	return tracks, nil
}

// Opened returns every track handed out so far, stopped or not.
func (s *SyntheticSource) Opened() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Track, len(s.opened))
	copy(out, s.opened)
	return out
}

func (s *SyntheticSource) newTrack(mime, kind string, frame []byte, every time.Duration) (*Track, error) {
	tl, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime},
		kind+"-"+uuid.NewString(),
		"synthetic",
	)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := NewTrack(tl, func() error {
		cancel()
		return nil
	})
	go pump(ctx, t, tl, frame, every)

	s.mu.Lock()
	s.opened = append(s.opened, t)
	s.mu.Unlock()
	return t, nil
}

func pump(ctx context.Context, t *Track, tl *webrtc.TrackLocalStaticSample, frame []byte, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.Enabled() {
				continue
			}
			if err := tl.WriteSample(pmedia.Sample{Data: frame, Duration: every}); err != nil {
				log.Debug().Err(err).Str("module", "media").Str("track_id", tl.ID()).Msg("write sample")
			}
		}
	}
}

func stopAll(tracks []core.LocalTrack) {
	for _, t := range tracks {
		_ = t.Stop()
	}
}
