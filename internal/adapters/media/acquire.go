package media

import (
	"context"
	"sync"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/rs/zerolog/log"
)

// Acquirer implements core.MediaAcquirer over a Source and owns the current stream.
type Acquirer struct {
	src Source

	mu      sync.Mutex
	current *core.MediaStream
}

func NewAcquirer(src Source) *Acquirer {
	return &Acquirer{src: src}
}

func (a *Acquirer) Probe() Devices {
	d := a.src.Enumerate()
	log.Debug().Str("module", "media").Bool("audio", d.HasAudio).Bool("video", d.HasVideo).Msg("probe")
	return d
}

// Acquire opens a new stream, stopping the previous one first.
//
// A missing or failing camera never fails the call: the result falls back to audio-only
// with VideoError set. Only the audio-only request failing is an error.
func (a *Acquirer) Acquire(ctx context.Context, preferVideo bool) (core.MediaResult, error) {
	devs := a.Probe()
	if !devs.HasAudio && !devs.HasVideo {
		return core.MediaResult{}, domain.ErrNoDevice
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopCurrentLocked()

	if devs.HasAudio && devs.HasVideo && preferVideo {
		tracks, err := a.src.Open(ctx, Constraints{Audio: true, Video: true})
		if err == nil {
			return a.setLocked(tracks, false, false), nil
		}
		log.Warn().Err(err).Str("module", "media").Msg("video+audio failed, falling back to audio-only")
	}

	if devs.HasAudio {
		tracks, err := a.src.Open(ctx, Constraints{Audio: true})
		if err != nil {
			err = classify(err)
			log.Error().Err(err).Str("module", "media").Msg("audio-only failed")
			return core.MediaResult{}, err
		}
		return a.setLocked(tracks, true, false), nil
	}

	tracks, err := a.src.Open(ctx, Constraints{Video: true})
	if err != nil {
		err = classify(err)
		log.Error().Err(err).Str("module", "media").Msg("video-only failed")
		return core.MediaResult{}, err
	}
	return a.setLocked(tracks, false, true), nil
}

func (a *Acquirer) setLocked(tracks []core.LocalTrack, videoErr, audioErr bool) core.MediaResult {
	a.current = core.NewMediaStream(tracks...)
	log.Info().
		Str("module", "media").
		Int("tracks", len(tracks)).
		Bool("video_error", videoErr).
		Bool("audio_error", audioErr).
		Msg("stream acquired")
	return core.MediaResult{Stream: a.current, VideoError: videoErr, AudioError: audioErr}
}

func (a *Acquirer) stopCurrentLocked() {
	if a.current == nil {
		return
	}
	if err := a.current.Stop(); err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("stop previous stream")
	}
	a.current = nil
}

func (a *Acquirer) Current() *core.MediaStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Release stops the current stream, if any.
func (a *Acquirer) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil
	}
	err := a.current.Stop()
	a.current = nil
	return err
}
