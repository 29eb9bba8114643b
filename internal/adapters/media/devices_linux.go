//go:build linux && cgo

package media

import (
	"context"

	"github.com/dkeye/consult/internal/core"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// HardwareSource captures from V4L2 cameras and the default microphone.
type HardwareSource struct {
	selector *mediadevices.CodecSelector
}

func NewHardwareSource(videoBitRate int) (*HardwareSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	if videoBitRate > 0 {
		vpxParams.BitRate = videoBitRate
	}
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	return &HardwareSource{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (s *HardwareSource) MediaEngine() (*webrtc.MediaEngine, error) {
	me := &webrtc.MediaEngine{}
	s.selector.Populate(me)
	return me, nil
}

func (s *HardwareSource) Enumerate() Devices {
	var d Devices
	for _, info := range mediadevices.EnumerateDevices() {
		log.Debug().Str("module", "media").Str("label", info.Label).Int("kind", int(info.Kind)).Msg("device")
		switch info.Kind {
		case mediadevices.VideoInput:
			d.HasVideo = true
		case mediadevices.AudioInput:
			d.HasAudio = true
		}
	}
	return d
}

func (s *HardwareSource) Open(ctx context.Context, c Constraints) ([]core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	constraints := mediadevices.MediaStreamConstraints{Codec: s.selector}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// raw formats only, MJPEG nodes emit frames the VP8 encoder cannot take
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: 640}
			mc.Height = prop.IntRanged{Max: 480}
		}
	}
	if c.Audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, err
	}

	var tracks []core.LocalTrack
	for _, mt := range stream.GetTracks() {
		mt.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "media").Str("track_id", mt.ID()).Msg("local track ended")
			}
		})
		tracks = append(tracks, NewTrack(mt, mt.Close))
	}
	return tracks, nil
}
