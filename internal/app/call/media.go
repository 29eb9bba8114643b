package call

import (
	"context"
	"fmt"

	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
)

func (c *Controller) acquireMedia(ctx context.Context) error {
	res, err := c.deps.Media.Acquire(ctx, c.cfg.PreferVideo)
	if err != nil {
		c.stream = nil
		c.videoOn = false
		return err
	}
	c.stream = res.Stream
	c.videoErr = res.VideoError
	c.audioErr = res.AudioError
	c.videoOn = c.stream.HasVideo()
	if c.videoErr {
		c.warn(domain.ErrVideoUnavailable)
	}
	c.deps.Sink.AttachLocal(c.stream)
	return nil
}

// applyTrackFlags pushes the mute and video flags onto freshly attached tracks.
func (c *Controller) applyTrackFlags() {
	if t := c.stream.Track(webrtc.RTPCodecTypeAudio); t != nil && c.muted {
		t.SetEnabled(false)
		c.setSending(webrtc.RTPCodecTypeAudio, false)
	}
	if t := c.stream.Track(webrtc.RTPCodecTypeVideo); t != nil && !c.videoOn {
		t.SetEnabled(false)
		c.setSending(webrtc.RTPCodecTypeVideo, false)
	}
}

func (c *Controller) setSending(kind webrtc.RTPCodecType, on bool) {
	if c.pc == nil {
		return
	}
	if err := c.pc.SetTrackEnabled(kind, on); err != nil {
		c.logger.Warn().Err(err).Str("kind", kind.String()).Bool("enabled", on).Msg("set track enabled")
	}
}

func (c *Controller) toggleMute() error {
	if c.state == StateEnded {
		return domain.ErrSessionEnded
	}
	t := c.stream.Track(webrtc.RTPCodecTypeAudio)
	if t == nil {
		err := fmt.Errorf("toggle mute: %w", domain.ErrNoDevice)
		c.warn(err)
		return err
	}
	c.muted = !c.muted
	t.SetEnabled(!c.muted)
	c.setSending(webrtc.RTPCodecTypeAudio, !c.muted)
	c.logger.Info().Bool("muted", c.muted).Msg("mute toggled")
	return nil
}

func (c *Controller) toggleVideo() error {
	if c.state == StateEnded {
		return domain.ErrSessionEnded
	}
	t := c.stream.Track(webrtc.RTPCodecTypeVideo)
	if c.videoErr || t == nil {
		c.warn(domain.ErrVideoUnavailable)
		return domain.ErrVideoUnavailable
	}
	c.videoOn = !c.videoOn
	t.SetEnabled(c.videoOn)
	c.setSending(webrtc.RTPCodecTypeVideo, c.videoOn)
	c.logger.Info().Bool("video_on", c.videoOn).Msg("video toggled")
	return nil
}

// retryMedia drops the local stream and the senders' tracks, acquires again and
// reattaches to the existing peer connection.
func (c *Controller) retryMedia(ctx context.Context) error {
	if c.state == StateEnded {
		return domain.ErrSessionEnded
	}
	if c.stream != nil {
		if err := c.stream.Stop(); err != nil {
			c.logger.Warn().Err(err).Msg("stop local stream")
		}
	}
	if c.pc != nil {
		if err := c.pc.DetachLocalTracks(); err != nil {
			c.logger.Warn().Err(err).Msg("detach senders")
		}
	}
	c.deps.Sink.AttachLocal(nil)
	c.videoErr, c.audioErr = false, false

	if err := c.acquireMedia(ctx); err != nil {
		c.warn(err)
		return err
	}
	if c.pc != nil {
		if _, err := c.pc.AddLocalTracks(c.stream); err != nil {
			err = fmt.Errorf("attach local tracks: %w", err)
			c.warn(err)
			return err
		}
		c.applyTrackFlags()
	}
	c.info("media restored")
	return nil
}
