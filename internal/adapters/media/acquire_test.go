package media

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire(t *testing.T) {
	busy := fmt.Errorf("open /dev/video0: %w", syscall.EBUSY)
	tests := []struct {
		name        string
		src         *SyntheticSource
		preferVideo bool
		wantErr     error
		wantAudio   bool
		wantVideo   bool
		videoError  bool
		audioError  bool
	}{
		{
			name:        "camera and microphone",
			src:         &SyntheticSource{Audio: true, Video: true},
			preferVideo: true,
			wantAudio:   true,
			wantVideo:   true,
		},
		{
			name:        "microphone without camera",
			src:         &SyntheticSource{Audio: true},
			preferVideo: true,
			wantAudio:   true,
			videoError:  true,
		},
		{
			name:        "busy camera falls back to audio",
			src:         &SyntheticSource{Audio: true, Video: true, VideoErr: busy},
			preferVideo: true,
			wantAudio:   true,
			videoError:  true,
		},
		{
			name:        "video not preferred",
			src:         &SyntheticSource{Audio: true, Video: true},
			preferVideo: false,
			wantAudio:   true,
			videoError:  true,
		},
		{
			name:        "camera without microphone",
			src:         &SyntheticSource{Video: true},
			preferVideo: true,
			wantVideo:   true,
			audioError:  true,
		},
		{
			name:    "no devices",
			src:     &SyntheticSource{},
			wantErr: domain.ErrNoDevice,
		},
		{
			name:    "busy microphone",
			src:     &SyntheticSource{Audio: true, AudioErr: fmt.Errorf("open mic: %w", syscall.EBUSY)},
			wantErr: domain.ErrDeviceBusy,
		},
		{
			name:    "microphone permission denied",
			src:     &SyntheticSource{Audio: true, AudioErr: syscall.EACCES},
			wantErr: domain.ErrPermissionDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAcquirer(tt.src)
			res, err := a.Acquire(context.Background(), tt.preferVideo)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, a.Current())
				return
			}
			require.NoError(t, err)
			require.NotNil(t, res.Stream)
			assert.Equal(t, tt.wantAudio, res.Stream.HasAudio())
			assert.Equal(t, tt.wantVideo, res.Stream.HasVideo())
			assert.Equal(t, tt.videoError, res.VideoError)
			assert.Equal(t, tt.audioError, res.AudioError)
			assert.Same(t, res.Stream, a.Current())
			require.NoError(t, a.Release())
		})
	}
}

func TestAcquireStopsPreviousStream(t *testing.T) {
	src := &SyntheticSource{Audio: true, Video: true}
	a := NewAcquirer(src)

	first, err := a.Acquire(context.Background(), true)
	require.NoError(t, err)
	second, err := a.Acquire(context.Background(), true)
	require.NoError(t, err)

	for _, tr := range first.Stream.Tracks() {
		assert.True(t, tr.Stopped(), "track %s of first stream", tr.ID())
	}
	for _, tr := range second.Stream.Tracks() {
		assert.False(t, tr.Stopped())
	}
	assert.NotEqual(t,
		first.Stream.Track(webrtc.RTPCodecTypeVideo).ID(),
		second.Stream.Track(webrtc.RTPCodecTypeVideo).ID())

	require.NoError(t, a.Release())
	assert.Nil(t, a.Current())
	for _, tr := range src.Opened() {
		assert.True(t, tr.Stopped())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{syscall.EBUSY, domain.ErrDeviceBusy},
		{syscall.EPERM, domain.ErrPermissionDenied},
		{fmt.Errorf("wrapped: %w", syscall.EACCES), domain.ErrPermissionDenied},
		{domain.ErrNoDevice, domain.ErrNoDevice},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, classify(tt.in), tt.want, tt.in.Error())
	}

	other := errors.New("driver exploded")
	got := classify(other)
	assert.ErrorIs(t, got, other)
	assert.False(t, domain.Retryable(got))
	assert.Nil(t, classify(nil))
}

func TestTrackStopIsIdempotent(t *testing.T) {
	calls := 0
	src := &SyntheticSource{Audio: true}
	tracks, err := src.Open(context.Background(), Constraints{Audio: true})
	require.NoError(t, err)
	tr := NewTrack(tracks[0], func() error { calls++; return nil })

	require.NoError(t, tr.Stop())
	require.NoError(t, tr.Stop())
	assert.Equal(t, 1, calls)
	assert.True(t, tr.Stopped())
	assert.False(t, tr.Enabled())
	_ = tracks[0].Stop()
}
