// Package media acquires local capture tracks and degrades to audio-only when the camera
// cannot be used.
package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Devices is the result of probing for capture hardware.
type Devices struct {
	HasAudio bool
	HasVideo bool
}

// Constraints selects which kinds Open should capture.
type Constraints struct {
	Audio bool
	Video bool
}

func (c Constraints) String() string {
	switch {
	case c.Audio && c.Video:
		return "video+audio"
	case c.Video:
		return "video-only"
	case c.Audio:
		return "audio-only"
	}
	return "none"
}

// Source opens capture devices. Open captures every requested kind or fails as a unit.
type Source interface {
	Enumerate() Devices
	Open(ctx context.Context, c Constraints) ([]core.LocalTrack, error)
	// MediaEngine returns the codecs the opened tracks encode with, or nil for Pion defaults.
	MediaEngine() (*webrtc.MediaEngine, error)
}

// classify maps OS and driver errors onto the domain taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrDeviceBusy),
		errors.Is(err, domain.ErrPermissionDenied),
		errors.Is(err, domain.ErrNoDevice):
		return err
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%w: %w", domain.ErrDeviceBusy, err)
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM), errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", domain.ErrNoDevice, err)
	}
	return fmt.Errorf("media device: %w", err)
}
