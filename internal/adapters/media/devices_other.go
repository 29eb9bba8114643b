//go:build !(linux && cgo)

package media

import (
	"context"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
)

// HardwareSource reports no devices where the capture drivers are not built in.
type HardwareSource struct{}

func NewHardwareSource(int) (*HardwareSource, error) { return &HardwareSource{}, nil }

func (s *HardwareSource) MediaEngine() (*webrtc.MediaEngine, error) { return nil, nil }

func (s *HardwareSource) Enumerate() Devices { return Devices{} }

func (s *HardwareSource) Open(context.Context, Constraints) ([]core.LocalTrack, error) {
	return nil, domain.ErrNoDevice
}
