package rtc

import (
	"fmt"

	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// MediaSections parses raw SDP and returns the number of m= lines.
func MediaSections(raw string) (int, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return 0, err
	}
	return len(sd.MediaDescriptions), nil
}

// ValidateRemote rejects remote descriptions that cannot produce any media.
func ValidateRemote(desc webrtc.SessionDescription) error {
	if desc.SDP == "" {
		return fmt.Errorf("%w: empty %s sdp", domain.ErrNegotiation, desc.Type)
	}
	n, err := MediaSections(desc.SDP)
	if err != nil {
		return fmt.Errorf("%w: parse %s sdp: %w", domain.ErrNegotiation, desc.Type, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s sdp has no media sections", domain.ErrNegotiation, desc.Type)
	}
	return nil
}
