package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// Track adds the enabled flag and an idempotent Stop to a Pion local track.
type Track struct {
	webrtc.TrackLocal

	release  func() error
	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

func NewTrack(tl webrtc.TrackLocal, release func() error) *Track {
	t := &Track{TrackLocal: tl, release: release}
	t.enabled.Store(true)
	return t
}

func (t *Track) Enabled() bool      { return t.enabled.Load() }
func (t *Track) SetEnabled(on bool) { t.enabled.Store(on) }
func (t *Track) Stopped() bool      { return t.stopped.Load() }

// Stop releases the underlying device once; later calls return the first result.
func (t *Track) Stop() error {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		t.enabled.Store(false)
		if t.release != nil {
			t.stopErr = t.release()
		}
	})
	return t.stopErr
}
