package rtc

import (
	"context"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type TrackStats struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Packets      uint64 `json:"packets"`
	Bytes        uint64 `json:"bytes"`
	LastSequence uint16 `json:"last_sequence"`
}

// remoteTrack implements core.RemoteTrack over a Pion receiver.
type remoteTrack struct {
	id       string
	kind     webrtc.RTPCodecType
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver

	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
	stopped atomic.Bool
}

func newRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) *remoteTrack {
	return &remoteTrack{
		id:       track.ID(),
		kind:     track.Kind(),
		track:    track,
		receiver: receiver,
	}
}

func (t *remoteTrack) ID() string                { return t.id }
func (t *remoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

// Stop ends reception of this track. Idempotent.
func (t *remoteTrack) Stop() error {
	if !t.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if t.receiver == nil {
		return nil
	}
	return t.receiver.Stop()
}

// drain reads RTP until the track ends so receive buffers never fill up.
func (t *remoteTrack) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil || t.stopped.Load() {
			return
		}
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			return
		}
		t.observe(pkt)
	}
}

func (t *remoteTrack) observe(pkt *rtp.Packet) {
	t.packets.Add(1)
	t.bytes.Add(uint64(len(pkt.Payload)))
	t.lastSeq.Store(uint32(pkt.SequenceNumber))
}

func (t *remoteTrack) stats() TrackStats {
	return TrackStats{
		ID:           t.id,
		Kind:         t.kind.String(),
		Packets:      t.packets.Load(),
		Bytes:        t.bytes.Load(),
		LastSequence: uint16(t.lastSeq.Load()),
	}
}
