package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed   = errors.New("peer connection closed")
	ErrNoSender = errors.New("no sender for track kind")
)

type Config struct {
	ICEServers []webrtc.ICEServer
	// CandidateQueue bounds remote candidates held before the remote description is set.
	CandidateQueue int
	// DisconnectedTimeout and FailedTimeout override Pion's ICE timeouts when non-zero.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
}

// DefaultConfig uses a single public STUN server and no TURN relay.
func DefaultConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
		CandidateQueue: 100,
	}
}

// NewAPI builds a Pion API. A nil MediaEngine gets the default codecs, which is what
// synthetic and receive-only peers need; hardware capture passes its own codec selection.
func NewAPI(me *webrtc.MediaEngine, cfg Config) (*webrtc.API, error) {
	if me == nil {
		me = &webrtc.MediaEngine{}
		if err := me.RegisterDefaultCodecs(); err != nil {
			return nil, err
		}
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, registry); err != nil {
		return nil, err
	}
	opts := []func(*webrtc.API){
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(registry),
	}
	if cfg.DisconnectedTimeout > 0 || cfg.FailedTimeout > 0 {
		se := webrtc.SettingEngine{}
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, 2*time.Second)
		opts = append(opts, webrtc.WithSettingEngine(se))
	}
	return webrtc.NewAPI(opts...), nil
}

// Connection owns one PeerConnection for one call attempt.
type Connection struct {
	pc     *webrtc.PeerConnection
	sid    domain.SessionID
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	senders   map[webrtc.RTPCodecType]*webrtc.RTPSender
	attached  map[string]core.LocalTrack
	remoteSet bool
	closed    bool
	remotes   []*remoteTrack

	pending   *CandidateQueue
	connected atomic.Bool
	keyframes atomic.Uint64

	cbMu     sync.RWMutex
	onRemote func(core.RemoteTrack)
	onICE    func(webrtc.ICECandidateInit)
	onState  func(webrtc.ICEConnectionState)
}

func NewConnection(api *webrtc.API, cfg Config, sid domain.SessionID) (*Connection, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, err
	}
	size := cfg.CandidateQueue
	if size <= 0 {
		size = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		pc:       pc,
		sid:      sid,
		ctx:      ctx,
		cancel:   cancel,
		senders:  make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
		attached: make(map[string]core.LocalTrack),
		pending:  NewCandidateQueue(size),
	}
	c.bind()
	return c, nil
}

// Factory adapts NewConnection to core.PeerFactory.
func Factory(api *webrtc.API, cfg Config, sid domain.SessionID) core.PeerFactory {
	return func() (core.PeerConnection, error) {
		return NewConnection(api, cfg, sid)
	}
}

func (c *Connection) bind() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateConnected {
			c.connected.Store(true)
		}
		c.cbMu.RLock()
		fn := c.onState
		c.cbMu.RUnlock()
		if fn != nil {
			fn(s)
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("peer_connection_state", s.String()).Msg("Peer state")
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.cbMu.RLock()
		fn := c.onICE
		c.cbMu.RUnlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", string(c.sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.connected.Store(true)

		rt := newRemoteTrack(track, receiver)
		c.mu.Lock()
		c.remotes = append(c.remotes, rt)
		c.mu.Unlock()
		go rt.drain(c.ctx)

		c.cbMu.RLock()
		fn := c.onRemote
		c.cbMu.RUnlock()
		if fn != nil {
			fn(rt)
		}
	})
}

func (c *Connection) OnRemoteTrack(fn func(core.RemoteTrack)) {
	c.cbMu.Lock()
	c.onRemote = fn
	c.cbMu.Unlock()
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.cbMu.Lock()
	c.onICE = fn
	c.cbMu.Unlock()
}

func (c *Connection) OnConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	c.cbMu.Lock()
	c.onState = fn
	c.cbMu.Unlock()
}

// Connected reports whether a remote track arrived or ICE reached connected.
func (c *Connection) Connected() bool { return c.connected.Load() }

// AddLocalTracks attaches each track at most once. A track whose kind already has a
// sender replaces the sender's track instead of adding a second sender.
func (c *Connection) AddLocalTracks(stream *core.MediaStream) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}

	added := 0
	for _, t := range stream.Tracks() {
		if _, ok := c.attached[t.ID()]; ok {
			log.Debug().Str("module", "webrtc").Str("track_id", t.ID()).Msg("track already attached, skipping")
			continue
		}
		if sender, ok := c.senders[t.Kind()]; ok {
			if err := sender.ReplaceTrack(t); err != nil {
				return added, fmt.Errorf("replace %s track: %w", t.Kind(), err)
			}
		} else {
			sender, err := c.pc.AddTrack(t)
			if err != nil {
				return added, fmt.Errorf("add %s track: %w", t.Kind(), err)
			}
			c.senders[t.Kind()] = sender
			go c.readRTCP(sender)
		}
		for id, old := range c.attached {
			if old.Kind() == t.Kind() {
				delete(c.attached, id)
			}
		}
		c.attached[t.ID()] = t
		added++
	}
	return added, nil
}

// DetachLocalTracks stops sending local media but keeps the senders for a later attach.
func (c *Connection) DetachLocalTracks() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	var errs []error
	for kind, sender := range c.senders {
		if err := sender.ReplaceTrack(nil); err != nil {
			errs = append(errs, fmt.Errorf("detach %s: %w", kind, err))
		}
	}
	clear(c.attached)
	return errors.Join(errs...)
}

func (c *Connection) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sender, ok := c.senders[kind]
	if !ok {
		return ErrNoSender
	}
	if !enabled {
		return sender.ReplaceTrack(nil)
	}
	for _, t := range c.attached {
		if t.Kind() == kind {
			return sender.ReplaceTrack(t)
		}
	}
	return ErrNoSender
}

// SenderCounts reports how many senders carry a track, per kind.
func (c *Connection) SenderCounts() map[webrtc.RTPCodecType]int {
	out := make(map[webrtc.RTPCodecType]int)
	for _, s := range c.pc.GetSenders() {
		if t := s.Track(); t != nil {
			out[t.Kind()]++
		}
	}
	return out
}

// ensureReceivers adds recvonly transceivers for kinds we do not send, so the offer
// always carries an audio and a video media section.
func (c *Connection) ensureReceivers() {
	have := make(map[webrtc.RTPCodecType]bool)
	for _, tr := range c.pc.GetTransceivers() {
		have[tr.Kind()] = true
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("kind", kind.String()).Msg("add recvonly transceiver")
		}
	}
}

func (c *Connection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %w", domain.ErrNegotiation, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	c.ensureReceivers()

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create offer: %w", domain.ErrNegotiation, err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set local offer: %w", domain.ErrNegotiation, err)
	}
	return offer, nil
}

func (c *Connection) CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %w", domain.ErrNegotiation, err)
	}
	if err := ValidateRemote(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}

	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set remote offer: %w", domain.ErrNegotiation, err)
	}
	c.remoteSet = true
	c.flushCandidates()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create answer: %w", domain.ErrNegotiation, err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set local answer: %w", domain.ErrNegotiation, err)
	}
	return answer, nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := ValidateRemote(answer); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("%w: set remote answer: %w", domain.ErrNegotiation, err)
	}
	c.remoteSet = true
	c.flushCandidates()
	return nil
}

func (c *Connection) AddRemoteCandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.remoteSet {
		if err := c.pending.Add(ci); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrNegotiation, err)
		}
		return nil
	}
	if err := c.pc.AddICECandidate(ci); err != nil {
		return fmt.Errorf("%w: add ice candidate: %w", domain.ErrNegotiation, err)
	}
	return nil
}

// PendingCandidates is the number of remote candidates waiting for a remote description.
func (c *Connection) PendingCandidates() int { return c.pending.Size() }

// flushCandidates must be called with c.mu held, right after the remote description is set.
func (c *Connection) flushCandidates() {
	for _, ci := range c.pending.Flush() {
		if err := c.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Str("sid", string(c.sid)).Msg("queued candidate rejected")
		}
	}
}

// Stats returns receive counters of every remote track seen so far.
func (c *Connection) Stats() []TrackStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TrackStats, 0, len(c.remotes))
	for _, rt := range c.remotes {
		out = append(out, rt.stats())
	}
	return out
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("sid", string(c.sid)).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("closed")
	return nil
}

// readRTCP keeps interceptors (NACK, reports) running for a sender and counts
// keyframe requests from the remote decoder.
func (c *Connection) readRTCP(sender *webrtc.RTPSender) {
	for {
		if c.ctx.Err() != nil {
			return
		}
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range pkts {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.keyframes.Add(1)
			}
		}
	}
}

// KeyframeRequests counts PLI and FIR packets received for local video.
func (c *Connection) KeyframeRequests() uint64 { return c.keyframes.Load() }
