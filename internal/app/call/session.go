package call

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
)

func (c *Controller) start(ctx context.Context) error {
	if err := c.deps.Transport.Connect(ctx); err != nil {
		c.warn(err)
		return err
	}
	c.setState(StateJoining)
	go c.forward(c.deps.Transport.Messages())

	c.send(core.MsgJoinSession, core.JoinSessionPayload{
		SessionID:     string(c.part.SessionID),
		ParticipantID: string(c.part.ID),
		Role:          string(c.part.Role),
	})

	if err := c.acquireMedia(ctx); err != nil {
		c.warn(err)
	}
	if err := c.createPeer(); err != nil {
		c.warn(err)
		return err
	}
	c.sendReady()
	return nil
}

// forward feeds inbound signaling into the loop until the transport closes.
func (c *Controller) forward(in <-chan core.Message) {
	for m := range in {
		if !c.post(func() { c.onSignal(m) }) {
			return
		}
	}
	c.post(func() {
		if c.state != StateEnded {
			c.warn(fmt.Errorf("%w: connection lost", domain.ErrSignalingConnection))
		}
	})
}

func (c *Controller) send(t core.MessageType, payload any) {
	m, err := core.NewMessage(t, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("type", string(t)).Msg("build message")
		return
	}
	if err := c.deps.Transport.Send(m); err != nil {
		c.warn(fmt.Errorf("send %s: %w", t, err))
	}
}

func (c *Controller) sendReady() {
	c.send(core.MsgReady, core.ReadyPayload{
		SessionID: string(c.part.SessionID),
		FromID:    string(c.part.ID),
	})
}

// createPeer replaces any current peer connection with a fresh one carrying the local tracks.
func (c *Controller) createPeer() error {
	c.closePeer()

	pc, err := c.deps.NewPeer()
	if err != nil {
		return fmt.Errorf("%w: create peer connection: %w", domain.ErrNegotiation, err)
	}
	c.pcGen++
	gen := c.pcGen
	c.pc = pc
	c.offerSent = false
	c.answered = false
	c.legacyDue = false
	c.iceState = webrtc.ICEConnectionStateNew

	pc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		c.post(func() {
			if gen != c.pcGen || c.state == StateEnded {
				return
			}
			c.send(core.MsgICECandidate, core.ICECandidatePayload{
				SessionID: string(c.part.SessionID),
				Candidate: ci,
				FromID:    string(c.part.ID),
			})
		})
	})
	pc.OnRemoteTrack(func(rt core.RemoteTrack) {
		c.post(func() { c.onRemoteTrack(gen, rt) })
	})
	pc.OnConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.post(func() { c.onICEState(gen, s) })
	})

	if c.stream != nil {
		if _, err := pc.AddLocalTracks(c.stream); err != nil {
			c.warn(fmt.Errorf("attach local tracks: %w", err))
		}
		c.applyTrackFlags()
	}
	return nil
}

// closePeer stops remote tracks and closes the current peer connection.
func (c *Controller) closePeer() {
	for _, rt := range c.remotes {
		if err := rt.Stop(); err != nil {
			c.logger.Debug().Err(err).Str("track_id", rt.ID()).Msg("stop remote track")
		}
	}
	c.remotes = nil
	if c.pc == nil {
		return
	}
	if err := c.pc.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("close peer connection")
	}
	c.pc = nil
}

func (c *Controller) onRemoteTrack(gen int, rt core.RemoteTrack) {
	if gen != c.pcGen || c.state == StateEnded {
		_ = rt.Stop()
		return
	}
	c.logger.Info().Str("track_id", rt.ID()).Str("kind", rt.Kind().String()).Msg("remote track")
	c.remotes = append(c.remotes, rt)
	c.deps.Sink.AttachRemote(rt)
	c.markConnected()
}

func (c *Controller) onICEState(gen int, s webrtc.ICEConnectionState) {
	if gen != c.pcGen || c.state == StateEnded {
		return
	}
	c.iceState = s
	switch s {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		c.markConnected()
	case webrtc.ICEConnectionStateDisconnected:
		c.info("connection unstable, waiting for it to recover")
	case webrtc.ICEConnectionStateFailed:
		c.warn(fmt.Errorf("%w: ice failed", domain.ErrNegotiation))
	}
}

func (c *Controller) markConnected() {
	if c.state == StateNegotiating {
		c.setState(StateConnected)
	}
}

func (c *Controller) onSignal(m core.Message) {
	if c.state == StateEnded {
		return
	}
	switch m.Type {
	case core.MsgUserJoined:
		c.onPeerJoined(m)
	case core.MsgPeerReady:
		c.onPeerReady()
	case core.MsgOffer:
		c.onOffer(m)
	case core.MsgAnswer:
		c.onAnswer(m)
	case core.MsgICECandidate:
		c.onCandidate(m)
	case core.MsgSessionEnded:
		c.onSessionEnded(m)
	case core.MsgError:
		var p core.ErrorPayload
		_ = m.Decode(&p)
		c.warn(fmt.Errorf("signaling server: %s", p.Error))
	case core.MsgPong:
	default:
		c.logger.Warn().Str("type", string(m.Type)).Msg("unknown signal")
	}
}

func (c *Controller) onPeerJoined(m core.Message) {
	var p core.UserJoinedPayload
	if err := m.Decode(&p); err != nil {
		c.logger.Warn().Err(err).Msg("bad user-joined")
		return
	}
	role := domain.Role(p.Role)
	if role == c.part.Role {
		return
	}
	c.info(fmt.Sprintf("%s joined", p.Role))
	if !c.part.Role.Offerer() {
		c.peerJoined = true
		return
	}

	if c.peerJoined || c.offerSent {
		// the peer came back on a new connection: start over on a fresh peer connection
		c.logger.Info().Msg("peer rejoined, recreating peer connection")
		if err := c.createPeer(); err != nil {
			c.warn(err)
			return
		}
		c.peerReady = false
		c.sendReady()
	}
	c.peerJoined = true
	c.setState(StateNegotiating)
	c.armLegacyOffer()
	c.maybeOffer()
}

func (c *Controller) onPeerReady() {
	if !c.part.Role.Offerer() {
		return
	}
	c.peerReady = true
	if !c.peerJoined {
		c.peerJoined = true
		c.setState(StateNegotiating)
	}
	c.maybeOffer()
}

func (c *Controller) armLegacyOffer() {
	if c.cfg.LegacyOfferDelay <= 0 {
		return
	}
	gen := c.pcGen
	time.AfterFunc(c.cfg.LegacyOfferDelay, func() {
		c.post(func() {
			if gen != c.pcGen || c.state == StateEnded {
				return
			}
			c.legacyDue = true
			c.maybeOffer()
		})
	})
}

// maybeOffer sends the single offer of the current peer connection once the peer
// is present and ready, or the legacy delay has passed.
func (c *Controller) maybeOffer() {
	if !c.part.Role.Offerer() || c.pc == nil || c.offerSent || !c.peerJoined {
		return
	}
	if !c.peerReady && !c.legacyDue {
		return
	}
	c.offerSent = true

	ctx, cancel := c.stepContext()
	defer cancel()
	offer, err := c.pc.CreateOffer(ctx)
	if err != nil {
		c.warn(err)
		return
	}
	c.send(core.MsgOffer, core.SDPPayload{
		SessionID: string(c.part.SessionID),
		SDP:       offer.SDP,
		FromID:    string(c.part.ID),
	})
}

func (c *Controller) onOffer(m core.Message) {
	if c.part.Role.Offerer() {
		c.logger.Warn().Msg("expert ignores offers")
		return
	}
	var p core.SDPPayload
	if err := m.Decode(&p); err != nil {
		c.warn(fmt.Errorf("%w: %w", domain.ErrNegotiation, err))
		return
	}
	if c.answered || c.pc == nil {
		// a new offer after an answered one means the expert restarted
		if err := c.createPeer(); err != nil {
			c.warn(err)
			return
		}
	}
	c.peerJoined = true
	c.setState(StateNegotiating)

	ctx, cancel := c.stepContext()
	defer cancel()
	answer, err := c.pc.CreateAnswer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP})
	if err != nil {
		c.warn(err)
		return
	}
	c.answered = true
	c.send(core.MsgAnswer, core.SDPPayload{
		SessionID: string(c.part.SessionID),
		SDP:       answer.SDP,
		FromID:    string(c.part.ID),
	})
}

func (c *Controller) onAnswer(m core.Message) {
	if !c.part.Role.Offerer() || c.pc == nil {
		return
	}
	var p core.SDPPayload
	if err := m.Decode(&p); err != nil {
		c.warn(fmt.Errorf("%w: %w", domain.ErrNegotiation, err))
		return
	}
	if err := c.pc.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		c.warn(err)
	}
}

func (c *Controller) onCandidate(m core.Message) {
	if c.pc == nil {
		return
	}
	var p core.ICECandidatePayload
	if err := m.Decode(&p); err != nil {
		c.logger.Warn().Err(err).Msg("bad ice-candidate")
		return
	}
	if err := c.pc.AddRemoteCandidate(p.Candidate); err != nil {
		c.warn(err)
	}
}

func (c *Controller) onSessionEnded(m core.Message) {
	var p core.SessionEndedPayload
	_ = m.Decode(&p)
	c.logger.Info().Str("reason", p.Reason).Msg("session ended by server")
	c.info("the session has ended")
	c.endSent = true
	c.endLocal()
}

// endLocal stops local tracks, detaches sinks, closes the peer connection and emits
// end-session once, in that order.
func (c *Controller) endLocal() {
	if c.state == StateEnded {
		return
	}
	if c.stream != nil {
		if err := c.stream.Stop(); err != nil {
			c.logger.Warn().Err(err).Msg("stop local stream")
		}
		if err := c.deps.Media.Release(); err != nil {
			c.logger.Debug().Err(err).Msg("release media")
		}
	}
	c.deps.Sink.Detach()
	c.closePeer()
	if !c.endSent {
		c.endSent = true
		c.send(core.MsgEndSession, core.EndSessionPayload{SessionID: string(c.part.SessionID)})
	}
	if err := c.deps.Transport.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("close transport")
	}
	c.setState(StateEnded)
	c.cancel()
	c.scheduleLeave()
}

func (c *Controller) scheduleLeave() {
	if c.leaveFired {
		return
	}
	fire := func() {
		if c.leaveFired {
			return
		}
		c.leaveFired = true
		c.leaveDue = true
		c.stopLoop = true
	}
	if c.cfg.EndGrace <= 0 {
		fire()
		return
	}
	c.leaveTimer = time.AfterFunc(c.cfg.EndGrace, func() { c.post(fire) })
}

func (c *Controller) stepContext() (context.Context, context.CancelFunc) {
	if c.cfg.NegotiationTimeout > 0 {
		return context.WithTimeout(c.ctx, c.cfg.NegotiationTimeout)
	}
	return context.WithCancel(c.ctx)
}
