package signal

import (
	"context"
	"errors"

	"github.com/dkeye/consult/internal/app"
	"github.com/dkeye/consult/internal/core"
	"github.com/rs/zerolog/log"
)

// decode unmarshals and validates a payload, answering bad_payload on failure.
func (ctl *SignalWSController) decode(peer *wsPeer, m core.Message, v any) bool {
	if err := m.Decode(v); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", peer.ID()).Msg("bad payload")
		ctl.sendError(peer, "bad_payload")
		return false
	}
	if err := ctl.validate.Struct(v); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", peer.ID()).Str("type", string(m.Type)).Msg("invalid payload")
		ctl.sendError(peer, "invalid_payload")
		return false
	}
	return true
}

// sameSession rejects payloads that name a session other than the ticket's.
func (ctl *SignalWSController) sameSession(peer *wsPeer, sid string) bool {
	if sid == "" || sid == string(peer.part.SessionID) {
		return true
	}
	ctl.sendError(peer, "session_mismatch")
	return false
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, peer *wsPeer, m core.Message) {
	var p core.JoinSessionPayload
	if !ctl.decode(peer, m, &p) {
		return
	}
	if !ctl.sameSession(peer, p.SessionID) {
		return
	}
	if p.Role != string(peer.part.Role) || p.ParticipantID != string(peer.part.ID) {
		log.Warn().
			Str("module", "signal").
			Str("conn", peer.ID()).
			Str("role", p.Role).
			Str("ticket_role", string(peer.part.Role)).
			Msg("join does not match ticket")
		ctl.sendError(peer, "ticket_mismatch")
		return
	}
	if !peer.joined.CompareAndSwap(false, true) {
		return
	}
	ctl.Hub.Join(ctx, peer)
}

func (ctl *SignalWSController) handleReady(peer *wsPeer, m core.Message) {
	var p core.ReadyPayload
	if !ctl.decode(peer, m, &p) || !ctl.sameSession(peer, p.SessionID) {
		return
	}
	if err := ctl.Hub.Ready(peer); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", peer.ID()).Msg("ready")
	}
}

func (ctl *SignalWSController) handleSDP(peer *wsPeer, m core.Message) {
	var p core.SDPPayload
	if !ctl.decode(peer, m, &p) || !ctl.sameSession(peer, p.SessionID) {
		return
	}
	p.SessionID = string(peer.part.SessionID)
	p.FromID = string(peer.part.ID)
	ctl.relay(peer, m.Type, p)
}

func (ctl *SignalWSController) handleCandidate(peer *wsPeer, m core.Message) {
	var p core.ICECandidatePayload
	if !ctl.decode(peer, m, &p) || !ctl.sameSession(peer, p.SessionID) {
		return
	}
	p.SessionID = string(peer.part.SessionID)
	p.FromID = string(peer.part.ID)
	ctl.relay(peer, m.Type, p)
}

func (ctl *SignalWSController) handleEnd(ctx context.Context, peer *wsPeer, m core.Message) {
	if len(m.Payload) > 0 {
		var p core.EndSessionPayload
		if !ctl.decode(peer, m, &p) || !ctl.sameSession(peer, p.SessionID) {
			return
		}
	}
	ctl.Hub.End(ctx, peer)
}

func (ctl *SignalWSController) relay(peer *wsPeer, t core.MessageType, payload any) {
	out, err := core.NewMessage(t, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("relay marshal")
		return
	}
	if err := ctl.Hub.Relay(peer, out); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", peer.ID()).Str("type", string(t)).Msg("relay")
		if errors.Is(err, app.ErrPeerAbsent) {
			ctl.sendError(peer, "peer_not_connected")
		}
	}
}
