package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrPeerAbsent = errors.New("peer not connected")

// Peer is a joined signaling connection as the hub sees it.
type Peer interface {
	ID() string
	Participant() *domain.Participant
	Send(core.Message) error
	Close()
}

type sessionRoom struct {
	peers map[domain.Role]Peer
	// announced maps a connection id to the peer connection it was told about.
	announced map[string]string
	// ready holds connections that sent ready.
	ready map[string]bool
	ended bool
}

// Hub pairs the user and the expert of each session and relays between them.
type Hub struct {
	mu     sync.Mutex
	rooms  map[domain.SessionID]*sessionRoom
	rec    *Recorder
	policy Policy
}

func NewHub(rec *Recorder, policy Policy) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{
		rooms:  make(map[domain.SessionID]*sessionRoom),
		rec:    rec,
		policy: policy,
	}
}

type announcement struct {
	to, about Peer
	ready     bool
}

// Join puts p in its role slot, closing any previous connection there, and announces
// the pair once both roles are present. Each connection hears about a given peer once.
func (h *Hub) Join(ctx context.Context, p Peer) {
	part := p.Participant()

	h.mu.Lock()
	room, ok := h.rooms[part.SessionID]
	if !ok {
		room = &sessionRoom{
			peers:     make(map[domain.Role]Peer),
			announced: make(map[string]string),
			ready:     make(map[string]bool),
		}
		h.rooms[part.SessionID] = room
	}
	var replaced Peer
	if old, ok := room.peers[part.Role]; ok && old.ID() != p.ID() {
		replaced = old
		delete(room.announced, old.ID())
		delete(room.ready, old.ID())
	}
	room.peers[part.Role] = p
	room.ended = false
	var present []domain.Role
	if _, ok := room.peers[part.Role.Other()]; ok {
		present = append(present, part.Role.Other())
	}

	var out []announcement
	if other, ok := room.peers[part.Role.Other()]; ok {
		if room.announced[p.ID()] != other.ID() {
			room.announced[p.ID()] = other.ID()
			out = append(out, announcement{to: p, about: other, ready: room.ready[other.ID()]})
		}
		if room.announced[other.ID()] != p.ID() {
			room.announced[other.ID()] = p.ID()
			out = append(out, announcement{to: other, about: p})
		}
	}
	h.mu.Unlock()

	if replaced != nil {
		log.Warn().Str("module", "app.hub").Str("sid", string(part.SessionID)).Str("role", string(part.Role)).Str("conn", replaced.ID()).Msg("duplicate connection, closing previous")
		replaced.Close()
	}
	log.Info().Str("module", "app.hub").Str("sid", string(part.SessionID)).Str("role", string(part.Role)).Str("conn", p.ID()).Msg("joined")

	if h.rec != nil {
		if err := h.rec.Joined(ctx, part, present...); err != nil {
			log.Error().Err(err).Str("module", "app.hub").Str("sid", string(part.SessionID)).Msg("record join")
		}
	}

	for _, a := range out {
		about := a.about.Participant()
		h.deliver(a.to, core.MsgUserJoined, core.UserJoinedPayload{Role: string(about.Role), Name: about.DisplayName})
		if a.ready {
			h.deliver(a.to, core.MsgPeerReady, core.PeerReadyPayload{Role: string(about.Role)})
		}
	}
}

// Ready marks p ready and tells the other side with peer-ready. A peer that joins later
// hears it right after user-joined.
func (h *Hub) Ready(p Peer) error {
	part := p.Participant()
	h.mu.Lock()
	room, ok := h.rooms[part.SessionID]
	if !ok || room.peers[part.Role] == nil || room.peers[part.Role].ID() != p.ID() {
		h.mu.Unlock()
		return ErrPeerAbsent
	}
	room.ready[p.ID()] = true
	other := room.peers[part.Role.Other()]
	h.mu.Unlock()

	if other == nil {
		return nil
	}
	m, err := core.NewMessage(core.MsgPeerReady, core.PeerReadyPayload{Role: string(part.Role)})
	if err != nil {
		return err
	}
	return h.send(other, m)
}

// Relay forwards m from p to the other role of the session.
func (h *Hub) Relay(p Peer, m core.Message) error {
	other, ok := h.other(p)
	if !ok {
		return ErrPeerAbsent
	}
	return h.send(other, m)
}

// End tells the other side the session was ended by p and completes the record.
func (h *Hub) End(ctx context.Context, p Peer) {
	part := p.Participant()
	reason := "ended_by_" + string(part.Role)

	h.mu.Lock()
	room, ok := h.rooms[part.SessionID]
	var other Peer
	if ok {
		room.ended = true
		other = room.peers[part.Role.Other()]
	}
	h.mu.Unlock()

	log.Info().Str("module", "app.hub").Str("sid", string(part.SessionID)).Str("reason", reason).Msg("session ended")
	if other != nil {
		h.deliver(other, core.MsgSessionEnded, core.SessionEndedPayload{Reason: reason})
	}
	if h.rec != nil {
		if err := h.rec.Ended(ctx, part.SessionID, reason); err != nil {
			log.Error().Err(err).Str("module", "app.hub").Str("sid", string(part.SessionID)).Msg("record end")
		}
	}
}

// Leave removes p if it still holds its slot. The remaining side is told the session
// ended unless it already was.
func (h *Hub) Leave(ctx context.Context, p Peer) {
	part := p.Participant()

	h.mu.Lock()
	room, ok := h.rooms[part.SessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if cur, ok := room.peers[part.Role]; !ok || cur.ID() != p.ID() {
		h.mu.Unlock()
		return
	}
	delete(room.peers, part.Role)
	delete(room.announced, p.ID())
	delete(room.ready, p.ID())
	other := room.peers[part.Role.Other()]
	ended := room.ended
	room.ended = true
	if len(room.peers) == 0 {
		delete(h.rooms, part.SessionID)
	}
	h.mu.Unlock()

	reason := string(part.Role) + "_left"
	log.Info().Str("module", "app.hub").Str("sid", string(part.SessionID)).Str("role", string(part.Role)).Msg("left")
	if h.rec != nil {
		if err := h.rec.Left(ctx, part.SessionID, part.Role, reason); err != nil {
			log.Error().Err(err).Str("module", "app.hub").Str("sid", string(part.SessionID)).Msg("record leave")
		}
	}
	if other != nil && !ended {
		h.deliver(other, core.MsgSessionEnded, core.SessionEndedPayload{Reason: reason})
	}
}

// Roles lists the roles currently connected to sid.
func (h *Hub) Roles(sid domain.SessionID) []domain.Role {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sid]
	if !ok {
		return nil
	}
	out := make([]domain.Role, 0, len(room.peers))
	for _, r := range []domain.Role{domain.RoleUser, domain.RoleExpert} {
		if _, ok := room.peers[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (h *Hub) Record(ctx context.Context, sid domain.SessionID) (*domain.CallRecord, error) {
	if h.rec == nil {
		return nil, core.ErrRecordNotFound
	}
	return h.rec.Record(ctx, sid)
}

func (h *Hub) other(p Peer) (Peer, bool) {
	part := p.Participant()
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[part.SessionID]
	if !ok {
		return nil, false
	}
	cur, ok := room.peers[part.Role]
	if !ok || cur.ID() != p.ID() {
		return nil, false
	}
	other, ok := room.peers[part.Role.Other()]
	return other, ok
}

func (h *Hub) deliver(to Peer, t core.MessageType, payload any) {
	m, err := core.NewMessage(t, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Msg("build message")
		return
	}
	if err := h.send(to, m); err != nil {
		log.Warn().Err(err).Str("module", "app.hub").Str("conn", to.ID()).Str("type", string(t)).Msg("deliver")
	}
}

func (h *Hub) send(to Peer, m core.Message) error {
	err := to.Send(m)
	if err == nil || !errors.Is(err, core.ErrBackpressure) {
		return err
	}
	switch h.policy.OnBackPressure(to) {
	case KickPeer:
		log.Warn().Str("module", "app.hub").Str("conn", to.ID()).Msg("slow peer, kicking")
		to.Close()
	case DropMessage:
		log.Warn().Str("module", "app.hub").Str("conn", to.ID()).Str("type", string(m.Type)).Msg("slow peer, dropping message")
	}
	return err
}
