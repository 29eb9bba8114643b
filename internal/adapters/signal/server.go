package signal

import (
	"context"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/dkeye/consult/internal/app"
	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ParticipantKey is the gin context key the auth middleware stores the ticket holder under.
const ParticipantKey = "participant"

type ServerConfig struct {
	SendQueue      int
	PingInterval   time.Duration
	RateLimit      int
	RateInterval   time.Duration
	AllowedOrigins []string
}

type SignalWSController struct {
	Hub      *app.Hub
	Limiter  *RateLimiter
	cfg      ServerConfig
	validate *validator.Validate
	upgrader websocket.Upgrader
}

func NewSignalWSController(hub *app.Hub, cfg ServerConfig) *SignalWSController {
	ctl := &SignalWSController{
		Hub:      hub,
		Limiter:  NewRateLimiter(cfg.RateLimit, cfg.RateInterval),
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	ctl.upgrader = websocket.Upgrader{
		CheckOrigin: ctl.checkOrigin,
	}
	return ctl
}

func (ctl *SignalWSController) checkOrigin(r *http.Request) bool {
	if len(ctl.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(ctl.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// wsPeer is a server-side connection bound to the ticket holder.
type wsPeer struct {
	conn        *WsSignalConn
	part        *domain.Participant
	clientToken string
	joined      atomic.Bool
}

func (p *wsPeer) ID() string                       { return p.conn.ID() }
func (p *wsPeer) Participant() *domain.Participant { return p.part }
func (p *wsPeer) Send(m core.Message) error        { return p.conn.SendMessage(m) }
func (p *wsPeer) Close()                           { p.conn.Close() }

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	v, ok := c.Get(ParticipantKey)
	part, _ := v.(*domain.Participant)
	if !ok || part == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing join ticket"})
		return
	}

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	peer := &wsPeer{
		conn:        newWsSignalConn(ws, ctl.cfg.SendQueue, ctl.cfg.PingInterval),
		part:        part,
		clientToken: c.GetString("client_token"),
	}
	log.Info().
		Str("module", "signal").
		Str("conn", peer.ID()).
		Str("sid", string(part.SessionID)).
		Str("role", string(part.Role)).
		Str("client", peer.clientToken).
		Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go peer.conn.writePump(ctx)
	go func() {
		defer cancel()
		peer.conn.readPump(func(m core.Message) {
			ctl.handleSignal(ctx, peer, m)
		})
		ctl.Limiter.Forget(peer.ID())
		if peer.joined.Load() {
			ctl.Hub.Leave(context.Background(), peer)
		}
	}()
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, peer *wsPeer, m core.Message) {
	if !ctl.Limiter.Allow(peer.ID()) {
		log.Warn().Str("module", "signal").Str("conn", peer.ID()).Str("type", string(m.Type)).Msg("rate limited")
		ctl.sendError(peer, "rate_limited")
		return
	}

	switch m.Type {
	case core.MsgJoinSession:
		ctl.handleJoin(ctx, peer, m)
		return
	case core.MsgPing:
		ctl.send(peer, core.MsgPong, nil)
		return
	}

	if !peer.joined.Load() {
		ctl.sendError(peer, "not_joined")
		return
	}

	switch m.Type {
	case core.MsgReady:
		ctl.handleReady(peer, m)
	case core.MsgOffer, core.MsgAnswer:
		ctl.handleSDP(peer, m)
	case core.MsgICECandidate:
		ctl.handleCandidate(peer, m)
	case core.MsgEndSession:
		ctl.handleEnd(ctx, peer, m)
	default:
		log.Warn().Str("module", "signal").Str("type", string(m.Type)).Msg("unknown signal")
		ctl.sendError(peer, "unknown_type")
	}
}

func (ctl *SignalWSController) send(peer *wsPeer, t core.MessageType, payload any) {
	m, err := core.NewMessage(t, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	if err := peer.Send(m); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", peer.ID()).Str("type", string(t)).Msg("send")
	}
}

func (ctl *SignalWSController) sendError(peer *wsPeer, code string) {
	ctl.send(peer, core.MsgError, core.ErrorPayload{Error: code})
}
