// Command callclient joins a consultation as the user or the expert without a browser.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/consult/internal/adapters/auth"
	"github.com/dkeye/consult/internal/adapters/media"
	"github.com/dkeye/consult/internal/adapters/rtc"
	sig "github.com/dkeye/consult/internal/adapters/signal"
	"github.com/dkeye/consult/internal/app/call"
	"github.com/dkeye/consult/internal/app/schedule"
	"github.com/dkeye/consult/internal/config"
	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
)

type options struct {
	session     string
	id          string
	role        string
	name        string
	mint        bool
	statusEvery time.Duration
}

func parseFlags() (*options, *pflag.FlagSet) {
	var o options
	fs := pflag.NewFlagSet("callclient", pflag.ExitOnError)
	fs.StringVar(&o.session, "session", "", "session id (uuid)")
	fs.StringVar(&o.id, "id", "", "participant id")
	fs.StringVar(&o.role, "role", "user", "user or expert")
	fs.StringVar(&o.name, "name", "", "display name")
	fs.BoolVar(&o.mint, "mint", false, "sign a join ticket with auth.secret instead of using signal.token")
	fs.DurationVar(&o.statusEvery, "status-every", 5*time.Second, "status log interval")

	// dotted names override the matching config keys when set
	fs.String("signal.url", "", "signaling websocket url")
	fs.String("signal.token", "", "signed join ticket")
	fs.String("media.source", "", "hardware or synthetic")
	fs.Bool("media.prefer_video", true, "start with the camera when one is present")
	fs.Duration("negotiation.legacy_offer_delay", 0, "expert offers this long after user-joined without ready (0 disables)")
	fs.String("schedule.join_policy", "", "appointments or dashboard")
	fs.String("schedule.appointments", "", "appointments json; when set the session must be joinable now")
	fs.String("log.level", "", "log level")

	_ = fs.Parse(os.Args[1:])
	if o.statusEvery <= 0 {
		o.statusEvery = 5 * time.Second
	}
	return &o, fs
}

func main() {
	config.LogConfig{Level: "info", Console: true}.Setup()

	opts, overrides := parseFlags()
	cfg, err := config.Load(overrides)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.Log.Setup()

	part, err := domain.NewParticipant(opts.session, opts.id, opts.role, opts.name)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid participant")
	}

	if err := checkJoinable(cfg.Schedule, part.SessionID); err != nil {
		log.Fatal().Err(err).Str("sid", string(part.SessionID)).Msg("session is not joinable")
	}

	token := cfg.Signal.Token
	if opts.mint {
		if err := cfg.CheckServer(); err != nil {
			log.Fatal().Err(err).Msg("cannot mint ticket")
		}
		token, err = auth.NewTickets(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TicketTTL).Mint(*part)
		if err != nil {
			log.Fatal().Err(err).Msg("mint ticket")
		}
	}

	src, err := newSource(cfg.Media)
	if err != nil {
		log.Fatal().Err(err).Msg("media source")
	}
	me, err := src.MediaEngine()
	if err != nil {
		log.Fatal().Err(err).Msg("media engine")
	}
	rtcCfg := rtcConfig(cfg.ICE)
	api, err := rtc.NewAPI(me, rtcCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api")
	}

	var current atomic.Pointer[rtc.Connection]
	newPeer := func() (core.PeerConnection, error) {
		pc, err := rtc.NewConnection(api, rtcCfg, part.SessionID)
		if err != nil {
			return nil, err
		}
		current.Store(pc)
		return pc, nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	left := make(chan struct{})
	ctl, err := call.NewController(*part, call.Config{
		PreferVideo:        cfg.Media.PreferVideo,
		EndGrace:           cfg.Call.EndGrace,
		LegacyOfferDelay:   cfg.Negotiation.LegacyOfferDelay,
		NegotiationTimeout: cfg.Negotiation.Timeout,
		Tick:               cfg.Call.Tick,
	}, call.Deps{
		Transport: sig.NewClient(sig.ClientConfig{
			URL:              cfg.Signal.URL,
			Token:            token,
			HandshakeTimeout: cfg.Signal.HandshakeTimeout,
			SendQueue:        cfg.Signal.SendQueue,
			PingInterval:     cfg.Signal.PingPeriod,
		}),
		Media:    media.NewAcquirer(src),
		NewPeer:  newPeer,
		Notifier: call.LogNotifier{},
		Sink:     logSink{},
		OnLeave:  func() { close(left) },
	})
	if err != nil {
		log.Fatal().Err(err).Msg("call controller")
	}
	defer ctl.Dispose()

	if err := ctl.Start(ctx); err != nil {
		log.Error().Err(err).Msg("start")
	}

	ticker := time.NewTicker(opts.statusEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			logStatus(ctl.Status(), current.Load())
		case <-left:
			log.Info().Msg("call finished")
			return
		case <-ctl.Done():
			return
		case <-ctx.Done():
			log.Info().Msg("ending call")
			if err := ctl.EndCall(); err != nil && !errors.Is(err, domain.ErrSessionEnded) {
				log.Error().Err(err).Msg("end call")
			}
			select {
			case <-left:
			case <-time.After(cfg.Call.EndGrace + time.Second):
			}
			return
		}
	}
}

func checkJoinable(cfg config.ScheduleConfig, sid domain.SessionID) error {
	if cfg.Appointments == "" {
		return nil
	}
	policy, err := schedule.PolicyByName(cfg.JoinPolicy)
	if err != nil {
		return err
	}
	items, err := schedule.ReadAppointments(cfg.Appointments)
	if err != nil {
		return err
	}
	board := schedule.NewBoard(policy, cfg.Refresh)
	board.Set(items)
	for _, e := range board.Snapshot() {
		log.Info().Str("sid", string(e.SessionID)).Str("title", e.Title).Str("status", string(e.Status)).Bool("joinable", e.Joinable).Msg("appointment")
	}
	if _, ok := board.Joinable(sid); !ok {
		return errors.New("outside the join window")
	}
	return nil
}

func newSource(cfg config.MediaConfig) (media.Source, error) {
	if cfg.Source == "synthetic" {
		return &media.SyntheticSource{Audio: true, Video: true}, nil
	}
	return media.NewHardwareSource(cfg.VideoBitRate)
}

func rtcConfig(cfg config.ICEConfig) rtc.Config {
	out := rtc.DefaultConfig()
	if len(cfg.Servers) > 0 {
		out.ICEServers = out.ICEServers[:0]
		for _, s := range cfg.Servers {
			out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
				URLs:       s.URLs,
				Username:   s.Username,
				Credential: s.Credential,
			})
		}
	}
	if cfg.CandidateQueue > 0 {
		out.CandidateQueue = cfg.CandidateQueue
	}
	out.DisconnectedTimeout = cfg.DisconnectedTimeout
	out.FailedTimeout = cfg.FailedTimeout
	return out
}

func logStatus(st call.Status, pc *rtc.Connection) {
	ev := log.Info().
		Str("state", st.State.String()).
		Dur("duration", st.Duration).
		Bool("muted", st.Muted).
		Bool("video", st.VideoOn).
		Str("ice", st.ICEState).
		Int("remote_tracks", st.RemoteTracks)
	if pc != nil {
		ev = ev.Uint64("keyframe_requests", pc.KeyframeRequests())
		for _, ts := range pc.Stats() {
			ev = ev.Uint64(ts.Kind+"_packets", ts.Packets)
		}
	}
	ev.Msg("status")
}

type logSink struct{}

func (logSink) AttachLocal(s *core.MediaStream) {
	if s == nil {
		log.Info().Msg("local preview cleared")
		return
	}
	log.Info().Bool("audio", s.HasAudio()).Bool("video", s.HasVideo()).Msg("local preview attached")
}

func (logSink) AttachRemote(t core.RemoteTrack) {
	log.Info().Str("track", t.ID()).Str("kind", t.Kind().String()).Msg("remote track attached")
}

func (logSink) Detach() { log.Info().Msg("video sinks detached") }
