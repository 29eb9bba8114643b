// Package call drives one participant through a consultation call.
//
// Every piece of controller state is owned by a single loop goroutine. Signaling
// messages, peer connection callbacks, timers and public operations are all posted
// to that loop, so handlers never race with each other.
package call

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNotStarted = errors.New("call not started")

type Config struct {
	PreferVideo bool
	// EndGrace is how long after the end OnLeave fires, so the end message can flush.
	EndGrace time.Duration
	// LegacyOfferDelay > 0 lets the expert offer that long after user-joined even if
	// the peer never sends ready.
	LegacyOfferDelay time.Duration
	// NegotiationTimeout bounds each offer/answer step when > 0.
	NegotiationTimeout time.Duration
	Tick               time.Duration
}

func DefaultConfig() Config {
	return Config{
		PreferVideo: true,
		EndGrace:    1500 * time.Millisecond,
		Tick:        time.Second,
	}
}

type Deps struct {
	Transport core.SignalTransport
	Media     core.MediaAcquirer
	NewPeer   core.PeerFactory
	Notifier  Notifier
	Sink      Sink
	// OnLeave runs once, EndGrace after the call ended, after the loop has stopped.
	// It may call Dispose.
	OnLeave func()
}

type Controller struct {
	part   domain.Participant
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	events   chan func()
	quit     chan struct{}
	started  atomic.Bool
	snapshot atomic.Pointer[Status]
	hooks    *hookQueue

	ctx    context.Context
	cancel context.CancelFunc

	// loop-owned
	state      State
	stopLoop   bool
	pc         core.PeerConnection
	pcGen      int
	stream     *core.MediaStream
	remotes    []core.RemoteTrack
	muted      bool
	videoOn    bool
	videoErr   bool
	audioErr   bool
	peerJoined bool
	peerReady  bool
	legacyDue  bool
	offerSent  bool
	answered   bool
	endSent    bool
	leaveFired bool
	leaveDue   bool
	leaveTimer *time.Timer
	duration   time.Duration
	iceState   webrtc.ICEConnectionState
}

func NewController(p domain.Participant, cfg Config, deps Deps) (*Controller, error) {
	if !p.Role.Valid() {
		return nil, domain.ErrInvalidRole
	}
	if deps.Transport == nil || deps.Media == nil || deps.NewPeer == nil {
		return nil, errors.New("call: transport, media and peer factory are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = LogNotifier{}
	}
	if deps.Sink == nil {
		deps.Sink = nopSink{}
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		part: p,
		cfg:  cfg,
		deps: deps,
		logger: log.With().
			Str("module", "call").
			Str("sid", string(p.SessionID)).
			Str("role", string(p.Role)).
			Logger(),
		events: make(chan func(), 64),
		quit:   make(chan struct{}),
		hooks:  newHookQueue(),
		ctx:    ctx,
		cancel: cancel,
	}
	c.publish()
	return c, nil
}

// Start opens signaling, joins the session, acquires media and creates the peer
// connection. Only the first call does anything; later calls return nil.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		select {
		case <-c.quit:
			return domain.ErrSessionEnded
		default:
		}
		c.logger.Debug().Msg("start ignored, already started")
		return nil
	}
	go c.loop()
	go c.runHooks()
	return c.do(ctx, func() error { return c.start(ctx) })
}

func (c *Controller) ToggleMute() error {
	return c.do(context.Background(), c.toggleMute)
}

func (c *Controller) ToggleVideo() error {
	return c.do(context.Background(), c.toggleVideo)
}

// EndCall ends the call locally. Only the first call emits end-session.
func (c *Controller) EndCall() error {
	return c.do(context.Background(), func() error {
		c.endLocal()
		return nil
	})
}

func (c *Controller) RetryMediaAccess(ctx context.Context) error {
	return c.do(ctx, func() error { return c.retryMedia(ctx) })
}

// Dispose is the host's signal that the participant navigated away for real. It ends
// a live call without scheduling OnLeave and stops the loop.
func (c *Controller) Dispose() {
	if c.started.CompareAndSwap(false, true) {
		c.cancel()
		c.state = StateEnded
		close(c.quit)
		c.publish()
		return
	}
	_ = c.do(context.Background(), func() error {
		if c.leaveTimer != nil {
			c.leaveTimer.Stop()
		}
		c.leaveFired = true
		c.endLocal()
		c.stopLoop = true
		return nil
	})
	<-c.quit
}

// Status never blocks; it returns the state as of the last processed event.
func (c *Controller) Status() Status {
	return *c.snapshot.Load()
}

// Done is closed when the loop has exited.
func (c *Controller) Done() <-chan struct{} { return c.quit }

func (c *Controller) loop() {
	ticker := time.NewTicker(c.cfg.Tick)
	defer func() {
		ticker.Stop()
		c.cancel()
		close(c.quit)
	}()
	for !c.stopLoop {
		select {
		case fn := <-c.events:
			fn()
		case <-ticker.C:
			if c.state.ticking() {
				c.duration += c.cfg.Tick
			}
		}
		c.publish()
	}
	c.logger.Debug().Msg("loop stopped")
}

// runHooks delivers notifications until the loop exits, then fires OnLeave if it is due.
// leaveDue is written by the loop before quit is closed.
func (c *Controller) runHooks() {
	for {
		select {
		case <-c.hooks.wake:
			c.hooks.run()
		case <-c.quit:
			c.hooks.run()
			if c.leaveDue && c.deps.OnLeave != nil {
				c.deps.OnLeave()
			}
			return
		}
	}
}

// post queues fn on the loop. It is dropped once the loop has exited.
func (c *Controller) post(fn func()) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.events <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// do runs fn on the loop and waits for its result.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	done := make(chan error, 1)
	if !c.post(func() { done <- fn() }) {
		return domain.ErrSessionEnded
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		select {
		case err := <-done:
			return err
		default:
			return domain.ErrSessionEnded
		}
	}
}

func (c *Controller) publish() {
	ice := ""
	if c.iceState != webrtc.ICEConnectionStateUnknown {
		ice = c.iceState.String()
	}
	c.snapshot.Store(&Status{
		State:        c.state,
		Muted:        c.muted,
		VideoOn:      c.videoOn,
		VideoError:   c.videoErr,
		AudioError:   c.audioErr,
		Duration:     c.duration,
		ICEState:     ice,
		RemoteTracks: len(c.remotes),
		OfferSent:    c.offerSent,
	})
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Info().Str("from", c.state.String()).Str("to", s.String()).Msg("state")
	c.state = s
}

func (c *Controller) warn(err error) {
	c.logger.Warn().Err(err).Msg("call warning")
	c.hooks.push(func() { c.deps.Notifier.Warn(err) })
}

func (c *Controller) info(msg string) {
	c.hooks.push(func() { c.deps.Notifier.Info(msg) })
}
