package call

import (
	"context"
	"sync"
	"testing"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const testSID = "6f1c2b8e-3d4a-4e5f-9a6b-7c8d9e0f1a2b"

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) index(e string) int {
	for i, got := range l.all() {
		if got == e {
			return i
		}
	}
	return -1
}

type fakeTransport struct {
	log        *eventLog
	connectErr error

	mu        sync.Mutex
	sent      []core.Message
	in        chan core.Message
	closeOnce sync.Once
}

func newFakeTransport(l *eventLog) *fakeTransport {
	return &fakeTransport{log: l, in: make(chan core.Message, 16)}
}

func (f *fakeTransport) Connect(context.Context) error { return f.connectErr }

func (f *fakeTransport) Send(m core.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	f.log.add("send " + string(m.Type))
	return nil
}

func (f *fakeTransport) Messages() <-chan core.Message { return f.in }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		f.log.add("transport-close")
		close(f.in)
	})
	return nil
}

func (f *fakeTransport) push(t *testing.T, typ core.MessageType, payload any) {
	t.Helper()
	m, err := core.NewMessage(typ, payload)
	require.NoError(t, err)
	f.in <- m
}

func (f *fakeTransport) sentOf(typ core.MessageType) []core.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Message
	for _, m := range f.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type fakeTrack struct {
	*webrtc.TrackLocalStaticSample
	log *eventLog

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func newFakeTrack(t *testing.T, l *eventLog, kind webrtc.RTPCodecType) *fakeTrack {
	t.Helper()
	mime := webrtc.MimeTypeOpus
	id := "audio"
	if kind == webrtc.RTPCodecTypeVideo {
		mime, id = webrtc.MimeTypeVP8, "video"
	}
	tl, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "local")
	require.NoError(t, err)
	return &fakeTrack{TrackLocalStaticSample: tl, log: l, enabled: true}
}

func (f *fakeTrack) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeTrack) SetEnabled(on bool) {
	f.mu.Lock()
	f.enabled = on
	f.mu.Unlock()
}

func (f *fakeTrack) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		f.log.add("local-stop " + f.Kind().String())
	}
	return nil
}

func (f *fakeTrack) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeMedia struct {
	t   *testing.T
	log *eventLog

	mu       sync.Mutex
	audio    bool
	video    bool
	videoErr bool
	err      error
	tracks   []*fakeTrack
	acquires int
}

func (f *fakeMedia) Acquire(context.Context, bool) (core.MediaResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if f.err != nil {
		return core.MediaResult{}, f.err
	}
	var tracks []core.LocalTrack
	if f.audio {
		tr := newFakeTrack(f.t, f.log, webrtc.RTPCodecTypeAudio)
		f.tracks = append(f.tracks, tr)
		tracks = append(tracks, tr)
	}
	if f.video && !f.videoErr {
		tr := newFakeTrack(f.t, f.log, webrtc.RTPCodecTypeVideo)
		f.tracks = append(f.tracks, tr)
		tracks = append(tracks, tr)
	}
	return core.MediaResult{Stream: core.NewMediaStream(tracks...), VideoError: f.videoErr}, nil
}

func (f *fakeMedia) Release() error { return nil }

func (f *fakeMedia) all() []*fakeTrack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTrack(nil), f.tracks...)
}

type fakeRemote struct {
	id   string
	kind webrtc.RTPCodecType
	log  *eventLog

	mu      sync.Mutex
	stopped bool
}

func (r *fakeRemote) ID() string                { return r.id }
func (r *fakeRemote) Kind() webrtc.RTPCodecType { return r.kind }

func (r *fakeRemote) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		r.stopped = true
		r.log.add("remote-stop")
	}
	return nil
}

func (r *fakeRemote) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

type fakePeer struct {
	log *eventLog

	mu       sync.Mutex
	attached map[string]bool
	sending  map[webrtc.RTPCodecType]bool
	offers   int
	answers  int
	applied  int
	cands    []webrtc.ICECandidateInit
	detaches int
	closed   bool
	onRemote func(core.RemoteTrack)
	onICE    func(webrtc.ICECandidateInit)
	onState  func(webrtc.ICEConnectionState)
}

func newFakePeer(l *eventLog) *fakePeer {
	return &fakePeer{
		log:      l,
		attached: make(map[string]bool),
		sending:  make(map[webrtc.RTPCodecType]bool),
	}
}

func (p *fakePeer) AddLocalTracks(s *core.MediaStream) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range s.Tracks() {
		if p.attached[t.ID()] {
			continue
		}
		p.attached[t.ID()] = true
		p.sending[t.Kind()] = true
		n++
	}
	return n, nil
}

func (p *fakePeer) DetachLocalTracks() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detaches++
	p.attached = make(map[string]bool)
	return nil
}

func (p *fakePeer) SetTrackEnabled(kind webrtc.RTPCodecType, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sending[kind] = on
	return nil
}

func (p *fakePeer) OnRemoteTrack(fn func(core.RemoteTrack)) {
	p.mu.Lock()
	p.onRemote = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePeer) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "fake-offer"}, nil
}

func (p *fakePeer) CreateAnswer(context.Context, webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fake-answer"}, nil
}

func (p *fakePeer) ApplyAnswer(webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied++
	return nil
}

func (p *fakePeer) AddRemoteCandidate(ci webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cands = append(p.cands, ci)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.log.add("pc-close")
	}
	return nil
}

func (p *fakePeer) emitTrack(rt core.RemoteTrack) {
	p.mu.Lock()
	fn := p.onRemote
	p.mu.Unlock()
	fn(rt)
}

func (p *fakePeer) emitCandidate(ci webrtc.ICECandidateInit) {
	p.mu.Lock()
	fn := p.onICE
	p.mu.Unlock()
	fn(ci)
}

func (p *fakePeer) emitState(s webrtc.ICEConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(s)
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeNotifier struct {
	mu    sync.Mutex
	warns []error
	infos []string
}

func (n *fakeNotifier) Warn(err error) {
	n.mu.Lock()
	n.warns = append(n.warns, err)
	n.mu.Unlock()
}

func (n *fakeNotifier) Info(msg string) {
	n.mu.Lock()
	n.infos = append(n.infos, msg)
	n.mu.Unlock()
}

func (n *fakeNotifier) warnings() []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]error(nil), n.warns...)
}

type fakeSink struct {
	log *eventLog

	mu     sync.Mutex
	local  *core.MediaStream
	remote []core.RemoteTrack
}

func (s *fakeSink) AttachLocal(m *core.MediaStream) {
	s.mu.Lock()
	s.local = m
	s.mu.Unlock()
}

func (s *fakeSink) AttachRemote(rt core.RemoteTrack) {
	s.mu.Lock()
	s.remote = append(s.remote, rt)
	s.mu.Unlock()
}

func (s *fakeSink) Detach() {
	s.mu.Lock()
	s.local, s.remote = nil, nil
	s.mu.Unlock()
	s.log.add("sink-detach")
}

type harness struct {
	ctrl      *Controller
	log       *eventLog
	transport *fakeTransport
	media     *fakeMedia
	notifier  *fakeNotifier
	sink      *fakeSink

	mu     sync.Mutex
	peers  []*fakePeer
	leaves int
}

func newHarness(t *testing.T, role domain.Role, cfg Config) *harness {
	t.Helper()
	l := &eventLog{}
	h := &harness{
		log:       l,
		transport: newFakeTransport(l),
		media:     &fakeMedia{t: t, log: l, audio: true, video: true},
		notifier:  &fakeNotifier{},
		sink:      &fakeSink{log: l},
	}
	id := "expert-1"
	if role == domain.RoleUser {
		id = "user-1"
	}
	part := domain.Participant{SessionID: testSID, ID: domain.ParticipantID(id), Role: role}
	ctrl, err := NewController(part, cfg, Deps{
		Transport: h.transport,
		Media:     h.media,
		NewPeer: func() (core.PeerConnection, error) {
			p := newFakePeer(l)
			h.mu.Lock()
			h.peers = append(h.peers, p)
			h.mu.Unlock()
			return p, nil
		},
		Notifier: h.notifier,
		Sink:     h.sink,
		OnLeave: func() {
			h.mu.Lock()
			h.leaves++
			h.mu.Unlock()
		},
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	t.Cleanup(ctrl.Dispose)
	return h
}

func (h *harness) peer(i int) *fakePeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peers[i]
}

func (h *harness) peerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *harness) leaveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaves
}
