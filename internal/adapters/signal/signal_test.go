package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/consult/internal/adapters/store"
	"github.com/dkeye/consult/internal/app"
	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSID = "3e9d7c1a-5b2f-4a60-8e71-92c4d5f6a7b8"

func newTestServer(t *testing.T, cfg ServerConfig) (*httptest.Server, *app.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := app.NewHub(app.NewRecorder(store.NewMemory()), app.SimplePolicy{})
	ctl := NewSignalWSController(hub, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		part, err := domain.NewParticipant(testSID, c.Query("id"), c.Query("role"), "")
		if err != nil {
			c.AbortWithStatus(400)
			return
		}
		c.Set(ParticipantKey, part)
		ctl.HandleSignal(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server, id, role string) *Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?id=" + id + "&role=" + role
	c := NewClient(ClientConfig{URL: url, SendQueue: 16})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *Client, typ core.MessageType, payload any) {
	t.Helper()
	m, err := core.NewMessage(typ, payload)
	require.NoError(t, err)
	require.NoError(t, c.Send(m))
}

func next(t *testing.T, c *Client) core.Message {
	t.Helper()
	select {
	case m, ok := <-c.Messages():
		require.True(t, ok, "connection closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}
	return core.Message{}
}

func join(t *testing.T, c *Client, id, role string) {
	t.Helper()
	send(t, c, core.MsgJoinSession, core.JoinSessionPayload{SessionID: testSID, ParticipantID: id, Role: role})
}

func TestSignalingRoundTrip(t *testing.T) {
	srv, hub := newTestServer(t, ServerConfig{})
	expert := dial(t, srv, "e1", "expert")
	user := dial(t, srv, "u1", "user")

	join(t, expert, "e1", "expert")
	require.Eventually(t, func() bool { return len(hub.Roles(testSID)) == 1 }, time.Second, 5*time.Millisecond)
	join(t, user, "u1", "user")

	var joined core.UserJoinedPayload
	m := next(t, expert)
	require.Equal(t, core.MsgUserJoined, m.Type)
	require.NoError(t, m.Decode(&joined))
	assert.Equal(t, "user", joined.Role)
	m = next(t, user)
	require.Equal(t, core.MsgUserJoined, m.Type)

	send(t, user, core.MsgReady, core.ReadyPayload{SessionID: testSID, FromID: "u1"})
	m = next(t, expert)
	require.Equal(t, core.MsgPeerReady, m.Type)

	send(t, expert, core.MsgOffer, core.SDPPayload{SessionID: testSID, SDP: "offer-sdp"})
	m = next(t, user)
	require.Equal(t, core.MsgOffer, m.Type)
	var sdp core.SDPPayload
	require.NoError(t, m.Decode(&sdp))
	assert.Equal(t, "offer-sdp", sdp.SDP)
	assert.Equal(t, "e1", sdp.FromID)

	send(t, user, core.MsgICECandidate, core.ICECandidatePayload{SessionID: testSID})
	assert.Equal(t, core.MsgICECandidate, next(t, expert).Type)

	send(t, user, core.MsgEndSession, core.EndSessionPayload{SessionID: testSID})
	m = next(t, expert)
	require.Equal(t, core.MsgSessionEnded, m.Type)
	var ended core.SessionEndedPayload
	require.NoError(t, m.Decode(&ended))
	assert.Equal(t, "ended_by_user", ended.Reason)

	rec, err := hub.Record(context.Background(), testSID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCompleted, rec.Status)
}

func TestDisconnectEndsSessionForPeer(t *testing.T) {
	srv, _ := newTestServer(t, ServerConfig{})
	expert := dial(t, srv, "e1", "expert")
	user := dial(t, srv, "u1", "user")
	join(t, expert, "e1", "expert")
	join(t, user, "u1", "user")
	require.Equal(t, core.MsgUserJoined, next(t, expert).Type)

	require.NoError(t, user.Close())
	m := next(t, expert)
	require.Equal(t, core.MsgSessionEnded, m.Type)
	var ended core.SessionEndedPayload
	require.NoError(t, m.Decode(&ended))
	assert.Equal(t, "user_left", ended.Reason)
}

func TestServerRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, ServerConfig{})
	c := dial(t, srv, "u1", "user")

	expectError := func(code string) {
		t.Helper()
		m := next(t, c)
		require.Equal(t, core.MsgError, m.Type)
		var p core.ErrorPayload
		require.NoError(t, m.Decode(&p))
		assert.Equal(t, code, p.Error)
	}

	send(t, c, core.MsgOffer, core.SDPPayload{SDP: "x"})
	expectError("not_joined")

	join(t, c, "u1", "expert")
	expectError("ticket_mismatch")

	send(t, c, core.MsgJoinSession, core.JoinSessionPayload{SessionID: "nope", ParticipantID: "u1", Role: "user"})
	expectError("invalid_payload")

	join(t, c, "u1", "user")
	send(t, c, core.MsgOffer, core.SDPPayload{SDP: "x"})
	expectError("peer_not_connected")

	send(t, c, core.MsgPing, nil)
	assert.Equal(t, core.MsgPong, next(t, c).Type)
}

func TestServerRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, ServerConfig{RateLimit: 2, RateInterval: time.Minute})
	c := dial(t, srv, "u1", "user")

	for range 3 {
		send(t, c, core.MsgPing, nil)
	}
	assert.Equal(t, core.MsgPong, next(t, c).Type)
	assert.Equal(t, core.MsgPong, next(t, c).Type)
	m := next(t, c)
	require.Equal(t, core.MsgError, m.Type)
}

func TestClientConnectFailure(t *testing.T) {
	c := NewClient(ClientConfig{URL: "ws://127.0.0.1:1/ws", HandshakeTimeout: time.Second})
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrSignalingConnection)

	m, _ := core.NewMessage(core.MsgPing, nil)
	assert.ErrorIs(t, c.Send(m), domain.ErrSignalingConnection)
	assert.NoError(t, c.Close())
}

func TestClientCloseFlushesQueue(t *testing.T) {
	srv, _ := newTestServer(t, ServerConfig{})
	expert := dial(t, srv, "e1", "expert")
	user := dial(t, srv, "u1", "user")
	join(t, expert, "e1", "expert")
	join(t, user, "u1", "user")
	require.Equal(t, core.MsgUserJoined, next(t, expert).Type)

	send(t, user, core.MsgEndSession, core.EndSessionPayload{SessionID: testSID})
	require.NoError(t, user.Close())

	m := next(t, expert)
	var ended core.SessionEndedPayload
	require.NoError(t, m.Decode(&ended))
	assert.Equal(t, "ended_by_user", ended.Reason)

	_, ok := <-user.Messages()
	for ok {
		_, ok = <-user.Messages()
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	now := time.Unix(0, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow("a"))

	rl.Forget("a")
	assert.True(t, rl.Allow("a"))
	assert.True(t, NewRateLimiter(0, time.Second).Allow("x"))
}
