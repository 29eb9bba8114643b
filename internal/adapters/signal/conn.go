package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/consult/internal/core"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrConnClosed = errors.New("connection closed")

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 64 << 10
)

// WsSignalConn is one WebSocket with a bounded outbound queue. Close flushes what is
// already queued before the socket goes away.
type WsSignalConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	// pingEvery > 0 makes the write pump ping and the read pump expect pongs.
	pingEvery time.Duration

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, queue int, pingEvery time.Duration) *WsSignalConn {
	if queue <= 0 {
		queue = 32
	}
	return &WsSignalConn{
		id:        uuid.NewString(),
		conn:      ws,
		send:      make(chan []byte, queue),
		done:      make(chan struct{}),
		pingEvery: pingEvery,
	}
}

func (c *WsSignalConn) ID() string { return c.id }

// Done is closed when the read side of the connection has ended.
func (c *WsSignalConn) Done() <-chan struct{} { return c.done }

func (c *WsSignalConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- b:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) SendMessage(m core.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *WsSignalConn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *WsSignalConn) writePump(ctx context.Context) {
	var tick <-chan time.Time
	if c.pingEvery > 0 {
		ticker := time.NewTicker(c.pingEvery)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() {
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", c.id).Msg("writePump ctx done")
			c.Close()
			c.flush()
			return
		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait),
				)
				return
			}
			if err := c.write(data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

// flush writes whatever is still queued after Close.
func (c *WsSignalConn) flush() {
	for data := range c.send {
		if err := c.write(data); err != nil {
			return
		}
	}
}

func (c *WsSignalConn) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readPump decodes envelopes and hands them to handle until the socket fails.
func (c *WsSignalConn) readPump(handle func(core.Message)) {
	defer func() {
		log.Debug().Str("module", "signal").Str("conn", c.id).Msg("readPump closing")
		c.Close()
		close(c.done)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if c.pingEvery > 0 {
		pongWait := c.pingEvery * 2
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("readPump read error")
			}
			return
		}
		var msg core.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("conn", c.id).Msg("bad json")
			continue
		}
		handle(msg)
	}
}
