package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type ClientConfig struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	SendQueue        int
	PingInterval     time.Duration
}

// Client is the participant side of the signaling channel. It never reconnects on its own.
type Client struct {
	cfg    ClientConfig
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *WsSignalConn
	cancel context.CancelFunc
	in     chan core.Message
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		in: make(chan core.Message, 64),
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	target, err := c.endpoint()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSignalingConnection, err)
	}
	ws, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: %s: %w", domain.ErrSignalingConnection, resp.Status, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrSignalingConnection, err)
	}

	conn := newWsSignalConn(ws, c.cfg.SendQueue, c.cfg.PingInterval)
	pumpCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.cancel = cancel

	go conn.writePump(pumpCtx)
	go func() {
		defer close(c.in)
		conn.readPump(func(m core.Message) {
			select {
			case c.in <- m:
			case <-pumpCtx.Done():
			}
		})
	}()
	log.Info().Str("module", "signal").Str("conn", conn.ID()).Str("url", c.cfg.URL).Msg("connected")
	return nil
}

func (c *Client) Send(m core.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", domain.ErrSignalingConnection)
	}
	if err := conn.SendMessage(m); err != nil {
		if errors.Is(err, ErrConnClosed) {
			return fmt.Errorf("%w: %w", domain.ErrSignalingConnection, err)
		}
		return err
	}
	return nil
}

func (c *Client) Messages() <-chan core.Message { return c.in }

// Close flushes queued messages, then closes the socket. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	conn, cancel := c.conn, c.cancel
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	conn.Close()
	cancel()
	select {
	case <-conn.Done():
	case <-time.After(writeWait):
		log.Warn().Str("module", "signal").Str("conn", conn.ID()).Msg("close timed out")
	}
	return nil
}
