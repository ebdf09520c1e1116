package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
)

// ClientConfig tunes the dialing side. Zero values fall back to defaults.
type ClientConfig struct {
	DialTimeout       time.Duration
	ReconnectAttempts uint
}

// Client is the agent-side channel: it dials the gateway, surfaces delivered
// messages to registered listeners and redials with backoff when the
// connection drops. Close stops the retry loop immediately and clears the
// listeners, so no delivery arrives after an explicit disconnect.
type Client struct {
	url    string
	header http.Header
	cfg    ClientConfig
	logger *zap.Logger

	mu        sync.Mutex
	listeners []func(domain.Message)
	conn      *websocket.Conn
	cancel    context.CancelFunc
	closed    bool

	done chan struct{}
}

func NewClient(url string, header http.Header, cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReconnectAttempts == 0 {
		cfg.ReconnectAttempts = 5
	}
	return &Client{
		url:    url,
		header: header,
		cfg:    cfg,
		logger: logger.Named("session-client"),
		done:   make(chan struct{}),
	}
}

// OnMessage registers a listener for delivered messages. Listeners run on
// the read loop goroutine and must not block.
func (c *Client) OnMessage(fn func(domain.Message)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Connect dials synchronously so a bad address fails fast, then keeps the
// channel alive in the background until Close or exhausted reconnects.
func (c *Client) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("session: client is closed")
	}
	c.cancel = cancel
	c.mu.Unlock()

	conn, err := c.dial(runCtx)
	if err != nil {
		cancel()
		return err
	}
	c.setConn(conn)

	go c.run(runCtx, conn)
	return nil
}

// Done closes when the client stops for good: explicit Close or reconnect
// attempts exhausted.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close disconnects and cancels any in-flight reconnect. Listeners are
// cleared; the client cannot be reused.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.listeners = nil
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("session: dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("session: dial %s: %w", c.url, err)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// run reads frames until the connection drops, then redials with backoff.
// Context cancellation (from Close) aborts both the read and the retries.
func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)

	for {
		c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		c.logger.Info("connection lost, reconnecting", zap.String("url", c.url))

		var next *websocket.Conn
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(c.cfg.ReconnectAttempts),
		)
		err := r.Do(func() error {
			var dErr error
			next, dErr = c.dial(ctx)
			return dErr
		})
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("reconnect exhausted", zap.Error(err))
			}
			return
		}

		c.setConn(next)
		conn = next
		c.logger.Info("reconnected", zap.String("url", c.url))
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	// Unblock ReadJSON when Close cancels the context.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case FrameConnected:
			c.logger.Debug("session confirmed", zap.String("session_id", frame.SessionID))
		case FrameMessage:
			if frame.Message == nil {
				continue
			}
			c.mu.Lock()
			listeners := make([]func(domain.Message), len(c.listeners))
			copy(listeners, c.listeners)
			c.mu.Unlock()
			for _, fn := range listeners {
				fn(*frame.Message)
			}
		}
	}
}
