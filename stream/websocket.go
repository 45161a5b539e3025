package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	psync "github.com/marketflow/tvstream/pkg/sync"
	"github.com/marketflow/tvstream/types"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	pingWaitTimeout     = 10 * time.Second
)

// WebsocketController owns the engine's single connection: dialing, the read
// loop, heartbeat echo, write serialization, and capped exponential
// reconnect. On every successful dial it runs the injected onConnect hook
// (the session bootstrap) before marking the connection ready; data frames
// are handed to onMessage on the read-loop goroutine.
type WebsocketController struct {
	logger    zerolog.Logger
	url       string
	origin    string
	onConnect func() error
	onMessage func(payload []byte)

	maxAttempts  int
	reconnectCap time.Duration

	mtx       sync.Mutex
	conn      *websocket.Conn
	armed     bool // reconnect flag; cleared by Stop
	running   bool
	runCancel context.CancelFunc
	stopped   chan struct{}

	connected *psync.Event

	hbMtx         sync.Mutex
	lastHeartbeat time.Time

	pongCh chan struct{}
}

func newWebsocketController(
	url string,
	origin string,
	maxAttempts int,
	reconnectCap time.Duration,
	onConnect func() error,
	onMessage func(payload []byte),
	logger zerolog.Logger,
) *WebsocketController {
	return &WebsocketController{
		logger:       logger.With().Str("module", "websocket").Logger(),
		url:          url,
		origin:       origin,
		onConnect:    onConnect,
		onMessage:    onMessage,
		maxAttempts:  maxAttempts,
		reconnectCap: reconnectCap,
		connected:    psync.NewEvent(),
		pongCh:       make(chan struct{}, 1),
	}
}

// Start arms the reconnect flag and launches the connection loop. It returns
// immediately; callers block on WaitConnected.
func (c *WebsocketController) Start() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.armed = true
	if c.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	c.runCancel = cancel
	c.stopped = stopped
	c.running = true
	go func() {
		defer close(stopped)
		c.run(ctx)
	}()
}

// Stop clears the reconnect flag, closes the transport, and waits for the
// connection loop to exit. Safe to call repeatedly; must not be called from
// a dispatcher callback.
func (c *WebsocketController) Stop() {
	c.mtx.Lock()
	c.armed = false
	cancel := c.runCancel
	conn := c.conn
	c.conn = nil
	running := c.running
	stopped := c.stopped
	c.mtx.Unlock()

	c.connected.Clear()
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("error closing websocket")
		}
	}
	if cancel != nil {
		cancel()
	}
	if running && stopped != nil {
		<-stopped
	}
}

// IsConnected reports whether a bootstrap has completed on the current
// transport.
func (c *WebsocketController) IsConnected() bool {
	return c.connected.IsSet()
}

// WaitConnected blocks until the connected event is set or the timeout
// elapses.
func (c *WebsocketController) WaitConnected(timeout time.Duration) bool {
	return c.connected.Wait(timeout)
}

// LastHeartbeat returns the wall-clock time of the last server heartbeat.
func (c *WebsocketController) LastHeartbeat() time.Time {
	c.hbMtx.Lock()
	defer c.hbMtx.Unlock()
	return c.lastHeartbeat
}

// run dials, bootstraps, and pumps the read loop, retrying with
// min(cap, 2^n) second delays until the flag is cleared or maxAttempts
// consecutive failures accumulate.
func (c *WebsocketController) run(ctx context.Context) {
	defer func() {
		c.mtx.Lock()
		c.running = false
		c.mtx.Unlock()
	}()

	retry := &backoff.Backoff{
		Min:    time.Second,
		Max:    c.reconnectCap,
		Factor: 2,
	}
	failures := 0

	for {
		if ctx.Err() != nil || !c.isArmed() {
			return
		}

		conn, err := c.dial()
		if err == nil {
			err = c.onConnect()
			if err != nil {
				conn.Close()
			}
		}

		if err != nil {
			failures++
			c.logger.Err(err).Int("failures", failures).Msg("websocket connect failed")
			if failures >= c.maxAttempts {
				c.logger.Error().
					Int("max_attempts", c.maxAttempts).
					Msg("giving up reconnecting; a fresh connect call is required")
				c.disarm()
				return
			}
			if !c.sleep(ctx, retry.Duration()) {
				return
			}
			continue
		}

		failures = 0
		retry.Reset()
		c.connected.Set()
		c.logger.Info().Str("url", c.url).Msg("websocket connected")

		err = c.readLoop(conn)
		c.connected.Clear()

		if ctx.Err() != nil || !c.isArmed() {
			return
		}

		telemetryWebsocketReconnect()
		c.logger.Err(err).Msg("websocket closed unexpectedly; reconnecting")
		if !c.sleep(ctx, retry.Duration()) {
			return
		}
	}
}

func (c *WebsocketController) isArmed() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.armed
}

// disarm clears the flag and drops the connection from inside the run loop,
// where Stop would deadlock waiting on the loop itself.
func (c *WebsocketController) disarm() {
	c.mtx.Lock()
	c.armed = false
	conn := c.conn
	c.conn = nil
	c.mtx.Unlock()

	c.connected.Clear()
	if conn != nil {
		conn.Close()
	}
}

func (c *WebsocketController) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *WebsocketController) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: defaultDialTimeout,
	}
	header := http.Header{}
	header.Set("Origin", c.origin)

	conn, resp, err := dialer.Dial(c.url, header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", types.ErrTransport, c.url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	conn.SetPongHandler(func(string) error {
		select {
		case c.pongCh <- struct{}{}:
		default:
		}
		return nil
	})

	c.mtx.Lock()
	if !c.armed {
		c.mtx.Unlock()
		conn.Close()
		return nil, fmt.Errorf("%w: controller stopped during dial", types.ErrTransport)
	}
	c.conn = conn
	c.mtx.Unlock()
	return conn, nil
}

// readLoop pumps the transport until it fails. Heartbeats are echoed
// byte-for-byte before any further outbound frame; payloads go to the
// dispatcher. A framing violation terminates the connection.
func (c *WebsocketController) readLoop(conn *websocket.Conn) error {
	for {
		_, bz, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: read: %w", types.ErrTransport, err)
		}

		frames, err := decodeFrames(bz)
		if err != nil {
			c.logger.Err(err).Msg("framing violation; dropping connection")
			conn.Close()
			return err
		}

		for _, frame := range frames {
			if frame.Heartbeat {
				c.recordHeartbeat()
				if err := c.sendRaw(frame.Raw); err != nil {
					c.logger.Err(err).Msg("failed to echo heartbeat")
				}
				continue
			}
			c.onMessage(frame.Payload)
		}
	}
}

func (c *WebsocketController) recordHeartbeat() {
	telemetryHeartbeat()
	c.hbMtx.Lock()
	c.lastHeartbeat = time.Now()
	c.hbMtx.Unlock()
}

// SendMessage serializes msg into a single data frame and writes it under
// the send lock.
func (c *WebsocketController) SendMessage(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", msg.Method, err)
	}
	if err := c.sendRaw(encodeFrame(payload)); err != nil {
		return err
	}

	telemetryWebsocketMessage(directionOutbound, MessageTypeControl)
	return nil
}

func (c *WebsocketController) sendRaw(bz []byte) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.conn == nil {
		return fmt.Errorf("%w: not connected", types.ErrTransport)
	}
	c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, bz); err != nil {
		return fmt.Errorf("%w: send: %w", types.ErrTransport, err)
	}
	return nil
}

// Ping measures a websocket-level round trip on the live connection.
func (c *WebsocketController) Ping(ctx context.Context) (time.Duration, error) {
	c.mtx.Lock()
	conn := c.conn
	c.mtx.Unlock()
	if conn == nil || !c.IsConnected() {
		return 0, fmt.Errorf("%w: not connected", types.ErrTransport)
	}

	// drain a stale pong so we measure our own
	select {
	case <-c.pongCh:
	default:
	}

	start := time.Now()
	err := conn.WriteControl(websocket.PingMessage, []byte("tvstream"), time.Now().Add(defaultWriteTimeout))
	if err != nil {
		return 0, fmt.Errorf("%w: ping: %w", types.ErrTransport, err)
	}

	wait := pingWaitTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < wait {
		wait = time.Until(dl)
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-c.pongCh:
		return time.Since(start), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
		return 0, fmt.Errorf("%w: ping after %s", types.ErrWaitTimeout, wait)
	}
}
