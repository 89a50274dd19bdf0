package coach

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// LiveCallbacks receive events from a live connection. They run on the
// connection's read goroutine, one at a time, in arrival order.
type LiveCallbacks struct {
	OnOpen    func()
	OnMessage func(*LiveServerMessage)
	OnError   func(*CoachError)
	OnClose   func()
}

// LiveConnector opens realtime connections.
type LiveConnector interface {
	Connect(ctx context.Context, setup *LiveSetup, callbacks LiveCallbacks) (LiveConnection, error)
}

// LiveConnection is an open realtime connection.
type LiveConnection interface {
	// SendRealtimeInput queues one audio chunk without waiting for delivery.
	// It returns an error when the connection is already closed.
	SendRealtimeInput(chunk AudioChunk) error
	Close() error
}

// WebSocketConnector dials the BidiGenerateContent websocket endpoint.
type WebSocketConnector struct {
	config *CoachConfig
	dialer *websocket.Dialer
	logger *CoachLogger
}

// NewWebSocketConnector returns a connector for config's live endpoint.
func NewWebSocketConnector(config *CoachConfig) *WebSocketConnector {
	if config == nil {
		config = NewCoachConfig()
	}
	return &WebSocketConnector{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: config.ConnectTimeoutDuration(),
		},
		logger: GetGlobalLogger().WithComponent("WebSocketConnector"),
	}
}

func (wc *WebSocketConnector) endpointURL() (string, error) {
	u, err := url.Parse(wc.config.LiveEndpoint)
	if err != nil {
		return "", err
	}
	if wc.config.APIKey != "" {
		q := u.Query()
		q.Set("key", wc.config.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect dials the endpoint, sends setup and starts the read and write
// goroutines. OnOpen fires once the server acknowledges setup.
func (wc *WebSocketConnector) Connect(ctx context.Context, setup *LiveSetup, callbacks LiveCallbacks) (LiveConnection, error) {
	endpoint, err := wc.endpointURL()
	if err != nil {
		return nil, NewConnectionError("invalid live endpoint", err).AddDetail("endpoint", wc.config.LiveEndpoint)
	}

	dialCtx, cancel := context.WithTimeout(ctx, wc.config.ConnectTimeoutDuration())
	defer cancel()

	conn, resp, err := wc.dialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		cErr := NewConnectionError("failed to open live connection", err).AddDetail("endpoint", wc.config.LiveEndpoint)
		if resp != nil {
			cErr.AddDetail("status", resp.StatusCode)
		}
		return nil, cErr
	}

	client := &LiveClient{
		conn:      conn,
		callbacks: callbacks,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		state:     Dialing,
		debug:     wc.config.DebugWebsocket,
		logger:    GetGlobalLogger().WithComponent("LiveClient"),
	}

	payload, err := json.Marshal(setup.message())
	if err != nil {
		_ = conn.Close()
		return nil, NewConnectionError("failed to encode setup", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		_ = conn.Close()
		return nil, NewConnectionError("failed to send setup", err)
	}

	wc.logger.WithField("model", setup.Model).Debug("Live setup sent")

	go client.readPump()
	go client.writePump()
	return client, nil
}

// LiveClient is one open websocket to the realtime endpoint. A single write
// goroutine drains the outbound queue; a single read goroutine dispatches
// callbacks. The outbound queue is unbounded and sends never block.
type LiveClient struct {
	conn      *websocket.Conn
	callbacks LiveCallbacks
	pending   [][]byte
	wake      chan struct{}
	done      chan struct{}
	state     ConnectionState
	opened    bool
	closing   bool
	dropped   atomic.Int64
	debug     bool
	closeOnce sync.Once
	logger    *CoachLogger
	mu        sync.Mutex
}

func (c *LiveClient) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		var frame liveServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.WithError(NewMalformedPayloadError("unreadable server frame", err)).Warn("Skipping server frame")
			continue
		}

		if c.isClosing() {
			return
		}
		if c.debug {
			c.logger.WithFields(map[string]interface{}{
				"bytes":          len(data),
				"setup_complete": frame.SetupComplete != nil,
				"server_content": frame.ServerContent != nil,
			}).Debug("Received frame")
		}

		if frame.SetupComplete != nil {
			c.mu.Lock()
			c.opened = true
			c.state = Connected
			c.mu.Unlock()
			if c.callbacks.OnOpen != nil {
				c.callbacks.OnOpen()
			}
		}
		if frame.ServerContent != nil && c.callbacks.OnMessage != nil {
			c.callbacks.OnMessage(newLiveServerMessage(frame.ServerContent))
		}
		if frame.GoAway != nil {
			c.logger.WithField("time_left", frame.GoAway.TimeLeft).Warn("Server is going away")
		}
	}
}

func (c *LiveClient) handleReadError(err error) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	opened := c.opened
	c.mu.Unlock()

	_ = c.shutdown()

	var closeErr *websocket.CloseError
	isClose := errors.As(err, &closeErr)

	if opened && websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Debug("Live connection closed by server")
		if c.callbacks.OnClose != nil {
			c.callbacks.OnClose()
		}
		return
	}

	message := "live connection lost"
	if !opened {
		message = "live connection closed before setup completed"
	}
	cErr := NewConnectionError(message, err)
	if isClose {
		cErr.AddDetail("close_code", closeErr.Code).AddDetail("close_reason", closeErr.Text)
	}
	c.mu.Lock()
	c.state = ErrorState
	c.mu.Unlock()
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(cErr)
	}
}

func (c *LiveClient) writePump() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		for _, payload := range c.takePending() {
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !c.isClosing() {
					c.logger.WithError(err).Debug("Live write failed")
				}
				return
			}
		}
	}
}

func (c *LiveClient) takePending() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.pending
	c.pending = nil
	return batch
}

// SendRealtimeInput queues one audio chunk for the write goroutine. It never
// blocks and never discards a frame while the connection is open.
func (c *LiveClient) SendRealtimeInput(chunk AudioChunk) error {
	payload, err := json.Marshal(realtimeAudioMessage(chunk))
	if err != nil {
		return NewMalformedPayloadError("failed to encode audio frame", err)
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		n := c.dropped.Add(1)
		if c.debug {
			c.logger.Debugf("Live connection closed, dropped %d frame(s)", n)
		}
		return NewConnectionError("live connection closed", nil)
	}
	c.pending = append(c.pending, payload)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close sends a normal close frame and tears the socket down. No callbacks
// fire after Close returns. Safe to call more than once.
func (c *LiveClient) Close() error {
	c.mu.Lock()
	already := c.closing
	c.closing = true
	c.mu.Unlock()

	if !already {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	}
	return c.shutdown()
}

func (c *LiveClient) shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
		c.mu.Lock()
		if c.state != ErrorState {
			c.state = Disconnected
		}
		c.mu.Unlock()
	})
	return err
}

func (c *LiveClient) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// State reports where the connection is in its lifecycle.
func (c *LiveClient) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Backlog is the number of queued frames the write goroutine has not taken yet.
func (c *LiveClient) Backlog() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Dropped is the number of frames refused because the connection was closed.
func (c *LiveClient) Dropped() int64 {
	return c.dropped.Load()
}
