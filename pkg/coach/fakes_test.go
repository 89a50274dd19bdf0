package coach

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	SetGlobalLogger(NewNopLogger())
	os.Exit(m.Run())
}

// fakeGraph is an OutputGraph with a manually advanced clock.
type fakeGraph struct {
	mu          sync.Mutex
	now         float64
	handles     []*fakeHandle
	closed      bool
	scheduleErr error
}

type fakeHandle struct {
	graph   *fakeGraph
	buf     *AudioBuffer
	at      float64
	onEnded func()
	stopped bool
	ended   bool
}

func (g *fakeGraph) CurrentTime() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now
}

func (g *fakeGraph) Schedule(buf *AudioBuffer, at float64, onEnded func()) (PlaybackHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scheduleErr != nil {
		return nil, g.scheduleErr
	}
	if g.closed {
		return nil, NewCoachError("output graph closed", ErrCodeMediaAcquisition)
	}
	h := &fakeHandle{graph: g, buf: buf, at: at, onEnded: onEnded}
	g.handles = append(g.handles, h)
	return h, nil
}

func (g *fakeGraph) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return nil
}

// Advance moves the clock to now and fires onEnded for every source that
// has played out and was not stopped.
func (g *fakeGraph) Advance(now float64) {
	g.mu.Lock()
	g.now = now
	var ended []*fakeHandle
	for _, h := range g.handles {
		if h.stopped || h.ended {
			continue
		}
		if h.at+h.buf.Duration() <= now {
			h.ended = true
			ended = append(ended, h)
		}
	}
	g.mu.Unlock()

	for _, h := range ended {
		if h.onEnded != nil {
			h.onEnded()
		}
	}
}

func (g *fakeGraph) Handles() []*fakeHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*fakeHandle, len(g.handles))
	copy(out, g.handles)
	return out
}

func (g *fakeGraph) IsClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func (h *fakeHandle) Stop() {
	h.graph.mu.Lock()
	h.stopped = true
	h.graph.mu.Unlock()
}

func (h *fakeHandle) Stopped() bool {
	h.graph.mu.Lock()
	defer h.graph.mu.Unlock()
	return h.stopped
}

// fakeInput is an InputStream driven by Emit.
type fakeInput struct {
	mu       sync.Mutex
	onFrame  func([]float32)
	started  bool
	closed   int
	startErr error
}

func (f *fakeInput) Start(onFrame func([]float32)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	f.onFrame = onFrame
	return nil
}

func (f *fakeInput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.onFrame = nil
	return nil
}

func (f *fakeInput) Emit(samples []float32) {
	f.mu.Lock()
	fn := f.onFrame
	f.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

func (f *fakeInput) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeInput) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed > 0
}

type fakeBackend struct {
	mu         sync.Mutex
	input      *fakeInput
	output     *fakeGraph
	inputErr   error
	outputErr  error
	inputRate  int
	frameSize  int
	outputRate int
	channels   int
	inputOpens int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{input: &fakeInput{}, output: &fakeGraph{}}
}

func (b *fakeBackend) OpenInput(sampleRate, frameSize int) (InputStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputOpens++
	if b.inputErr != nil {
		return nil, b.inputErr
	}
	b.inputRate, b.frameSize = sampleRate, frameSize
	return b.input, nil
}

func (b *fakeBackend) OpenOutput(sampleRate, channels int) (OutputGraph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.outputErr != nil {
		return nil, b.outputErr
	}
	b.outputRate, b.channels = sampleRate, channels
	return b.output, nil
}

func (b *fakeBackend) InputOpens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inputOpens
}

// fakeConnector records every Connect and hands back fakeConns. When block
// is set, Connect waits for it or for ctx.
type fakeConnector struct {
	mu        sync.Mutex
	err       error
	block     chan struct{}
	setups    []*LiveSetup
	callbacks []LiveCallbacks
	conns     []*fakeConn
}

func (c *fakeConnector) Connect(ctx context.Context, setup *LiveSetup, callbacks LiveCallbacks) (LiveConnection, error) {
	c.mu.Lock()
	c.setups = append(c.setups, setup)
	c.callbacks = append(c.callbacks, callbacks)
	block := c.block
	err := c.err
	c.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return nil, NewConnectionError("dial cancelled", ctx.Err())
		case <-block:
		}
	}
	if err != nil {
		return nil, err
	}

	conn := &fakeConn{}
	c.mu.Lock()
	c.conns = append(c.conns, conn)
	c.mu.Unlock()
	return conn, nil
}

func (c *fakeConnector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.setups)
}

func (c *fakeConnector) Setup(i int) *LiveSetup {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setups[i]
}

func (c *fakeConnector) Callbacks(i int) LiveCallbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callbacks[i]
}

func (c *fakeConnector) Conn(i int) *fakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns[i]
}

func (c *fakeConnector) Conns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

type fakeConn struct {
	mu     sync.Mutex
	sent   []AudioChunk
	closed int
}

func (c *fakeConn) SendRealtimeInput(chunk AudioChunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed > 0 {
		return NewConnectionError("closed", nil)
	}
	c.sent = append(c.sent, chunk)
	return nil
}

func (c *fakeConn) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed > 0 {
		return Disconnected
	}
	return Connected
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Sent() []AudioChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AudioChunk, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed > 0
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// silence returns n zero samples of 16-bit PCM as base64.
func silence(n int) string {
	return EncodeBinaryToText(make([]byte, n*2))
}
