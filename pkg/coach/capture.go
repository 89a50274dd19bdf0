package coach

import (
	"sync"
	"sync/atomic"
)

// CapturePipeline turns microphone blocks into outbound PCM chunks. Every
// block is forwarded, silent or not.
type CapturePipeline struct {
	sampleRate int
	debugAudio bool
	input      InputStream
	running    bool
	frames     atomic.Int64
	logger     *CoachLogger
	mu         sync.Mutex
}

// NewCapturePipeline creates a stopped pipeline that labels chunks with
// sampleRate. A nil logger uses the global one.
func NewCapturePipeline(sampleRate int, logger *CoachLogger) *CapturePipeline {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return &CapturePipeline{
		sampleRate: sampleRate,
		logger:     logger.WithComponent("CapturePipeline"),
	}
}

// SetDebugAudio enables per-frame level logging.
func (c *CapturePipeline) SetDebugAudio(enabled bool) {
	c.mu.Lock()
	c.debugAudio = enabled
	c.mu.Unlock()
}

// Start wires input to onFrame. If input cannot start, a
// MediaAcquisitionError is returned and onFrame is never called.
func (c *CapturePipeline) Start(input InputStream, onFrame func(AudioChunk)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return NewCoachError("capture already running", ErrCodeMediaAcquisition)
	}

	mimeType := PCMMIMEType(c.sampleRate)
	debugAudio := c.debugAudio
	err := input.Start(func(samples []float32) {
		chunk := AudioChunk{
			Data:       PCMFloatToInt16(samples),
			SampleRate: c.sampleRate,
			Channels:   1,
			MIMEType:   mimeType,
		}
		n := c.frames.Add(1)
		if debugAudio {
			c.logger.Tracef("frame %d rms=%.4f", n, CalculateRMS(samples))
		}
		onFrame(chunk)
	})
	if err != nil {
		_ = input.Close()
		return NewMediaAcquisitionError("failed to start microphone capture", err)
	}

	c.input = input
	c.running = true
	c.logger.Info("Capture started")
	return nil
}

// Stop closes the input stream. Calling it when not running is a no-op.
func (c *CapturePipeline) Stop() error {
	c.mu.Lock()
	input := c.input
	wasRunning := c.running
	c.input = nil
	c.running = false
	c.mu.Unlock()

	if !wasRunning || input == nil {
		return nil
	}

	err := input.Close()
	c.logger.Infof("Capture stopped after %d frames", c.frames.Load())
	return err
}

// IsRunning reports whether frames are being forwarded.
func (c *CapturePipeline) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Frames is the number of blocks delivered so far.
func (c *CapturePipeline) Frames() int64 {
	return c.frames.Load()
}
