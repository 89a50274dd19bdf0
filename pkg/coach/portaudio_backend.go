package coach

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PortAudioBackend opens microphone and speaker streams through PortAudio.
type PortAudioBackend struct {
	inputDeviceID  *int
	outputDeviceID *int
	logger         *CoachLogger
}

// NewPortAudioBackend uses the devices named in config, or the defaults.
func NewPortAudioBackend(config *CoachConfig) *PortAudioBackend {
	if config == nil {
		config = NewCoachConfig()
	}
	return &PortAudioBackend{
		inputDeviceID:  config.InputDeviceID,
		outputDeviceID: config.OutputDeviceID,
		logger:         GetGlobalLogger().WithComponent("PortAudioBackend"),
	}
}

// OpenInput opens a mono microphone stream delivering frameSize samples per callback.
func (b *PortAudioBackend) OpenInput(sampleRate, frameSize int) (InputStream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, NewMediaAcquisitionError("failed to initialize audio", err)
	}

	dev, err := resolveDevice(b.inputDeviceID, true)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, NewMediaAcquisitionError("no microphone available", err)
	}

	in := &portAudioInput{logger: b.logger}
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = frameSize

	stream, err := portaudio.OpenStream(params, in.process)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, NewMediaAcquisitionError("failed to open microphone stream", err).
			AddDetail("device", dev.Name).
			AddDetail("sample_rate", sampleRate)
	}
	in.stream = stream

	b.logger.WithFields(map[string]interface{}{
		"device":      dev.Name,
		"sample_rate": sampleRate,
		"frame_size":  frameSize,
	}).Debug("Microphone opened")
	return in, nil
}

// OpenOutput opens and starts a speaker stream.
func (b *PortAudioBackend) OpenOutput(sampleRate, channels int) (OutputGraph, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, NewMediaAcquisitionError("failed to initialize audio", err)
	}

	dev, err := resolveDevice(b.outputDeviceID, false)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, NewMediaAcquisitionError("no speaker available", err)
	}

	out := newPortAudioOutput(sampleRate, channels)
	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = channels
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = portaudio.FramesPerBufferUnspecified

	stream, err := portaudio.OpenStream(params, out.render)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, NewMediaAcquisitionError("failed to open speaker stream", err).
			AddDetail("device", dev.Name).
			AddDetail("sample_rate", sampleRate)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, NewMediaAcquisitionError("failed to start speaker stream", err)
	}
	out.stream = stream

	b.logger.WithFields(map[string]interface{}{
		"device":      dev.Name,
		"sample_rate": sampleRate,
		"channels":    channels,
	}).Debug("Speaker opened")
	return out, nil
}

func resolveDevice(id *int, input bool) (*portaudio.DeviceInfo, error) {
	if id == nil {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if *id < 0 || *id >= len(devices) {
		return nil, fmt.Errorf("device with ID %d not found", *id)
	}
	dev := devices[*id]
	if input && dev.MaxInputChannels < 1 {
		return nil, fmt.Errorf("device '%s' is not an input device", dev.Name)
	}
	if !input && dev.MaxOutputChannels < 1 {
		return nil, fmt.Errorf("device '%s' is not an output device", dev.Name)
	}
	return dev, nil
}

// portAudioInput is a callback stream delivering mono blocks. Start and
// Close are serialized so a stream is never started after it was closed.
type portAudioInput struct {
	stream  *portaudio.Stream
	handler atomic.Pointer[func([]float32)]
	logger  *CoachLogger
	closed  bool
	mu      sync.Mutex
}

func (p *portAudioInput) process(in []float32) {
	if fn := p.handler.Load(); fn != nil {
		(*fn)(in)
	}
}

func (p *portAudioInput) Start(onFrame func([]float32)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("microphone stream already closed")
	}
	p.handler.Store(&onFrame)
	return p.stream.Start()
}

func (p *portAudioInput) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.handler.Store(nil)
	if err := p.stream.Stop(); err != nil {
		p.logger.WithError(err).Debug("Microphone stream stop failed")
	}
	err := p.stream.Close()
	_ = portaudio.Terminate()
	return err
}

// portAudioOutput mixes scheduled sources into one output stream. Its clock
// is the number of frames rendered so far.
type portAudioOutput struct {
	stream     *portaudio.Stream
	sampleRate int
	channels   int
	frame      int64
	sources    []*paSource
	closed     bool
	once       sync.Once
	mu         sync.Mutex
}

type paSource struct {
	out        *portAudioOutput
	buf        *AudioBuffer
	startFrame int64
	pos        int
	stopped    bool
	onEnded    func()
}

func newPortAudioOutput(sampleRate, channels int) *portAudioOutput {
	return &portAudioOutput{
		sampleRate: sampleRate,
		channels:   channels,
	}
}

func (o *portAudioOutput) CurrentTime() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return float64(o.frame) / float64(o.sampleRate)
}

func (o *portAudioOutput) Schedule(buf *AudioBuffer, at float64, onEnded func()) (PlaybackHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, NewCoachError("output graph closed", ErrCodeMediaAcquisition)
	}
	if buf.SampleRate != o.sampleRate {
		return nil, NewConfigError("buffer sample rate does not match output").
			AddDetail("buffer_rate", buf.SampleRate).
			AddDetail("output_rate", o.sampleRate)
	}

	src := &paSource{
		out:        o,
		buf:        buf,
		startFrame: int64(math.Round(at * float64(o.sampleRate))),
		onEnded:    onEnded,
	}
	o.sources = append(o.sources, src)
	return src, nil
}

// render is the stream callback. out is interleaved by channel.
func (o *portAudioOutput) render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	o.mu.Lock()
	frames := len(out) / o.channels
	var ended []*paSource
	live := o.sources[:0]

	for _, src := range o.sources {
		if src.stopped {
			continue
		}
		length := src.buf.Length()
		nch := src.buf.NumberOfChannels()
		for i := 0; i < frames && src.pos < length; i++ {
			if o.frame+int64(i) < src.startFrame {
				continue
			}
			for ch := 0; ch < o.channels; ch++ {
				srcCh := ch
				if srcCh >= nch {
					srcCh = nch - 1
				}
				out[i*o.channels+ch] += src.buf.Data[srcCh][src.pos]
			}
			src.pos++
		}
		if src.pos >= length {
			ended = append(ended, src)
			continue
		}
		live = append(live, src)
	}
	for i := len(live); i < len(o.sources); i++ {
		o.sources[i] = nil
	}
	o.sources = live
	o.frame += int64(frames)
	o.mu.Unlock()

	for _, src := range ended {
		if src.onEnded != nil {
			src.onEnded()
		}
	}
}

func (s *paSource) Stop() {
	s.out.mu.Lock()
	s.stopped = true
	s.out.mu.Unlock()
}

func (o *portAudioOutput) Close() error {
	var err error
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.sources = nil
		o.mu.Unlock()

		if o.stream == nil {
			return
		}
		if stopErr := o.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		if closeErr := o.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		_ = portaudio.Terminate()
	})
	return err
}
