package coach

// AudioBackend opens the microphone and speaker graphs a session owns.
// Both methods fail with a MediaAcquisitionError when no usable device exists.
type AudioBackend interface {
	OpenInput(sampleRate, frameSize int) (InputStream, error)
	OpenOutput(sampleRate, channels int) (OutputGraph, error)
}

// InputStream delivers fixed-size blocks of mono float samples.
type InputStream interface {
	// Start begins delivering frames. onFrame runs on the audio thread and
	// must not block; the slice is only valid for the duration of the call.
	Start(onFrame func(samples []float32)) error
	// Close stops delivery and releases the device. Safe to call repeatedly.
	Close() error
}

// OutputGraph renders scheduled buffers against its own clock.
type OutputGraph interface {
	// CurrentTime is the render clock in seconds since the graph opened.
	CurrentTime() float64
	// Schedule plays buf starting at the absolute render time at. onEnded is
	// called from the render loop when the buffer has played out naturally;
	// it is never called from Schedule itself or after Stop.
	Schedule(buf *AudioBuffer, at float64, onEnded func()) (PlaybackHandle, error)
	// Close stops all output and releases the device. Safe to call repeatedly.
	Close() error
}

// PlaybackHandle is one buffer queued on an OutputGraph.
type PlaybackHandle interface {
	Stop()
}
