package coach

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// sessionResources are the things a running session owns. They are detached
// under the session lock and released after it is dropped, because audio
// callbacks may be waiting on that lock.
type sessionResources struct {
	conn     LiveConnection
	capture  *CapturePipeline
	input    InputStream
	playback *PlaybackScheduler
	output   OutputGraph
}

func (r *sessionResources) release(logger *CoachLogger) {
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			logger.WithError(err).Debug("Live connection close failed")
		}
	}
	if r.capture != nil {
		if err := r.capture.Stop(); err != nil {
			logger.WithError(err).Debug("Capture stop failed")
		}
	}
	if r.input != nil {
		if err := r.input.Close(); err != nil {
			logger.WithError(err).Debug("Microphone close failed")
		}
	}
	if r.playback != nil {
		if err := r.playback.Close(); err != nil {
			logger.WithError(err).Debug("Speaker close failed")
		}
	} else if r.output != nil {
		if err := r.output.Close(); err != nil {
			logger.WithError(err).Debug("Speaker close failed")
		}
	}
}

// RealtimeSession is one toggleable voice conversation with the coach. It
// owns the microphone, the speaker and the live connection while running.
//
// Every start bumps an epoch; callbacks and in-flight starts carrying an old
// epoch are ignored, so a stop always wins over whatever was in progress.
type RealtimeSession struct {
	config      *CoachConfig
	audioConfig *AudioConfig
	backend     AudioBackend
	connector   LiveConnector
	logger      *CoachLogger

	state         SessionState
	epoch         uint64
	sessionID     string
	analysis      *AnalysisResult
	transcript    *TranscriptLog
	lastErr       *CoachError
	cancelConnect context.CancelFunc
	resources     sessionResources

	stateHandlers      handlerList[StateHandler]
	transcriptHandlers handlerList[TranscriptHandler]
	errorHandlers      handlerList[ErrorHandler]

	mu sync.Mutex
}

// NewRealtimeSession creates an idle session. Nil arguments get defaults:
// PortAudio devices and the websocket connector.
func NewRealtimeSession(config *CoachConfig, audioConfig *AudioConfig, backend AudioBackend, connector LiveConnector) *RealtimeSession {
	if config == nil {
		config = NewCoachConfig()
	}
	if audioConfig == nil {
		audioConfig = NewAudioConfig()
	}
	if backend == nil {
		backend = NewPortAudioBackend(config)
	}
	if connector == nil {
		connector = NewWebSocketConnector(config)
	}

	return &RealtimeSession{
		config:      config,
		audioConfig: audioConfig,
		backend:     backend,
		connector:   connector,
		logger:      GetGlobalLogger().WithComponent("RealtimeSession"),
		state:       Idle,
		transcript:  NewTranscriptLog(),
	}
}

// SetAnalysisContext sets the analysis the next session's instruction is built from.
func (s *RealtimeSession) SetAnalysisContext(analysis *AnalysisResult) {
	s.mu.Lock()
	s.analysis = analysis
	s.mu.Unlock()
}

// Toggle starts a session when idle and stops it otherwise. A failed start
// tears down whatever was acquired and returns the error; a start cut short
// by a concurrent Stop returns nil.
func (s *RealtimeSession) Toggle(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		s.Stop()
		return nil
	}

	s.epoch++
	epoch := s.epoch
	s.state = Connecting
	s.sessionID = uuid.NewString()
	s.transcript = NewTranscriptLog()
	s.lastErr = nil
	connectCtx, cancel := context.WithCancel(ctx)
	s.cancelConnect = cancel
	analysis := s.analysis
	logger := s.logger.WithField("session_id", s.sessionID)
	s.mu.Unlock()

	logger.LogSessionEvent("start", Connecting, nil)
	s.emitState(Connecting)

	if err := s.start(connectCtx, epoch, analysis, logger); err != nil {
		cErr := WrapError(err, ErrCodeUnknown)
		if s.fail(epoch, cErr) {
			return cErr
		}
	}
	return nil
}

func (s *RealtimeSession) start(ctx context.Context, epoch uint64, analysis *AnalysisResult, logger *CoachLogger) error {
	output, err := s.backend.OpenOutput(s.audioConfig.OutputSampleRate, s.audioConfig.Channels)
	if err != nil {
		return WrapError(err, ErrCodeMediaAcquisition)
	}
	if !s.attach(epoch, func(r *sessionResources) {
		r.output = output
		r.playback = NewPlaybackScheduler(output, logger)
	}) {
		_ = output.Close()
		return nil
	}

	input, err := s.backend.OpenInput(s.audioConfig.InputSampleRate, s.audioConfig.FrameSize)
	if err != nil {
		return WrapError(err, ErrCodeMediaAcquisition)
	}
	if !s.attach(epoch, func(r *sessionResources) { r.input = input }) {
		_ = input.Close()
		return nil
	}

	setup := &LiveSetup{
		Model:             s.config.LiveModel,
		SystemInstruction: BuildSystemInstruction(analysis),
		AudioResponses:    true,
		Transcribe:        true,
	}
	conn, err := s.connector.Connect(ctx, setup, LiveCallbacks{
		OnOpen:    func() { s.onOpen(epoch) },
		OnMessage: func(msg *LiveServerMessage) { s.onMessage(epoch, msg) },
		OnError:   func(cErr *CoachError) { s.fail(epoch, cErr) },
		OnClose:   func() { s.onClose(epoch) },
	})
	if err != nil {
		if !s.current(epoch) {
			return nil
		}
		return WrapError(err, ErrCodeConnectionFailed)
	}
	if !s.attach(epoch, func(r *sessionResources) { r.conn = conn }) {
		_ = conn.Close()
		return nil
	}

	logger.WithField("model", setup.Model).Debug("Live connection established")
	return nil
}

// attach stores a freshly acquired resource if epoch is still current.
func (s *RealtimeSession) attach(epoch uint64, store func(*sessionResources)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch || s.state == Idle {
		return false
	}
	store(&s.resources)
	return true
}

func (s *RealtimeSession) current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == epoch && s.state != Idle
}

func (s *RealtimeSession) onOpen(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != Connecting {
		s.mu.Unlock()
		return
	}
	s.state = Active
	input := s.resources.input
	capture := NewCapturePipeline(s.audioConfig.InputSampleRate, s.logger)
	capture.SetDebugAudio(s.config.DebugAudio)
	s.resources.capture = capture
	logger := s.logger.WithField("session_id", s.sessionID)
	s.mu.Unlock()

	logger.LogSessionEvent("open", Active, nil)
	s.emitState(Active)

	if input == nil {
		return
	}
	err := capture.Start(input, func(chunk AudioChunk) { s.sendFrame(epoch, chunk) })
	if err != nil {
		s.fail(epoch, WrapError(err, ErrCodeMediaAcquisition))
	}
}

// sendFrame forwards one microphone chunk. Frames arriving before the
// connection is stored, or after the session moved on, are dropped.
func (s *RealtimeSession) sendFrame(epoch uint64, chunk AudioChunk) {
	s.mu.Lock()
	var conn LiveConnection
	if s.epoch == epoch {
		conn = s.resources.conn
	}
	s.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.SendRealtimeInput(chunk)
}

func (s *RealtimeSession) onMessage(epoch uint64, msg *LiveServerMessage) {
	s.mu.Lock()
	if s.epoch != epoch || s.state == Idle {
		s.mu.Unlock()
		return
	}
	transcript := s.transcript
	playback := s.resources.playback
	s.mu.Unlock()

	if msg.OutputTranscript != "" {
		s.emitTranscript(transcript.Append(SpeakerModel, msg.OutputTranscript))
	}
	if msg.InputTranscript != "" {
		s.emitTranscript(transcript.Append(SpeakerUser, msg.InputTranscript))
	}

	for _, part := range msg.Audio {
		s.playAudio(playback, part)
	}

	if msg.Interrupted && playback != nil {
		playback.Interrupt()
	}
}

func (s *RealtimeSession) playAudio(playback *PlaybackScheduler, part InlineAudio) {
	if playback == nil {
		return
	}
	data, err := DecodeTextToBinary(part.Data)
	if err != nil {
		s.logger.WithError(err).Warnf("Skipping undecodable audio chunk (%d chars)", len(part.Data))
		return
	}
	buf, err := DecodeInt16ToAudioBuffer(data, s.audioConfig.OutputSampleRate, s.audioConfig.Channels)
	if err != nil {
		s.logger.WithError(err).Warnf("Skipping malformed audio chunk (%d bytes)", len(data))
		return
	}
	if _, err := playback.Enqueue(buf); err != nil {
		s.logger.WithError(err).Debug("Audio chunk not scheduled")
	}
}

func (s *RealtimeSession) onClose(epoch uint64) {
	if s.stopEpoch(epoch, nil) {
		s.logger.Info("Live connection closed by server")
	}
}

// fail stops the session for epoch with err. It reports whether err was
// applied, i.e. the session had not already moved on.
func (s *RealtimeSession) fail(epoch uint64, err *CoachError) bool {
	return s.stopEpoch(epoch, err)
}

// Stop ends the session and releases every resource. Safe in any state.
func (s *RealtimeSession) Stop() {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()
	s.stopEpoch(epoch, nil)
}

func (s *RealtimeSession) stopEpoch(epoch uint64, cause *CoachError) bool {
	s.mu.Lock()
	if s.epoch != epoch || s.state == Idle {
		s.mu.Unlock()
		return false
	}
	resources := s.resources
	s.resources = sessionResources{}
	cancel := s.cancelConnect
	s.cancelConnect = nil
	s.state = Idle
	s.epoch++
	if cause != nil {
		s.lastErr = cause
	}
	logger := s.logger.WithField("session_id", s.sessionID)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	resources.release(logger)

	if cause != nil {
		logger.LogError(cause)
	}
	logger.LogSessionEvent("stop", Idle, nil)
	s.emitState(Idle)
	if cause != nil {
		s.emitError(cause)
	}
	return true
}

func (s *RealtimeSession) emitState(state SessionState) {
	for _, h := range s.stateHandlers.snapshot() {
		h(state)
	}
}

func (s *RealtimeSession) emitTranscript(entry TranscriptEntry) {
	for _, h := range s.transcriptHandlers.snapshot() {
		h(entry)
	}
}

func (s *RealtimeSession) emitError(err *CoachError) {
	for _, h := range s.errorHandlers.snapshot() {
		h(err)
	}
}

// AddStateHandler registers a state handler and returns a func that removes it.
func (s *RealtimeSession) AddStateHandler(handler StateHandler) func() {
	return s.stateHandlers.add(handler)
}

// AddTranscriptHandler registers a handler for new transcript entries and
// returns a func that removes it.
func (s *RealtimeSession) AddTranscriptHandler(handler TranscriptHandler) func() {
	return s.transcriptHandlers.add(handler)
}

// AddErrorHandler registers a handler for errors that end a session and
// returns a func that removes it.
func (s *RealtimeSession) AddErrorHandler(handler ErrorHandler) func() {
	return s.errorHandlers.add(handler)
}

// State returns the current session state.
func (s *RealtimeSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive reports whether the coach is listening.
func (s *RealtimeSession) IsActive() bool {
	return s.State() == Active
}

// IsConnecting reports whether a start is in progress.
func (s *RealtimeSession) IsConnecting() bool {
	return s.State() == Connecting
}

// ConnectionState reports the live connection's state, or Disconnected when
// the session holds no connection.
func (s *RealtimeSession) ConnectionState() ConnectionState {
	s.mu.Lock()
	conn := s.resources.conn
	s.mu.Unlock()

	if stater, ok := conn.(interface{ State() ConnectionState }); ok {
		return stater.State()
	}
	return Disconnected
}

// Transcript returns the current (or most recent) session's entries.
func (s *RealtimeSession) Transcript() []TranscriptEntry {
	s.mu.Lock()
	transcript := s.transcript
	s.mu.Unlock()
	return transcript.Entries()
}

// LastError is the error that ended the most recent session, if any.
func (s *RealtimeSession) LastError() *CoachError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SessionID identifies the current or most recent session.
func (s *RealtimeSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Pending is the number of audio chunks scheduled or playing.
func (s *RealtimeSession) Pending() int {
	s.mu.Lock()
	playback := s.resources.playback
	s.mu.Unlock()

	if playback == nil {
		return 0
	}
	return playback.Pending()
}
