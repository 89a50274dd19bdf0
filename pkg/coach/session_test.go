package coach

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

type sessionRecorder struct {
	mu          sync.Mutex
	states      []SessionState
	transcripts []TranscriptEntry
	errs        []*CoachError
}

func (r *sessionRecorder) attach(s *RealtimeSession) {
	s.AddStateHandler(func(state SessionState) {
		r.mu.Lock()
		r.states = append(r.states, state)
		r.mu.Unlock()
	})
	s.AddTranscriptHandler(func(entry TranscriptEntry) {
		r.mu.Lock()
		r.transcripts = append(r.transcripts, entry)
		r.mu.Unlock()
	})
	s.AddErrorHandler(func(err *CoachError) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	})
}

func (r *sessionRecorder) States() []SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SessionState(nil), r.states...)
}

func (r *sessionRecorder) Errors() []*CoachError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*CoachError(nil), r.errs...)
}

func newTestSession() (*RealtimeSession, *fakeBackend, *fakeConnector, *sessionRecorder) {
	config := NewCoachConfig()
	config.LiveModel = "test-live-model"
	backend := newFakeBackend()
	connector := &fakeConnector{}
	s := NewRealtimeSession(config, NewAudioConfig(), backend, connector)
	rec := &sessionRecorder{}
	rec.attach(s)
	return s, backend, connector, rec
}

// startActive toggles s on and completes the live handshake.
func startActive(t *testing.T, s *RealtimeSession, connector *fakeConnector) LiveCallbacks {
	t.Helper()
	if err := s.Toggle(context.Background()); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if s.State() != Connecting {
		t.Fatalf("expected connecting before open, got %s", s.State())
	}
	cb := connector.Callbacks(connector.Calls() - 1)
	cb.OnOpen()
	if s.State() != Active {
		t.Fatalf("expected active after open, got %s", s.State())
	}
	return cb
}

func sameStates(got, want []SessionState) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestSessionToggleStartsAndStops(t *testing.T) {
	s, backend, connector, rec := newTestSession()
	s.SetAnalysisContext(&AnalysisResult{BestMove: "Qh5", Evaluation: "+1.2", Explanation: "Attacks f7"})

	startActive(t, s, connector)

	if backend.outputRate != 24000 || backend.channels != 1 {
		t.Fatalf("speaker opened at %d Hz x%d", backend.outputRate, backend.channels)
	}
	if backend.inputRate != 16000 || backend.frameSize != 4096 {
		t.Fatalf("microphone opened at %d Hz, %d frames", backend.inputRate, backend.frameSize)
	}

	setup := connector.Setup(0)
	if setup.Model != "test-live-model" || !setup.AudioResponses || !setup.Transcribe {
		t.Fatalf("unexpected setup %+v", setup)
	}
	if !strings.Contains(setup.SystemInstruction, "Qh5") || !strings.Contains(setup.SystemInstruction, "Attacks f7") {
		t.Fatalf("analysis missing from instruction: %q", setup.SystemInstruction)
	}
	if _, err := uuid.Parse(s.SessionID()); err != nil {
		t.Fatalf("session id is not a uuid: %q", s.SessionID())
	}

	if !backend.input.Started() {
		t.Fatalf("capture not started on open")
	}
	backend.input.Emit(make([]float32, 4096))
	sent := connector.Conn(0).Sent()
	if len(sent) != 1 || len(sent[0].Data) != 8192 || sent[0].MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("unexpected outbound audio %+v", sent)
	}

	if s.ConnectionState() != Connected {
		t.Fatalf("expected connected, got %s", s.ConnectionState())
	}

	if err := s.Toggle(context.Background()); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if s.State() != Idle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	if s.ConnectionState() != Disconnected {
		t.Fatalf("expected no connection after stop, got %s", s.ConnectionState())
	}
	if !connector.Conn(0).Closed() || !backend.input.Closed() || !backend.output.IsClosed() {
		t.Fatalf("resources not released")
	}
	if !sameStates(rec.States(), []SessionState{Connecting, Active, Idle}) {
		t.Fatalf("unexpected state sequence %v", rec.States())
	}
	if s.LastError() != nil {
		t.Fatalf("user stop must not record an error")
	}

	// frames after stop go nowhere
	backend.input.Emit(make([]float32, 16))
	if len(connector.Conn(0).Sent()) != 1 {
		t.Fatalf("frame sent after stop")
	}
}

func TestSessionToggleWhileConnectingStops(t *testing.T) {
	s, backend, connector, rec := newTestSession()
	connector.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- s.Toggle(context.Background()) }()

	waitFor(t, "dial", func() bool { return connector.Calls() == 1 })
	if !s.IsConnecting() {
		t.Fatalf("expected connecting, got %s", s.State())
	}

	if err := s.Toggle(context.Background()); err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("superseded start should return nil, got %v", err)
	}

	if s.State() != Idle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	if !backend.input.Closed() || !backend.output.IsClosed() {
		t.Fatalf("microphone and speaker must be released")
	}
	if connector.Conns() != 0 {
		t.Fatalf("no connection should have been established")
	}
	if len(rec.Errors()) != 0 {
		t.Fatalf("cancelled start must not report errors: %v", rec.Errors())
	}

	// a late open from the abandoned attempt is ignored
	connector.Callbacks(0).OnOpen()
	if s.State() != Idle {
		t.Fatalf("stale open changed state to %s", s.State())
	}
}

func TestSessionStopWhenIdleIsNoop(t *testing.T) {
	s, _, connector, rec := newTestSession()

	s.Stop()
	s.Stop()

	if s.State() != Idle || connector.Calls() != 0 || len(rec.States()) != 0 {
		t.Fatalf("stop on idle session should do nothing")
	}
}

func TestSessionSpeakerFailure(t *testing.T) {
	s, backend, _, rec := newTestSession()
	backend.outputErr = NewMediaAcquisitionError("no speaker available", nil)

	err := s.Toggle(context.Background())
	if !errors.Is(err, ErrMediaAcquisition) {
		t.Fatalf("expected media acquisition error, got %v", err)
	}
	if s.State() != Idle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	if backend.InputOpens() != 0 {
		t.Fatalf("microphone should not be opened after speaker failure")
	}
	if !errors.Is(s.LastError(), ErrMediaAcquisition) {
		t.Fatalf("last error not recorded: %v", s.LastError())
	}
	if len(rec.Errors()) != 1 {
		t.Fatalf("expected one error notification, got %d", len(rec.Errors()))
	}
}

func TestSessionMicrophoneFailureReleasesSpeaker(t *testing.T) {
	s, backend, connector, _ := newTestSession()
	backend.inputErr = errors.New("permission denied")

	err := s.Toggle(context.Background())
	if !errors.Is(err, ErrMediaAcquisition) {
		t.Fatalf("expected media acquisition error, got %v", err)
	}
	if !backend.output.IsClosed() {
		t.Fatalf("speaker not released")
	}
	if connector.Calls() != 0 {
		t.Fatalf("should not connect without a microphone")
	}
}

func TestSessionConnectFailure(t *testing.T) {
	s, backend, connector, _ := newTestSession()
	connector.err = errors.New("dial tcp: refused")

	err := s.Toggle(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if s.State() != Idle || !backend.input.Closed() || !backend.output.IsClosed() {
		t.Fatalf("failed connect must leave the session idle and released")
	}
}

func TestSessionRemoteErrorStops(t *testing.T) {
	s, backend, connector, rec := newTestSession()
	cb := startActive(t, s, connector)

	cb.OnError(NewConnectionError("live connection lost", nil))

	if s.State() != Idle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	if !connector.Conn(0).Closed() || !backend.input.Closed() || !backend.output.IsClosed() {
		t.Fatalf("resources not released on remote error")
	}
	if !errors.Is(s.LastError(), ErrConnection) || len(rec.Errors()) != 1 {
		t.Fatalf("error not surfaced")
	}

	cb.OnMessage(&LiveServerMessage{OutputTranscript: "too late"})
	if len(s.Transcript()) != 0 {
		t.Fatalf("message after stop was applied")
	}
}

func TestSessionRemoteCloseStops(t *testing.T) {
	s, _, connector, rec := newTestSession()
	cb := startActive(t, s, connector)

	cb.OnClose()

	if s.State() != Idle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	if s.LastError() != nil || len(rec.Errors()) != 0 {
		t.Fatalf("a clean close is not an error")
	}
}

func TestSessionMessagesFeedTranscriptAndPlayback(t *testing.T) {
	s, backend, connector, rec := newTestSession()
	cb := startActive(t, s, connector)

	cb.OnMessage(&LiveServerMessage{
		OutputTranscript: "Qh5 attacks f7.",
		InputTranscript:  "Why that move?",
		Audio:            []InlineAudio{{MIMEType: "audio/pcm;rate=24000", Data: silence(4800)}},
	})
	cb.OnMessage(&LiveServerMessage{Audio: []InlineAudio{{Data: silence(2400)}, {Data: silence(2400)}}})

	entries := s.Transcript()
	if len(entries) != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", len(entries))
	}
	if entries[0].Speaker != SpeakerModel || entries[0].Label() != "AI" {
		t.Fatalf("first entry should be the model: %+v", entries[0])
	}
	if entries[1].Speaker != SpeakerUser || entries[1].Label() != "You" {
		t.Fatalf("second entry should be the user: %+v", entries[1])
	}
	if len(rec.transcripts) != 2 {
		t.Fatalf("transcript handlers not called")
	}

	handles := backend.output.Handles()
	if len(handles) != 3 {
		t.Fatalf("expected 3 scheduled chunks, got %d", len(handles))
	}
	wantStarts := []float64{0, 0.2, 0.3}
	for i, h := range handles {
		if diff := h.at - wantStarts[i]; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("chunk %d at %v, want %v", i, h.at, wantStarts[i])
		}
	}
	if s.Pending() != 3 {
		t.Fatalf("expected 3 pending, got %d", s.Pending())
	}

	cb.OnMessage(&LiveServerMessage{Interrupted: true})
	if s.Pending() != 0 {
		t.Fatalf("interrupt should clear playback, %d pending", s.Pending())
	}
	for i, h := range handles {
		if !h.Stopped() {
			t.Fatalf("chunk %d still playing after interrupt", i)
		}
	}
}

func TestSessionSkipsBadAudio(t *testing.T) {
	s, backend, connector, rec := newTestSession()
	cb := startActive(t, s, connector)

	cb.OnMessage(&LiveServerMessage{Audio: []InlineAudio{
		{Data: "%%%"},
		{Data: EncodeBinaryToText([]byte{1, 2, 3})},
		{Data: silence(240)},
	}})

	if len(backend.output.Handles()) != 1 {
		t.Fatalf("only the valid chunk should be scheduled")
	}
	if s.State() != Active || len(rec.Errors()) != 0 {
		t.Fatalf("bad audio must not end the session")
	}
}

func TestSessionRestartResetsTranscript(t *testing.T) {
	s, _, connector, _ := newTestSession()
	cb := startActive(t, s, connector)
	cb.OnMessage(&LiveServerMessage{OutputTranscript: "hello"})
	firstID := s.SessionID()
	s.Stop()

	if len(s.Transcript()) != 1 {
		t.Fatalf("transcript should survive until the next start")
	}

	startActive(t, s, connector)
	if len(s.Transcript()) != 0 {
		t.Fatalf("new session should start with an empty transcript")
	}
	if s.SessionID() == firstID {
		t.Fatalf("each session needs its own id")
	}

	// callbacks from the first connection no longer apply
	cb.OnError(NewConnectionError("old socket died", nil))
	if s.State() != Active {
		t.Fatalf("stale error stopped the new session")
	}
}

func TestSessionRemoveHandler(t *testing.T) {
	s, _, connector, _ := newTestSession()

	calls := 0
	remove := s.AddStateHandler(func(SessionState) { calls++ })
	remove()
	remove()

	startActive(t, s, connector)
	if calls != 0 {
		t.Fatalf("removed handler was called %d times", calls)
	}
}
