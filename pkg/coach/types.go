package coach

import "time"

// AnalysisResult is the structured answer for one analyzed screenshot.
type AnalysisResult struct {
	BestMove         string   `json:"bestMove"`
	Evaluation       string   `json:"evaluation"`
	Explanation      string   `json:"explanation"`
	Steps            []string `json:"steps"`
	DetectedPosition string   `json:"detectedPosition,omitempty"`
}

// SessionState enum
type SessionState string

const (
	Idle       SessionState = "idle"
	Connecting SessionState = "connecting"
	Active     SessionState = "active"
)

// String returns the state name
func (s SessionState) String() string {
	return string(s)
}

// ConnectionState enum for the live websocket
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Dialing      ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	ErrorState   ConnectionState = "error"
)

// Speaker tags a transcript entry.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// TranscriptEntry is one line of spoken text, tagged by who said it.
type TranscriptEntry struct {
	Speaker   Speaker
	Text      string
	Timestamp time.Time
}

// Label returns the prefix shown in front of the entry.
func (e TranscriptEntry) Label() string {
	if e.Speaker == SpeakerUser {
		return "You"
	}
	return "AI"
}

// AudioChunk is one unit of 16-bit little-endian PCM exchanged with the endpoint.
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Channels   int
	MIMEType   string
}

// Handler types
type StateHandler func(SessionState)
type TranscriptHandler func(TranscriptEntry)
type ErrorHandler func(*CoachError)
