package coach

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAnalysisModel = "gemini-3-flash-preview"
	DefaultLiveModel     = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultLiveEndpoint  = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
)

// CoachConfig holds model, endpoint and debug settings
type CoachConfig struct {
	APIKey          string  `json:"-"`
	AnalysisModel   string  `json:"analysis_model"`
	LiveModel       string  `json:"live_model"`
	LiveEndpoint    string  `json:"live_endpoint"`
	APIBaseURL      string  `json:"api_base_url,omitempty"`
	ConnectTimeout  float64 `json:"connect_timeout"`
	DebugLevel      string  `json:"debug_level"`
	DebugWebsocket  bool    `json:"debug_websocket"`
	DebugAudio      bool    `json:"debug_audio"`
	InputDeviceID   *int    `json:"input_device_id,omitempty"`
	OutputDeviceID  *int    `json:"output_device_id,omitempty"`
	TranscriptLines int     `json:"transcript_lines"`
}

// NewCoachConfig creates a configuration from defaults, .env and the environment
func NewCoachConfig() *CoachConfig {
	c := &CoachConfig{
		AnalysisModel:   DefaultAnalysisModel,
		LiveModel:       DefaultLiveModel,
		LiveEndpoint:    DefaultLiveEndpoint,
		ConnectTimeout:  10.0,
		DebugLevel:      "INFO",
		TranscriptLines: DefaultTranscriptLines,
	}

	// Load from env
	c.loadFromEnv()

	return c
}

func (c *CoachConfig) loadFromEnv() {
	// Load .env if exists
	_ = godotenv.Load()

	c.APIKey = os.Getenv("API_KEY")
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if model := os.Getenv("CHESSCOACH_ANALYSIS_MODEL"); model != "" {
		c.AnalysisModel = model
	}
	if model := os.Getenv("CHESSCOACH_LIVE_MODEL"); model != "" {
		c.LiveModel = model
	}
	if endpoint := os.Getenv("CHESSCOACH_LIVE_ENDPOINT"); endpoint != "" {
		c.LiveEndpoint = endpoint
	}
	c.APIBaseURL = os.Getenv("CHESSCOACH_API_BASE_URL")

	if timeout := os.Getenv("CHESSCOACH_CONNECT_TIMEOUT"); timeout != "" {
		if val, err := strconv.ParseFloat(timeout, 64); err == nil {
			c.ConnectTimeout = val
		}
	}

	if level := os.Getenv("CHESSCOACH_DEBUG_LEVEL"); level != "" {
		c.DebugLevel = strings.ToUpper(level)
	}

	c.DebugWebsocket = os.Getenv("CHESSCOACH_DEBUG_WEBSOCKET") == "true"
	c.DebugAudio = os.Getenv("CHESSCOACH_DEBUG_AUDIO") == "true"

	c.InputDeviceID = envInt("CHESSCOACH_INPUT_DEVICE_ID")
	c.OutputDeviceID = envInt("CHESSCOACH_OUTPUT_DEVICE_ID")

	if lines := envInt("CHESSCOACH_TRANSCRIPT_LINES"); lines != nil {
		c.TranscriptLines = *lines
	}
}

func envInt(key string) *int {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &val
}

// ConnectTimeoutDuration converts ConnectTimeout (seconds) to a time.Duration.
func (c *CoachConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout * float64(time.Second))
}

// Validate returns list of issues. A missing API key is reported but never
// enforced: the remote endpoint rejects the request instead.
func (c *CoachConfig) Validate() []string {
	issues := []string{}

	if c.APIKey == "" {
		issues = append(issues, "API_KEY environment variable not set")
	}

	if !strings.HasPrefix(c.LiveEndpoint, "ws") {
		issues = append(issues, "Invalid live endpoint format")
	}

	if c.ConnectTimeout <= 0 {
		issues = append(issues, "Connect timeout must be positive")
	}

	validLevels := []string{"TRACE", "DEBUG", "INFO", "WARNING", "WARN", "ERROR"}
	found := false
	for _, level := range validLevels {
		if level == c.DebugLevel {
			found = true
			break
		}
	}
	if !found {
		issues = append(issues, fmt.Sprintf("Invalid debug level: %s", c.DebugLevel))
	}

	return issues
}

// PrintConfig writes the configuration with the API key masked
func (c *CoachConfig) PrintConfig(w io.Writer) {
	fmt.Fprintln(w, "Chess Coach Configuration")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "API Key: %s\n", MaskSecret(c.APIKey))
	fmt.Fprintf(w, "Analysis Model: %s\n", c.AnalysisModel)
	fmt.Fprintf(w, "Live Model: %s\n", c.LiveModel)
	fmt.Fprintf(w, "Live Endpoint: %s\n", c.LiveEndpoint)
	if c.APIBaseURL != "" {
		fmt.Fprintf(w, "API Base URL: %s\n", c.APIBaseURL)
	}
	fmt.Fprintf(w, "Connect Timeout: %.1fs\n", c.ConnectTimeout)
	fmt.Fprintf(w, "Debug Level: %s\n", c.DebugLevel)
	fmt.Fprintf(w, "Debug WebSocket: %t\n", c.DebugWebsocket)
	fmt.Fprintf(w, "Debug Audio: %t\n", c.DebugAudio)
	fmt.Fprintf(w, "Transcript Lines: %d\n", c.TranscriptLines)

	if c.InputDeviceID != nil {
		fmt.Fprintf(w, "Input Device ID: %d\n", *c.InputDeviceID)
	} else {
		fmt.Fprintln(w, "Input Device: Default")
	}
	if c.OutputDeviceID != nil {
		fmt.Fprintf(w, "Output Device ID: %d\n", *c.OutputDeviceID)
	} else {
		fmt.Fprintln(w, "Output Device: Default")
	}
}

// MaskSecret hides all but the edges of a credential.
func MaskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// AudioConfig fixes the sample formats on both directions of a session.
type AudioConfig struct {
	InputSampleRate  int
	OutputSampleRate int
	Channels         int
	FrameSize        int
}

// NewAudioConfig returns the default capture and playback formats
func NewAudioConfig() *AudioConfig {
	return &AudioConfig{
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
		Channels:         1,
		FrameSize:        4096,
	}
}

// InputMIMEType is the MIME type of outbound microphone chunks.
func (a *AudioConfig) InputMIMEType() string {
	return PCMMIMEType(a.InputSampleRate)
}

// PCMMIMEType returns the raw PCM MIME type for sampleRate.
func PCMMIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// ValidateAudioConfig checks that rates, channels and frame size are usable
func ValidateAudioConfig(config *AudioConfig) error {
	if config.InputSampleRate <= 0 || config.OutputSampleRate <= 0 {
		return NewConfigError("Invalid sample rate")
	}
	if config.Channels <= 0 {
		return NewConfigError("Invalid channel count")
	}
	if config.FrameSize <= 0 {
		return NewConfigError("Invalid frame size")
	}
	return nil
}
