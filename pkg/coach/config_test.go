package coach

import (
	"bytes"
	"strings"
	"testing"
)

func TestCoachConfigFromEnv(t *testing.T) {
	t.Setenv("API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "gemini-fallback-key")
	t.Setenv("CHESSCOACH_LIVE_MODEL", "custom-live")
	t.Setenv("CHESSCOACH_INPUT_DEVICE_ID", "3")
	t.Setenv("CHESSCOACH_OUTPUT_DEVICE_ID", "")
	t.Setenv("CHESSCOACH_ANALYSIS_MODEL", "")
	t.Setenv("CHESSCOACH_DEBUG_AUDIO", "true")

	config := NewCoachConfig()
	if config.APIKey != "gemini-fallback-key" {
		t.Fatalf("expected GEMINI_API_KEY fallback, got %q", config.APIKey)
	}
	if config.LiveModel != "custom-live" {
		t.Fatalf("live model not read from env: %q", config.LiveModel)
	}
	if config.AnalysisModel != DefaultAnalysisModel {
		t.Fatalf("analysis model should keep its default, got %q", config.AnalysisModel)
	}
	if config.InputDeviceID == nil || *config.InputDeviceID != 3 {
		t.Fatalf("input device id not parsed")
	}
	if config.OutputDeviceID != nil {
		t.Fatalf("output device should default")
	}
	if !config.DebugAudio {
		t.Fatalf("debug audio not read from env")
	}
}

func TestCoachConfigValidate(t *testing.T) {
	t.Setenv("API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	config := NewCoachConfig()
	config.LiveEndpoint = "http://example.com"
	config.ConnectTimeout = 0
	config.DebugLevel = "LOUD"

	issues := strings.Join(config.Validate(), "\n")
	for _, want := range []string{"API_KEY", "endpoint", "timeout", "LOUD"} {
		if !strings.Contains(issues, want) {
			t.Fatalf("missing issue %q in:\n%s", want, issues)
		}
	}
}

func TestPrintConfigMasksKey(t *testing.T) {
	config := NewCoachConfig()
	config.APIKey = "AIzaSyExampleExampleKey"

	var buf bytes.Buffer
	config.PrintConfig(&buf)
	if strings.Contains(buf.String(), config.APIKey) {
		t.Fatalf("API key printed in clear")
	}
	if !strings.Contains(buf.String(), "AIza****eKey") {
		t.Fatalf("masked key missing:\n%s", buf.String())
	}
}

func TestAudioConfigDefaults(t *testing.T) {
	a := NewAudioConfig()
	if a.InputSampleRate != 16000 || a.OutputSampleRate != 24000 || a.Channels != 1 || a.FrameSize != 4096 {
		t.Fatalf("unexpected defaults %+v", a)
	}
	if a.InputMIMEType() != "audio/pcm;rate=16000" {
		t.Fatalf("unexpected MIME type %q", a.InputMIMEType())
	}
	if err := ValidateAudioConfig(a); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	a.FrameSize = 0
	if err := ValidateAudioConfig(a); err == nil {
		t.Fatalf("zero frame size should fail")
	}
}
