package coach

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestLiveSetupMessage(t *testing.T) {
	setup := &LiveSetup{Model: "models/already-prefixed", AudioResponses: true}
	data, err := json.Marshal(setup.message())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(data)

	if !strings.Contains(body, `"model":"models/already-prefixed"`) {
		t.Fatalf("model prefix doubled or missing: %s", body)
	}
	if strings.Contains(body, "systemInstruction") || strings.Contains(body, "Transcription") {
		t.Fatalf("unset fields should be omitted: %s", body)
	}
	if strings.Contains(body, "realtimeInput") {
		t.Fatalf("setup must not carry realtime input: %s", body)
	}
}

func TestNewLiveServerMessageKeepsOnlyAudio(t *testing.T) {
	var frame liveServerFrame
	raw := `{"serverContent":{
		"inputTranscription":{"text":"why?"},
		"outputTranscription":{"text":"because"},
		"turnComplete":true,
		"modelTurn":{"parts":[
			{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AAAA"}},
			{"inlineData":{"mimeType":"image/png","data":"BBBB"}},
			{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":""}},
			{"inlineData":{"data":"CCCC"}},
			{"text":"thinking"}
		]}}}`
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	msg := newLiveServerMessage(frame.ServerContent)
	if msg.InputTranscript != "why?" || msg.OutputTranscript != "because" || !msg.TurnComplete || msg.Interrupted {
		t.Fatalf("unexpected message %+v", msg)
	}
	if len(msg.Audio) != 2 || msg.Audio[0].Data != "AAAA" || msg.Audio[1].Data != "CCCC" {
		t.Fatalf("unexpected audio parts %+v", msg.Audio)
	}
}

func TestRealtimeAudioMessage(t *testing.T) {
	chunk := AudioChunk{Data: []byte{0, 1}, MIMEType: "audio/pcm;rate=16000"}
	data, err := json.Marshal(realtimeAudioMessage(chunk))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"realtimeInput":{"audio":{"mimeType":"audio/pcm;rate=16000","data":"AAE="}}}`
	if string(data) != want {
		t.Fatalf("got %s want %s", data, want)
	}
}
