package coach

import "strings"

// Wire types for the BidiGenerateContent websocket. Field names follow the
// endpoint's camelCase JSON; binary payloads travel as base64 strings.

type liveClientMessage struct {
	Setup         *liveSetupMessage  `json:"setup,omitempty"`
	RealtimeInput *liveRealtimeInput `json:"realtimeInput,omitempty"`
}

type liveSetupMessage struct {
	Model                    string                `json:"model"`
	GenerationConfig         *liveGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *liveContent          `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}             `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}             `json:"outputAudioTranscription,omitempty"`
}

type liveGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type liveRealtimeInput struct {
	Audio *liveBlob `json:"audio,omitempty"`
}

type liveContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []livePart `json:"parts"`
}

type livePart struct {
	Text       string    `json:"text,omitempty"`
	InlineData *liveBlob `json:"inlineData,omitempty"`
}

type liveBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type liveServerFrame struct {
	SetupComplete *struct{}          `json:"setupComplete,omitempty"`
	ServerContent *liveServerContent `json:"serverContent,omitempty"`
	GoAway        *liveGoAway        `json:"goAway,omitempty"`
}

type liveServerContent struct {
	ModelTurn           *liveContent       `json:"modelTurn,omitempty"`
	TurnComplete        bool               `json:"turnComplete,omitempty"`
	Interrupted         bool               `json:"interrupted,omitempty"`
	InputTranscription  *liveTranscription `json:"inputTranscription,omitempty"`
	OutputTranscription *liveTranscription `json:"outputTranscription,omitempty"`
}

type liveTranscription struct {
	Text string `json:"text"`
}

type liveGoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// LiveSetup is what a realtime session asks the endpoint for.
type LiveSetup struct {
	Model             string
	SystemInstruction string
	AudioResponses    bool
	Transcribe        bool
}

func (s *LiveSetup) message() *liveClientMessage {
	model := s.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	setup := &liveSetupMessage{Model: model}
	if s.AudioResponses {
		setup.GenerationConfig = &liveGenerationConfig{ResponseModalities: []string{"AUDIO"}}
	}
	if s.SystemInstruction != "" {
		setup.SystemInstruction = &liveContent{Parts: []livePart{{Text: s.SystemInstruction}}}
	}
	if s.Transcribe {
		setup.InputAudioTranscription = &struct{}{}
		setup.OutputAudioTranscription = &struct{}{}
	}
	return &liveClientMessage{Setup: setup}
}

// LiveServerMessage is one decoded server content frame.
type LiveServerMessage struct {
	InputTranscript  string
	OutputTranscript string
	Audio            []InlineAudio
	Interrupted      bool
	TurnComplete     bool
}

// InlineAudio is one still-encoded audio part of a model turn.
type InlineAudio struct {
	MIMEType string
	Data     string
}

func newLiveServerMessage(content *liveServerContent) *LiveServerMessage {
	msg := &LiveServerMessage{
		Interrupted:  content.Interrupted,
		TurnComplete: content.TurnComplete,
	}
	if content.InputTranscription != nil {
		msg.InputTranscript = content.InputTranscription.Text
	}
	if content.OutputTranscription != nil {
		msg.OutputTranscript = content.OutputTranscription.Text
	}
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			if part.InlineData.MIMEType != "" && !strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
				continue
			}
			msg.Audio = append(msg.Audio, InlineAudio{
				MIMEType: part.InlineData.MIMEType,
				Data:     part.InlineData.Data,
			})
		}
	}
	return msg
}

func realtimeAudioMessage(chunk AudioChunk) *liveClientMessage {
	return &liveClientMessage{
		RealtimeInput: &liveRealtimeInput{
			Audio: &liveBlob{
				MIMEType: chunk.MIMEType,
				Data:     EncodeBinaryToText(chunk.Data),
			},
		},
	}
}
