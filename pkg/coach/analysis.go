package coach

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"

	"google.golang.org/genai"
)

const defaultImageMIMEType = "image/png"

const analysisPrompt = "Analyze this chess board screenshot. " +
	"1. Identify the current position of all pieces. " +
	"2. Determine whose turn it is (assume White if not clear, but look for UI indicators). " +
	"3. Suggest the single best move in standard algebraic notation (e.g., \"Nf3\", \"O-O\", \"exd5\"). " +
	"4. Provide a brief strategic explanation. " +
	"5. Give a rough evaluation (e.g., +1.2, -0.5, Mate in 3). " +
	"6. Provide a sequence of the next 3-5 calculated best moves (the main line) as an array of strings. " +
	"Return the response in JSON format."

// analysisSchema constrains the model to the AnalysisResult shape.
var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"bestMove":    {Type: genai.TypeString},
		"explanation": {Type: genai.TypeString},
		"evaluation":  {Type: genai.TypeString},
		"steps": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeString},
			Description: "Sequence of calculated next moves (e.g. ['Nf3', 'd5', 'c4'])",
		},
		"detectedPosition": {
			Type:        genai.TypeString,
			Description: "The position in FEN notation if possible",
		},
	},
	Required: []string{"bestMove", "explanation", "evaluation", "steps"},
}

// ContentGenerator is the one model call the analyzer makes. *genai.Models
// satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Analyzer turns board screenshots into move suggestions.
type Analyzer struct {
	config    *CoachConfig
	generator ContentGenerator
	logger    *CoachLogger
	mu        sync.Mutex
}

// NewAnalyzer returns an analyzer backed by the Gemini API. The client is
// created on first use, so a missing credential surfaces as an
// InferenceError from Analyze rather than here.
func NewAnalyzer(config *CoachConfig) *Analyzer {
	if config == nil {
		config = NewCoachConfig()
	}
	return &Analyzer{
		config: config,
		logger: GetGlobalLogger().WithComponent("Analyzer"),
	}
}

// NewAnalyzerWithGenerator returns an analyzer that calls generator instead of
// creating a Gemini client.
func NewAnalyzerWithGenerator(config *CoachConfig, generator ContentGenerator) *Analyzer {
	a := NewAnalyzer(config)
	a.generator = generator
	return a
}

func (a *Analyzer) contentGenerator(ctx context.Context) (ContentGenerator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.generator != nil {
		return a.generator, nil
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  a.config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if a.config.APIBaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: a.config.APIBaseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, err
	}
	a.generator = client.Models
	return a.generator, nil
}

// Analyze sends one screenshot, given as raw base64 or a data URL, and
// returns the parsed suggestion. There are no retries.
func (a *Analyzer) Analyze(ctx context.Context, image string) (*AnalysisResult, error) {
	mimeType, payload, err := ParseDataURL(image)
	if err != nil {
		return nil, err
	}
	data, err := DecodeTextToBinary(payload)
	if err != nil {
		return nil, err
	}

	generator, err := a.contentGenerator(ctx)
	if err != nil {
		return nil, NewInferenceError("failed to create model client", err)
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: analysisPrompt},
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
		},
	}}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   analysisSchema,
	}

	logger := a.logger.WithFields(map[string]interface{}{
		"model":      a.config.AnalysisModel,
		"mime_type":  mimeType,
		"image_size": len(data),
	})
	logger.Debug("Requesting board analysis")

	resp, err := generator.GenerateContent(ctx, a.config.AnalysisModel, contents, config)
	if err != nil {
		cErr := NewInferenceError("analysis request failed", err).AddDetail("model", a.config.AnalysisModel)
		logger.LogError(cErr)
		return nil, cErr
	}
	if resp == nil {
		return nil, NewMalformedResponseError("empty analysis response", nil)
	}

	result, err := parseAnalysis(resp.Text())
	if err != nil {
		logger.WithError(err).Warn("Unusable analysis response")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"best_move":  result.BestMove,
		"evaluation": result.Evaluation,
	}).Info("Board analyzed")
	return result, nil
}

// AnalyzeFile reads a screenshot from disk and analyzes it.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (*AnalysisResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewConfigError("cannot read screenshot").AddDetail("path", path).withCause(err)
	}
	return a.Analyze(ctx, EncodeDataURL(DetectImageMIMEType(data), data))
}

// rawAnalysis uses pointers so absent required fields can be told apart
// from empty ones.
type rawAnalysis struct {
	BestMove         *string   `json:"bestMove"`
	Evaluation       *string   `json:"evaluation"`
	Explanation      *string   `json:"explanation"`
	Steps            *[]string `json:"steps"`
	DetectedPosition string    `json:"detectedPosition"`
}

func parseAnalysis(text string) (*AnalysisResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, NewMalformedResponseError("empty analysis response", nil)
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, NewMalformedResponseError("analysis response is not valid JSON", err)
	}

	var missing []string
	if raw.BestMove == nil {
		missing = append(missing, "bestMove")
	}
	if raw.Explanation == nil {
		missing = append(missing, "explanation")
	}
	if raw.Evaluation == nil {
		missing = append(missing, "evaluation")
	}
	if raw.Steps == nil {
		missing = append(missing, "steps")
	}
	if len(missing) > 0 {
		return nil, NewMalformedResponseError("analysis response missing required fields", nil).
			AddDetail("missing", strings.Join(missing, ","))
	}

	return &AnalysisResult{
		BestMove:         *raw.BestMove,
		Evaluation:       *raw.Evaluation,
		Explanation:      *raw.Explanation,
		Steps:            append([]string(nil), (*raw.Steps)...),
		DetectedPosition: raw.DetectedPosition,
	}, nil
}

// ParseDataURL splits "data:<mime>;base64,<payload>" into its MIME type and
// payload. Anything else is treated as a bare base64 PNG. An image with no
// payload is a MalformedPayload error.
func ParseDataURL(image string) (mimeType, payload string, err error) {
	image = strings.TrimSpace(image)
	if !strings.HasPrefix(image, "data:") {
		if image == "" {
			return "", "", NewMalformedPayloadError("image is empty", nil)
		}
		return defaultImageMIMEType, image, nil
	}

	header, payload, found := strings.Cut(image, ",")
	payload = strings.TrimSpace(payload)
	if !found || payload == "" {
		return "", "", NewMalformedPayloadError("data URL has no payload", nil).AddDetail("header", header)
	}
	mimeType = strings.TrimPrefix(header, "data:")
	mimeType, _, _ = strings.Cut(mimeType, ";")
	if mimeType == "" {
		mimeType = defaultImageMIMEType
	}
	return mimeType, payload, nil
}

// EncodeDataURL builds a base64 data URL for data.
func EncodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + EncodeBinaryToText(data)
}

// DetectImageMIMEType sniffs a screenshot's format, defaulting to PNG.
func DetectImageMIMEType(data []byte) string {
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return defaultImageMIMEType
	}
	return mimeType
}
