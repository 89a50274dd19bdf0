// Package coach analyzes chess board screenshots with a hosted multimodal
// model and runs realtime voice conversations about the analyzed position.
//
// # Overview
//
// The package provides:
//   - One-shot board analysis returning a structured move suggestion
//   - A toggleable live voice session over the BidiGenerateContent websocket
//   - Microphone capture and gapless speaker playback through PortAudio
//   - Audio device listing and validation
//   - Structured logging with Zerolog
//
// # Board Analysis
//
//	config := coach.NewCoachConfig()
//	analyzer := coach.NewAnalyzer(config)
//
//	result, err := analyzer.AnalyzeFile(ctx, "board.png")
//	if err != nil {
//		fmt.Println(coach.UserMessage(err))
//		return
//	}
//	coach.RenderAnalysis(os.Stdout, result)
//
// Analyze also accepts a data URL ("data:image/png;base64,...") or bare
// base64. A response missing any of bestMove, explanation, evaluation or
// steps fails with a MalformedResponse error.
//
// # Voice Sessions
//
// A RealtimeSession owns the microphone, the speaker and the live connection
// while it runs. Toggle starts it when idle and stops it otherwise:
//
//	session := coach.NewRealtimeSession(config, coach.NewAudioConfig(), nil, nil)
//	session.SetAnalysisContext(result)
//	session.AddTranscriptHandler(coach.CreateTranscriptPrinter(os.Stdout))
//	session.AddStateHandler(coach.CreateStatePrinter(os.Stdout))
//
//	if err := session.Toggle(ctx); err != nil {
//		fmt.Println(coach.UserMessage(err))
//	}
//	defer session.Stop()
//
// The session goes Idle -> Connecting -> Active. It returns to Idle on Stop,
// on a remote close, or on any error; in each case every resource it holds is
// released. Microphone audio is sent as 16 kHz mono PCM, and model audio
// arrives as 24 kHz mono PCM which is queued back to back for playback.
// When the model reports an interruption, queued audio is cut off at once.
//
// # Configuration
//
// CoachConfig reads a .env file and the environment:
//
//	API_KEY (or GEMINI_API_KEY)
//	CHESSCOACH_ANALYSIS_MODEL, CHESSCOACH_LIVE_MODEL, CHESSCOACH_LIVE_ENDPOINT
//	CHESSCOACH_CONNECT_TIMEOUT, CHESSCOACH_DEBUG_LEVEL
//	CHESSCOACH_INPUT_DEVICE_ID, CHESSCOACH_OUTPUT_DEVICE_ID
//
// # Error Handling
//
// All failures are *CoachError values with a stable Code. Use errors.Is with
// the sentinel values, or IsErrorCode:
//
//	if errors.Is(err, coach.ErrMediaAcquisition) {
//		// no microphone or speaker
//	}
//
// UserMessage maps any error to the single line shown to the user.
package coach
