package coach

import "fmt"

const systemInstructionTemplate = "You are a Grandmaster Chess coach. A user has uploaded a board screenshot. " +
	"The analysis suggests the best move is: %s. Evaluation: %s. Context: %s. " +
	"Engage in a friendly, high-level strategic conversation. " +
	"If they ask \"Why?\", explain the tactical benefits."

// BuildSystemInstruction returns the coaching persona for a voice session.
// A nil analysis, or empty fields, fall back to neutral placeholders.
func BuildSystemInstruction(analysis *AnalysisResult) string {
	bestMove, evaluation, explanation := "Unknown", "N/A", "No additional info"
	if analysis != nil {
		bestMove = orDefault(analysis.BestMove, bestMove)
		evaluation = orDefault(analysis.Evaluation, evaluation)
		explanation = orDefault(analysis.Explanation, explanation)
	}
	return fmt.Sprintf(systemInstructionTemplate, bestMove, evaluation, explanation)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
