package coach

import (
	"fmt"
	"io"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// DefaultTranscriptLines is how many transcript lines are shown at once.
const DefaultTranscriptLines = 3

// RenderAnalysis prints a suggestion for a terminal. When the model returned
// a readable FEN, the position is drawn as well.
func RenderAnalysis(w io.Writer, result *AnalysisResult) error {
	if result == nil {
		_, err := fmt.Fprintln(w, "No analysis available.")
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Best move:  %s\n", result.BestMove)
	fmt.Fprintf(&sb, "Evaluation: %s\n", result.Evaluation)
	if result.Explanation != "" {
		fmt.Fprintf(&sb, "\n%s\n", strings.TrimSpace(result.Explanation))
	}
	if len(result.Steps) > 0 {
		sb.WriteString("\nMain line:\n")
		for i, step := range result.Steps {
			fmt.Fprintf(&sb, "  %d. %s\n", i+1, step)
		}
	}

	if result.DetectedPosition != "" {
		if board, turn, ok := drawPosition(result.DetectedPosition); ok {
			fmt.Fprintf(&sb, "\nPosition (%s to move):\n%s", turn, board)
		} else {
			fmt.Fprintf(&sb, "\nPosition: %s\n", result.DetectedPosition)
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func drawPosition(fen string) (board, turn string, ok bool) {
	opt, err := nchess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return "", "", false
	}
	position := nchess.NewGame(opt).Position()
	if position == nil || position.Board() == nil {
		return "", "", false
	}
	turn = "Black"
	if position.Turn() == nchess.White {
		turn = "White"
	}
	return position.Board().Draw(), turn, true
}

// RenderTranscript prints the last limit entries as "AI: ..." / "You: ...".
// A limit of zero or less uses DefaultTranscriptLines.
func RenderTranscript(w io.Writer, entries []TranscriptEntry, limit int) error {
	if limit <= 0 {
		limit = DefaultTranscriptLines
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	for _, entry := range entries {
		if _, err := fmt.Fprintf(w, "%s: %s\n", entry.Label(), strings.TrimSpace(entry.Text)); err != nil {
			return err
		}
	}
	return nil
}
