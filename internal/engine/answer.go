package engine

import (
	"context"
	"strings"
	"time"

	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/logger"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/opencoder"
)

// answer is what gets delivered back to the thread for one prompt.
type answer struct {
	text  string
	files []opencoder.Part
}

func (a answer) empty() bool {
	return a.text == "" && len(a.files) == 0
}

// extractAnswer pulls the user-visible output from a completed prompt
// response: final text parts joined, plus any file parts.
func extractAnswer(resp *opencoder.PromptResponse) answer {
	var a answer
	var texts []string

	for _, p := range resp.Parts {
		switch p.Type {
		case "text":
			if strings.TrimSpace(p.Text) != "" {
				texts = append(texts, p.Text)
			}
		case "file":
			a.files = append(a.files, p)
		}
	}

	a.text = strings.Join(texts, "\n\n")
	return a
}

// Relevance ranking for history messages when the prompt response
// itself carried no usable output. Exact weights are a heuristic, not
// load-bearing behavior.
const (
	scoreText      = 3
	scoreFile      = 2
	scoreReasoning = 1
)

// fallbackAnswer scans the session's recent messages for the most
// relevant assistant output: final text beats file output beats
// reasoning beats tool-only activity. Only messages created during the
// current run count, and the already-inspected response is excluded.
// Returns the "no output" notice when nothing qualifies.
func (e *Engine) fallbackAnswer(ctx context.Context, sessionID string, runStart time.Time, excludeID string) answer {
	msgs, err := e.backend.Messages(ctx, sessionID, e.cfg.HistoryScan)
	if err != nil {
		logger.Warn("history scan failed", "session", sessionID, "error", err)
		return answer{text: "The session finished but produced no output."}
	}

	cutoff := runStart.UnixMilli()

	var best answer
	bestScore := 0

	for _, m := range msgs {
		if m.Info.Role != "assistant" || m.Info.ID == excludeID {
			continue
		}
		if m.Info.Time.Created < cutoff {
			continue
		}

		cand, score := scoreMessage(m)
		if score >= bestScore && score > 0 {
			best = cand
			bestScore = score
		}
	}

	if bestScore == 0 {
		return answer{text: "The session finished but produced no output."}
	}

	return best
}

func scoreMessage(m opencoder.Message) (answer, int) {
	var texts, reasoning []string
	var files []opencoder.Part

	for _, p := range m.Parts {
		switch p.Type {
		case "text":
			if strings.TrimSpace(p.Text) != "" {
				texts = append(texts, p.Text)
			}
		case "file":
			files = append(files, p)
		case "reasoning":
			if strings.TrimSpace(p.Text) != "" {
				reasoning = append(reasoning, p.Text)
			}
		}
	}

	switch {
	case len(texts) > 0:
		return answer{text: strings.Join(texts, "\n\n"), files: files}, scoreText
	case len(files) > 0:
		return answer{files: files}, scoreFile
	case len(reasoning) > 0:
		return answer{text: strings.Join(reasoning, "\n\n")}, scoreReasoning
	}

	return answer{}, 0
}
