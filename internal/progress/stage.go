package progress

import (
	"strings"

	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/opencoder"
)

const maxDetailLen = 80

// StageForPart maps a streamed message part onto a stage/detail pair.
// Parts that carry no user-visible progress return ok=false.
func StageForPart(p opencoder.Part) (stage, detail string, ok bool) {
	switch p.Type {
	case "reasoning":
		return "Thinking", tail(p.Text), true

	case "tool":
		name := p.Tool
		if name == "" {
			name = "tool"
		}
		status := ""
		title := ""
		if p.State != nil {
			status = p.State.Status
			title = p.State.Title
		}
		switch status {
		case "completed":
			return "Finished " + name, truncate(title), true
		case "error":
			return "Tool failed: " + name, truncate(title), true
		default:
			return "Running " + name, truncate(title), true
		}

	case "text":
		return "Writing reply", tail(p.Text), true

	case "patch":
		return "Applying changes", "", true

	case "file":
		return "Producing file", truncate(p.Filename), true

	case "step-start":
		return "Working", "", true
	}

	return "", "", false
}

// tail keeps the last line so the detail tracks the newest delta.
func tail(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	return truncate(text)
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxDetailLen {
		return s
	}
	return string(runes[:maxDetailLen]) + "…"
}
