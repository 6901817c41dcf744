package engine

import (
	"context"
	"encoding/base64"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/binding"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/logger"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/opencoder"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/tgerr"
)

// Telegram caps messages at 4096 chars; stay under it so formatting
// entities never straddle the cut.
const maxChunkLen = 4000

// deliverAnswer sends the final answer to the thread: text first (in
// chunks), then file outputs as documents.
func (e *Engine) deliverAnswer(ctx context.Context, b *binding.Binding, ans answer) error {
	for _, chunk := range splitChunks(ans.text, maxChunkLen) {
		if err := e.sendFinal(ctx, b, chunk); err != nil {
			return err
		}
	}

	for _, f := range ans.files {
		if err := e.sendFile(ctx, b, f); err != nil {
			logger.Warn("file delivery failed", "session", b.SessionID, "file", f.Filename, "error", err)
		}
	}

	return nil
}

// sendFinal sends one chunk with Markdown formatting, falling back to
// plain text exactly once if the entities are rejected, and retrying
// flood-control waits a bounded number of times.
func (e *Engine) sendFinal(ctx context.Context, b *binding.Binding, text string) error {
	markdown := true
	floodBudget := e.cfg.FloodRetries

	for {
		_, err := e.tr.SendMessage(ctx, b.ChatID, b.ThreadID, text, markdown)
		if err == nil {
			return nil
		}

		info := tgerr.Classify(err)
		switch info.Class {
		case tgerr.ClassNotModified:
			return nil

		case tgerr.ClassBadFormatting:
			if !markdown {
				return err
			}
			markdown = false
			logger.Debug("formatting rejected, retrying plain", "session", b.SessionID)

		case tgerr.ClassFlood:
			if floodBudget == 0 {
				return err
			}
			floodBudget--
			logger.Debug("final send rate limited", "session", b.SessionID, "wait", info.RetryAfter)
			if err := sleepCtx(ctx, info.RetryAfter+tgerr.Jitter); err != nil {
				return err
			}

		default:
			return err
		}
	}
}

func (e *Engine) sendFile(ctx context.Context, b *binding.Binding, f opencoder.Part) error {
	data, ok := decodeDataURL(f.URL)
	if !ok {
		// Non-inline file reference; point at it rather than dropping it.
		return e.sendFinal(ctx, b, "📎 "+f.Filename+": "+f.URL)
	}

	name := f.Filename
	if name == "" {
		name = "output"
	}

	_, err := e.tr.SendDocument(ctx, b.ChatID, b.ThreadID, name, data, "")
	return err
}

// decodeDataURL unpacks "data:<mime>;base64,<payload>" references.
func decodeDataURL(url string) ([]byte, bool) {
	if !strings.HasPrefix(url, "data:") {
		return nil, false
	}

	i := strings.Index(url, ",")
	if i < 0 || !strings.Contains(url[:i], "base64") {
		return nil, false
	}

	data, err := base64.StdEncoding.DecodeString(url[i+1:])
	if err != nil {
		return nil, false
	}

	return data, true
}

// splitChunks cuts text at paragraph boundaries where possible, and on
// a rune boundary otherwise.
func splitChunks(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n\n")
		if cut < limit/2 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}

	return chunks
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
