package prompt

import (
	"strings"
	"time"
)

// Separator joins the text of two coalesced prompts.
const Separator = "\n\n---\n\n"

type PartKind string

const (
	PartText PartKind = "text"
	PartFile PartKind = "file"
)

// Part is one piece of user input: either text or a file reference.
type Part struct {
	Kind     PartKind
	Text     string
	MIME     string
	Filename string
	Content  string // data URL or path reference for file parts
}

// Prompt is one coalescable unit of user input.
type Prompt struct {
	MessageID    int
	ReplyToID    int
	AuthorID     int64
	CreatedAt    time.Time
	MediaGroupID string
	Parts        []Part
}

// Text joins the prompt's text parts.
func (p *Prompt) Text() string {
	var texts []string
	for _, part := range p.Parts {
		if part.Kind == PartText && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Files returns the prompt's file parts in order.
func (p *Prompt) Files() []Part {
	var files []Part
	for _, part := range p.Parts {
		if part.Kind == PartFile {
			files = append(files, part)
		}
	}
	return files
}

// Merge combines two prompts into one: text joined by Separator, file
// parts appended in order. The left prompt keeps its source and
// reply-to identifiers; the merged prompt takes the right prompt's
// timestamp so further coalescing measures from the latest arrival.
func Merge(left, right *Prompt) *Prompt {
	merged := &Prompt{
		MessageID:    left.MessageID,
		ReplyToID:    left.ReplyToID,
		AuthorID:     left.AuthorID,
		CreatedAt:    right.CreatedAt,
		MediaGroupID: left.MediaGroupID,
	}

	leftText, rightText := left.Text(), right.Text()
	switch {
	case leftText != "" && rightText != "":
		merged.Parts = append(merged.Parts, Part{Kind: PartText, Text: leftText + Separator + rightText})
	case leftText != "":
		merged.Parts = append(merged.Parts, Part{Kind: PartText, Text: leftText})
	case rightText != "":
		merged.Parts = append(merged.Parts, Part{Kind: PartText, Text: rightText})
	}

	merged.Parts = append(merged.Parts, left.Files()...)
	merged.Parts = append(merged.Parts, right.Files()...)

	return merged
}

// ShouldCoalesce decides whether next belongs to the same intent as the
// already staged (or queued) prompt. Prompts from different authors are
// never merged.
func ShouldCoalesce(staged, next *Prompt, debounce, replyWindow time.Duration) bool {
	if staged == nil || next == nil {
		return false
	}

	if staged.AuthorID != next.AuthorID {
		return false
	}

	// Multi-photo albums arrive as separate messages sharing a media
	// group id; they are always one prompt.
	if staged.MediaGroupID != "" && staged.MediaGroupID == next.MediaGroupID {
		return true
	}

	delta := next.CreatedAt.Sub(staged.CreatedAt)
	if delta < 0 {
		delta = -delta
	}

	// A reply to the staged message is a continuation even if the user
	// took a while to type it.
	if next.ReplyToID != 0 && next.ReplyToID == staged.MessageID && delta <= replyWindow {
		return true
	}

	return delta <= debounce
}
