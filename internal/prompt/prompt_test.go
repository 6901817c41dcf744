package prompt

import (
	"testing"
	"time"
)

func textPrompt(id int, author int64, text string, at time.Time) *Prompt {
	return &Prompt{
		MessageID: id,
		AuthorID:  author,
		CreatedAt: at,
		Parts:     []Part{{Kind: PartText, Text: text}},
	}
}

func TestMergeConcatenatesTextWithSeparator(t *testing.T) {
	now := time.Now()
	left := textPrompt(1, 7, "Hello", now)
	right := textPrompt(2, 7, "World", now.Add(500*time.Millisecond))

	merged := Merge(left, right)

	if got := merged.Text(); got != "Hello\n\n---\n\nWorld" {
		t.Errorf("merged text = %q", got)
	}

	if merged.MessageID != 1 {
		t.Errorf("merged should keep left source id, got %d", merged.MessageID)
	}

	if !merged.CreatedAt.Equal(right.CreatedAt) {
		t.Error("merged should take right prompt's timestamp")
	}
}

func TestMergeAppendsFileParts(t *testing.T) {
	now := time.Now()
	left := &Prompt{
		MessageID: 1, AuthorID: 7, CreatedAt: now,
		Parts: []Part{
			{Kind: PartText, Text: "look"},
			{Kind: PartFile, Filename: "a.png", MIME: "image/png"},
		},
	}
	right := &Prompt{
		MessageID: 2, AuthorID: 7, CreatedAt: now,
		Parts: []Part{{Kind: PartFile, Filename: "b.png", MIME: "image/png"}},
	}

	merged := Merge(left, right)

	files := merged.Files()
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if files[0].Filename != "a.png" || files[1].Filename != "b.png" {
		t.Errorf("file order wrong: %q, %q", files[0].Filename, files[1].Filename)
	}
	if merged.Text() != "look" {
		t.Errorf("text lost in merge: %q", merged.Text())
	}
}

func TestMergeOneSidedText(t *testing.T) {
	now := time.Now()
	left := &Prompt{MessageID: 1, AuthorID: 7, CreatedAt: now}
	right := textPrompt(2, 7, "caption", now)

	if got := Merge(left, right).Text(); got != "caption" {
		t.Errorf("expected no separator for one-sided text, got %q", got)
	}
}

func TestShouldCoalesceWithinDebounce(t *testing.T) {
	now := time.Now()
	staged := textPrompt(1, 7, "Hello", now)
	next := textPrompt(2, 7, "World", now.Add(500*time.Millisecond))

	if !ShouldCoalesce(staged, next, 1500*time.Millisecond, 30*time.Second) {
		t.Error("prompts 500ms apart should coalesce")
	}
}

func TestShouldCoalesceOutsideDebounce(t *testing.T) {
	now := time.Now()
	staged := textPrompt(1, 7, "Hello", now)
	next := textPrompt(2, 7, "World", now.Add(5*time.Second))

	if ShouldCoalesce(staged, next, 1500*time.Millisecond, 30*time.Second) {
		t.Error("prompts 5s apart should not coalesce")
	}
}

func TestShouldCoalesceDifferentAuthors(t *testing.T) {
	now := time.Now()
	staged := textPrompt(1, 7, "Hello", now)
	next := textPrompt(2, 8, "World", now.Add(100*time.Millisecond))

	if ShouldCoalesce(staged, next, 1500*time.Millisecond, 30*time.Second) {
		t.Error("different authors should never coalesce")
	}
}

func TestShouldCoalesceMediaGroup(t *testing.T) {
	now := time.Now()
	staged := &Prompt{MessageID: 1, AuthorID: 7, CreatedAt: now, MediaGroupID: "g1"}
	next := &Prompt{MessageID: 2, AuthorID: 7, CreatedAt: now.Add(10 * time.Second), MediaGroupID: "g1"}

	if !ShouldCoalesce(staged, next, 1500*time.Millisecond, 30*time.Second) {
		t.Error("same media group should always coalesce")
	}
}

func TestShouldCoalesceReplyWindow(t *testing.T) {
	now := time.Now()
	staged := textPrompt(10, 7, "Hello", now)

	reply := textPrompt(11, 7, "more", now.Add(20*time.Second))
	reply.ReplyToID = 10
	if !ShouldCoalesce(staged, reply, 1500*time.Millisecond, 30*time.Second) {
		t.Error("reply to staged prompt within window should coalesce")
	}

	late := textPrompt(12, 7, "more", now.Add(40*time.Second))
	late.ReplyToID = 10
	if ShouldCoalesce(staged, late, 1500*time.Millisecond, 30*time.Second) {
		t.Error("reply after the window should not coalesce")
	}

	other := textPrompt(13, 7, "more", now.Add(20*time.Second))
	other.ReplyToID = 99
	if ShouldCoalesce(staged, other, 1500*time.Millisecond, 30*time.Second) {
		t.Error("reply to an unrelated message should not coalesce")
	}
}
