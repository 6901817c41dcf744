package engine

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/binding"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/opencoder"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/tgerr"
)

func testBinding() *binding.Binding {
	return &binding.Binding{ChatID: testChat, ThreadID: testThread, SessionID: testSession}
}

func floodErr(retryAfter time.Duration) error {
	return &tgerr.TransportError{
		Code:        429,
		Description: "Too Many Requests: retry after 1",
		RetryAfter:  retryAfter,
	}
}

func TestSendFinalWaitsOutFloodControl(t *testing.T) {
	tr := &fakeTransport{
		sendErr: func(attempt int) error {
			if attempt == 0 {
				return floodErr(50 * time.Millisecond)
			}
			return nil
		},
	}
	e := testEngine(t, &fakeBackend{}, tr)

	start := time.Now()
	if err := e.sendFinal(context.Background(), testBinding(), "hello"); err != nil {
		t.Fatalf("sendFinal: %v", err)
	}

	if elapsed := time.Since(start); elapsed < 50*time.Millisecond+tgerr.Jitter {
		t.Errorf("retry did not honor retry-after window: %v", elapsed)
	}

	sends, _, _ := tr.snapshot()
	if len(sends) != 1 {
		t.Errorf("expected one successful send, got %d", len(sends))
	}
}

func TestSendFinalFloodBudgetExhausted(t *testing.T) {
	tr := &fakeTransport{
		sendErr: func(attempt int) error {
			return floodErr(time.Millisecond)
		},
	}
	e := testEngine(t, &fakeBackend{}, tr)

	err := e.sendFinal(context.Background(), testBinding(), "hello")
	if err == nil {
		t.Fatal("expected error after flood budget exhausted")
	}

	// initial attempt plus FloodRetries retries
	if got := tr.sendAttempts(); got != e.cfg.FloodRetries+1 {
		t.Errorf("send attempts = %d, want %d", got, e.cfg.FloodRetries+1)
	}
}

func TestSendFinalFallsBackToPlainTextOnce(t *testing.T) {
	tr := &fakeTransport{
		sendErr: func(attempt int) error {
			if attempt == 0 {
				return &tgerr.TransportError{Code: 400, Description: "Bad Request: can't parse entities: unclosed tag"}
			}
			return nil
		},
	}
	e := testEngine(t, &fakeBackend{}, tr)

	if err := e.sendFinal(context.Background(), testBinding(), "*broken"); err != nil {
		t.Fatalf("sendFinal: %v", err)
	}

	sends, _, _ := tr.snapshot()
	if len(sends) != 1 {
		t.Fatalf("expected one successful send, got %d", len(sends))
	}
	if sends[0].markdown {
		t.Error("retry should have dropped markdown")
	}
}

func TestSendFinalGivesUpAfterSecondFormattingReject(t *testing.T) {
	tr := &fakeTransport{
		sendErr: func(attempt int) error {
			return &tgerr.TransportError{Code: 400, Description: "Bad Request: can't parse entities: oops"}
		},
	}
	e := testEngine(t, &fakeBackend{}, tr)

	if err := e.sendFinal(context.Background(), testBinding(), "*broken"); err == nil {
		t.Fatal("expected error when plain text is also rejected")
	}

	if got := tr.sendAttempts(); got != 2 {
		t.Errorf("send attempts = %d, want 2 (markdown then plain)", got)
	}
}

func TestDeliverAnswerChunksLongText(t *testing.T) {
	tr := &fakeTransport{}
	e := testEngine(t, &fakeBackend{}, tr)

	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("a paragraph of filler text\n\n")
	}

	if err := e.deliverAnswer(context.Background(), testBinding(), answer{text: b.String()}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	sends, _, _ := tr.snapshot()
	if len(sends) < 2 {
		t.Fatalf("long answer should be chunked, got %d sends", len(sends))
	}
	for i, s := range sends {
		if len(s.text) > maxChunkLen {
			t.Errorf("chunk %d exceeds limit: %d chars", i, len(s.text))
		}
	}
}

func TestDeliverAnswerSendsDataURLAsDocument(t *testing.T) {
	tr := &fakeTransport{}
	e := testEngine(t, &fakeBackend{}, tr)

	payload := []byte("hello file")
	ans := answer{
		files: []opencoder.Part{{
			Type:     "file",
			Filename: "out.txt",
			URL:      "data:text/plain;base64," + base64.StdEncoding.EncodeToString(payload),
		}},
	}

	if err := e.deliverAnswer(context.Background(), testBinding(), ans); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	docs := tr.documents()
	if len(docs) != 1 || docs[0].filename != "out.txt" || string(docs[0].data) != "hello file" {
		t.Errorf("document delivery wrong: %+v", docs)
	}
}

func TestDeliverAnswerLinksExternalFile(t *testing.T) {
	tr := &fakeTransport{}
	e := testEngine(t, &fakeBackend{}, tr)

	ans := answer{
		files: []opencoder.Part{{Type: "file", Filename: "log.txt", URL: "https://example.com/log.txt"}},
	}

	if err := e.deliverAnswer(context.Background(), testBinding(), ans); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	sends, _, _ := tr.snapshot()
	if !containsText(sends, "https://example.com/log.txt") {
		t.Error("external file should be delivered as a link")
	}
	if len(tr.documents()) != 0 {
		t.Error("external file must not be sent as document")
	}
}

func TestSplitChunksPrefersParagraphBoundaries(t *testing.T) {
	text := strings.Repeat("x", 60) + "\n\n" + strings.Repeat("y", 60)

	chunks := splitChunks(text, 100)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], "x") || !strings.HasPrefix(chunks[1], "y") {
		t.Errorf("split not at paragraph boundary: %q | %q", chunks[0], chunks[1])
	}
}

func TestSplitChunksKeepsRunesIntact(t *testing.T) {
	text := strings.Repeat("日本語テキスト", 40) // 3 bytes per rune, no paragraph breaks

	chunks := splitChunks(text, 100)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want at least 2", len(chunks))
	}

	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d split inside a rune: %q", i, c)
		}
		if len(c) > 100 {
			t.Errorf("chunk %d exceeds limit: %d bytes", i, len(c))
		}
	}

	if rebuilt := strings.Join(chunks, ""); rebuilt != text {
		t.Error("chunks do not reassemble into the original text")
	}
}

func TestSplitChunksEmpty(t *testing.T) {
	if got := splitChunks("", 100); got != nil {
		t.Errorf("empty text should yield no chunks, got %v", got)
	}
}

func TestDecodeDataURL(t *testing.T) {
	data, ok := decodeDataURL("data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("hi")))
	if !ok || string(data) != "hi" {
		t.Errorf("decode = (%q, %v)", data, ok)
	}

	if _, ok := decodeDataURL("https://example.com/x"); ok {
		t.Error("plain URL must not decode")
	}
	if _, ok := decodeDataURL("data:text/plain,notbase64"); ok {
		t.Error("non-base64 data URL must not decode")
	}
}
