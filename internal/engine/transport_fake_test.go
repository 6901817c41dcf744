package engine

import (
	"context"
	"sync"
	"time"
)

type call struct {
	text     string
	markdown bool
	at       time.Time
}

type document struct {
	filename string
	data     []byte
}

// fakeTransport records every outbound call and lets tests inject
// errors per attempt.
type fakeTransport struct {
	mu        sync.Mutex
	sends     []call
	edits     []call
	docs      []document
	deletes   int
	sendCalls int

	sendErr func(attempt int) error
	editErr func(attempt int) error
}

func (f *fakeTransport) SendMessage(ctx context.Context, chatID int64, threadID int, text string, markdown bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt := f.sendCalls
	f.sendCalls++
	if f.sendErr != nil {
		if err := f.sendErr(attempt); err != nil {
			return 0, err
		}
	}

	f.sends = append(f.sends, call{text: text, markdown: markdown, at: time.Now()})
	return 100 + attempt, nil
}

func (f *fakeTransport) EditMessage(ctx context.Context, chatID int64, messageID int, text string, markdown bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt := len(f.edits)
	if f.editErr != nil {
		if err := f.editErr(attempt); err != nil {
			return err
		}
	}

	f.edits = append(f.edits, call{text: text, markdown: markdown, at: time.Now()})
	return nil
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return nil
}

func (f *fakeTransport) SendDocument(ctx context.Context, chatID int64, threadID int, filename string, data []byte, caption string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, document{filename: filename, data: data})
	return 200 + len(f.docs), nil
}

func (f *fakeTransport) CreateTopic(ctx context.Context, chatID int64, name string) (int, error) {
	return 77, nil
}

func (f *fakeTransport) EditTopicName(ctx context.Context, chatID int64, threadID int, name string) error {
	return nil
}

func (f *fakeTransport) DownloadAttachment(ctx context.Context, fileID string) ([]byte, string, error) {
	return nil, "", nil
}

func (f *fakeTransport) snapshot() (sends, edits []call, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.sends...), append([]call(nil), f.edits...), f.deletes
}

func (f *fakeTransport) documents() []document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]document(nil), f.docs...)
}

func (f *fakeTransport) sendAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}
