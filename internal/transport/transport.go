package transport

import "context"

// Transport is the narrow chat-platform surface the engine needs. Every
// method returns either a success payload or an error classifiable by
// internal/tgerr.
type Transport interface {
	// SendMessage posts text to a chat thread and returns the new
	// message id. markdown requests rich-text formatting; callers fall
	// back to plain text when the platform rejects the entities.
	SendMessage(ctx context.Context, chatID int64, threadID int, text string, markdown bool) (int, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, markdown bool) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendDocument(ctx context.Context, chatID int64, threadID int, filename string, data []byte, caption string) (int, error)
	CreateTopic(ctx context.Context, chatID int64, name string) (int, error)
	EditTopicName(ctx context.Context, chatID int64, threadID int, name string) error
	// DownloadAttachment fetches a platform file and returns its bytes
	// and detected media type.
	DownloadAttachment(ctx context.Context, fileID string) ([]byte, string, error)
}

// InboundAttachment references a file carried by an inbound message.
type InboundAttachment struct {
	FileID   string
	Filename string
	MIME     string
}

// Inbound is one user message as delivered by the platform.
type Inbound struct {
	MessageID    int
	ChatID       int64
	ThreadID     int
	AuthorID     int64
	AuthorName   string
	ReplyToID    int
	MediaGroupID string
	Date         int64
	Text         string
	Attachments  []InboundAttachment
}
