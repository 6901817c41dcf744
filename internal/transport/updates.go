package transport

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/logger"
)

// pollRetryDelay paces getUpdates retries when the API is unreachable,
// so a persistent outage does not spin the poll loop.
const pollRetryDelay = 3 * time.Second

// rawUpdate mirrors the subset of the Bot API update payload this bot
// reads. Decoded by hand because the client library's update types
// predate forum topics (message_thread_id, is_topic_message).
type rawUpdate struct {
	UpdateID int         `json:"update_id"`
	Message  *rawMessage `json:"message"`
}

type rawMessage struct {
	MessageID       int    `json:"message_id"`
	MessageThreadID int    `json:"message_thread_id"`
	MediaGroupID    string `json:"media_group_id"`
	Date            int64  `json:"date"`
	Text            string `json:"text"`
	Caption         string `json:"caption"`
	From            *struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	ReplyToMessage *struct {
		MessageID int `json:"message_id"`
	} `json:"reply_to_message"`
	Photo []struct {
		FileID   string `json:"file_id"`
		FileSize int    `json:"file_size"`
	} `json:"photo"`
	Document *struct {
		FileID   string `json:"file_id"`
		FileName string `json:"file_name"`
		MIMEType string `json:"mime_type"`
	} `json:"document"`
	Voice *struct {
		FileID   string `json:"file_id"`
		MIMEType string `json:"mime_type"`
	} `json:"voice"`
}

// Updates long-polls getUpdates and delivers inbound user messages on
// the returned channel until ctx is cancelled.
func (t *Telegram) Updates(ctx context.Context) <-chan Inbound {
	out := make(chan Inbound)

	go func() {
		defer close(out)

		offset := 0
		for {
			if ctx.Err() != nil {
				return
			}

			params := tgbotapi.Params{
				"timeout":         "50",
				"allowed_updates": `["message"]`,
			}
			if offset != 0 {
				params["offset"] = strconv.Itoa(offset)
			}

			resp, err := t.request("getUpdates", params)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("getUpdates failed", "error", err)
				select {
				case <-time.After(pollRetryDelay):
				case <-ctx.Done():
					return
				}
				continue
			}

			var updates []rawUpdate
			if err := json.Unmarshal(resp.Result, &updates); err != nil {
				logger.Warn("getUpdates decode failed", "error", err)
				select {
				case <-time.After(pollRetryDelay):
				case <-ctx.Done():
					return
				}
				continue
			}

			for _, u := range updates {
				if u.UpdateID >= offset {
					offset = u.UpdateID + 1
				}
				if u.Message == nil || u.Message.From == nil {
					continue
				}

				select {
				case out <- toInbound(u.Message):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func toInbound(m *rawMessage) Inbound {
	in := Inbound{
		MessageID:    m.MessageID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.MessageThreadID,
		AuthorID:     m.From.ID,
		AuthorName:   m.From.Username,
		MediaGroupID: m.MediaGroupID,
		Date:         m.Date,
		Text:         m.Text,
	}

	if in.Text == "" {
		in.Text = m.Caption
	}
	if m.ReplyToMessage != nil {
		in.ReplyToID = m.ReplyToMessage.MessageID
	}

	// Telegram sends several resolutions per photo; the last is largest.
	if len(m.Photo) > 0 {
		in.Attachments = append(in.Attachments, InboundAttachment{
			FileID:   m.Photo[len(m.Photo)-1].FileID,
			Filename: "photo.jpg",
			MIME:     "image/jpeg",
		})
	}
	if m.Document != nil {
		in.Attachments = append(in.Attachments, InboundAttachment{
			FileID:   m.Document.FileID,
			Filename: m.Document.FileName,
			MIME:     m.Document.MIMEType,
		})
	}
	if m.Voice != nil {
		in.Attachments = append(in.Attachments, InboundAttachment{
			FileID:   m.Voice.FileID,
			Filename: "voice.ogg",
			MIME:     m.Voice.MIMEType,
		})
	}

	return in
}
