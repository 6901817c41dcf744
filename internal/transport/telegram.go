package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/logger"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/tgerr"
)

const maxAttachmentSize = 20 * 1024 * 1024 // Bot API download limit

// Telegram implements Transport on the Bot API. Forum-topic endpoints
// postdate the client library, so requests go through MakeRequest with
// explicit params and responses are decoded here.
type Telegram struct {
	api     *tgbotapi.BotAPI
	request func(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

func NewTelegram(token string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}

	logger.Info("telegram connected", "bot", api.Self.UserName)
	return &Telegram{api: api, request: api.MakeRequest}, nil
}

// wrap converts library errors into the structured form tgerr expects.
func wrap(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		te := &tgerr.TransportError{Code: apiErr.Code, Description: apiErr.Message}
		if apiErr.RetryAfter > 0 {
			te.RetryAfter = time.Duration(apiErr.RetryAfter) * time.Second
		}
		return te
	}

	return err
}

type sentMessage struct {
	MessageID int `json:"message_id"`
}

func (t *Telegram) SendMessage(ctx context.Context, chatID int64, threadID int, text string, markdown bool) (int, error) {
	params := tgbotapi.Params{
		"chat_id": strconv.FormatInt(chatID, 10),
		"text":    text,
	}
	if threadID != 0 {
		params["message_thread_id"] = strconv.Itoa(threadID)
	}
	if markdown {
		params["parse_mode"] = "Markdown"
	}

	resp, err := t.request("sendMessage", params)
	if err != nil {
		return 0, wrap(err)
	}

	var msg sentMessage
	if err := json.Unmarshal(resp.Result, &msg); err != nil {
		return 0, fmt.Errorf("decode sendMessage result: %w", err)
	}

	return msg.MessageID, nil
}

func (t *Telegram) EditMessage(ctx context.Context, chatID int64, messageID int, text string, markdown bool) error {
	params := tgbotapi.Params{
		"chat_id":    strconv.FormatInt(chatID, 10),
		"message_id": strconv.Itoa(messageID),
		"text":       text,
	}
	if markdown {
		params["parse_mode"] = "Markdown"
	}

	_, err := t.request("editMessageText", params)
	return wrap(err)
}

func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	params := tgbotapi.Params{
		"chat_id":    strconv.FormatInt(chatID, 10),
		"message_id": strconv.Itoa(messageID),
	}

	_, err := t.request("deleteMessage", params)
	return wrap(err)
}

func (t *Telegram) SendDocument(ctx context.Context, chatID int64, threadID int, filename string, data []byte, caption string) (int, error) {
	params := tgbotapi.Params{
		"chat_id": strconv.FormatInt(chatID, 10),
	}
	if threadID != 0 {
		params["message_thread_id"] = strconv.Itoa(threadID)
	}
	if caption != "" {
		params["caption"] = caption
	}

	files := []tgbotapi.RequestFile{
		{Name: "document", Data: tgbotapi.FileBytes{Name: filename, Bytes: data}},
	}

	resp, err := t.api.UploadFiles("sendDocument", params, files)
	if err != nil {
		return 0, wrap(err)
	}

	var msg sentMessage
	if err := json.Unmarshal(resp.Result, &msg); err != nil {
		return 0, fmt.Errorf("decode sendDocument result: %w", err)
	}

	return msg.MessageID, nil
}

type createdTopic struct {
	MessageThreadID int `json:"message_thread_id"`
}

func (t *Telegram) CreateTopic(ctx context.Context, chatID int64, name string) (int, error) {
	params := tgbotapi.Params{
		"chat_id": strconv.FormatInt(chatID, 10),
		"name":    name,
	}

	resp, err := t.request("createForumTopic", params)
	if err != nil {
		return 0, wrap(err)
	}

	var topic createdTopic
	if err := json.Unmarshal(resp.Result, &topic); err != nil {
		return 0, fmt.Errorf("decode createForumTopic result: %w", err)
	}

	return topic.MessageThreadID, nil
}

func (t *Telegram) EditTopicName(ctx context.Context, chatID int64, threadID int, name string) error {
	params := tgbotapi.Params{
		"chat_id":           strconv.FormatInt(chatID, 10),
		"message_thread_id": strconv.Itoa(threadID),
		"name":              name,
	}

	_, err := t.request("editForumTopic", params)
	return wrap(err)
}

func (t *Telegram) DownloadAttachment(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := t.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", wrap(err)
	}

	url := file.Link(t.api.Token)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, "", err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentSize))
	if err != nil {
		return nil, "", err
	}

	return data, http.DetectContentType(data), nil
}
