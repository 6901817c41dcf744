// Package opencoder is an HTTP client for the opencoder session server.
package opencoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// APIError is the error object the server embeds in response bodies.
// Any non-nil error field marks the call as failed regardless of the
// HTTP status.
type APIError struct {
	Name string `json:"name,omitempty"`
	Data struct {
		Message string `json:"message,omitempty"`
	} `json:"data,omitempty"`
}

func (e *APIError) Error() string {
	if e.Data.Message != "" {
		return e.Data.Message
	}
	return e.Name
}

// overflowSignatures mark a prompt rejected because the conversation
// no longer fits the model's input window.
var overflowSignatures = []string{
	"context_length_exceeded",
	"context window",
	"prompt is too long",
	"maximum context length",
}

// IsContextOverflow reports whether err carries a context-overflow
// signature.
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range overflowSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Prompt calls run as long as the agent does; no client timeout.
		client: &http.Client{},
	}
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if json.Unmarshal(data, &apiErr) == nil && (apiErr.Name != "" || apiErr.Data.Message != "") {
			return fmt.Errorf("opencoder %s: %w", path, &apiErr)
		}
		return fmt.Errorf("opencoder %s: status %d: %s", path, resp.StatusCode, string(data))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("opencoder %s: decode: %w", path, err)
		}
	}

	return nil
}

// Create starts a new backend session rooted at directory.
func (c *Client) Create(ctx context.Context, directory, title string) (*Session, error) {
	req := map[string]string{}
	if title != "" {
		req["title"] = title
	}

	var sess Session
	path := "/session?directory=" + url.QueryEscape(directory)
	if err := c.do(ctx, "POST", path, req, &sess); err != nil {
		return nil, err
	}

	return &sess, nil
}

// Get fetches an existing session, used to validate imports.
func (c *Client) Get(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	if err := c.do(ctx, "GET", "/session/"+sessionID, nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Prompt sends one user message and blocks until the agent finishes.
func (c *Client) Prompt(ctx context.Context, req PromptRequest) (*PromptResponse, error) {
	var resp PromptResponse
	if err := c.do(ctx, "POST", "/session/"+req.SessionID+"/message", req, &resp); err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("prompt failed: %w", resp.Error)
	}
	if resp.Info.Error != nil {
		return nil, fmt.Errorf("prompt failed: %w", resp.Info.Error)
	}

	return &resp, nil
}

// Abort cancels the session's running prompt, if any.
func (c *Client) Abort(ctx context.Context, sessionID string) error {
	return c.do(ctx, "POST", "/session/"+sessionID+"/abort", nil, nil)
}

// Summarize asks the backend to compact the conversation so a prompt
// that overflowed the context window can be retried.
func (c *Client) Summarize(ctx context.Context, sessionID, providerID, modelID string) error {
	req := map[string]any{
		"providerID": providerID,
		"modelID":    modelID,
	}
	return c.do(ctx, "POST", "/session/"+sessionID+"/summarize", req, nil)
}

// Messages returns the most recent messages of a session, newest last.
func (c *Client) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	path := "/session/" + sessionID + "/message"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var msgs []Message
	if err := c.do(ctx, "GET", path, nil, &msgs); err != nil {
		return nil, err
	}

	return msgs, nil
}

// UpdateTitle renames the session on the backend.
func (c *Client) UpdateTitle(ctx context.Context, sessionID, title string) error {
	req := map[string]string{"title": title}
	return c.do(ctx, "PATCH", "/session/"+sessionID, req, nil)
}
