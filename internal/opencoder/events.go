package opencoder

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/logger"
)

// Event is the closed set of backend push events the engine reacts to.
// Unknown event kinds decode to nil and are dropped.
type Event interface {
	eventKind() string
}

// SessionUpdated fires when session metadata (notably the title) changes.
type SessionUpdated struct {
	SessionID string
	Title     string
}

// SessionIdle fires when the session has no running prompt left.
type SessionIdle struct {
	SessionID string
}

// SessionError fires when the backend records a session-level failure.
type SessionError struct {
	SessionID string
	Message   string
}

// MessagePartUpdated streams reasoning/tool/text deltas while a prompt
// runs.
type MessagePartUpdated struct {
	SessionID string
	Part      Part
}

// PermissionUpdated fires when the agent is blocked on an approval.
type PermissionUpdated struct {
	SessionID string
	Title     string
}

func (SessionUpdated) eventKind() string     { return "session.updated" }
func (SessionIdle) eventKind() string        { return "session.idle" }
func (SessionError) eventKind() string       { return "session.error" }
func (MessagePartUpdated) eventKind() string { return "message.part.updated" }
func (PermissionUpdated) eventKind() string  { return "permission.updated" }

type rawEvent struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// DecodeEvent turns one event-feed payload into a typed event. Unknown
// kinds return (nil, nil): a no-op, not an error.
func DecodeEvent(data []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "session.updated":
		var p struct {
			Info Session `json:"info"`
		}
		if err := json.Unmarshal(raw.Properties, &p); err != nil {
			return nil, err
		}
		return SessionUpdated{SessionID: p.Info.ID, Title: p.Info.Title}, nil

	case "session.idle":
		var p struct {
			SessionID string `json:"sessionID"`
		}
		if err := json.Unmarshal(raw.Properties, &p); err != nil {
			return nil, err
		}
		return SessionIdle{SessionID: p.SessionID}, nil

	case "session.error":
		var p struct {
			SessionID string    `json:"sessionID"`
			Error     *APIError `json:"error"`
		}
		if err := json.Unmarshal(raw.Properties, &p); err != nil {
			return nil, err
		}
		msg := ""
		if p.Error != nil {
			msg = p.Error.Error()
		}
		return SessionError{SessionID: p.SessionID, Message: msg}, nil

	case "message.part.updated":
		var p struct {
			Part struct {
				Part
				SessionID string `json:"sessionID"`
			} `json:"part"`
		}
		if err := json.Unmarshal(raw.Properties, &p); err != nil {
			return nil, err
		}
		return MessagePartUpdated{SessionID: p.Part.SessionID, Part: p.Part.Part}, nil

	case "permission.updated":
		var p struct {
			SessionID string `json:"sessionID"`
			Title     string `json:"title"`
		}
		if err := json.Unmarshal(raw.Properties, &p); err != nil {
			return nil, err
		}
		return PermissionUpdated{SessionID: p.SessionID, Title: p.Title}, nil
	}

	return nil, nil
}

const reconnectDelay = 2 * time.Second

// Events subscribes to the server-sent event feed and delivers decoded
// events until ctx is cancelled, reconnecting on stream failures.
func (c *Client) Events(ctx context.Context) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		for {
			if err := c.streamEvents(ctx, out); err != nil && ctx.Err() == nil {
				logger.Warn("event feed disconnected", "error", err)
			}
			if ctx.Err() != nil {
				return
			}

			select {
			case <-time.After(reconnectDelay):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (c *Client) streamEvents(ctx context.Context, out chan<- Event) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/event", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		ev, err := DecodeEvent([]byte(strings.TrimPrefix(line, "data: ")))
		if err != nil {
			logger.Debug("event decode failed", "error", err)
			continue
		}
		if ev == nil {
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return scanner.Err()
}
