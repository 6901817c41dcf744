package opencoder

// Session is the backend's session record.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Directory string `json:"directory"`
	Version   string `json:"version"`
}

// Part is one piece of a prompt or of an assistant message. Type is one
// of "text", "file", "reasoning", "tool", "patch", "step-start",
// "step-finish".
type Part struct {
	ID       string     `json:"id,omitempty"`
	Type     string     `json:"type"`
	Text     string     `json:"text,omitempty"`
	MIME     string     `json:"mime,omitempty"`
	Filename string     `json:"filename,omitempty"`
	URL      string     `json:"url,omitempty"`
	Tool     string     `json:"tool,omitempty"`
	State    *ToolState `json:"state,omitempty"`
}

// ToolState is the progress of one tool invocation.
type ToolState struct {
	Status string `json:"status"` // pending | running | completed | error
	Title  string `json:"title,omitempty"`
	Error  string `json:"error,omitempty"`
}

// MessageInfo is the metadata half of a backend message.
type MessageInfo struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Role      string `json:"role"`
	Time      struct {
		Created   int64 `json:"created"`
		Completed int64 `json:"completed,omitempty"`
	} `json:"time"`
	Error *APIError `json:"error,omitempty"`
}

// Message pairs metadata with its parts, as returned by the message
// history endpoint.
type Message struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}

// ModelRef selects a model for a prompt.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// PromptRequest is one prompt call. MessageID is client-generated so
// retries after compaction reuse the same id.
type PromptRequest struct {
	SessionID       string   `json:"-"` // routed in the URL path
	MessageID       string   `json:"messageID,omitempty"`
	Model           ModelRef `json:"model"`
	System          string   `json:"system,omitempty"`
	ReasoningEffort string   `json:"reasoningEffort,omitempty"`
	Verbosity       string   `json:"verbosity,omitempty"`
	Parts           []Part   `json:"parts"`
}

// PromptResponse is the completed assistant message for a prompt call.
type PromptResponse struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
	Error *APIError   `json:"error,omitempty"`
}
