package binding

import "time"

// State is the lifecycle state of a binding.
type State string

const (
	StateActive State = "active"
	StateIdle   State = "idle"
	StateError  State = "error"
	StateClosed State = "closed"
)

// ModelRef names a backend model by provider and model id.
type ModelRef struct {
	ProviderID string `json:"providerId"`
	ModelID    string `json:"modelId"`
}

// Binding is the durable link between a Telegram forum topic and an
// opencoder session. Closed bindings are kept for audit and never
// matched for new prompts.
type Binding struct {
	ChatID          int64     `json:"chatId"`
	ThreadID        int       `json:"threadId"`
	Directory       string    `json:"directory"`
	SessionID       string    `json:"sessionId"`
	State           State     `json:"state"`
	Model           ModelRef  `json:"model"`
	ReasoningEffort string    `json:"reasoningEffort,omitempty"`
	Verbosity       string    `json:"verbosity,omitempty"`
	CreatedBy       int64     `json:"createdBy"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	LastError       string    `json:"lastError,omitempty"`
	Title           string    `json:"title,omitempty"`
}

// Closed reports whether the binding is retired.
func (b *Binding) Closed() bool {
	return b.State == StateClosed
}
