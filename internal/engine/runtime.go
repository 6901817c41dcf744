package engine

import (
	"sync"
	"time"

	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/progress"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/prompt"
)

// runtime is the transient per-session state. It is created lazily on
// first reference and rebuilt empty on process start; nothing in here
// is persisted.
type runtime struct {
	mu        sync.Mutex
	sessionID string

	inflight bool
	queue    []*prompt.Prompt

	staged   *prompt.Prompt
	debounce *time.Timer

	// lastPromptID is the source message id of the prompt currently or
	// most recently dispatched; compaction is retried at most once per
	// distinct id.
	lastPromptID      int
	retriedCompaction bool

	reporter   *progress.Reporter
	runStarted time.Time

	// renameBlocked is the flood-control slot for topic renames,
	// independent of the reporter's edit/send slots.
	renameBlocked time.Time
}

type runtimeTable struct {
	mu sync.RWMutex
	m  map[string]*runtime
}

func newRuntimeTable() *runtimeTable {
	return &runtimeTable{m: make(map[string]*runtime)}
}

func (t *runtimeTable) get(sessionID string) *runtime {
	t.mu.RLock()
	rt, ok := t.m[sessionID]
	t.mu.RUnlock()

	if ok {
		return rt
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if rt, ok = t.m[sessionID]; ok {
		return rt
	}

	rt = &runtime{sessionID: sessionID}
	t.m[sessionID] = rt

	return rt
}

// peek returns the runtime if it exists, without creating one.
func (t *runtimeTable) peek(sessionID string) *runtime {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m[sessionID]
}
