// Package engine binds Telegram forum topics to opencoder sessions and
// drives prompt dispatch: debounced coalescing of rapid-fire input,
// single-flight dispatch per session with one compact-and-retry on
// context overflow, and throttled live-progress reporting.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/binding"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/logger"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/opencoder"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/progress"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/prompt"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/serial"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/tgerr"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/transport"
)

// Backend is the narrow opencoder surface the engine needs.
type Backend interface {
	Create(ctx context.Context, directory, title string) (*opencoder.Session, error)
	Get(ctx context.Context, sessionID string) (*opencoder.Session, error)
	Prompt(ctx context.Context, req opencoder.PromptRequest) (*opencoder.PromptResponse, error)
	Abort(ctx context.Context, sessionID string) error
	Summarize(ctx context.Context, sessionID, providerID, modelID string) error
	Messages(ctx context.Context, sessionID string, limit int) ([]opencoder.Message, error)
	UpdateTitle(ctx context.Context, sessionID, title string) error
}

type Config struct {
	Debounce     time.Duration
	ReplyWindow  time.Duration
	FloodRetries int
	HistoryScan  int
	Progress     progress.Config
}

func DefaultConfig() Config {
	return Config{
		Debounce:     1500 * time.Millisecond,
		ReplyWindow:  30 * time.Second,
		FloodRetries: 2,
		HistoryScan:  50,
		Progress:     progress.DefaultConfig(),
	}
}

type Engine struct {
	cfg      Config
	bindings *binding.Store
	backend  Backend
	tr       transport.Transport
	serial   *serial.Group
	runtimes *runtimeTable
}

func New(cfg Config, bindings *binding.Store, backend Backend, tr transport.Transport) *Engine {
	return &Engine{
		cfg:      cfg,
		bindings: bindings,
		backend:  backend,
		tr:       tr,
		serial:   serial.New(),
		runtimes: newRuntimeTable(),
	}
}

func threadKey(chatID int64, threadID int) string {
	return fmt.Sprintf("%d:%d", chatID, threadID)
}

// HandleMessage routes one inbound user prompt to its bound session.
// Handling for a given (chat, thread) pair is strictly serialized;
// different threads proceed in parallel.
func (e *Engine) HandleMessage(ctx context.Context, chatID int64, threadID int, p *prompt.Prompt) {
	e.serial.Do(threadKey(chatID, threadID), func() {
		b, ok := e.bindings.ByThread(chatID, threadID)
		if !ok {
			logger.Debug("no binding for thread", "chat", chatID, "thread", threadID)
			if _, err := e.tr.SendMessage(ctx, chatID, threadID, "No session is bound to this topic. Use /new or /import first.", false); err != nil {
				logger.Warn("binding-not-found notice failed", "error", err)
			}
			return
		}

		e.enqueue(ctx, b, p)
	})
}

// NewSession creates a backend session and binds it. When threadID is
// zero a fresh forum topic is created for it.
func (e *Engine) NewSession(ctx context.Context, chatID int64, threadID int, userID int64, directory, title string, model binding.ModelRef) (*binding.Binding, error) {
	sess, err := e.backend.Create(ctx, directory, title)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if title == "" {
		title = sess.Title
	}
	if title == "" {
		title = "New session"
	}

	if threadID == 0 {
		threadID, err = e.tr.CreateTopic(ctx, chatID, title)
		if err != nil {
			return nil, fmt.Errorf("create topic: %w", err)
		}
	}

	b := &binding.Binding{
		ChatID:    chatID,
		ThreadID:  threadID,
		Directory: directory,
		SessionID: sess.ID,
		State:     binding.StateIdle,
		Model:     model,
		CreatedBy: userID,
		Title:     title,
	}

	if err := e.bindings.Upsert(b); err != nil {
		return nil, fmt.Errorf("persist binding: %w", err)
	}

	logger.Info("session bound", "session", sess.ID, "chat", chatID, "thread", threadID)
	return b, nil
}

// ImportSession binds an existing backend session to a thread.
func (e *Engine) ImportSession(ctx context.Context, chatID int64, threadID int, userID int64, sessionID string, model binding.ModelRef) (*binding.Binding, error) {
	sess, err := e.backend.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}

	if threadID == 0 {
		name := sess.Title
		if name == "" {
			name = "Imported session"
		}
		threadID, err = e.tr.CreateTopic(ctx, chatID, name)
		if err != nil {
			return nil, fmt.Errorf("create topic: %w", err)
		}
	}

	b := &binding.Binding{
		ChatID:    chatID,
		ThreadID:  threadID,
		Directory: sess.Directory,
		SessionID: sess.ID,
		State:     binding.StateIdle,
		Model:     binding.ModelRef{ProviderID: model.ProviderID, ModelID: model.ModelID},
		CreatedBy: userID,
		Title:     sess.Title,
	}

	if err := e.bindings.Upsert(b); err != nil {
		return nil, fmt.Errorf("persist binding: %w", err)
	}

	logger.Info("session imported", "session", sess.ID, "chat", chatID, "thread", threadID)
	return b, nil
}

// CloseThread retires the thread's binding. The backend session is
// aborted if a dispatch is running; the record stays for audit.
func (e *Engine) CloseThread(ctx context.Context, chatID int64, threadID int) (*binding.Binding, bool, error) {
	b, ok, err := e.bindings.CloseByThread(chatID, threadID)
	if !ok || err != nil {
		return b, ok, err
	}

	if rt := e.runtimes.peek(b.SessionID); rt != nil {
		rt.mu.Lock()
		inflight := rt.inflight
		rt.mu.Unlock()

		if inflight {
			if err := e.backend.Abort(ctx, b.SessionID); err != nil {
				logger.Warn("abort on close failed", "session", b.SessionID, "error", err)
			}
		}
	}

	return b, true, nil
}

// Abort cancels the running prompt on a thread's session, if any.
func (e *Engine) Abort(ctx context.Context, chatID int64, threadID int) error {
	b, ok := e.bindings.ByThread(chatID, threadID)
	if !ok {
		return fmt.Errorf("no session bound to thread %d", threadID)
	}

	return e.backend.Abort(ctx, b.SessionID)
}

// Binding returns the thread's current binding for status display.
func (e *Engine) Binding(chatID int64, threadID int) (*binding.Binding, bool) {
	return e.bindings.ByThread(chatID, threadID)
}

// SetModel updates the model used for future dispatches on a thread.
func (e *Engine) SetModel(ctx context.Context, chatID int64, threadID int, model binding.ModelRef) (*binding.Binding, error) {
	b, ok := e.bindings.ByThread(chatID, threadID)
	if !ok {
		return nil, fmt.Errorf("no session bound to thread %d", threadID)
	}

	updated, _, err := e.bindings.Patch(b.SessionID, func(b *binding.Binding) {
		b.Model = model
	})
	return updated, err
}

// SetTitle renames the binding, the backend session, and the forum
// topic. Topic renames respect their own flood-control slot.
func (e *Engine) SetTitle(ctx context.Context, chatID int64, threadID int, title string) error {
	b, ok := e.bindings.ByThread(chatID, threadID)
	if !ok {
		return fmt.Errorf("no session bound to thread %d", threadID)
	}

	if _, _, err := e.bindings.Patch(b.SessionID, func(b *binding.Binding) {
		b.Title = title
	}); err != nil {
		return err
	}

	if err := e.backend.UpdateTitle(ctx, b.SessionID, title); err != nil {
		logger.Warn("backend title update failed", "session", b.SessionID, "error", err)
	}

	e.renameTopic(ctx, b.SessionID, chatID, threadID, title)
	return nil
}

func (e *Engine) renameTopic(ctx context.Context, sessionID string, chatID int64, threadID int, title string) {
	rt := e.runtimes.get(sessionID)

	rt.mu.Lock()
	blocked := time.Now().Before(rt.renameBlocked)
	rt.mu.Unlock()

	if blocked {
		logger.Debug("topic rename suppressed by flood control", "session", sessionID)
		return
	}

	err := e.tr.EditTopicName(ctx, chatID, threadID, title)
	if err == nil {
		return
	}

	info := tgerr.Classify(err)
	if info.Class == tgerr.ClassFlood {
		rt.mu.Lock()
		rt.renameBlocked = info.BlockedUntil(time.Now())
		rt.mu.Unlock()
	}
	logger.Debug("topic rename failed", "session", sessionID, "error", err)
}

// HandleEvent consumes one backend push event. Events for sessions the
// engine does not know are ignored.
func (e *Engine) HandleEvent(ctx context.Context, ev opencoder.Event) {
	switch ev := ev.(type) {
	case opencoder.MessagePartUpdated:
		if rep := e.currentReporter(ev.SessionID); rep != nil {
			if stage, detail, ok := progress.StageForPart(ev.Part); ok {
				rep.Observe(stage, detail)
			}
		}

	case opencoder.PermissionUpdated:
		if rep := e.currentReporter(ev.SessionID); rep != nil {
			rep.Observe("Waiting for approval", ev.Title)
		}

	case opencoder.SessionIdle:
		if rep := e.currentReporter(ev.SessionID); rep != nil {
			rep.Observe("Finishing", "")
		}

	case opencoder.SessionUpdated:
		e.syncTitle(ctx, ev)

	case opencoder.SessionError:
		logger.Warn("session error event", "session", ev.SessionID, "error", ev.Message)
		if rep := e.currentReporter(ev.SessionID); rep == nil && ev.Message != "" {
			// Not inflight: record the failure on the binding directly.
			if _, _, err := e.bindings.Patch(ev.SessionID, func(b *binding.Binding) {
				b.State = binding.StateError
				b.LastError = ev.Message
			}); err != nil {
				logger.Warn("binding error patch failed", "session", ev.SessionID, "error", err)
			}
		}
	}
}

func (e *Engine) currentReporter(sessionID string) *progress.Reporter {
	rt := e.runtimes.peek(sessionID)
	if rt == nil {
		return nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.reporter
}

func (e *Engine) syncTitle(ctx context.Context, ev opencoder.SessionUpdated) {
	if ev.Title == "" {
		return
	}

	b, ok := e.bindings.BySession(ev.SessionID)
	if !ok || b.Closed() || b.Title == ev.Title {
		return
	}

	if _, _, err := e.bindings.Patch(ev.SessionID, func(b *binding.Binding) {
		b.Title = ev.Title
	}); err != nil {
		logger.Warn("title patch failed", "session", ev.SessionID, "error", err)
	}

	e.renameTopic(ctx, ev.SessionID, b.ChatID, b.ThreadID, ev.Title)
}
