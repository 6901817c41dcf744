package engine

import (
	"context"
	"time"

	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/binding"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/logger"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/prompt"
)

// enqueue applies the coalesce-or-flush decision to one inbound prompt.
// With a dispatch inflight the decision runs against the tail of the
// pending queue; otherwise against the staged slot.
func (e *Engine) enqueue(ctx context.Context, b *binding.Binding, p *prompt.Prompt) {
	rt := e.runtimes.get(b.SessionID)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.inflight {
		if n := len(rt.queue); n > 0 && prompt.ShouldCoalesce(rt.queue[n-1], p, e.cfg.Debounce, e.cfg.ReplyWindow) {
			rt.queue[n-1] = prompt.Merge(rt.queue[n-1], p)
			logger.Debug("merged into queued prompt", "session", b.SessionID, "queue", n)
		} else {
			rt.queue = append(rt.queue, p)
			logger.Debug("prompt queued", "session", b.SessionID, "queue", len(rt.queue))
		}
		return
	}

	if rt.staged == nil {
		rt.staged = p
		e.startDebounceLocked(ctx, rt)
		logger.Debug("prompt staged", "session", b.SessionID, "message", p.MessageID)
		return
	}

	if prompt.ShouldCoalesce(rt.staged, p, e.cfg.Debounce, e.cfg.ReplyWindow) {
		rt.staged = prompt.Merge(rt.staged, p)
		logger.Debug("merged into staged prompt", "session", b.SessionID)
		return
	}

	// Distinct intent: the staged prompt ships now and the new one
	// starts a fresh debounce window.
	flushed := rt.staged
	rt.staged = p
	if rt.debounce != nil {
		rt.debounce.Stop()
	}
	e.startDebounceLocked(ctx, rt)

	rt.inflight = true
	logger.Debug("staged prompt flushed by new intent", "session", b.SessionID)
	go e.dispatch(ctx, rt.sessionID, flushed)
}

// startDebounceLocked arms the staging timer. Caller holds rt.mu.
func (e *Engine) startDebounceLocked(ctx context.Context, rt *runtime) {
	rt.debounce = time.AfterFunc(e.cfg.Debounce, func() {
		e.flushStaged(ctx, rt)
	})
}

// flushStaged hands the staged prompt over when its debounce window
// elapses. If a dispatch started in the meantime the prompt joins the
// pending queue instead; queued work is never dropped.
func (e *Engine) flushStaged(ctx context.Context, rt *runtime) {
	rt.mu.Lock()

	if rt.staged == nil {
		rt.mu.Unlock()
		return
	}

	p := rt.staged
	rt.staged = nil
	rt.debounce = nil

	if rt.inflight {
		rt.queue = append(rt.queue, p)
		rt.mu.Unlock()
		return
	}

	rt.inflight = true
	rt.mu.Unlock()

	e.dispatch(ctx, rt.sessionID, p)
}
