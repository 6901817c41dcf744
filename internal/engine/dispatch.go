package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/binding"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/logger"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/opencoder"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/progress"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/prompt"
)

// dispatchState names the per-prompt state machine:
// dispatching → {delivering, compacting, failed}; compacting →
// {dispatching, failed}. Compacting is reachable at most once per
// prompt because the transition guard consumes retriedCompaction.
type dispatchState int

const (
	stateDispatching dispatchState = iota
	stateCompacting
	stateDelivering
	stateFailed
)

// dispatch runs prompts for one session until the pending queue drains.
// The caller must have set rt.inflight; exactly one dispatch loop runs
// per session at any instant.
func (e *Engine) dispatch(ctx context.Context, sessionID string, p *prompt.Prompt) {
	rt := e.runtimes.get(sessionID)

	for {
		e.runPrompt(ctx, rt, p)

		rt.mu.Lock()
		if len(rt.queue) == 0 {
			rt.inflight = false
			rt.mu.Unlock()
			return
		}
		p = rt.queue[0]
		rt.queue = rt.queue[1:]
		rt.mu.Unlock()
	}
}

// runPrompt drives one prompt through the state machine to a terminal
// state and reflects the outcome onto the binding and the thread.
func (e *Engine) runPrompt(ctx context.Context, rt *runtime, p *prompt.Prompt) {
	b, ok := e.bindings.BySession(rt.sessionID)
	if !ok || b.Closed() {
		logger.Warn("dispatch for unbound session dropped", "session", rt.sessionID)
		return
	}

	rt.mu.Lock()
	if p.MessageID != rt.lastPromptID {
		// A genuinely new prompt gets a fresh compaction budget.
		rt.retriedCompaction = false
	}
	rt.lastPromptID = p.MessageID
	rt.runStarted = time.Now()
	rep := progress.Start(ctx, e.tr, e.cfg.Progress, b.ChatID, b.ThreadID)
	rt.reporter = rep
	rt.mu.Unlock()

	if _, _, err := e.bindings.Patch(rt.sessionID, func(b *binding.Binding) {
		b.State = binding.StateActive
	}); err != nil {
		logger.Warn("binding state update failed", "session", rt.sessionID, "error", err)
	}

	req := e.buildRequest(b, p)

	var (
		state    = stateDispatching
		resp     *opencoder.PromptResponse
		finalErr error
	)

	for state == stateDispatching || state == stateCompacting {
		switch state {
		case stateDispatching:
			logger.Info("dispatching prompt", "session", rt.sessionID, "message", p.MessageID)

			r, err := e.backend.Prompt(ctx, req)
			switch {
			case err == nil:
				resp = r
				state = stateDelivering
			case opencoder.IsContextOverflow(err) && e.claimCompaction(rt):
				logger.Info("context overflow, compacting", "session", rt.sessionID)
				rep.Observe("Compacting conversation", "")
				state = stateCompacting
			default:
				finalErr = err
				state = stateFailed
			}

		case stateCompacting:
			if err := e.backend.Summarize(ctx, rt.sessionID, b.Model.ProviderID, b.Model.ModelID); err != nil {
				finalErr = err
				state = stateFailed
			} else {
				state = stateDispatching
			}
		}
	}

	switch state {
	case stateDelivering:
		e.completeRun(ctx, rt, b, resp, rep)
	case stateFailed:
		e.failRun(ctx, rt, b, finalErr, rep)
	}

	rt.mu.Lock()
	rt.reporter = nil
	rt.mu.Unlock()
}

// claimCompaction consumes the single compact-and-retry allowance for
// the current prompt.
func (e *Engine) claimCompaction(rt *runtime) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.retriedCompaction {
		return false
	}
	rt.retriedCompaction = true
	return true
}

func (e *Engine) buildRequest(b *binding.Binding, p *prompt.Prompt) opencoder.PromptRequest {
	req := opencoder.PromptRequest{
		SessionID: b.SessionID,
		MessageID: "msg_" + uuid.NewString(),
		Model: opencoder.ModelRef{
			ProviderID: b.Model.ProviderID,
			ModelID:    b.Model.ModelID,
		},
		ReasoningEffort: b.ReasoningEffort,
		Verbosity:       b.Verbosity,
	}

	if text := p.Text(); text != "" {
		req.Parts = append(req.Parts, opencoder.Part{Type: "text", Text: text})
	}
	for _, f := range p.Files() {
		req.Parts = append(req.Parts, opencoder.Part{
			Type:     "file",
			MIME:     f.MIME,
			Filename: f.Filename,
			URL:      f.Content,
		})
	}

	return req
}

func (e *Engine) completeRun(ctx context.Context, rt *runtime, b *binding.Binding, resp *opencoder.PromptResponse, rep *progress.Reporter) {
	ans := extractAnswer(resp)
	if ans.empty() {
		rt.mu.Lock()
		runStart := rt.runStarted
		rt.mu.Unlock()
		ans = e.fallbackAnswer(ctx, rt.sessionID, runStart, resp.Info.ID)
	}

	rep.Finish(ctx, "✅ Done")

	deliverErr := e.deliverAnswer(ctx, b, ans)
	if deliverErr != nil {
		logger.Error("answer delivery failed", "session", rt.sessionID, "error", deliverErr)
		e.recordFailure(ctx, rt.sessionID, b, deliverErr)
		return
	}

	if _, _, err := e.bindings.Patch(rt.sessionID, func(b *binding.Binding) {
		b.State = binding.StateIdle
		b.LastError = ""
	}); err != nil {
		logger.Warn("binding state update failed", "session", rt.sessionID, "error", err)
	}

	logger.Info("prompt completed", "session", rt.sessionID)
}

func (e *Engine) failRun(ctx context.Context, rt *runtime, b *binding.Binding, cause error, rep *progress.Reporter) {
	rep.Finish(ctx, "❌ Failed")
	e.recordFailure(ctx, rt.sessionID, b, cause)
}

// recordFailure persists the error on the binding and reports it once
// to the thread. Error state is informational; the session stays usable
// for the next prompt.
func (e *Engine) recordFailure(ctx context.Context, sessionID string, b *binding.Binding, cause error) {
	logger.Error("dispatch failed", "session", sessionID, "error", cause)

	if _, _, err := e.bindings.Patch(sessionID, func(b *binding.Binding) {
		b.State = binding.StateError
		b.LastError = cause.Error()
	}); err != nil {
		logger.Warn("binding error patch failed", "session", sessionID, "error", err)
	}

	if _, err := e.tr.SendMessage(ctx, b.ChatID, b.ThreadID, "⚠️ "+cause.Error(), false); err != nil {
		logger.Warn("error notice failed", "session", sessionID, "error", err)
	}
}
