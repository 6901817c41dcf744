// Package progress mirrors backend activity into a single editable
// Telegram status message without flooding the API.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/logger"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/tgerr"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/transport"
)

type Config struct {
	TickInterval    time.Duration
	MinEditInterval time.Duration
	MinSendInterval time.Duration
	DeleteAfter     time.Duration
}

func DefaultConfig() Config {
	return Config{
		TickInterval:    3 * time.Second,
		MinEditInterval: 2500 * time.Millisecond,
		MinSendInterval: 1200 * time.Millisecond,
		DeleteAfter:     5 * time.Second,
	}
}

// Reporter publishes the latest stage/detail pair for one running
// dispatch. Edits and sends keep independent blocked-until slots so a
// flood wait on one does not stall the other.
type Reporter struct {
	tr       transport.Transport
	cfg      Config
	chatID   int64
	threadID int

	mu        sync.Mutex
	stage     string
	detail    string
	messageID int
	lastSent  string
	startedAt time.Time

	// throttle slots: pacing between our own updates, bypassed by the
	// forced final publish
	editBlocked time.Time
	sendBlocked time.Time

	// flood slots: windows advertised by the platform, never bypassed
	editFlood time.Time
	sendFlood time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// Start creates a reporter and begins ticking until Finish is called.
func Start(ctx context.Context, tr transport.Transport, cfg Config, chatID int64, threadID int) *Reporter {
	r := &Reporter{
		tr:        tr,
		cfg:       cfg,
		chatID:    chatID,
		threadID:  threadID,
		stage:     "Working",
		startedAt: time.Now(),
		stop:      make(chan struct{}),
	}

	go r.run(ctx)
	return r
}

func (r *Reporter) run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.publish(ctx)
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Observe records the latest stage/detail pair; the next tick publishes it.
func (r *Reporter) Observe(stage, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stage != "" {
		r.stage = stage
	}
	r.detail = detail
}

func (r *Reporter) compose() string {
	elapsed := int(time.Since(r.startedAt).Seconds())
	if r.detail != "" {
		return fmt.Sprintf("⏳ %s — %s (%ds)", r.stage, r.detail, elapsed)
	}
	return fmt.Sprintf("⏳ %s (%ds)", r.stage, elapsed)
}

// publish upserts the status message: edit when one exists and the edit
// slot is open, otherwise send a new one. Unchanged text is skipped and
// a "not modified" reply counts as success.
func (r *Reporter) publish(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishLocked(ctx, r.compose(), false)
}

func (r *Reporter) publishLocked(ctx context.Context, text string, force bool) {
	if text == r.lastSent {
		return
	}

	now := time.Now()

	if r.messageID != 0 {
		if now.Before(r.editFlood) || (!force && now.Before(r.editBlocked)) {
			return
		}

		err := r.tr.EditMessage(ctx, r.chatID, r.messageID, text, false)
		info := tgerr.Classify(err)
		switch info.Class {
		case tgerr.ClassNotModified:
			r.lastSent = text
			r.editBlocked = now.Add(r.cfg.MinEditInterval)
		case tgerr.ClassFlood:
			r.editFlood = info.BlockedUntil(now)
			logger.Debug("progress edit rate limited", "wait", info.RetryAfter)
		default:
			logger.Debug("progress edit failed", "error", err)
		}
		return
	}

	if now.Before(r.sendFlood) || (!force && now.Before(r.sendBlocked)) {
		return
	}

	id, err := r.tr.SendMessage(ctx, r.chatID, r.threadID, text, false)
	info := tgerr.Classify(err)
	switch {
	case err == nil:
		r.messageID = id
		r.lastSent = text
		r.sendBlocked = now.Add(r.cfg.MinSendInterval)
		r.editBlocked = now.Add(r.cfg.MinEditInterval)
	case info.Class == tgerr.ClassFlood:
		r.sendFlood = info.BlockedUntil(now)
		logger.Debug("progress send rate limited", "wait", info.RetryAfter)
	default:
		logger.Debug("progress send failed", "error", err)
	}
}

// Finish stops ticking, publishes one final line with duration and
// outcome, and deletes the status message after a grace delay. An open
// flood window delays the final update until it passes. Safe to call
// more than once; only the first call acts.
func (r *Reporter) Finish(ctx context.Context, outcome string) {
	r.stopOnce.Do(func() {
		close(r.stop)

		r.mu.Lock()
		elapsed := time.Since(r.startedAt).Round(time.Second)
		final := fmt.Sprintf("%s (%s)", outcome, elapsed)
		flood := r.editFlood
		if r.messageID == 0 {
			flood = r.sendFlood
		}
		r.mu.Unlock()

		if wait := time.Until(flood); wait > 0 {
			time.AfterFunc(wait, func() { r.finalize(ctx, final) })
			return
		}
		r.finalize(ctx, final)
	})
}

func (r *Reporter) finalize(ctx context.Context, text string) {
	r.mu.Lock()
	r.publishLocked(ctx, text, true)
	messageID := r.messageID
	r.mu.Unlock()

	if messageID == 0 {
		return
	}

	time.AfterFunc(r.cfg.DeleteAfter, func() {
		if err := r.tr.DeleteMessage(context.Background(), r.chatID, messageID); err != nil {
			logger.Debug("progress delete failed", "error", err)
		}
	})
}
