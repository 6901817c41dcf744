package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/binding"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/config"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/engine"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/logger"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/opencoder"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/progress"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/prompt"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/serial"
	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/transport"
)

func init() {
	godotenv.Load()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	models, err := config.LoadModels(cfg.ModelsFile)
	if err != nil {
		logger.Fatal("failed to load model catalog", "error", err)
	}

	defaultModel := binding.ModelRef{
		ProviderID: cfg.Engine.DefaultProvider,
		ModelID:    cfg.Engine.DefaultModel,
	}
	if choice, ok := config.DefaultModel(models); ok {
		defaultModel = binding.ModelRef{ProviderID: choice.Provider, ModelID: choice.ID}
	}

	bindings := binding.Open(cfg.BindingsFile)
	backend := opencoder.NewClient(cfg.Backend.URL)

	tg, err := transport.NewTelegram(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal("failed to connect telegram", "error", err)
	}

	eng := engine.New(engine.Config{
		Debounce:     cfg.Engine.Debounce,
		ReplyWindow:  cfg.Engine.ReplyWindow,
		FloodRetries: cfg.Engine.FloodRetries,
		HistoryScan:  50,
		Progress: progress.Config{
			TickInterval:    cfg.Engine.ProgressTick,
			MinEditInterval: cfg.Engine.MinEditInterval,
			MinSendInterval: cfg.Engine.MinSendInterval,
			DeleteAfter:     5 * time.Second,
		},
	}, bindings, backend, tg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		for ev := range backend.Events(ctx) {
			eng.HandleEvent(ctx, ev)
		}
	}()

	h := &handler{
		cfg:          cfg,
		eng:          eng,
		tg:           tg,
		models:       models,
		defaultModel: defaultModel,
		serial:       serial.New(),
	}

	logger.Info("relay started", "backend", cfg.Backend.URL)

	for in := range tg.Updates(ctx) {
		if cfg.Telegram.OwnerChatID != 0 && in.ChatID != cfg.Telegram.OwnerChatID {
			continue
		}

		h.dispatch(ctx, in)
	}

	logger.Info("relay stopped")
}

type handler struct {
	cfg          *config.Config
	eng          *engine.Engine
	tg           *transport.Telegram
	models       []config.ModelChoice
	defaultModel binding.ModelRef
	serial       *serial.Group
}

// dispatch claims the topic's next processing slot before returning, so
// updates from one poll batch keep their arrival order. Attachment
// downloads and command handling run inside the serialized task.
func (h *handler) dispatch(ctx context.Context, in transport.Inbound) {
	key := fmt.Sprintf("%d:%d", in.ChatID, in.ThreadID)
	h.serial.Go(key, func() { h.handle(ctx, in) })
}

func (h *handler) handle(ctx context.Context, in transport.Inbound) {
	cmd, args := parseCommand(in.Text)

	switch cmd {
	case "new":
		b, err := h.eng.NewSession(ctx, in.ChatID, in.ThreadID, in.AuthorID, h.cfg.Backend.Directory, args, h.defaultModel)
		if err != nil {
			h.reply(ctx, in, "⚠️ "+err.Error())
			return
		}
		h.replyTo(ctx, in.ChatID, b.ThreadID, fmt.Sprintf("Session `%s` bound to this topic.", b.SessionID))

	case "import":
		if args == "" {
			h.reply(ctx, in, "Usage: /import <session-id>")
			return
		}
		b, err := h.eng.ImportSession(ctx, in.ChatID, in.ThreadID, in.AuthorID, args, h.defaultModel)
		if err != nil {
			h.reply(ctx, in, "⚠️ "+err.Error())
			return
		}
		h.replyTo(ctx, in.ChatID, b.ThreadID, fmt.Sprintf("Session `%s` imported.", b.SessionID))

	case "close":
		if _, ok, err := h.eng.CloseThread(ctx, in.ChatID, in.ThreadID); err != nil {
			h.reply(ctx, in, "⚠️ "+err.Error())
		} else if !ok {
			h.reply(ctx, in, "No session is bound to this topic.")
		} else {
			h.reply(ctx, in, "Session closed.")
		}

	case "model":
		if args == "" {
			h.reply(ctx, in, modelList(h.models))
			return
		}
		provider, model, err := config.FindModel(h.models, args)
		if err != nil {
			h.reply(ctx, in, "⚠️ "+err.Error())
			return
		}
		if _, err := h.eng.SetModel(ctx, in.ChatID, in.ThreadID, binding.ModelRef{ProviderID: provider, ModelID: model}); err != nil {
			h.reply(ctx, in, "⚠️ "+err.Error())
			return
		}
		h.reply(ctx, in, fmt.Sprintf("Model set to %s/%s.", provider, model))

	case "title":
		if args == "" {
			h.reply(ctx, in, "Usage: /title <new title>")
			return
		}
		if err := h.eng.SetTitle(ctx, in.ChatID, in.ThreadID, args); err != nil {
			h.reply(ctx, in, "⚠️ "+err.Error())
		}

	case "abort":
		if err := h.eng.Abort(ctx, in.ChatID, in.ThreadID); err != nil {
			h.reply(ctx, in, "⚠️ "+err.Error())
		}

	case "status":
		b, ok := h.eng.Binding(in.ChatID, in.ThreadID)
		if !ok {
			h.reply(ctx, in, "No session is bound to this topic.")
			return
		}
		h.reply(ctx, in, fmt.Sprintf("Session %s\nState: %s\nModel: %s/%s", b.SessionID, b.State, b.Model.ProviderID, b.Model.ModelID))

	case "":
		p := h.buildPrompt(ctx, in)
		if len(p.Parts) == 0 {
			return
		}
		h.eng.HandleMessage(ctx, in.ChatID, in.ThreadID, p)

	default:
		h.reply(ctx, in, "Unknown command: /"+cmd)
	}
}

func (h *handler) buildPrompt(ctx context.Context, in transport.Inbound) *prompt.Prompt {
	p := &prompt.Prompt{
		MessageID:    in.MessageID,
		ReplyToID:    in.ReplyToID,
		AuthorID:     in.AuthorID,
		CreatedAt:    time.Unix(in.Date, 0),
		MediaGroupID: in.MediaGroupID,
	}

	if in.Text != "" {
		p.Parts = append(p.Parts, prompt.Part{Kind: prompt.PartText, Text: in.Text})
	}

	for _, att := range in.Attachments {
		data, mime, err := h.tg.DownloadAttachment(ctx, att.FileID)
		if err != nil {
			logger.Warn("attachment download failed", "file", att.FileID, "error", err)
			continue
		}
		if att.MIME != "" {
			mime = att.MIME
		}

		p.Parts = append(p.Parts, prompt.Part{
			Kind:     prompt.PartFile,
			MIME:     mime,
			Filename: att.Filename,
			Content:  "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data),
		})
	}

	return p
}

func (h *handler) reply(ctx context.Context, in transport.Inbound, text string) {
	h.replyTo(ctx, in.ChatID, in.ThreadID, text)
}

func (h *handler) replyTo(ctx context.Context, chatID int64, threadID int, text string) {
	if _, err := h.tg.SendMessage(ctx, chatID, threadID, text, false); err != nil {
		logger.Warn("reply failed", "error", err)
	}
}

func parseCommand(text string) (cmd, args string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}

	rest := strings.TrimPrefix(text, "/")
	cmd, args, _ = strings.Cut(rest, " ")

	// commands in groups arrive as /cmd@botname
	cmd, _, _ = strings.Cut(cmd, "@")

	return strings.ToLower(cmd), strings.TrimSpace(args)
}

func modelList(models []config.ModelChoice) string {
	if len(models) == 0 {
		return "Usage: /model <provider/model>"
	}

	var sb strings.Builder
	sb.WriteString("Available models:\n")
	for _, m := range models {
		fmt.Fprintf(&sb, "• %s (%s/%s)\n", m.Name, m.Provider, m.ID)
	}
	sb.WriteString("Select with /model <name>")

	return sb.String()
}
