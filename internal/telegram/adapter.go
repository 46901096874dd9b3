// Package telegram bridges a Telegram bot to the gateway. Text turns flow
// into session runs; documents and bare links are staged as source files for
// the session's next research job.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/deepscout/internal/gateway"
	"github.com/user/deepscout/internal/research"
	"github.com/user/deepscout/internal/templates"
	"github.com/user/deepscout/internal/types"
)

const maxTelegramMessage = 4096

// maxDocumentBytes matches the bot API's own download ceiling.
const maxDocumentBytes = 20 << 20

// URLFetcher turns a URL into a named markdown document. *research.Fetcher
// satisfies it.
type URLFetcher interface {
	Fetch(ctx context.Context, rawURL string) (name, markdown string, err error)
}

// Deps are the adapter's collaborators beyond the bot itself.
type Deps struct {
	Gateway   *gateway.Gateway
	Events    types.EventStore
	Sessions  types.SessionStore
	Sources   types.SourceStore
	Templates *templates.Manager
	Fetcher   URLFetcher
	Logger    *slog.Logger
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot       *tgbotapi.BotAPI
	gateway   *gateway.Gateway
	events    types.EventStore
	sessions  types.SessionStore
	sources   types.SourceStore
	templates *templates.Manager
	fetcher   URLFetcher
	http      *http.Client
	log       *slog.Logger
}

// New creates a Telegram adapter for the given bot token.
func New(token string, deps Deps) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		bot:       bot,
		gateway:   deps.Gateway,
		events:    deps.Events,
		sessions:  deps.Sessions,
		sources:   deps.Sources,
		templates: deps.Templates,
		fetcher:   deps.Fetcher,
		http:      &http.Client{Timeout: 60 * time.Second},
		log:       log,
	}, nil
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// DeliveryHandler adapts the bot into a delivery-registry handler so results
// of scheduled or resumed runs reach the chat encoded in the session key.
func (a *Adapter) DeliveryHandler() func(sessionKey types.SessionKey, kind, text string) error {
	return func(sessionKey types.SessionKey, kind, text string) error {
		chatID, err := chatIDFromKey(sessionKey)
		if err != nil {
			return err
		}
		a.sendResponse(chatID, formatMessage(kind, text))
		return nil
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	switch {
	case msg.IsCommand():
		a.handleCommand(ctx, msg)
	case msg.Document != nil:
		a.stageDocument(ctx, msg)
	case research.IsURLOnly(msg.Text):
		a.stageURL(ctx, msg)
	case msg.Text != "":
		a.handleText(ctx, msg)
	}
}

func (a *Adapter) handleText(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	event := &types.InboundEvent{
		Source:     "telegram",
		SessionKey: buildSessionKey(msg.From.ID, msg.Chat.ID),
		UserID:     strconv.FormatInt(msg.From.ID, 10),
		Text:       msg.Text,
	}

	_, err := a.gateway.HandleInbound(ctx, event, gateway.WithOnMessage(func(kind, text string) {
		a.sendResponse(chatID, formatMessage(kind, text))
	}))
	if err != nil {
		a.log.Error("handle inbound failed", "error", err)
		a.sendResponse(chatID, "Sorry, I couldn't accept that message. Please try again.")
	}
}

// stageDocument downloads an attached document and stages it as a source
// file for the session's next research job.
func (a *Adapter) stageDocument(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	doc := msg.Document

	url, err := a.bot.GetFileDirectURL(doc.FileID)
	if err != nil {
		a.log.Error("resolve document url failed", "file_id", doc.FileID, "error", err)
		a.sendResponse(chatID, "I couldn't fetch that document from Telegram.")
		return
	}
	contents, err := a.download(ctx, url)
	if err != nil {
		a.log.Error("download document failed", "file_id", doc.FileID, "error", err)
		a.sendResponse(chatID, "I couldn't download that document.")
		return
	}

	sid, err := a.sessions.ResolveOrCreate(ctx, buildSessionKey(msg.From.ID, msg.Chat.ID))
	if err != nil {
		a.sendResponse(chatID, "Something went wrong storing the document.")
		return
	}
	name := doc.FileName
	if name == "" {
		name = doc.FileID
	}
	file, err := a.sources.Add(ctx, sid, name, contents)
	if err != nil {
		a.log.Error("stage document failed", "name", name, "error", err)
		a.sendResponse(chatID, "Something went wrong storing the document.")
		return
	}
	a.sendResponse(chatID, fmt.Sprintf("Attached %s (%d bytes). The next research job will search it.", file.Name, file.Size))
}

// stageURL fetches a bare link, converts it to markdown, and stages it as a
// source file.
func (a *Adapter) stageURL(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	rawURL := strings.TrimSpace(msg.Text)

	name, markdown, err := a.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		a.log.Warn("fetch url failed", "url", rawURL, "error", err)
		a.sendResponse(chatID, fmt.Sprintf("I couldn't read that page: %v", err))
		return
	}

	sid, err := a.sessions.ResolveOrCreate(ctx, buildSessionKey(msg.From.ID, msg.Chat.ID))
	if err != nil {
		a.sendResponse(chatID, "Something went wrong storing the page.")
		return
	}
	if _, err := a.sources.Add(ctx, sid, name, []byte(markdown)); err != nil {
		a.log.Error("stage url failed", "name", name, "error", err)
		a.sendResponse(chatID, "Something went wrong storing the page.")
		return
	}
	a.sendResponse(chatID, fmt.Sprintf("Fetched and attached %s. The next research job will search it.", name))
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	key := buildSessionKey(msg.From.ID, msg.Chat.ID)

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Hello! I'm Deepscout. Tell me what you want researched; when the brief is clear I'll launch a deep research job and send you the report here. Attach documents or paste links to give the research extra sources.")

	case "new":
		if err := a.sessions.Archive(ctx, key); err != nil {
			a.sendResponse(chatID, "Couldn't archive the current session.")
			return
		}
		a.sendResponse(chatID, "Started a new session. The previous conversation is archived.")

	case "status":
		a.sendStatus(ctx, chatID, key)

	case "templates":
		a.sendTemplates(ctx, chatID)

	case "use":
		a.useTemplate(ctx, chatID, key, strings.TrimSpace(msg.CommandArguments()))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /new, /status, /templates, /use")
	}
}

func (a *Adapter) sendStatus(ctx context.Context, chatID int64, key types.SessionKey) {
	sid, err := a.sessions.ResolveOrCreate(ctx, key)
	if err != nil {
		a.sendResponse(chatID, "Error fetching status.")
		return
	}
	session, err := a.sessions.Get(ctx, sid)
	if err != nil {
		a.sendResponse(chatID, "Error fetching status.")
		return
	}
	count, err := a.events.Count(ctx, sid)
	if err != nil {
		a.sendResponse(chatID, "Error fetching status.")
		return
	}
	staged, err := a.sources.List(ctx, sid)
	if err != nil {
		staged = nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\nPhase: %s\nMessages: %d\nStaged documents: %d", sid, session.Phase, count, len(staged))
	if session.TemplateID != "" {
		name := string(session.TemplateID)
		if tpl, terr := a.templates.Get(ctx, session.TemplateID); terr == nil {
			name = tpl.Name
		}
		fmt.Fprintf(&b, "\nTemplate: %s", name)
	}
	if session.Phase == types.PhaseResearching && session.JobID != "" {
		fmt.Fprintf(&b, "\nResearch job: %s", session.JobID)
	}
	a.sendResponse(chatID, b.String())
}

func (a *Adapter) sendTemplates(ctx context.Context, chatID int64) {
	list, err := a.templates.List(ctx)
	if err != nil {
		a.sendResponse(chatID, "Error listing templates.")
		return
	}
	a.sendResponse(chatID, renderTemplateList(list))
}

func (a *Adapter) useTemplate(ctx context.Context, chatID int64, key types.SessionKey, ref string) {
	if ref == "" {
		a.sendResponse(chatID, "Usage: /use <template name or id>")
		return
	}
	tpl, err := a.templates.Resolve(ctx, ref)
	if err != nil {
		a.sendResponse(chatID, fmt.Sprintf("No template matches %q. Try /templates.", ref))
		return
	}
	sid, err := a.sessions.ResolveOrCreate(ctx, key)
	if err != nil {
		a.sendResponse(chatID, "Couldn't update the session.")
		return
	}
	session, err := a.sessions.Get(ctx, sid)
	if err != nil {
		a.sendResponse(chatID, "Couldn't update the session.")
		return
	}
	session.TemplateID = tpl.ID
	if err := a.sessions.Update(ctx, session); err != nil {
		a.sendResponse(chatID, "Couldn't update the session.")
		return
	}
	a.sendResponse(chatID, fmt.Sprintf("Template %q selected for this session.", tpl.Name))
}

func (a *Adapter) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	parts := splitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				a.log.Error("send message failed", "chat_id", chatID, "error", err)
			}
		}
	}
}

// formatMessage prefixes a delivery with a tag that reads well in a chat
// stream. Reports and plain assistant turns go out untagged.
func formatMessage(kind, text string) string {
	switch kind {
	case gateway.MessageQuestion:
		return "❓ " + text
	case gateway.MessageNotice:
		return "ℹ️ " + text
	case gateway.MessageError:
		return "⚠️ " + text
	default:
		return text
	}
}

func renderTemplateList(list []*types.Template) string {
	if len(list) == 0 {
		return "No templates yet. Add one with the CLI: deepscout template add."
	}
	var b strings.Builder
	b.WriteString("Available templates:\n")
	for _, tpl := range list {
		fmt.Fprintf(&b, "- %s (%s)\n", tpl.Name, tpl.ID)
	}
	b.WriteString("Select one with /use <name>.")
	return b.String()
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func buildSessionKey(userID, chatID int64) types.SessionKey {
	return types.NewSessionKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}

// chatIDFromKey recovers the chat id from a "telegram:<user>:<chat>" key.
func chatIDFromKey(key types.SessionKey) (int64, error) {
	parts := strings.Split(string(key), ":")
	if len(parts) != 3 || parts[0] != "telegram" {
		return 0, fmt.Errorf("not a telegram session key: %s", key)
	}
	return strconv.ParseInt(parts[2], 10, 64)
}
