package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	ctxengine "github.com/user/deepscout/internal/context"
	"github.com/user/deepscout/internal/gateway"
	"github.com/user/deepscout/internal/templates"
	"github.com/user/deepscout/internal/types"
	"github.com/user/deepscout/pkg/llm"
)

// ReadyMarker is the token a chat reply carries when the assistant considers
// the research brief complete. It is stripped before any text is shown.
const ReadyMarker = "[READY]"

const (
	// historyLimit bounds how many trailing events feed a prompt.
	historyLimit = 100
	// maxUploadConcurrency bounds parallel source uploads per job.
	maxUploadConcurrency = 4
	// maxVectorStores bounds how many remote stores a session keeps. Older
	// stores fall off the session record; the remote side expires the
	// stores themselves on its own schedule.
	maxVectorStores = 2
)

// researchPreamble heads the flattened transcript handed to the research
// model, standing in for the system prompt the dialogue ran under.
const researchPreamble = "You are a deep research agent. The transcript below is a conversation between a user and a research assistant that ends in an agreed research brief. Carry out the research and produce a thorough, well-sourced report in markdown that satisfies the brief."

const (
	reportedNotice    = "This session already has a finished report. Start a new session to research something else."
	researchingEmpty  = "This session was marked as researching but has no job to resume. Continuing in chat."
	resumeNotice      = "A research job is already running for this session. I'll deliver the result as soon as it's ready."
	nothingToResearch = "nothing to research: the conversation has no turns"
)

// Orchestrator moves sessions through the research lifecycle. It is the run
// processor behind the gateway queue: each inbound turn is handled according
// to the session's phase — chatted, folded into a research brief, or answered
// with a notice — and every result is pushed back through the run's
// delivery callback.
type Orchestrator struct {
	provider   llm.Provider
	researcher llm.Researcher
	engine     *ctxengine.Engine
	sessions   types.SessionStore
	events     types.EventStore
	artifacts  types.ArtifactStore
	sources    types.SourceStore
	templates  *templates.Manager
	watcher    *Watcher
	retry      *gateway.RetryPolicy
	prompt     string
	log        *slog.Logger
}

// Deps carries the orchestrator's collaborators. Provider and Researcher are
// usually the same client; they are separate fields so tests can stub one
// side at a time.
type Deps struct {
	Provider   llm.Provider
	Researcher llm.Researcher
	Engine     *ctxengine.Engine
	Sessions   types.SessionStore
	Events     types.EventStore
	Artifacts  types.ArtifactStore
	Sources    types.SourceStore
	Templates  *templates.Manager
	Watcher    *Watcher
	Retry      *gateway.RetryPolicy
	// Prompt overrides the built-in chat system prompt template when set.
	Prompt string
	Logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator from its dependencies.
func NewOrchestrator(deps Deps) *Orchestrator {
	o := &Orchestrator{
		provider:   deps.Provider,
		researcher: deps.Researcher,
		engine:     deps.Engine,
		sessions:   deps.Sessions,
		events:     deps.Events,
		artifacts:  deps.Artifacts,
		sources:    deps.Sources,
		templates:  deps.Templates,
		watcher:    deps.Watcher,
		retry:      deps.Retry,
		prompt:     deps.Prompt,
		log:        deps.Logger,
	}
	if o.retry == nil {
		o.retry = gateway.DefaultRetryPolicy()
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// StripReadyMarker reports whether text carries the research handoff marker
// and returns the text with the first marker removed and trimmed.
func StripReadyMarker(text string) (string, bool) {
	idx := strings.Index(text, ReadyMarker)
	if idx < 0 {
		return text, false
	}
	stripped := text[:idx] + text[idx+len(ReadyMarker):]
	return strings.TrimSpace(stripped), true
}

// ProcessRun handles a single inbound turn. This is the function passed to
// Queue.SetProcessor. Errors it returns are infrastructure failures; domain
// failures (a job that failed, timed out, or came back empty) are delivered
// to the user verbatim and reported as success here, per the rule that every
// error path returns the session to a state the user can retry from.
func (o *Orchestrator) ProcessRun(run *gateway.Run) error {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	session, err := o.sessions.Get(ctx, run.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	// Scheduler firings skip chat: the task prompt is already the brief.
	if run.Event.Source == "scheduler" {
		return o.scheduledRun(ctx, run, session)
	}

	switch session.Phase {
	case types.PhaseReported:
		run.Deliver(gateway.MessageNotice, reportedNotice)
		return nil

	case types.PhaseResearching:
		// Turns queued behind a live watch only arrive after it settles, so
		// reaching here means a previous process died mid-research.
		return o.resumeResearch(ctx, run, session)

	case types.PhaseAwaitingAnswer:
		if err := o.appendUserEvent(ctx, run); err != nil {
			return err
		}
		return o.runResearch(ctx, run, session)

	default:
		if err := o.appendUserEvent(ctx, run); err != nil {
			return err
		}
		return o.chatTurn(ctx, run, session)
	}
}

// chatTurn sends the session history through chat completion. A reply
// carrying the readiness marker hands the session over to research; anything
// else is just the next assistant turn.
func (o *Orchestrator) chatTurn(ctx context.Context, run *gateway.Run, session *types.SessionIndex) error {
	events, err := o.events.Tail(ctx, run.SessionID, historyLimit)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}

	templateName := ""
	if session.TemplateID != "" {
		if tpl, terr := o.templates.Get(ctx, session.TemplateID); terr == nil {
			templateName = tpl.Name
		}
	}
	sourceNames := o.stagedSourceNames(ctx, run.SessionID)

	messages, err := o.engine.BuildChatMessages(ctx, session, events, o.prompt, templateName, sourceNames)
	if err != nil {
		return fmt.Errorf("build chat messages: %w", err)
	}

	var resp *llm.Response
	err = o.retry.Execute(ctx, func() error {
		var cerr error
		resp, cerr = o.provider.Complete(ctx, messages)
		return cerr
	})
	if err != nil {
		return o.deliverRemoteError(ctx, run, fmt.Errorf("chat completion: %w", err))
	}

	reply, ready := StripReadyMarker(resp.Content)
	if reply != "" {
		if err := o.appendAssistantEvent(ctx, run, reply); err != nil {
			return err
		}
		run.Deliver(gateway.MessageAssistant, reply)
	}
	if !ready {
		return nil
	}

	o.log.Info("readiness marker detected", "session_id", string(run.SessionID), "run_id", string(run.ID))
	return o.runResearch(ctx, run, session)
}

// runResearch flips the session into the researching phase, executes the
// research flow, and settles the session on the outcome.
func (o *Orchestrator) runResearch(ctx context.Context, run *gateway.Run, session *types.SessionIndex) error {
	prev := session.Phase
	session.Phase = types.PhaseResearching
	session.LastRunID = run.ID
	if err := o.sessions.Update(ctx, session); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	outcome, err := o.executeResearch(ctx, run, session)
	return o.settleResearch(ctx, run, session, prev, outcome, err)
}

// resumeResearch re-attaches to the job a stranded researching session
// recorded, or falls back to chat when there is none. The triggering turn is
// swallowed: it was typed at a session that was already mid-research.
func (o *Orchestrator) resumeResearch(ctx context.Context, run *gateway.Run, session *types.SessionIndex) error {
	if session.JobID == "" {
		o.log.Warn("researching session has no job id, falling back to chat", "session_id", string(run.SessionID))
		session.Phase = types.PhaseChat
		if err := o.sessions.Update(ctx, session); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		run.Deliver(gateway.MessageNotice, researchingEmpty)
		if err := o.appendUserEvent(ctx, run); err != nil {
			return err
		}
		return o.chatTurn(ctx, run, session)
	}

	o.log.Info("resuming watch of existing research job", "session_id", string(run.SessionID), "job_id", session.JobID)
	run.Deliver(gateway.MessageNotice, resumeNotice)

	// A bare pending payload sends the watcher straight into its poll loop.
	outcome, err := o.watcher.Watch(ctx, &llm.JobPayload{ID: session.JobID, Status: "queued"})
	return o.settleResearch(ctx, run, session, types.PhaseChat, outcome, err)
}

// scheduledRun enters research directly for a scheduler firing. The task's
// prompt is the user turn; a template id in the event metadata pins the
// session's template first.
func (o *Orchestrator) scheduledRun(ctx context.Context, run *gateway.Run, session *types.SessionIndex) error {
	if len(run.Event.Metadata) > 0 {
		var meta struct {
			TemplateID string `json:"template_id"`
		}
		if err := json.Unmarshal(run.Event.Metadata, &meta); err == nil && meta.TemplateID != "" {
			session.TemplateID = types.TemplateID(meta.TemplateID)
		}
	}
	if err := o.appendUserEvent(ctx, run); err != nil {
		return err
	}
	return o.runResearch(ctx, run, session)
}

// executeResearch stages sources, submits the background job, and watches it
// to a terminal outcome.
func (o *Orchestrator) executeResearch(ctx context.Context, run *gateway.Run, session *types.SessionIndex) (*Outcome, error) {
	events, err := o.events.Tail(ctx, run.SessionID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	brief := o.engine.FlattenConversation(researchPreamble, events)
	if len(events) == 0 || brief == "" {
		return nil, errors.New(nothingToResearch)
	}

	var tpl *types.Template
	if session.TemplateID != "" {
		t, terr := o.templates.Get(ctx, session.TemplateID)
		if terr != nil {
			o.log.Warn("session template not found", "session_id", string(run.SessionID), "template_id", string(session.TemplateID))
		} else {
			tpl = t
		}
	}

	files, err := o.sources.List(ctx, run.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	run.Deliver(gateway.MessageNotice, startNotice(len(files)))

	storeID := ""
	if len(files) > 0 {
		storeID, err = o.stageSources(ctx, run.SessionID, files)
		if err != nil {
			return nil, err
		}
		session.VectorStoreIDs = appendVectorStore(session.VectorStoreIDs, storeID)
	}

	req := llm.ResearchRequest{
		Prompt:         brief,
		VectorStoreIDs: session.VectorStoreIDs,
	}
	if tpl != nil {
		req.Model = tpl.Model
		req.Instructions = tpl.SystemPrompt
		req.Temperature = tpl.Temperature
		req.TopP = tpl.TopP
	}

	var submission *llm.JobPayload
	err = o.retry.Execute(ctx, func() error {
		var serr error
		submission, serr = o.researcher.SubmitResearch(ctx, req)
		return serr
	})
	if err != nil {
		return nil, fmt.Errorf("submit research: %w", err)
	}

	session.JobID = submission.ID
	if uerr := o.sessions.Update(ctx, session); uerr != nil {
		// The job is already running; losing the id only costs resume.
		o.log.Warn("persist job id failed", "session_id", string(run.SessionID), "error", uerr)
	}
	if aerr := o.appendEvent(ctx, run, "research_started", map[string]any{
		"job_id":        submission.ID,
		"vector_stores": len(session.VectorStoreIDs),
		"sources":       len(files),
	}); aerr != nil {
		o.log.Warn("record research_started failed", "session_id", string(run.SessionID), "error", aerr)
	}

	if storeID != "" {
		if cerr := o.sources.Clear(ctx, run.SessionID); cerr != nil {
			o.log.Warn("clear staged sources failed", "session_id", string(run.SessionID), "error", cerr)
		}
	}

	return o.watcher.Watch(ctx, submission)
}

// settleResearch applies a watch outcome (or failure) to the session. On
// failure the phase held before the attempt is restored and the error text
// is delivered verbatim; conversation history is left untouched.
func (o *Orchestrator) settleResearch(ctx context.Context, run *gateway.Run, session *types.SessionIndex, prev types.Phase, outcome *Outcome, err error) error {
	if err != nil {
		session.Phase = prev
		if uerr := o.sessions.Update(ctx, session); uerr != nil {
			o.log.Error("restore session phase failed", "session_id", string(run.SessionID), "error", uerr)
		}
		return o.deliverRemoteError(ctx, run, err)
	}

	switch outcome.State {
	case StateQuestion:
		if err := o.appendAssistantEvent(ctx, run, outcome.Text); err != nil {
			return err
		}
		session.Phase = types.PhaseAwaitingAnswer
		if err := o.sessions.Update(ctx, session); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		run.Deliver(gateway.MessageQuestion, outcome.Text)
		return nil

	case StateReport:
		artifactID, err := o.artifacts.Put(ctx, run.SessionID, run.ID, "report", outcome.Text)
		if err != nil {
			return fmt.Errorf("store report: %w", err)
		}
		session.Phase = types.PhaseReported
		session.ReportID = artifactID
		if err := o.sessions.Update(ctx, session); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if aerr := o.appendEvent(ctx, run, "report_ready", map[string]any{
			"artifact_id": string(artifactID),
			"job_id":      outcome.JobID,
			"polls":       outcome.Polls,
			"chars":       len(outcome.Text),
		}); aerr != nil {
			o.log.Warn("record report_ready failed", "session_id", string(run.SessionID), "error", aerr)
		}
		run.Deliver(gateway.MessageReport, outcome.Text)
		return nil

	default:
		return fmt.Errorf("unexpected watch outcome %q", outcome.State)
	}
}

// deliverRemoteError surfaces a remote failure to the user verbatim and
// records it on the event log. Context cancellation is the exception: the
// caller is shutting down, so the error propagates instead.
func (o *Orchestrator) deliverRemoteError(ctx context.Context, run *gateway.Run, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if aerr := o.appendEvent(ctx, run, "error", map[string]string{"text": err.Error()}); aerr != nil {
		o.log.Error("record error event failed", "session_id", string(run.SessionID), "error", aerr)
	}
	run.Deliver(gateway.MessageError, err.Error())
	return nil
}

// stageSources uploads staged files into a fresh vector store: uploads fan
// out, attachment is strictly sequential in staging order, and the call
// returns once the store reports ready (or its wait ceiling passes).
func (o *Orchestrator) stageSources(ctx context.Context, sessionID types.SessionID, files []*types.SourceFile) (string, error) {
	var storeID string
	if err := o.retry.Execute(ctx, func() error {
		var cerr error
		storeID, cerr = o.researcher.CreateVectorStore(ctx)
		return cerr
	}); err != nil {
		return "", fmt.Errorf("create vector store: %w", err)
	}

	fileIDs := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxUploadConcurrency)
	for i, f := range files {
		g.Go(func() error {
			contents, err := o.sources.Read(gctx, sessionID, f.Name)
			if err != nil {
				return fmt.Errorf("read source %s: %w", f.Name, err)
			}
			var id string
			if err := o.retry.Execute(gctx, func() error {
				var uerr error
				id, uerr = o.researcher.UploadFile(gctx, f.Name, contents)
				return uerr
			}); err != nil {
				return fmt.Errorf("upload %s: %w", f.Name, err)
			}
			fileIDs[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	// The remote API rejects batched attachment.
	for i, id := range fileIDs {
		if err := o.retry.Execute(ctx, func() error {
			return o.researcher.AttachFile(ctx, storeID, id)
		}); err != nil {
			return "", fmt.Errorf("attach %s: %w", files[i].Name, err)
		}
	}

	if err := o.researcher.WaitForVectorStore(ctx, storeID); err != nil {
		return "", fmt.Errorf("vector store indexing: %w", err)
	}

	o.log.Info("sources staged", "session_id", string(sessionID), "store_id", storeID, "files", len(files))
	return storeID, nil
}

func (o *Orchestrator) stagedSourceNames(ctx context.Context, sessionID types.SessionID) []string {
	files, err := o.sources.List(ctx, sessionID)
	if err != nil {
		o.log.Warn("list sources failed", "session_id", string(sessionID), "error", err)
		return nil
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names
}

func (o *Orchestrator) appendUserEvent(ctx context.Context, run *gateway.Run) error {
	payload := map[string]string{"text": run.Event.Text}
	if err := o.appendTypedEvent(ctx, run, "user_message", run.Event.Source, payload); err != nil {
		return fmt.Errorf("record user message: %w", err)
	}
	return nil
}

func (o *Orchestrator) appendAssistantEvent(ctx context.Context, run *gateway.Run, text string) error {
	payload := map[string]string{"text": text}
	if err := o.appendTypedEvent(ctx, run, "assistant_message", "orchestrator", payload); err != nil {
		return fmt.Errorf("record assistant message: %w", err)
	}
	return nil
}

func (o *Orchestrator) appendEvent(ctx context.Context, run *gateway.Run, eventType string, payload any) error {
	return o.appendTypedEvent(ctx, run, eventType, "orchestrator", payload)
}

func (o *Orchestrator) appendTypedEvent(ctx context.Context, run *gateway.Run, eventType, source string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return o.events.Append(ctx, &types.Event{
		ID:        types.NewEventID(),
		SessionID: run.SessionID,
		RunID:     run.ID,
		Type:      eventType,
		Source:    source,
		At:        time.Now(),
		Payload:   data,
	})
}

func appendVectorStore(ids []string, id string) []string {
	ids = append(ids, id)
	if len(ids) > maxVectorStores {
		ids = ids[len(ids)-maxVectorStores:]
	}
	return ids
}

func startNotice(nSources int) string {
	if nSources == 0 {
		return "Starting deep research. This can take several minutes; I'll deliver the report as soon as it's ready."
	}
	return fmt.Sprintf("Starting deep research with %d attached document(s). This can take several minutes; I'll deliver the report as soon as it's ready.", nSources)
}
