// Package httpapi exposes the daemon over HTTP: message submission,
// session inspection, source staging, and template management. Message
// processing is asynchronous; POSTing a message returns 202 with a run id
// and results land on the session's event log.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/user/deepscout/internal/gateway"
	"github.com/user/deepscout/internal/templates"
	"github.com/user/deepscout/internal/types"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 20 << 20

	// eventTailLimit bounds how far back the events endpoint reads. Clients
	// polling with ?after= stay well inside this window.
	eventTailLimit = 500
)

// URLFetcher retrieves a remote page and returns it as markdown suitable
// for staging as a source document.
type URLFetcher interface {
	Fetch(ctx context.Context, rawURL string) (name, markdown string, err error)
}

// Deps carries everything the HTTP handlers need.
type Deps struct {
	Gateway   *gateway.Gateway
	Sessions  types.SessionStore
	Events    types.EventStore
	Artifacts types.ArtifactStore
	Sources   types.SourceStore
	Templates *templates.Manager
	Fetcher   URLFetcher

	// Token guards /api/* when non-empty. /health is always open.
	Token  string
	Logger *slog.Logger
}

// NewHandler builds the API router. All /api routes sit behind bearer auth
// when a token is configured.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/sessions/{key}/messages", handlePostMessage(deps))
		r.Post("/sessions/{key}/sources", handlePostSource(deps))
		r.Get("/sessions", handleListSessions(deps))
		r.Get("/sessions/{id}/events", handleListEvents(deps))
		r.Get("/sessions/{id}/report", handleGetReport(deps))
		r.Get("/templates", handleListTemplates(deps))
		r.Put("/templates", handlePutTemplate(deps))
		r.Delete("/templates/{id}", handleDeleteTemplate(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type postMessageRequest struct {
	Text   string `json:"text"`
	UserID string `json:"user_id"`
}

func handlePostMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req postMessageRequest
		body := http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: %v", err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		key := types.SessionKey(chi.URLParam(r, "key"))
		runID, err := deps.Gateway.HandleInbound(r.Context(), &types.InboundEvent{
			Source:     "http",
			SessionKey: key,
			UserID:     req.UserID,
			Text:       req.Text,
		})
		if err != nil {
			deps.Logger.Error("enqueue inbound message", "session_key", key, "error", err)
			httpError(w, http.StatusInternalServerError, "internal_error", "failed to enqueue message")
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id":      string(runID),
			"session_key": string(key),
			"status":      "queued",
		})
	}
}

type postSourceRequest struct {
	URL string `json:"url"`
}

func handlePostSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := types.SessionKey(chi.URLParam(r, "key"))
		sessionID, err := deps.Sessions.ResolveOrCreate(r.Context(), key)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "failed to resolve session")
			return
		}

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if strings.HasPrefix(mediaType, "multipart/") {
			stageUpload(deps, w, r, sessionID)
			return
		}

		var req postSourceRequest
		body := http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: %v", err)
			return
		}
		if req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}
		if deps.Fetcher == nil {
			httpError(w, http.StatusNotImplemented, "invalid_request_error", "URL fetching is not enabled")
			return
		}

		name, markdown, err := deps.Fetcher.Fetch(r.Context(), req.URL)
		if err != nil {
			httpError(w, http.StatusBadGateway, "fetch_error", "fetch %s: %v", req.URL, err)
			return
		}
		file, err := deps.Sources.Add(r.Context(), sessionID, name, []byte(markdown))
		if err != nil {
			deps.Logger.Error("stage URL source", "session_id", sessionID, "error", err)
			httpError(w, http.StatusInternalServerError, "internal_error", "failed to stage source")
			return
		}
		writeJSON(w, http.StatusCreated, file)
	}
}

func stageUpload(deps Deps, w http.ResponseWriter, r *http.Request, sessionID types.SessionID) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	file, header, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field %q is required: %v", "file", err)
		return
	}
	defer file.Close()

	contents, err := io.ReadAll(file)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "read upload: %v", err)
		return
	}

	staged, err := deps.Sources.Add(r.Context(), sessionID, header.Filename, contents)
	if err != nil {
		deps.Logger.Error("stage uploaded source", "session_id", sessionID, "name", header.Filename, "error", err)
		httpError(w, http.StatusInternalServerError, "internal_error", "failed to stage source")
		return
	}
	writeJSON(w, http.StatusCreated, staged)
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := deps.Sessions.List(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "failed to list sessions")
			return
		}
		if sessions == nil {
			sessions = []*types.SessionIndex{}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func handleListEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := types.SessionID(chi.URLParam(r, "id"))
		if _, err := deps.Sessions.Get(r.Context(), sessionID); err != nil {
			httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", sessionID)
			return
		}

		var after int64
		if raw := r.URL.Query().Get("after"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid after parameter: %v", err)
				return
			}
			after = n
		}

		events, err := deps.Events.Tail(r.Context(), sessionID, eventTailLimit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "failed to read events")
			return
		}
		filtered := make([]*types.Event, 0, len(events))
		for _, ev := range events {
			if ev.Seq > after {
				filtered = append(filtered, ev)
			}
		}
		writeJSON(w, http.StatusOK, filtered)
	}
}

func handleGetReport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := types.SessionID(chi.URLParam(r, "id"))
		session, err := deps.Sessions.Get(r.Context(), sessionID)
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", sessionID)
			return
		}
		if session.ReportID == "" {
			httpError(w, http.StatusNotFound, "not_found_error", "session %s has no report yet", sessionID)
			return
		}

		raw, err := deps.Artifacts.Get(r.Context(), session.ReportID)
		if err != nil {
			deps.Logger.Error("read report artifact", "artifact_id", session.ReportID, "error", err)
			httpError(w, http.StatusInternalServerError, "internal_error", "failed to read report")
			return
		}
		var report string
		if err := json.Unmarshal(raw, &report); err != nil {
			// Older artifacts may hold structured data; hand back the raw JSON.
			writeJSON(w, http.StatusOK, json.RawMessage(raw))
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("X-Artifact-ID", string(session.ReportID))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, report)
	}
}

func handleListTemplates(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Templates.List(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "failed to list templates")
			return
		}
		if list == nil {
			list = []*types.Template{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handlePutTemplate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tpl types.Template
		body := http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := json.NewDecoder(body).Decode(&tpl); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: %v", err)
			return
		}
		if tpl.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		created := tpl.ID == ""
		if created {
			tpl.ID = types.NewTemplateID()
		}

		if err := deps.Templates.Save(r.Context(), &tpl); err != nil {
			deps.Logger.Error("save template", "template_id", tpl.ID, "error", err)
			httpError(w, http.StatusInternalServerError, "internal_error", "failed to save template")
			return
		}
		code := http.StatusOK
		if created {
			code = http.StatusCreated
		}
		writeJSON(w, code, &tpl)
	}
}

func handleDeleteTemplate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := types.TemplateID(chi.URLParam(r, "id"))
		if err := deps.Templates.Delete(r.Context(), id); err != nil {
			if errors.Is(err, templates.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "template %s not found", id)
				return
			}
			deps.Logger.Error("delete template", "template_id", id, "error", err)
			httpError(w, http.StatusInternalServerError, "internal_error", "failed to delete template")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": string(id)})
	}
}
