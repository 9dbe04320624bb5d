package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"bookseek/config"
	"bookseek/db"
	"bookseek/irc/parser"
	"bookseek/irc/search"
	"bookseek/irc/session"

	"github.com/go-chi/chi/v5"
)

type APIHandler struct {
	registry *session.Registry
	log      *slog.Logger
	history  *db.DownloadRepository
}

func NewAPIHandler(registry *session.Registry, history *db.DownloadRepository, log *slog.Logger) *APIHandler {
	return &APIHandler{registry: registry, history: history, log: log}
}

// Router mounts every endpoint under /irc.
func (h *APIHandler) Router() chi.Router {
	mux := chi.NewRouter()

	mux.Route("/irc", func(r chi.Router) {
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/active", h.ActiveSessions)
		r.Get("/sessions/{id}", h.SessionStatus)
		r.Post("/sessions/{id}/close", h.CloseSession)

		r.Post("/search", h.Search)
		r.Post("/search/author-level", h.AuthorLevelSearch)
		r.Post("/search/title-level", h.TitleLevelSearch)
		r.Post("/smart-search", h.SmartSearch)
		r.Post("/download/fallback", h.DownloadWithFallback)

		r.Get("/downloads/history", h.DownloadHistory)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type createSessionRequest struct {
	Server    string `json:"server"`
	Port      int    `json:"port"`
	Channel   string `json:"channel"`
	EnableTLS *bool  `json:"enableTls"`
	SearchBot string `json:"searchBot"`
}

// CreateSession registers a session and starts connecting in the background.
// The response returns immediately; clients poll the status endpoint until
// connected and joined are both true.
func (h *APIHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		// an empty body means all defaults
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	cfg := session.Config{
		Server:          config.IRC_SERVER,
		Port:            config.IRC_PORT,
		Channel:         config.IRC_CHANNEL,
		EnableTLS:       config.IRC_TLS,
		UserAgent:       config.USER_AGENT,
		SearchBot:       config.SEARCH_BOT,
		DownloadDir:     config.DOWNLOAD_DIR,
		ConnectTimeout:  config.CONNECT_TIMEOUT,
		ResponseTimeout: config.RESPONSE_TIMEOUT,
	}
	if req.Server != "" {
		cfg.Server = req.Server
	}
	if req.Port > 0 {
		cfg.Port = req.Port
	}
	if req.Channel != "" {
		cfg.Channel = req.Channel
	}
	if req.EnableTLS != nil {
		cfg.EnableTLS = *req.EnableTLS
	}
	if req.SearchBot != "" {
		cfg.SearchBot = req.SearchBot
	}

	s := h.registry.Create(cfg)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"sessionId": s.ID,
		"status":    s.Status(),
	})
}

func (h *APIHandler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, chi.URLParam(r, "id"))
	if s == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

func (h *APIHandler) ActiveSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": h.registry.ActiveIDs(),
	})
}

func (h *APIHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.registry.Close(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "session closed", "sessionId": id})
}

type searchRequest struct {
	SessionID  string `json:"sessionId"`
	Author     string `json:"author"`
	Title      string `json:"title"`
	MaxResults int    `json:"maxResults"`
	EPUBOnly   bool   `json:"epubOnly"`
}

// Search runs a raw single-pass search on the session and returns the parsed
// records without any grouping.
func (h *APIHandler) Search(w http.ResponseWriter, r *http.Request) {
	req, s := h.searchInputs(w, r, false)
	if s == nil {
		return
	}

	records, err := s.SearchBooks(r.Context(), req.Author, req.Title, req.MaxResults)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if req.EPUBOnly {
		records = parser.FilterResults(records, parser.FilterOptions{EPUBOnly: true})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"results": records,
	})
}

func (h *APIHandler) AuthorLevelSearch(w http.ResponseWriter, r *http.Request) {
	req, s := h.searchInputs(w, r, false)
	if s == nil {
		return
	}

	orch := h.orchestrator(s)
	records, err := orch.AuthorLevel(r.Context(), req.Author, req.MaxResults)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"results": records,
	})
}

func (h *APIHandler) TitleLevelSearch(w http.ResponseWriter, r *http.Request) {
	req, s := h.searchInputs(w, r, true)
	if s == nil {
		return
	}

	orch := h.orchestrator(s)
	records, err := orch.TitleLevel(r.Context(), req.Author, req.Title, req.MaxResults)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":      len(records),
		"candidates": records,
	})
}

func (h *APIHandler) SmartSearch(w http.ResponseWriter, r *http.Request) {
	req, s := h.searchInputs(w, r, false)
	if s == nil {
		return
	}

	orch := h.orchestrator(s)
	result, err := orch.SmartSearchAndDownload(r.Context(), req.Author, req.Title, req.MaxResults)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type fallbackRequest struct {
	SessionID      string              `json:"sessionId"`
	Candidates     []parser.BookRecord `json:"candidates"`
	TimeoutMinutes int                 `json:"timeoutMinutes"`
	Filename       string              `json:"filename"`
}

// DownloadWithFallback walks client-supplied candidates, typically a
// title-level response body echoed back, downloading from the first server
// that delivers.
func (h *APIHandler) DownloadWithFallback(w http.ResponseWriter, r *http.Request) {
	var req fallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s := h.session(w, req.SessionID)
	if s == nil {
		return
	}
	if len(req.Candidates) == 0 {
		writeError(w, http.StatusBadRequest, "candidates are required")
		return
	}

	opts := search.FallbackOptions{
		AttemptWindow:    time.Duration(req.TimeoutMinutes) * time.Minute,
		FilenameOverride: req.Filename,
	}
	result := h.orchestrator(s).DownloadWithFallback(r.Context(), req.Candidates, opts)
	writeJSON(w, http.StatusOK, result)
}

func (h *APIHandler) DownloadHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "download history is not enabled")
		return
	}
	downloads, err := h.history.RecentDownloads(50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(downloads),
		"downloads": downloads,
	})
}

func (h *APIHandler) session(w http.ResponseWriter, id string) *session.Session {
	if id == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return nil
	}
	s := h.registry.Get(id)
	if s == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil
	}
	return s
}

func (h *APIHandler) searchInputs(w http.ResponseWriter, r *http.Request, requireTitle bool) (*searchRequest, *session.Session) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, nil
	}
	if req.Author == "" {
		writeError(w, http.StatusBadRequest, "author is required")
		return nil, nil
	}
	if requireTitle && req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return nil, nil
	}
	s := h.session(w, req.SessionID)
	if s == nil {
		return nil, nil
	}
	if !s.Ready() {
		writeError(w, http.StatusConflict, "session is not connected yet")
		return nil, nil
	}
	return &req, s
}

func (h *APIHandler) orchestrator(s *session.Session) *search.Orchestrator {
	orch := search.NewOrchestrator(s, h.log)
	if h.history != nil {
		orch = orch.WithHistory(h.history)
	}
	return orch
}
