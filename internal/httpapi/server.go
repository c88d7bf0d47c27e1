package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rollupim/supportchat/internal/config"
	"github.com/rollupim/supportchat/internal/content"
	"github.com/rollupim/supportchat/internal/notify"
	"github.com/rollupim/supportchat/internal/observability"
	"github.com/rollupim/supportchat/internal/session"
	"github.com/rollupim/supportchat/internal/turnlog"
)

// TurnHandler resolves one chat turn and reports the session id the client
// must echo back.
type TurnHandler interface {
	HandleTurn(ctx context.Context, sessionID, text string) (reply, sid string)
}

// EscalationSender dispatches a direct human-handoff request.
type EscalationSender interface {
	NotifyAdmin(ctx context.Context, req notify.Request) error
	Recipient() string
}

// ContentReporter exposes reload state for the debug endpoints.
type ContentReporter interface {
	Status() content.Status
}

// LogTailer returns the most recent turn records.
type LogTailer interface {
	Tail(n int) []turnlog.Record
}

type Server struct {
	cfg      config.Config
	turns    TurnHandler
	notifier EscalationSender
	contents ContentReporter
	tailer   LogTailer
	sessions *session.Manager
	logger   *slog.Logger
}

func New(cfg config.Config, turns TurnHandler, notifier EscalationSender, contents ContentReporter, tailer LogTailer, sessions *session.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		turns:    turns,
		notifier: notifier,
		contents: contents,
		tailer:   tailer,
		sessions: sessions,
		logger:   logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/api/ping", s.handlePing)
	r.Post("/api/chat", s.handleChat)
	r.Post("/api/escalate", s.handleEscalate)

	r.Get("/api/debug/kb", s.handleDebugKB)
	r.Get("/api/debug/syn", s.handleDebugSyn)
	r.Get("/api/debug/env", s.handleDebugEnv)
	r.Get("/api/debug/log", s.handleDebugLog)

	return r
}

const sessionCookie = "sid"

type chatRequest struct {
	Text string `json:"text"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text is required")
		return
	}

	var incoming string
	if c, err := r.Cookie(sessionCookie); err == nil {
		incoming = c.Value
	}

	reply, sid := s.turns.HandleTurn(r.Context(), incoming, req.Text)

	if sid != incoming {
		// Cross-site storefront embeds need SameSite=None with credentials.
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sid,
			Path:     "/",
			MaxAge:   int(s.cfg.SessionTTL.Seconds()),
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteNoneMode,
		})
	}
	respondJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

type escalateRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Question string `json:"question"`
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Phone) == "" || strings.TrimSpace(req.Question) == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "phone and question are required"})
		return
	}

	err := s.notifier.NotifyAdmin(r.Context(), notify.Request{
		Name:     strings.TrimSpace(req.Name),
		Phone:    strings.TrimSpace(req.Phone),
		Question: strings.TrimSpace(req.Question),
	})
	if err != nil {
		s.logger.Warn("escalation dispatch failed", "error", err)
		respondJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": "could not forward the request"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "forwarded to a human agent",
		"sentTo":  s.notifier.Recipient(),
	})
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	st := s.contents.Status()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"content_loaded_at": st.LoadedAt,
	})
}

func (s *Server) handleDebugKB(w http.ResponseWriter, _ *http.Request) {
	st := s.contents.Status()
	respondJSON(w, http.StatusOK, map[string]any{
		"entries":    st.KBEntries,
		"loaded_at":  st.LoadedAt,
		"last_error": st.LastError,
	})
}

func (s *Server) handleDebugSyn(w http.ResponseWriter, _ *http.Request) {
	st := s.contents.Status()
	respondJSON(w, http.StatusOK, map[string]any{
		"groups":     st.SynonymGroups,
		"loaded_at":  st.LoadedAt,
		"last_error": st.LastError,
	})
}

// handleDebugEnv reports which credentials are present, keeping only the
// last characters so a deploy can be sanity-checked without leaking keys.
func (s *Server) handleDebugEnv(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"openai_key":     maskTail(s.cfg.OpenAIAPIKey),
		"openai_model":   s.cfg.OpenAIModel,
		"fallback_model": s.cfg.OpenAIFallbackModel,
		"airtable_key":   maskTail(s.cfg.AirtableAPIKey),
		"airtable_base":  maskTail(s.cfg.AirtableBaseID),
		"airtable_table": s.cfg.AirtableTable,
		"webhook":        maskTail(s.cfg.EscalationWebhookURL),
		"recipient":      maskTail(s.cfg.EscalationRecipient),
	})
}

func (s *Server) handleDebugLog(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			n = v
		}
	}
	records := s.tailer.Tail(n)
	if records == nil {
		records = []turnlog.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"records": records})
}

func maskTail(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
