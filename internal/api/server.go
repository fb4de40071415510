// ABOUTME: HTTP handlers for analyze, chat, session history, and health,
// ABOUTME: wiring the orchestrator and the stores behind JSON contracts.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelops/incident-gateway/internal/orchestrator"
	"github.com/sentinelops/incident-gateway/internal/store"
	"github.com/sentinelops/incident-gateway/internal/transcript"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// DefaultSystemPrompt frames the model as an incident analyst when the
// configuration does not override it.
const DefaultSystemPrompt = "You are a cloud security incident analysis expert. " +
	"Use the available tools to gather evidence before answering, and state " +
	"clearly when evidence is missing."

// Runner is what the handlers need from the orchestrator.
type Runner interface {
	Run(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.Result, error)
}

// Server holds the HTTP surface's collaborators.
type Server struct {
	runner       Runner
	sessions     store.SessionStore
	incidents    store.IncidentStore
	systemPrompt string
	logger       *slog.Logger
}

// Config assembles a Server.
type Config struct {
	Runner       Runner
	Sessions     store.SessionStore
	Incidents    store.IncidentStore
	SystemPrompt string
	Logger       *slog.Logger
}

// NewServer creates the HTTP surface.
func NewServer(cfg Config) *Server {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "api")
	}
	return &Server{
		runner:       cfg.Runner,
		sessions:     cfg.Sessions,
		incidents:    cfg.Incidents,
		systemPrompt: cfg.SystemPrompt,
		logger:       cfg.Logger,
	}
}

// Routes returns the handler for all endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /sessions/{id}/messages", s.handleSessionMessages)
	mux.HandleFunc("GET /users/{user}/sessions", s.handleUserSessions)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.logRequests(mux)
}

// analyzeRequest asks for an automated analysis of one incident.
type analyzeRequest struct {
	AnalysisID string          `json:"analysis_id"`
	Incident   json.RawMessage `json:"incident"`
}

type analyzeResponse struct {
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
	Result     string `json:"result"`
	Iterations int    `json:"iterations"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.AnalysisID == "" {
		s.writeError(w, http.StatusBadRequest, "analysis_id is required")
		return
	}
	if len(req.Incident) == 0 {
		s.writeError(w, http.StatusBadRequest, "incident is required")
		return
	}

	inc := &store.Incident{
		ID:     req.AnalysisID,
		Status: store.StatusAnalyzing,
		Source: string(req.Incident),
	}
	if err := s.incidents.Save(r.Context(), inc); err != nil {
		s.logger.Error("saving incident", "id", req.AnalysisID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "storing incident record failed")
		return
	}

	prompt := fmt.Sprintf(
		"Analyze the following security incident and summarize severity, likely cause, and recommended response.\n\n%s",
		req.Incident)

	result, runErr := s.runner.Run(r.Context(), orchestrator.RunRequest{
		SessionID:    req.AnalysisID,
		User:         "auto-analysis",
		IncidentID:   req.AnalysisID,
		Messages:     []transcript.Turn{transcript.UserText(prompt)},
		SystemPrompt: s.systemPrompt,
	})

	status := store.StatusCompleted
	if result.Outcome == orchestrator.OutcomeFailed {
		status = store.StatusFailed
	}
	if err := s.incidents.SetResult(r.Context(), req.AnalysisID, status, result.Text); err != nil {
		s.logger.Error("storing analysis result", "id", req.AnalysisID, "error", err)
	}

	if runErr != nil {
		s.logger.Error("analysis run failed", "id", req.AnalysisID, "error", runErr)
		s.writeJSON(w, http.StatusBadGateway, analyzeResponse{
			AnalysisID: req.AnalysisID,
			Status:     string(status),
			Result:     result.Text,
			Iterations: result.Iterations,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, analyzeResponse{
		AnalysisID: req.AnalysisID,
		Status:     string(status),
		Result:     result.Text,
		Iterations: result.Iterations,
	})
}

// chatRequest is one conversational exchange within a session.
type chatRequest struct {
	SessionID  string `json:"session_id"`
	Message    string `json:"message"`
	User       string `json:"user"`
	IncidentID string `json:"incident_id,omitempty"`
}

type chatResponse struct {
	SessionID string   `json:"session_id"`
	Reply     string   `json:"reply"`
	Outcome   string   `json:"outcome"`
	ToolsUsed []string `json:"tools_used,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	// Prior turns become transcript context; tool results return as user
	// context rather than raw tool blocks, which is sufficient for recall.
	history, err := s.sessions.SessionMessages(r.Context(), req.SessionID)
	if err != nil {
		s.logger.Error("loading session history", "session", req.SessionID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "loading session history failed")
		return
	}
	messages := historyTurns(history)
	messages = append(messages, transcript.UserText(req.Message))

	result, runErr := s.runner.Run(r.Context(), orchestrator.RunRequest{
		SessionID:    req.SessionID,
		User:         req.User,
		IncidentID:   req.IncidentID,
		Messages:     messages,
		SystemPrompt: s.systemPrompt,
	})
	if runErr != nil {
		s.logger.Error("chat run failed", "session", req.SessionID, "error", runErr)
		s.writeJSON(w, http.StatusBadGateway, chatResponse{
			SessionID: req.SessionID,
			Reply:     result.Text,
			Outcome:   string(result.Outcome),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, chatResponse{
		SessionID: req.SessionID,
		Reply:     result.Text,
		Outcome:   string(result.Outcome),
		ToolsUsed: result.ToolsUsed,
	})
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	records, err := s.sessions.SessionMessages(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("listing session messages", "session", sessionID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "listing session messages failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   records,
	})
}

func (s *Server) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := s.sessions.UserSessions(r.Context(), user, limit)
	if err != nil {
		s.logger.Error("listing user sessions", "user", user, "error", err)
		s.writeError(w, http.StatusInternalServerError, "listing user sessions failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"messages": records,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// historyTurns folds stored records into alternating transcript turns.
func historyTurns(records []store.ChatRecord) []transcript.Turn {
	var turns []transcript.Turn
	for _, rec := range records {
		if rec.Content == "" {
			continue
		}
		role := transcript.RoleUser
		if rec.Role == store.RoleAssistant {
			role = transcript.RoleAssistant
		}
		turns = append(turns, transcript.Turn{
			Role:    role,
			Content: []transcript.Block{transcript.TextBlock(rec.Content)},
		})
	}
	return turns
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// logRequests wraps the mux with per-request logging.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}
