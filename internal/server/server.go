// Package server exposes the HTTP API over the app layer.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"

	"classchat/internal/app"
	"classchat/internal/util"
	"classchat/pkg/ai"
	"classchat/pkg/domain"
	"classchat/pkg/store"
)

const jsonBodyLimit = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the classroom chat service.
type Server struct {
	app            *app.App
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}
	s := &Server{
		app:            cfg.App,
		maxUploadBytes: maxUpload,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler wrapped in the shared middleware.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.Handle("POST /auth/logout", s.withUser(s.handleLogout))

	s.mux.Handle("POST /turns", s.withUser(s.handleNewTurn))
	s.mux.Handle("POST /conversations/{id}/turns", s.withUser(s.handleTurn))
	s.mux.Handle("PUT /conversations/{id}/messages/{messageId}", s.withUser(s.handleEditMessage))
	s.mux.Handle("GET /conversations", s.withUser(s.handleListConversations))
	s.mux.Handle("GET /conversations/{id}/transcript", s.withUser(s.handleTranscript))
	s.mux.Handle("GET /prompt-context", s.withUser(s.handlePromptContext))
	s.mux.Handle("GET /models", s.withUser(s.handleModels))

	s.mux.Handle("GET /admin/assignments", s.withAdmin(s.handleListAssignments))
	s.mux.Handle("POST /admin/assignments", s.withAdmin(s.handleCreateAssignment))
	s.mux.Handle("PUT /admin/assignments/{id}/prompt", s.withAdmin(s.handleUpdateAssignmentPrompt))
	s.mux.Handle("POST /admin/assignments/{id}/activate", s.withAdmin(s.handleActivateAssignment))
	s.mux.Handle("GET /admin/base-prompt", s.withAdmin(s.handleGetBasePrompt))
	s.mux.Handle("PUT /admin/base-prompt", s.withAdmin(s.handleSetBasePrompt))
	s.mux.Handle("GET /admin/conversations", s.withAdmin(s.handleAdminConversations))
	s.mux.Handle("DELETE /admin/conversations/{id}", s.withAdmin(s.handleDeleteConversation))
	s.mux.Handle("POST /admin/users", s.withAdmin(s.handleCreateUser))
	s.mux.Handle("POST /admin/storage/sweep", s.withAdmin(s.handleSweep))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, jsonBodyLimit)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.User == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "user and password are required")
		return
	}
	token, user, err := s.app.Login(r.Context(), req.User, req.Password, clientIP(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, user domain.User) {
	token, _ := bearerToken(r)
	if err := s.app.Logout(r.Context(), token); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNewTurn(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.serveTurn(w, r, user, "")
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.serveTurn(w, r, user, r.PathValue("id"))
}

type turnRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

func (s *Server) serveTurn(w http.ResponseWriter, r *http.Request, user domain.User, conversationID string) {
	text, model, uploads, ok := s.readTurnRequest(w, r)
	if !ok {
		return
	}
	result, err := s.app.SendTurn(r.Context(), user.ID, conversationID, text, model, uploads)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// readTurnRequest accepts either a JSON body or a multipart form with a
// repeated "files" field.
func (s *Server) readTurnRequest(w http.ResponseWriter, r *http.Request) (string, string, []app.Upload, bool) {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		var req turnRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, jsonBodyLimit)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return "", "", nil, false
		}
		return req.Text, req.Model, nil, true
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid or oversized multipart body")
		return "", "", nil, false
	}
	text := r.FormValue("text")
	model := r.FormValue("model")
	var uploads []app.Upload
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			data, err := readUpload(fh)
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable upload "+fh.Filename)
				return "", "", nil, false
			}
			uploads = append(uploads, app.Upload{
				Filename: fh.Filename,
				Mime:     fh.Header.Get("Content-Type"),
				Data:     data,
			})
		}
	}
	return text, model, uploads, true
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

type editRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req editRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, jsonBodyLimit)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.app.EditAndRegenerate(r.Context(), user.ID, r.PathValue("id"), r.PathValue("messageId"), req.Text)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, user domain.User) {
	summaries, err := s.app.ListConversations(r.Context(), user.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request, user domain.User) {
	text, err := s.app.GetTranscript(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

func (s *Server) handlePromptContext(w http.ResponseWriter, r *http.Request, user domain.User) {
	pc, err := s.app.ActivePromptContext(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pc)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request, user domain.User) {
	models, err := s.app.ListModels(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"models": models})
}

// --- admin handlers ---

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request, _ domain.User) {
	assignments, err := s.app.ListAssignments(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

type assignmentRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req assignmentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, jsonBodyLimit)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	assignment, err := s.app.CreateAssignment(r.Context(), req.Name, req.Prompt)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleUpdateAssignmentPrompt(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req promptRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, jsonBodyLimit)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.UpdateAssignmentPrompt(r.Context(), r.PathValue("id"), req.Prompt); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleActivateAssignment(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if err := s.app.ActivateAssignment(r.Context(), r.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetBasePrompt(w http.ResponseWriter, r *http.Request, _ domain.User) {
	prompt, err := s.app.BasePrompt(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": prompt})
}

func (s *Server) handleSetBasePrompt(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req promptRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, jsonBodyLimit)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.SetBasePrompt(r.Context(), req.Prompt); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdminConversations(w http.ResponseWriter, r *http.Request, _ domain.User) {
	q := r.URL.Query()
	filter := store.ConversationFilter{
		UserID:       q.Get("user"),
		AssignmentID: q.Get("assignment"),
		Model:        q.Get("model"),
	}
	summaries, err := s.app.ListConversationsAdmin(r.Context(), filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if err := s.app.DeleteConversation(r.Context(), r.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createUserRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req createUserRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, jsonBodyLimit)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	role := domain.UserRole(req.Role)
	if req.Role == "" {
		role = domain.RoleStudent
	}
	user, err := s.app.CreateUser(r.Context(), req.User, req.Password, role)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request, _ domain.User) {
	removed, err := s.app.SweepOrphans(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// --- middleware and helpers ---

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.UserByToken(r.Context(), token)
		if err != nil {
			writeAppError(w, err)
			return
		}
		next(w, r, user)
	})
}

func (s *Server) withAdmin(next userHandler) http.Handler {
	return s.withUser(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if user.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r, user)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrValidation), errors.Is(err, app.ErrModelNotAllowed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many attempts")
	case errors.Is(err, store.ErrPersistenceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "persistence unavailable")
	case errors.Is(err, ai.ErrWireProtocol):
		writeError(w, http.StatusBadGateway, "chat api rejected request")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
