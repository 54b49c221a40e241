package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/puzzlebot/accounts"
	"github.com/wricardo/puzzlebot/game/config"
	"github.com/wricardo/puzzlebot/game/service"
	"github.com/wricardo/puzzlebot/game/session"
	"github.com/wricardo/puzzlebot/transport/websocket"
)

// Accounts is the part of the account service the API needs
type Accounts interface {
	Register(ctx context.Context, req accounts.RegisterRequest) (*accounts.User, error)
	Login(ctx context.Context, username, password string) (*accounts.User, string, time.Time, error)
	Authenticate(ctx context.Context, token string) (*accounts.User, error)
	InviteCode(ctx context.Context, parentID string) (string, error)
	LinkChild(ctx context.Context, childID, code string) (*accounts.User, error)
	Children(ctx context.Context, parentID string) ([]*accounts.User, error)
	Report(ctx context.Context, parentID, childID string) (*accounts.Report, error)
}

// Server represents the REST API server
type Server struct {
	service  service.GameService
	hub      *websocket.Hub
	accounts Accounts
	router   *mux.Router
	logger   zerolog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithAccounts enables the account routes
func WithAccounts(a Accounts) Option {
	return func(s *Server) { s.accounts = a }
}

// WithLogger sets the request logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

type userCtxKey struct{}

// NewServer creates a new API server
func NewServer(gameService service.GameService, hub *websocket.Hub, opts ...Option) *Server {
	s := &Server{
		service: gameService,
		hub:     hub,
		router:  mux.NewRouter(),
		logger:  log.Logger.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)

	api := s.router.PathPrefix("/api").Subrouter()

	// Catalog
	api.HandleFunc("/levels", s.handleListLevels).Methods("GET")
	api.HandleFunc("/levels/{level:[0-9]+}", s.handleGetLevel).Methods("GET")

	// Session management
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")

	// Game operations
	api.HandleFunc("/sessions/{id}/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/sessions/{id}/commands", s.handleAddCommands).Methods("POST")
	api.HandleFunc("/sessions/{id}/commands", s.handleRemoveLastCommand).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/commands/clear", s.handleClearCommands).Methods("POST")
	api.HandleFunc("/sessions/{id}/run", s.handleRun).Methods("POST")
	api.HandleFunc("/sessions/{id}/reset", s.handleReset).Methods("POST")
	api.HandleFunc("/sessions/{id}/puzzle", s.handleLoadPuzzle).Methods("POST")
	api.HandleFunc("/sessions/{id}/next", s.handleNextPuzzle).Methods("POST")

	// Accounts
	if s.accounts != nil {
		api.HandleFunc("/auth/register", s.handleRegister).Methods("POST")
		api.HandleFunc("/auth/login", s.handleLogin).Methods("POST")
		api.Handle("/me", s.requireUser("", s.handleMe)).Methods("GET")
		api.Handle("/parent/invite-code", s.requireUser(accounts.Parent, s.handleInviteCode)).Methods("GET", "POST")
		api.Handle("/parent/children", s.requireUser(accounts.Parent, s.handleChildren)).Methods("GET")
		api.Handle("/parent/children/{id}/report", s.requireUser(accounts.Parent, s.handleReport)).Methods("GET")
		api.Handle("/kid/link", s.requireUser(accounts.Kid, s.handleLinkChild)).Methods("POST")
	}

	// WebSocket
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps a service error to its HTTP status
func respondErr(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrInvalidSessionID),
		errors.Is(err, config.ErrLevelNotFound),
		errors.Is(err, config.ErrPuzzleNotFound),
		errors.Is(err, accounts.ErrInviteCodeNotFound),
		errors.Is(err, accounts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidDirection),
		errors.Is(err, accounts.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, accounts.ErrUsernameTaken),
		errors.Is(err, accounts.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, accounts.ErrInvalidCredentials),
		errors.Is(err, accounts.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, accounts.ErrNotParent),
		errors.Is(err, accounts.ErrNotKid),
		errors.Is(err, accounts.ErrNotLinked):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes an optional JSON body. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hijacked websocket connections must keep the original writer
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Catalog Handlers

func (s *Server) handleListLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := s.service.ListLevels(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(levels),
		"levels": levels,
	})
}

func (s *Server) handleGetLevel(w http.ResponseWriter, r *http.Request) {
	level, _ := strconv.Atoi(mux.Vars(r)["level"])

	detail, err := s.service.GetLevel(r.Context(), level)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, detail)
}

// Session Handlers

type puzzleRequest struct {
	Level int `json:"level,omitempty"`
	Index int `json:"index,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req puzzleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Anonymous play is allowed; a signed-in kid plays as themselves so
	// their outcomes reach the parent report
	subjectID := ""
	if s.accounts != nil && bearerToken(r) != "" {
		user, err := s.accounts.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			respondErr(w, err)
			return
		}
		if user.Type == accounts.Kid {
			subjectID = user.ID
		}
	}

	info, err := s.service.CreateSession(r.Context(), subjectID, req.Level, req.Index)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}

	total := len(sessions)
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < len(sessions) {
			sessions = sessions[:l]
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"total":    total,
		"sessions": sessions,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := s.service.DeleteSession(r.Context(), sessionID); err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Session %s deleted", sessionID),
	})
}

// Game Operation Handlers

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.GetState(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleAddCommands(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction  string   `json:"direction,omitempty"`
		Directions []string `json:"directions,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	directions := req.Directions
	if req.Direction != "" {
		directions = append([]string{req.Direction}, directions...)
	}
	if len(directions) == 0 {
		respondError(w, http.StatusBadRequest, "direction or directions is required")
		return
	}

	state, err := s.service.AddCommands(r.Context(), mux.Vars(r)["id"], directions)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleRemoveLastCommand(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.RemoveLastCommand(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleClearCommands(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.ClearCommands(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	result, err := s.service.Run(r.Context(), mux.Vars(r)["id"], wait)
	if err != nil {
		respondErr(w, err)
		return
	}

	status := http.StatusOK
	if !result.Accepted {
		status = http.StatusConflict
	} else if !wait {
		status = http.StatusAccepted
	}
	respondJSON(w, status, result)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.Reset(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Attempt reset",
		"state":   state,
	})
}

func (s *Server) handleLoadPuzzle(w http.ResponseWriter, r *http.Request) {
	var req puzzleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := s.service.LoadPuzzle(r.Context(), mux.Vars(r)["id"], req.Level, req.Index)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleNextPuzzle(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.NextPuzzle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, info)
}

// Account Handlers

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireUser authenticates the bearer token. A non-empty userType also
// restricts the route to that kind of account.
func (s *Server) requireUser(userType accounts.UserType, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "authorization required")
			return
		}
		user, err := s.accounts.Authenticate(r.Context(), token)
		if err != nil {
			respondErr(w, err)
			return
		}
		if userType != "" && user.Type != userType {
			respondError(w, http.StatusForbidden, fmt.Sprintf("%s account required", userType))
			return
		}
		ctx := context.WithValue(r.Context(), userCtxKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) *accounts.User {
	u, _ := ctx.Value(userCtxKey{}).(*accounts.User)
	return u
}

type authResponse struct {
	User      *accounts.User `json:"user"`
	Token     string         `json:"token,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req accounts.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := s.accounts.Register(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}

	resp := authResponse{User: user}
	if _, token, exp, err := s.accounts.Login(r.Context(), req.Username, req.Password); err == nil {
		resp.Token = token
		resp.ExpiresAt = &exp
	} else {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("login after registration failed")
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, token, exp, err := s.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, authResponse{User: user, Token: token, ExpiresAt: &exp})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, userFromContext(r.Context()))
}

func (s *Server) handleInviteCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.accounts.InviteCode(r.Context(), userFromContext(r.Context()).ID)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"invite_code": code})
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	children, err := s.accounts.Children(r.Context(), userFromContext(r.Context()).ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	if children == nil {
		children = []*accounts.User{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(children),
		"children": children,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.accounts.Report(r.Context(), userFromContext(r.Context()).ID, mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleLinkChild(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InviteCode string `json:"invite_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	parent, err := s.accounts.LinkChild(r.Context(), userFromContext(r.Context()).ID, req.InviteCode)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("Linked to %s", parent.Username),
		"parent":  parent,
	})
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "session parameter required")
		return
	}

	info, err := s.service.GetSession(r.Context(), sessionID)
	if err != nil {
		respondErr(w, err)
		return
	}

	// The hub keys clients by the canonical id the engine observer reports
	s.hub.ServeWS(w, r, info.ID)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
