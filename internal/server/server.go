package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"tenantchat/internal/app"
	"tenantchat/internal/ratelimit"
	"tenantchat/internal/servicetoken"
	"tenantchat/internal/util"
	"tenantchat/pkg/domain"
	"tenantchat/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	LoginLimiter   *ratelimit.FixedWindowLimiter
	Maintenance    *servicetoken.Manager
	TrustedProxies *util.TrustedProxies
}

// Server exposes the HTTP surface over the application facade.
type Server struct {
	app            *app.App
	loginLimiter   *ratelimit.FixedWindowLimiter
	maintenance    *servicetoken.Manager
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		loginLimiter:   cfg.LoginLimiter,
		maintenance:    cfg.Maintenance,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/auth/register", s.handleRegister)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.Handle("/auth/logout", s.withIdentity(s.handleLogout))
	s.mux.Handle("/me", s.withIdentity(s.handleMe))
	s.mux.Handle("/usage", s.withIdentity(s.handleUsage))
	s.mux.Handle("/conversations", s.withIdentity(s.handleConversations))
	s.mux.Handle("/conversations/", s.withIdentity(s.handleConversationSubtree))
	s.mux.Handle("/tags", s.withIdentity(s.handleTags))
	s.mux.Handle("/tags/", s.withIdentity(s.handleTagByID))
	s.mux.Handle("/admin/grants", s.withIdentity(s.handleGrants))
	s.mux.HandleFunc("/internal/maintenance", s.handleMaintenance)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type credentialsRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	identity, err := s.app.Register(r.Context(), req.Handle, req.Password)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, identity)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	address := util.ClientIP(r, s.trustedProxies)
	if s.loginLimiter != nil && !s.loginLimiter.Allow(address) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := s.app.Login(r.Context(), req.Handle, req.Password, address)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, _ := servicetoken.BearerToken(r)
	s.app.Logout(token)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

type identityHandler func(http.ResponseWriter, *http.Request, domain.Identity)

func (s *Server) withIdentity(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		identity, err := s.app.Authenticate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, identity)
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps facade errors onto HTTP statuses. Lockout and
// throttle responses carry Retry-After; quota refusals carry the
// eviction plan.
func writeAppError(w http.ResponseWriter, err error) {
	var locked *app.LockedError
	if errors.As(err, &locked) {
		w.Header().Set("Retry-After", retryAfterSeconds(locked.RetryAfter))
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":       "account locked",
			"retryAfter":  locked.RetryAfter.Seconds(),
			"lockedUntil": locked.Until,
		})
		return
	}
	var limited *app.RateLimitedError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", retryAfterSeconds(limited.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":      "too many attempts",
			"retryAfter": limited.RetryAfter.Seconds(),
		})
		return
	}
	var quotaErr *app.QuotaExceededError
	if errors.As(err, &quotaErr) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "storage quota exceeded",
			"plan":  quotaErr.Plan,
		})
		return
	}
	switch {
	case errors.Is(err, app.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredential), errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrHandleTaken),
		errors.Is(err, app.ErrConcurrentStream),
		errors.Is(err, store.ErrTagLimitReached),
		errors.Is(err, store.ErrTagInUse):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrDocumentTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, app.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
