package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"inventoryhub/dashboard/internal/audit"
	"inventoryhub/dashboard/internal/auth"
	"inventoryhub/dashboard/internal/config"
	"inventoryhub/dashboard/internal/guard"
	"inventoryhub/dashboard/internal/inventory"
)

// SessionManager is the session surface the dashboard drives.
// *auth.Manager satisfies it.
type SessionManager interface {
	Session() auth.Session
	Login(ctx context.Context, username, password string) error
	Register(ctx context.Context, username, email, password string, role auth.Role) error
	Logout(ctx context.Context)
	Subscribe(fn func(auth.Session)) (unsubscribe func())
}

type TokenReader interface {
	AccessToken(ctx context.Context) (string, error)
}

type Locator interface {
	auth.Navigator
	Current() string
}

type AuditLogger interface {
	Write(e audit.Event) error
}

type Deps struct {
	Session   SessionManager
	Tokens    TokenReader
	Location  Locator
	Routes    *guard.Routes
	Inventory *inventory.Service
	// API loads raw page resources.
	API    inventory.Doer
	Audit  AuditLogger
	Logger *slog.Logger
}

type Server struct {
	httpServer *http.Server
	handler    *Handler
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	handler := NewHandler(deps)

	return &Server{
		handler: handler,
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      loggingMiddleware(handler.log, handler),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Handler serves the dashboard API and tracks the page currently on screen.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
	log  *slog.Logger

	mu      sync.Mutex
	watcher *guard.Watcher
}

func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{deps: deps, mux: http.NewServeMux(), log: logger}

	h.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	h.mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if deps.Session == nil || deps.Session.Session().Loading {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	h.registerSessionHandlers()
	h.registerPageHandlers()
	h.registerResourceHandlers()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Close stops watching the current page.
func (h *Handler) Close() {
	h.mu.Lock()
	w := h.watcher
	h.watcher = nil
	h.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer s.handler.Close()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", reqID,
		)
	})
}

type requestIDKey struct{}

func requestIDFromContext(ctx context.Context) string {
	v := ctx.Value(requestIDKey{})
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func auditReq(a AuditLogger, r *http.Request, actor, action, target, outcome, detail string) {
	if a == nil {
		return
	}
	_ = a.Write(audit.Event{
		Actor:     actor,
		Action:    action,
		Target:    target,
		Outcome:   outcome,
		Detail:    strings.TrimSpace(detail),
		RequestID: requestIDFromContext(r.Context()),
		ClientIP:  clientIP(r),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	})
}
