package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/school-parliament/portal/internal/achievements"
	"github.com/school-parliament/portal/internal/activity"
	"github.com/school-parliament/portal/internal/config"
	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/evidence"
	"github.com/school-parliament/portal/internal/leaderboard"
	"github.com/school-parliament/portal/internal/ledger"
	"github.com/school-parliament/portal/internal/logger"
	"github.com/school-parliament/portal/internal/storage"
	"github.com/school-parliament/portal/internal/tasks"
	"github.com/school-parliament/portal/internal/validation"
)

// Services are the engine components the API exposes.
type Services struct {
	Tasks        *tasks.Manager
	Ledger       *ledger.Ledger
	Achievements *achievements.Engine
	Leaderboard  *leaderboard.Projector
	Activity     *activity.Tracker
	Users        storage.UserStore

	// Verifier, when set, checks evidence before it reaches Tasks. Clock
	// stamps those checks and defaults to time.Now.
	Verifier evidence.Verifier
	Clock    func() time.Time
}

type Server struct {
	svc            Services
	broadcaster    *Broadcaster
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	log            *logger.Logger
	started        time.Time
}

func NewServer(cfg config.ServerConfig, svc Services, broadcaster *Broadcaster, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if svc.Clock == nil {
		svc.Clock = time.Now
	}
	s := &Server{
		svc:            svc,
		broadcaster:    broadcaster,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.AuthToken,
		log:            log.Named("http"),
		started:        time.Now(),
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/api/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Use(s.withActor)

		r.Get("/ws", s.handleWS)

		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/users/{id}", func(r chi.Router) {
				r.Put("/", s.handleUpsertUser)
				r.Get("/", s.handleGetUser)
				r.Get("/totals", s.handleTotals)
				r.Get("/ledger/{currency}", s.handleEntries)
				r.Get("/rank/{currency}", s.handleRank)
				r.Get("/achievements", s.handleAchievements)
				r.Get("/achievements/unlocked", s.handleUnlocked)
				r.Post("/achievements/evaluate", s.handleEvaluate)
				r.Get("/activity", s.handleGetActivity)
				r.Post("/activity", s.handleAddActivity)
				r.Post("/login", s.handleLogin)
			})

			r.Post("/ledger/grants", s.handleGrant)
			r.Get("/standings/{currency}", s.handleStandings)
			r.Get("/governance", s.handleGovernance)

			r.Route("/tasks", func(r chi.Router) {
				r.Post("/", s.handleCreateTask)
				r.Get("/", s.handleListTasks)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetTask)
					r.Get("/review", s.handleReview)
					r.Post("/start", s.handleStart)
					r.Post("/return", s.handleReturn)
					r.Post("/submit", s.handleSubmitTask)
					r.Post("/approve", s.handleApproveTask)
					r.Post("/reject", s.handleRejectTask)
					r.Post("/reopen", s.handleReopenTask)
					r.Post("/take", s.handleTake)
					r.Get("/instances", s.handleListInstances)
					r.Post("/select-top", s.handleSelectTop)
					r.Post("/award-top", s.handleAwardTop)
				})
			})

			r.Route("/instances/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetInstance)
				r.Post("/submit", s.handleSubmitInstance)
				r.Post("/approve", s.handleApproveInstance)
				r.Post("/reject", s.handleRejectInstance)
				r.Post("/reopen", s.handleReopenInstance)
			})

			r.Post("/awards/due", s.handleAwardDue)
		})
	})

	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Portal-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

// ─── Identity ───────────────────────────────────────────────────────────────

type ctxKey int

const actorKey ctxKey = iota

// withActor reads the identity supplied by the session collaborator.
// Requests without X-User-ID carry no actor.
func (s *Server) withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-User-ID")
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid X-User-ID")
			return
		}
		role := domain.Role(strings.ToLower(r.Header.Get("X-User-Role")))
		switch role {
		case domain.RoleStudent, domain.RoleMember, domain.RoleCurator, domain.RoleAdmin:
		default:
			writeError(w, http.StatusBadRequest, "invalid X-User-Role")
			return
		}
		actor := domain.Actor{UserID: id, Role: role, Ministry: r.Header.Get("X-User-Ministry")}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func actorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey).(domain.Actor)
	return a, ok
}

func (s *Server) requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	a, ok := actorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
	}
	return a, ok
}

// ─── WebSocket ──────────────────────────────────────────────────────────────

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user"))
	if a, ok := actorFrom(r.Context()); ok {
		userID, err = a.UserID, nil
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "user query parameter must be a UUID")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "error", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn, userID)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}
	s.log.Debug("notification client connected", "user", userID, "remote", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.log.Debug("notification client disconnected", "user", userID, "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}

	host := parsed.Host
	if host == r.Host {
		return true
	}
	for _, local := range []string{"localhost", "127.0.0.1", "[::1]"} {
		if host == local || strings.HasPrefix(host, local+":") {
			return true
		}
	}
	return false
}

// ─── Health ─────────────────────────────────────────────────────────────────

type healthResponse struct {
	Status     string  `json:"status"`
	Uptime     string  `json:"uptime"`
	Goroutines int     `json:"goroutines"`
	Clients    int     `json:"clients"`
	RSSBytes   uint64  `json:"rssBytes,omitempty"`
	CPUPercent float64 `json:"cpuPercent,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}
	if s.broadcaster != nil {
		resp.Clients = s.broadcaster.ClientCount()
	}
	if p, err := process.NewProcessWithContext(r.Context(), int32(os.Getpid())); err == nil {
		if mem, err := p.MemoryInfoWithContext(r.Context()); err == nil {
			resp.RSSBytes = mem.RSS
		}
		if cpu, err := p.CPUPercentWithContext(r.Context()); err == nil {
			resp.CPUPercent = cpu
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Responses ──────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps an engine error to its status code. Forbidden
// responses never say why.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindValidation:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": string(kind)})
	case domain.KindConflict, domain.KindIntegrity:
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error(), "kind": string(kind)})
	case domain.KindForbidden:
		writeJSON(w, http.StatusForbidden, map[string]string{"error": domain.ErrForbidden.Error(), "kind": string(kind)})
	case domain.KindNotFound:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error(), "kind": string(kind)})
	default:
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			writeError(w, http.StatusServiceUnavailable, "request cancelled")
			return
		}
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads a JSON body into dst and runs its validate tags. An empty
// body leaves dst at its zero value.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return false
		}
	}
	if err := validation.Check(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
