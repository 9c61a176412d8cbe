package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/audit"
	"github.com/Mindburn-Labs/herald/pkg/auth"
	"github.com/Mindburn-Labs/herald/pkg/config"
	"github.com/Mindburn-Labs/herald/pkg/limiter"
	"github.com/Mindburn-Labs/herald/pkg/orchestrator"
	"github.com/Mindburn-Labs/herald/pkg/publish"
	"github.com/Mindburn-Labs/herald/pkg/scheduler"
	"github.com/Mindburn-Labs/herald/pkg/store"
)

// maxBodyBytes caps request bodies. Edits are a handful of tweets; nothing
// on this surface needs more.
const maxBodyBytes = 1 << 20

// Runner accepts background jobs. The scheduler pool satisfies it; tests
// substitute a synchronous one.
type Runner interface {
	Submit(job scheduler.Job) bool
}

// Server is herald's HTTP surface. All state lives in the collaborators; the
// server itself only routes, authenticates and translates verdicts to HTTP.
type Server struct {
	cfg       *config.Config
	overrides *config.Overrides
	store     *store.Store
	auth      *auth.Service
	orch      *orchestrator.Orchestrator
	publisher *publish.Coordinator
	audit     *audit.Recorder
	limits    limiter.Store
	idem      IdempotencyStorer
	runner    Runner
	log       *slog.Logger
	now       func() time.Time
}

// Options carries the server's collaborators. Limits, Idempotency and Runner
// are optional; everything else must be set.
type Options struct {
	Config       *config.Config
	Overrides    *config.Overrides
	Store        *store.Store
	Auth         *auth.Service
	Orchestrator *orchestrator.Orchestrator
	Publisher    *publish.Coordinator
	Audit        *audit.Recorder
	Limits       limiter.Store
	Idempotency  IdempotencyStorer
	Runner       Runner
	Log          *slog.Logger
}

// NewServer builds the HTTP surface.
func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:       opts.Config,
		overrides: opts.Overrides,
		store:     opts.Store,
		auth:      opts.Auth,
		orch:      opts.Orchestrator,
		publisher: opts.Publisher,
		audit:     opts.Audit,
		limits:    opts.Limits,
		idem:      opts.Idempotency,
		runner:    opts.Runner,
		log:       log.With("component", "api"),
		now:       time.Now,
	}
}

// Handler assembles the routed and middleware-wrapped surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	// Token-addressed reviewer endpoints. The opaque token is the entire
	// authentication; resume additionally needs an admin session because it
	// retries a failed publish rather than acting on a token.
	mux.HandleFunc("GET /a/view", s.handleView)
	mux.HandleFunc("POST /a/approve", s.handleApprove)
	mux.HandleFunc("POST /a/skip", s.handleSkip)
	mux.HandleFunc("POST /a/edit", s.handleEdit)
	mux.HandleFunc("POST /a/regenerate", s.handleRegenerate)
	mux.HandleFunc("POST /a/resume", s.requireAdmin(s.handleResume))

	mux.HandleFunc("POST /admin/login", s.handleLogin)
	mux.HandleFunc("POST /admin/logout", s.handleLogout)
	mux.HandleFunc("GET /admin/runs", s.requireAdmin(s.handleListRuns))
	mux.HandleFunc("POST /admin/runs", s.requireAdmin(s.handleStartRun))
	mux.HandleFunc("GET /admin/drafts/{id}", s.requireAdmin(s.handleGetDraft))
	mux.HandleFunc("GET /admin/config/{key}", s.requireAdmin(s.handleGetConfig))
	mux.HandleFunc("PUT /admin/config/{key}", s.requireAdmin(s.handleSetConfig))

	policy := limiter.Policy{RPM: s.cfg.RateLimitRPM, Burst: s.cfg.RateLimitRPM}
	return Chain(mux,
		RequestID,
		RequestLog(s.log),
		Recover(s.log),
		RateLimit(s.limits, policy, s.log),
		IdempotencyMiddleware(s.idem),
	)
}

// handleHealthz reports liveness plus database reachability.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.DB().PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded", "database": "unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAdmin verifies the Bearer session and threads the principal through
// the request context for audit attribution.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerToken(r)
		if tokenStr == "" {
			WriteUnauthorized(w, "")
			return
		}
		p, err := s.auth.Verify(r.Context(), tokenStr)
		if err != nil {
			if errors.Is(err, auth.ErrSessionRevoked) {
				WriteUnauthorized(w, "session revoked or expired")
				return
			}
			WriteUnauthorized(w, "invalid session token")
			return
		}
		next(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	}
}

// bearerToken extracts the Authorization Bearer credential.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// decodeJSON reads a bounded JSON body into v. An empty body is not an
// error; handlers validate required fields themselves.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
