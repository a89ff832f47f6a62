// Package api provides the REST endpoints of the bootcamp service.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/txn2/devops-bootcamp/pkg/audit"
	"github.com/txn2/devops-bootcamp/pkg/auth"
	"github.com/txn2/devops-bootcamp/pkg/health"
	"github.com/txn2/devops-bootcamp/pkg/learning"
	"github.com/txn2/devops-bootcamp/pkg/session"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Sessions is the sandbox lifecycle used by the containers endpoint.
type Sessions interface {
	Launch(ctx context.Context, userID, challengeID string) (*session.Session, error)
	Status(ctx context.Context, sessionID string) (*session.StatusView, error)
	Terminate(ctx context.Context, sessionID string) error
	Get(ctx context.Context, sessionID string) (*session.Session, error)
	History(ctx context.Context, userID string, limit int) ([]*session.Session, error)
}

// Learning is the learning service behind the challenge and user routes.
type Learning interface {
	ListChallenges(ctx context.Context) (*learning.ChallengeList, error)
	GetProfile(ctx context.Context, user learning.User) (*learning.Profile, error)
	UpdateProfile(ctx context.Context, user learning.User, u learning.ProfileUpdate) (*learning.Profile, error)
	GetProgress(ctx context.Context, user learning.User) (*learning.ProgressReport, error)
	RecordProgress(ctx context.Context, user learning.User, req learning.ProgressRequest) (*learning.ProgressResult, error)
	Leaderboard(ctx context.Context) (*learning.Leaderboard, error)
}

// Deps holds the handler's collaborators. Nil members disable their routes.
type Deps struct {
	Sessions Sessions
	Learning Learning

	// Audit records launch and terminate actions and backs
	// /api/user/activity.
	Audit audit.Logger

	// Checker backs /healthz and /readyz.
	Checker *health.Checker

	// DB is pinged by /api/health. Nil reports in-memory storage.
	DB health.Pinger

	// Metrics serves /metrics.
	Metrics http.Handler

	Service string
	Version string

	// Docs serves the OpenAPI UI at /api/docs/. The registered document
	// comes from importing internal/apidocs.
	Docs bool

	// InstructorRole grants acting on other learners' sessions and reading
	// their history. Empty disables the override.
	InstructorRole string
}

// Handler provides the bootcamp REST API.
type Handler struct {
	mux        *http.ServeMux
	deps       Deps
	authMiddle func(http.Handler) http.Handler
}

// NewHandler creates a new API handler. authMiddle resolves the caller into
// the request context; nil leaves every request anonymous.
func NewHandler(deps Deps, authMiddle func(http.Handler) http.Handler) *Handler {
	h := &Handler{
		mux:        http.NewServeMux(),
		deps:       deps,
		authMiddle: authMiddle,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authMiddle != nil {
		h.authMiddle(h.mux).ServeHTTP(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /api/health", health.StatusHandler(h.deps.Service, h.deps.Version, h.deps.DB))

	if h.deps.Checker != nil {
		h.mux.HandleFunc("GET /healthz", h.deps.Checker.LivenessHandler())
		h.mux.HandleFunc("GET /readyz", h.deps.Checker.ReadinessHandler())
	}
	if h.deps.Metrics != nil {
		h.mux.Handle("GET /metrics", h.deps.Metrics)
	}
	if h.deps.Docs {
		h.mux.Handle("GET /api/docs/", httpSwagger.Handler(httpSwagger.URL("/api/docs/doc.json")))
	}
	if h.deps.Sessions != nil {
		h.mux.HandleFunc("POST /api/containers", h.containers)
		h.mux.HandleFunc("GET /api/user/sessions", h.requireUser(h.sessionHistory))
	}
	if h.deps.Audit != nil {
		h.mux.HandleFunc("GET /api/user/activity", h.requireUser(h.activity))
	}
	if h.deps.Learning != nil {
		h.mux.HandleFunc("GET /api/challenges", h.listChallenges)
		h.mux.HandleFunc("GET /api/user/profile", h.requireUser(h.getProfile))
		h.mux.HandleFunc("PUT /api/user/profile", h.requireUser(h.updateProfile))
		h.mux.HandleFunc("GET /api/user/progress", h.requireUser(h.getProgress))
		h.mux.HandleFunc("POST /api/user/progress", h.requireUser(h.recordProgress))
		h.mux.HandleFunc("GET /api/leaderboard", h.leaderboard)
	}
}

// userHandler handles a request on behalf of an authenticated learner.
type userHandler func(w http.ResponseWriter, r *http.Request, user learning.User)

// requireUser rejects anonymous requests with 401.
func (*Handler) requireUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := auth.GetUser(r.Context())
		if u == nil || u.UserID == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r, learning.User{ID: u.UserID, Email: u.Email})
	}
}

// decodeBody decodes a bounded JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
