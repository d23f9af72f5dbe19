package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soaringjerry/recipesurvey/internal/middleware"
	"github.com/soaringjerry/recipesurvey/internal/services"
	"github.com/soaringjerry/recipesurvey/internal/utils"
)

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP layer. Limiter, Observer, Gatherer
// and Health are optional.
type Deps struct {
	Sessions  *services.SessionService
	Exports   *services.ExportService
	Analytics *services.AnalyticsService
	Auth      *services.AuthService
	Authn     *middleware.Authenticator

	Limiter  *middleware.RateLimiter
	Observer middleware.HTTPObserver
	Gatherer prometheus.Gatherer
	Health   Pinger
	Logger   *slog.Logger

	ParticipantTTL time.Duration
	ExportCooldown time.Duration
	AllowedOrigins []string
	Commit         string
	BuildTime      string
}

type Router struct {
	Deps
	log            *slog.Logger
	exportThrottle *cache.Cache
}

func NewRouter(d Deps) *Router {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	if d.ParticipantTTL <= 0 {
		d.ParticipantTTL = 24 * time.Hour
	}
	return &Router{
		Deps:           d,
		log:            log,
		exportThrottle: cache.New(d.ExportCooldown, time.Minute),
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	participant := func(h http.HandlerFunc) http.Handler {
		return rt.limited(middleware.RequireRole(services.RoleParticipant, h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireRole(services.RoleAdmin, h)
	}

	rt.handle(mux, "POST /api/sessions", rt.limited(http.HandlerFunc(rt.handleStart)))
	rt.handle(mux, "GET /api/sessions/current", participant(rt.handleCurrent))
	rt.handle(mux, "POST /api/sessions/current/steps/{step}", participant(rt.handleSubmit))
	rt.handle(mux, "POST /api/sessions/current/withdraw", participant(rt.handleWithdraw))

	rt.handle(mux, "POST /api/admin/login", rt.limited(http.HandlerFunc(rt.handleLogin)))
	rt.handle(mux, "GET /api/admin/sessions", admin(rt.handleAdminSessions))
	rt.handle(mux, "GET /api/admin/sessions/{id}", admin(rt.handleAdminSession))
	rt.handle(mux, "GET /api/admin/metrics", admin(rt.handleAdminMetrics))
	rt.handle(mux, "GET /api/admin/export", admin(rt.handleAdminExport))

	rt.handle(mux, "GET /health", http.HandlerFunc(rt.handleHealth))
	rt.handle(mux, "GET /version", http.HandlerFunc(rt.handleVersion))
	if rt.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{}))
	}
}

// Wrap applies the cross-cutting middleware to h.
func (rt *Router) Wrap(h http.Handler) http.Handler {
	h = rt.Authn.WithAuth(h)
	h = middleware.LocaleMiddleware(h)
	h = middleware.CORS(rt.AllowedOrigins)(h)
	h = middleware.NoStore(h)
	return middleware.SecureHeaders(h)
}

// Handler returns the complete API handler.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	rt.Register(mux)
	return rt.Wrap(mux)
}

func (rt *Router) handle(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, middleware.Instrument(pattern, rt.Observer, rt.log, h))
}

func (rt *Router) limited(h http.Handler) http.Handler {
	if rt.Limiter == nil {
		return h
	}
	return rt.Limiter.Handler(h, http.HandlerFunc(rt.rejectRateLimited))
}

func (rt *Router) rejectRateLimited(w http.ResponseWriter, r *http.Request) {
	rt.writeError(w, r, services.NewTooManyRequestsError("rate limited"))
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	storage := "ok"
	if rt.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.Health.Ping(ctx); err != nil {
			rt.log.Warn("health check failed", "err", err)
			status, storage = http.StatusServiceUnavailable, "unavailable"
		}
	}
	locale := middleware.LocaleFromContext(r.Context())
	writeJSON(w, status, map[string]any{
		"ok":         status == http.StatusOK,
		"name":       "recipe-survey",
		"storage":    storage,
		"locale":     locale,
		"msg":        utils.T(locale, "health.ok"),
		"commit":     rt.Commit,
		"build_time": rt.BuildTime,
	})
}

func (rt *Router) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"commit":     rt.Commit,
		"build_time": rt.BuildTime,
	})
}
