package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/patrickmn/go-cache"

	"github.com/soaringjerry/recipesurvey/internal/middleware"
	"github.com/soaringjerry/recipesurvey/internal/services"
)

type sessionWithQuality struct {
	Session *services.ParticipantSession `json:"session"`
	Quality services.QualityFlags        `json:"quality"`
	Minutes *float64                     `json:"time_spent_minutes,omitempty"`
}

func withQuality(s *services.ParticipantSession, f services.QualityFlags) sessionWithQuality {
	out := sessionWithQuality{Session: s, Quality: f}
	if m, ok := s.MinutesSpent(); ok {
		out.Minutes = &m
	}
	return out
}

// POST /api/admin/login
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		rt.writeError(w, r, err)
		return
	}
	res, err := rt.Auth.Login(body.Username, body.Password)
	if err != nil {
		rt.log.Warn("admin login rejected", "username", body.Username, "client", middleware.ClientIP(r, false))
		rt.writeError(w, r, err)
		return
	}
	rt.log.Info("admin login", "username", body.Username)
	writeJSON(w, http.StatusOK, res)
}

// GET /api/admin/sessions?status=completed
func (rt *Router) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	sessions, flags, err := rt.Analytics.Sessions(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	status := services.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	out := make([]sessionWithQuality, 0, len(sessions))
	for _, s := range sessions {
		if status != "" && s.Status != status {
			continue
		}
		out = append(out, withQuality(s, flags[s.ParticipantID]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(out), "sessions": out})
}

// GET /api/admin/sessions/{id}
func (rt *Router) handleAdminSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sessions, flags, err := rt.Analytics.Sessions(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	for _, s := range sessions {
		if s.ParticipantID == id {
			writeJSON(w, http.StatusOK, withQuality(s, flags[id]))
			return
		}
	}
	rt.writeError(w, r, services.ErrNotFound)
}

// GET /api/admin/metrics
func (rt *Router) handleAdminMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := rt.Analytics.Metrics(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GET /api/admin/export?format=csv|long|xlsx|json&completed_only=true
// Exports are throttled per admin to one per cooldown window.
func (rt *Router) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	completedOnly, _ := strconv.ParseBool(q.Get("completed_only"))
	params := services.ExportParams{Format: strings.ToLower(strings.TrimSpace(q.Get("format"))), CompletedOnly: completedOnly}

	sub, _ := middleware.SubjectFromContext(r.Context(), services.RoleAdmin)
	if rt.ExportCooldown > 0 {
		if err := rt.exportThrottle.Add(sub, struct{}{}, cache.DefaultExpiration); err != nil {
			rt.writeError(w, r, services.NewTooManyRequestsError("export requested too frequently"))
			return
		}
	}
	res, err := rt.Exports.Export(r.Context(), params)
	if err != nil {
		rt.exportThrottle.Delete(sub)
		rt.writeError(w, r, err)
		return
	}
	rt.log.Info("export", "admin", sub, "format", params.Format, "rows", res.Rows, "bytes", len(res.Data))
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+res.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	_, _ = w.Write(res.Data)
}
