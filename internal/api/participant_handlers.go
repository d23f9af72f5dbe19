package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/soaringjerry/recipesurvey/internal/middleware"
	"github.com/soaringjerry/recipesurvey/internal/services"
)

const maxBodyBytes = 64 << 10

type startBody struct {
	ProlificPID string `json:"prolific_pid"`
	StudyID     string `json:"study_id"`
	SessionID   string `json:"session_id"`
	Fresh       bool   `json:"fresh"`
}

type sessionResponse struct {
	ParticipantID string             `json:"participant_id"`
	Created       bool               `json:"created"`
	View          *services.StepView `json:"view"`
}

// decodeBody reads an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return services.NewInvalidError("malformed JSON body")
	}
	return nil
}

// POST /api/sessions
// Study-platform parameters may come as query parameters (PROLIFIC_PID,
// STUDY_ID, SESSION_ID) or in the body. Without a PID, a valid participant
// cookie resumes that session.
func (rt *Router) handleStart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var body startBody
	if err := decodeBody(r, &body); err != nil {
		rt.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	ext := services.ExternalParams{
		PID:       firstNonEmpty(body.ProlificPID, q.Get("PROLIFIC_PID")),
		StudyID:   firstNonEmpty(body.StudyID, q.Get("STUDY_ID")),
		SessionID: firstNonEmpty(body.SessionID, q.Get("SESSION_ID")),
	}
	req := services.StartRequest{External: ext, Fresh: body.Fresh}
	if ext.PID == "" {
		if sub, ok := middleware.SubjectFromContext(r.Context(), services.RoleParticipant); ok {
			req.ParticipantID = sub
		}
	}

	res, err := rt.Sessions.Start(r.Context(), req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	token, err := rt.Authn.SignToken(res.Session.ParticipantID, services.RoleParticipant, rt.ParticipantTTL)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.Authn.SetSessionCookie(w, r, token, rt.ParticipantTTL)
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, sessionResponse{
		ParticipantID: res.Session.ParticipantID,
		Created:       res.Created,
		View:          rt.Sessions.View(res.Session),
	})
}

// GET /api/sessions/current
func (rt *Router) handleCurrent(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.SubjectFromContext(r.Context(), services.RoleParticipant)
	view, err := rt.Sessions.CurrentStep(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type submitBody struct {
	Answers              json.RawMessage `json:"answers"`
	ClientElapsedSeconds *float64        `json:"client_elapsed_seconds"`
}

// POST /api/sessions/current/steps/{step}
func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.SubjectFromContext(r.Context(), services.RoleParticipant)
	step, err := services.ParseStep(r.PathValue("step"))
	if err != nil || !step.Answerable() {
		rt.writeError(w, r, services.NewNotFoundError("unknown survey step"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var body submitBody
	if err := decodeBody(r, &body); err != nil {
		rt.writeError(w, r, err)
		return
	}
	res, err := rt.Sessions.SubmitStep(r.Context(), services.SubmitRequest{
		ParticipantID:        id,
		Step:                 step,
		Payload:              body.Answers,
		ClientElapsedSeconds: body.ClientElapsedSeconds,
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/sessions/current/withdraw
func (rt *Router) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.SubjectFromContext(r.Context(), services.RoleParticipant)
	sess, err := rt.Sessions.Withdraw(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participant_id": sess.ParticipantID, "status": sess.Status})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
