package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Attention check names, also used as export column prefixes.
const (
	CheckRecipe = "attention_check_recipe"
	CheckPost   = "attention_check_post"
)

// UnassignedRecipe fills a recipe slot whose recipe is unknown, as in
// imported records with a skipped evaluation.
const UnassignedRecipe = -1

// ExternalParams are the study-platform identifiers passed on entry.
type ExternalParams struct {
	PID       string `json:"prolific_pid,omitempty"`
	StudyID   string `json:"study_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// AttentionResult records one planted question.
type AttentionResult struct {
	Expected  string `json:"expected"`
	Submitted string `json:"submitted"`
	Passed    bool   `json:"passed"`
}

// TimingFlag classifies the client-reported time spent on a step.
type TimingFlag string

const (
	TimingOK      TimingFlag = "ok"
	TimingTooFast TimingFlag = "too_fast"
	TimingTooSlow TimingFlag = "too_slow"
	TimingUnknown TimingFlag = "unknown"
)

// StepTiming is the elapsed time reported for one submitted step.
type StepTiming struct {
	ElapsedSeconds float64    `json:"elapsed_seconds"`
	Flag           TimingFlag `json:"flag"`
}

// ParticipantSession is the full persisted record for one participant.
type ParticipantSession struct {
	ParticipantID   string                     `json:"participant_id"`
	External        ExternalParams             `json:"external"`
	AssignedRecipes []int                      `json:"assigned_recipes"`
	CurrentStep     Step                       `json:"current_step"`
	Status          Status                     `json:"status"`
	StepCompletedAt map[Step]time.Time         `json:"step_completed_at"`
	CreatedAt       time.Time                  `json:"created_at"`
	LastActivityAt  time.Time                  `json:"last_activity_at"`
	CompletedAt     *time.Time                 `json:"completed_at,omitempty"`
	AttentionChecks map[string]AttentionResult `json:"attention_checks"`
	Responses       map[Step]json.RawMessage   `json:"responses"`
	Timings         map[Step]StepTiming        `json:"timings"`
	DuplicateCount  int                        `json:"duplicate_count"`
	Version         int64                      `json:"version"`
}

// RecipeAt returns the recipe assigned to a 1-based slot.
func (s *ParticipantSession) RecipeAt(slot int) (int, bool) {
	if slot < 1 || slot > len(s.AssignedRecipes) {
		return 0, false
	}
	id := s.AssignedRecipes[slot-1]
	return id, id != UnassignedRecipe
}

// Clone returns a deep copy.
func (s *ParticipantSession) Clone() *ParticipantSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.AssignedRecipes = append([]int(nil), s.AssignedRecipes...)
	cp.StepCompletedAt = make(map[Step]time.Time, len(s.StepCompletedAt))
	for k, v := range s.StepCompletedAt {
		cp.StepCompletedAt[k] = v
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	cp.AttentionChecks = make(map[string]AttentionResult, len(s.AttentionChecks))
	for k, v := range s.AttentionChecks {
		cp.AttentionChecks[k] = v
	}
	cp.Responses = make(map[Step]json.RawMessage, len(s.Responses))
	for k, v := range s.Responses {
		cp.Responses[k] = append(json.RawMessage(nil), v...)
	}
	cp.Timings = make(map[Step]StepTiming, len(s.Timings))
	for k, v := range s.Timings {
		cp.Timings[k] = v
	}
	return &cp
}

// ensureMaps initialises nil maps, e.g. after decoding an old record.
func (s *ParticipantSession) ensureMaps() {
	if s.StepCompletedAt == nil {
		s.StepCompletedAt = map[Step]time.Time{}
	}
	if s.AttentionChecks == nil {
		s.AttentionChecks = map[string]AttentionResult{}
	}
	if s.Responses == nil {
		s.Responses = map[Step]json.RawMessage{}
	}
	if s.Timings == nil {
		s.Timings = map[Step]StepTiming{}
	}
}

// idleSince reports whether the session has been idle longer than timeout.
func (s *ParticipantSession) idleSince(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && now.Sub(s.LastActivityAt) > timeout
}

// MinutesSpent is the time from creation to completion, if completed.
func (s *ParticipantSession) MinutesSpent() (float64, bool) {
	if s.CompletedAt == nil {
		return 0, false
	}
	return s.CompletedAt.Sub(s.CreatedAt).Minutes(), true
}

var (
	// ErrSessionNotFound is returned by SessionStore.LoadSession for unknown IDs.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStaleSession is returned by SessionStore.SaveSession when the stored
	// version differs from the caller's, or on insert of an existing ID.
	ErrStaleSession = errors.New("session was modified concurrently")
)

// SessionStore is the persistence gateway. SaveSession must be atomic per
// session: Version 0 inserts, any other value updates only when it matches the
// stored version. On success the session's Version is advanced.
type SessionStore interface {
	LoadSession(ctx context.Context, participantID string) (*ParticipantSession, error)
	SaveSession(ctx context.Context, s *ParticipantSession) error
	ListSessions(ctx context.Context) ([]*ParticipantSession, error)
	ListSessionsByExternalID(ctx context.Context, pid string) ([]*ParticipantSession, error)
}
