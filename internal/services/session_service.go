package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soaringjerry/recipesurvey/internal/catalog"
)

// SessionConfig holds the survey rules applied by SessionService.
type SessionConfig struct {
	IdleTimeout           time.Duration
	Thresholds            QualityThresholds
	AttentionStep         Step
	RecipeAttentionAnswer string
	PostAttentionAnswer   string
	CompletionURL         string
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IdleTimeout:           60 * time.Minute,
		Thresholds:            DefaultQualityThresholds(),
		AttentionStep:         StepRecipeEval3,
		RecipeAttentionAnswer: "3",
		PostAttentionAnswer:   "gemini",
		CompletionURL:         "https://app.prolific.co/submissions/complete?cc=C12345AB",
	}
}

// StartRequest begins or resumes a participant session. ParticipantID may be
// empty, in which case it is derived from External.
type StartRequest struct {
	ParticipantID string
	External      ExternalParams
	Fresh         bool
}

// StartResult reports the session and whether it was newly created.
type StartResult struct {
	Session *ParticipantSession
	Created bool
}

// StepView is what the presentation layer needs to render the current step.
type StepView struct {
	ParticipantID string          `json:"participant_id"`
	Step          Step            `json:"step"`
	Status        Status          `json:"status"`
	RecipeSlot    int             `json:"recipe_slot,omitempty"`
	Recipe        *catalog.Recipe `json:"recipe,omitempty"`
	StepsDone     int             `json:"steps_done"`
	StepsTotal    int             `json:"steps_total"`
	CompletionURL string          `json:"completion_url,omitempty"`
}

// SubmitRequest carries one step's answers.
type SubmitRequest struct {
	ParticipantID        string
	Step                 Step
	Payload              json.RawMessage
	ClientElapsedSeconds *float64
}

// SubmitResult is returned after a durable advance.
type SubmitResult struct {
	NextStep      Step         `json:"next_step"`
	Status        Status       `json:"status"`
	Quality       QualityFlags `json:"quality"`
	CompletionURL string       `json:"completion_url,omitempty"`
}

var participantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,80}$`)

// SessionService is the step-gated survey state machine. Sessions are loaded
// from the store on every call and written back with a version check, so no
// session state lives in the process between requests.
type SessionService struct {
	store    SessionStore
	catalog  *catalog.Catalog
	sampler  *Sampler
	cfg      SessionConfig
	log      *slog.Logger
	observer SessionObserver
	now      func() time.Time
	newToken func() string
}

func NewSessionService(store SessionStore, cat *catalog.Catalog, sampler *Sampler, cfg SessionConfig) *SessionService {
	if sampler == nil {
		sampler = NewSampler()
	}
	return &SessionService{
		store:    store,
		catalog:  cat,
		sampler:  sampler,
		cfg:      cfg,
		log:      slog.Default(),
		observer: nopObserver{},
		now:      func() time.Time { return time.Now().UTC() },
		newToken: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
}

func (s *SessionService) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

func (s *SessionService) SetObserver(o SessionObserver) {
	if o != nil {
		s.observer = o
	}
}

// Config returns the rules in effect.
func (s *SessionService) Config() SessionConfig { return s.cfg }

// DeriveParticipantID maps study-platform parameters to a stable participant
// ID. With a PID the ID is a hash of PID and platform session, so the same
// platform session always resumes; without one a timestamped token is used.
func DeriveParticipantID(ext ExternalParams, now time.Time, token func() string) string {
	if pid := strings.TrimSpace(ext.PID); pid != "" {
		sum := sha256.Sum256([]byte(pid + "\x00" + strings.TrimSpace(ext.SessionID)))
		return "prolific_" + hex.EncodeToString(sum[:8])
	}
	return "p_" + now.UTC().Format("20060102150405") + "_" + token()
}

// Start creates a session or resumes an existing one. Finished sessions are
// returned as-is unless Fresh is set, which is rejected with
// ErrSessionConflict.
func (s *SessionService) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	now := s.now()
	id := strings.TrimSpace(req.ParticipantID)
	if id == "" {
		id = DeriveParticipantID(req.External, now, s.newToken)
	}
	if !participantIDPattern.MatchString(id) {
		return nil, NewInvalidError("invalid participant id")
	}

	existing, err := s.store.LoadSession(ctx, id)
	switch {
	case err == nil:
		return s.resume(ctx, existing, req.Fresh)
	case errors.Is(err, ErrSessionNotFound):
	default:
		return nil, newPersistenceError(err)
	}

	assigned, err := s.sampler.Select(s.catalog, id)
	if err != nil {
		return nil, err
	}
	dup, err := s.countDuplicates(ctx, id, req.External.PID)
	if err != nil {
		return nil, newPersistenceError(err)
	}
	sess := &ParticipantSession{
		ParticipantID:   id,
		External:        req.External,
		AssignedRecipes: assigned,
		CurrentStep:     StepDemographics,
		Status:          StatusInProgress,
		CreatedAt:       now,
		LastActivityAt:  now,
		DuplicateCount:  dup,
	}
	sess.ensureMaps()
	if err := s.store.SaveSession(ctx, sess); err != nil {
		if errors.Is(err, ErrStaleSession) {
			// lost an insert race to another tab; use the stored session
			stored, lerr := s.store.LoadSession(ctx, id)
			if lerr == nil {
				return s.resume(ctx, stored, req.Fresh)
			}
		}
		return nil, newPersistenceError(err)
	}
	s.observer.SessionStarted(false)
	if dup > 0 {
		s.observer.DuplicateDetected()
		s.log.Warn("duplicate study participant", "participant", id, "pid", req.External.PID, "others", dup)
	}
	s.log.Info("session started", "participant", id, "recipes", assigned)
	return &StartResult{Session: sess, Created: true}, nil
}

func (s *SessionService) resume(ctx context.Context, sess *ParticipantSession, fresh bool) (*StartResult, error) {
	sess.ensureMaps()
	if sess.Status == StatusInProgress && sess.idleSince(s.now(), s.cfg.IdleTimeout) {
		expired, err := s.expire(ctx, sess)
		if err != nil {
			return nil, err
		}
		sess = expired
	}
	if sess.Status.Terminal() {
		if fresh {
			return nil, ErrSessionConflict
		}
		return &StartResult{Session: sess}, nil
	}
	s.observer.SessionStarted(true)
	return &StartResult{Session: sess}, nil
}

func (s *SessionService) countDuplicates(ctx context.Context, id, pid string) (int, error) {
	if strings.TrimSpace(pid) == "" {
		return 0, nil
	}
	others, err := s.store.ListSessionsByExternalID(ctx, pid)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range others {
		if o.ParticipantID != id && o.Status != StatusAbandoned {
			n++
		}
	}
	return n, nil
}

// expire persists the expired status. Only the status changes.
func (s *SessionService) expire(ctx context.Context, sess *ParticipantSession) (*ParticipantSession, error) {
	cp := sess.Clone()
	cp.Status = StatusExpired
	if err := s.store.SaveSession(ctx, cp); err != nil {
		if errors.Is(err, ErrStaleSession) {
			stored, lerr := s.store.LoadSession(ctx, sess.ParticipantID)
			if lerr != nil {
				return nil, newPersistenceError(lerr)
			}
			return stored, nil
		}
		return nil, newPersistenceError(err)
	}
	s.observer.SessionFinished(StatusExpired)
	s.log.Info("session expired", "participant", sess.ParticipantID, "step", sess.CurrentStep, "idle", s.now().Sub(sess.LastActivityAt).Round(time.Second))
	return cp, nil
}

func (s *SessionService) load(ctx context.Context, participantID string) (*ParticipantSession, error) {
	sess, err := s.store.LoadSession(ctx, participantID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrNotFound
		}
		return nil, newPersistenceError(err)
	}
	sess.ensureMaps()
	return sess, nil
}

// Lookup returns the stored session without applying any rule.
func (s *SessionService) Lookup(ctx context.Context, participantID string) (*ParticipantSession, error) {
	return s.load(ctx, participantID)
}

// CurrentStep returns what to render next. An idle session is marked expired
// and ErrExpired is returned.
func (s *SessionService) CurrentStep(ctx context.Context, participantID string) (*StepView, error) {
	sess, err := s.load(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusInProgress && sess.idleSince(s.now(), s.cfg.IdleTimeout) {
		if _, err := s.expire(ctx, sess); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}
	if sess.Status == StatusExpired {
		return nil, ErrExpired
	}
	return s.View(sess), nil
}

// View describes what to render for sess. It applies no expiry rule.
func (s *SessionService) View(sess *ParticipantSession) *StepView {
	v := &StepView{
		ParticipantID: sess.ParticipantID,
		Step:          sess.CurrentStep,
		Status:        sess.Status,
		StepsDone:     len(sess.StepCompletedAt),
		StepsTotal:    len(SurveySteps()),
	}
	if slot, ok := sess.CurrentStep.RecipeSlot(); ok {
		v.RecipeSlot = slot
		if id, ok := sess.RecipeAt(slot); ok {
			if r, ok := s.catalog.Get(id); ok {
				v.Recipe = &r
			}
		}
	}
	if sess.Status == StatusCompleted {
		v.CompletionURL = s.cfg.CompletionURL
	}
	return v
}

// SubmitStep validates and records the answers for the current step and
// advances the session. The advance is only reported once it is durably
// stored; losing a concurrent write yields ErrInvalidTransition.
func (s *SessionService) SubmitStep(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	sess, err := s.load(ctx, req.ParticipantID)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case StatusExpired:
		return nil, ErrExpired
	case StatusCompleted, StatusAbandoned:
		return nil, newInvalidTransition(sess.CurrentStep)
	}
	if req.Step != sess.CurrentStep {
		s.log.Info("out of order submission", "participant", sess.ParticipantID, "step", req.Step, "current", sess.CurrentStep)
		return nil, newInvalidTransition(sess.CurrentStep)
	}
	now := s.now()
	if sess.idleSince(now, s.cfg.IdleTimeout) {
		if _, err := s.expire(ctx, sess); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	payload, err := DecodePayload(req.Step, req.Payload, s.cfg.AttentionStep)
	if err != nil {
		return nil, err
	}
	if e := req.ClientElapsedSeconds; e != nil && (*e < 0 || math.IsNaN(*e) || math.IsInf(*e, 0)) {
		return nil, newValidationError(map[string]string{"client_elapsed_seconds": "must be a non-negative number"})
	}
	stored, err := json.Marshal(payload)
	if err != nil {
		return nil, newValidationError(map[string]string{"_": err.Error()})
	}

	next := sess.Clone()
	check, answer := payload.AttentionAnswer()
	if check != "" && answer != nil {
		next.AttentionChecks[check] = gradeAttention(string(*answer), s.cfg.expectedAnswer(check))
	}
	flag := s.cfg.Thresholds.Classify(req.ClientElapsedSeconds)
	if req.ClientElapsedSeconds != nil {
		next.Timings[req.Step] = StepTiming{ElapsedSeconds: *req.ClientElapsedSeconds, Flag: flag}
	}
	next.Responses[req.Step] = stored
	next.StepCompletedAt[req.Step] = now
	if now.After(next.LastActivityAt) {
		next.LastActivityAt = now
	}
	following, _ := req.Step.Next()
	next.CurrentStep = following
	if following == StepCompleted {
		next.Status = StatusCompleted
		done := now
		next.CompletedAt = &done
	}

	if err := s.store.SaveSession(ctx, next); err != nil {
		if errors.Is(err, ErrStaleSession) {
			s.observer.Conflict(req.Step)
			current := sess.CurrentStep
			if latest, lerr := s.store.LoadSession(ctx, sess.ParticipantID); lerr == nil {
				current = latest.CurrentStep
			}
			s.log.Warn("concurrent submission rejected", "participant", sess.ParticipantID, "step", req.Step)
			return nil, newInvalidTransition(current)
		}
		s.log.Error("persist step", "participant", sess.ParticipantID, "step", req.Step, "err", err)
		return nil, newPersistenceError(err)
	}

	s.observer.StepSubmitted(req.Step, flag)
	if r, ok := next.AttentionChecks[check]; ok && answer != nil {
		s.observer.AttentionChecked(check, r.Passed)
	}
	res := &SubmitResult{
		NextStep: next.CurrentStep,
		Status:   next.Status,
		Quality:  Evaluate(next, s.cfg.Thresholds),
	}
	if next.Status == StatusCompleted {
		res.CompletionURL = s.cfg.CompletionURL
		s.observer.SessionFinished(StatusCompleted)
		s.log.Info("session completed", "participant", next.ParticipantID, "attention_passed", res.Quality.AttentionChecksPassed)
	}
	return res, nil
}

func (c SessionConfig) expectedAnswer(check string) string {
	if check == CheckPost {
		return c.PostAttentionAnswer
	}
	return c.RecipeAttentionAnswer
}

func gradeAttention(submitted, expected string) AttentionResult {
	return AttentionResult{
		Expected:  expected,
		Submitted: submitted,
		Passed:    normalizeAnswer(submitted) == normalizeAnswer(expected),
	}
}

// Withdraw marks an in-progress session abandoned. Data is kept.
func (s *SessionService) Withdraw(ctx context.Context, participantID string) (*ParticipantSession, error) {
	sess, err := s.load(ctx, participantID)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case StatusAbandoned:
		return sess, nil
	case StatusCompleted, StatusExpired:
		return nil, ErrSessionConflict
	}
	next := sess.Clone()
	next.Status = StatusAbandoned
	if now := s.now(); now.After(next.LastActivityAt) {
		next.LastActivityAt = now
	}
	if err := s.store.SaveSession(ctx, next); err != nil {
		if errors.Is(err, ErrStaleSession) {
			return nil, newInvalidTransition(sess.CurrentStep)
		}
		return nil, newPersistenceError(err)
	}
	s.observer.SessionFinished(StatusAbandoned)
	s.log.Info("session withdrawn", "participant", participantID, "step", sess.CurrentStep)
	return next, nil
}

// statusLister is implemented by stores that can filter on status.
type statusLister interface {
	ListByStatus(ctx context.Context, status Status) ([]*ParticipantSession, error)
}

// SweepExpired marks idle in-progress sessions expired and returns how many
// were changed. Lazy checks in CurrentStep and SubmitStep do not depend on it.
func (s *SessionService) SweepExpired(ctx context.Context) (int, error) {
	var (
		all []*ParticipantSession
		err error
	)
	if sl, ok := s.store.(statusLister); ok {
		all, err = sl.ListByStatus(ctx, StatusInProgress)
	} else {
		all, err = s.store.ListSessions(ctx)
	}
	if err != nil {
		return 0, newPersistenceError(err)
	}
	now := s.now()
	var (
		n    int
		errs []error
	)
	for _, sess := range all {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if sess.Status != StatusInProgress || !sess.idleSince(now, s.cfg.IdleTimeout) {
			continue
		}
		got, err := s.expire(ctx, sess)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if got.Status == StatusExpired {
			n++
		}
	}
	return n, errors.Join(errs...)
}
