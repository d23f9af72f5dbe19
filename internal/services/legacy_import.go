package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LegacyImportReport summarises an import run.
type LegacyImportReport struct {
	Found    int      `json:"found"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Failed   []string `json:"failed,omitempty"`
}

// legacyRecord is the per-participant JSON document written by the earlier
// form-based survey: one object per completed step plus start/completion
// times.
type legacyRecord struct {
	StartTime     string                     `json:"start_time"`
	CompletedTime string                     `json:"completed_time"`
	Steps         map[string]json.RawMessage `json:"-"`
}

func (r *legacyRecord) UnmarshalJSON(b []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	r.Steps = map[string]json.RawMessage{}
	for k, v := range all {
		switch k {
		case "start_time":
			_ = json.Unmarshal(v, &r.StartTime)
		case "completed_time":
			_ = json.Unmarshal(v, &r.CompletedTime)
		default:
			r.Steps[k] = v
		}
	}
	return nil
}

// ImportLegacy loads every p_*.json file in dir into store. Existing sessions
// are left untouched. Imported sessions carry no timing data, so their timing
// quality is reported as unknown. Attention answers found in the files are
// graded against the answers in cfg.
func ImportLegacy(ctx context.Context, store SessionStore, dir string, cfg SessionConfig, log *slog.Logger) (*LegacyImportReport, error) {
	if log == nil {
		log = slog.Default()
	}
	files, err := filepath.Glob(filepath.Join(dir, "p_*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	rep := &LegacyImportReport{Found: len(files)}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		sess, err := readLegacyFile(path, cfg)
		if err != nil {
			log.Error("legacy import", "file", path, "err", err)
			rep.Failed = append(rep.Failed, filepath.Base(path))
			continue
		}
		if err := store.SaveSession(ctx, sess); err != nil {
			if errors.Is(err, ErrStaleSession) {
				rep.Skipped++
				continue
			}
			return rep, fmt.Errorf("save %s: %w", sess.ParticipantID, err)
		}
		rep.Imported++
	}
	log.Info("legacy import finished", "found", rep.Found, "imported", rep.Imported, "skipped", rep.Skipped, "failed", len(rep.Failed))
	return rep, nil
}

func readLegacyFile(path string, cfg SessionConfig) (*ParticipantSession, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec legacyRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	id := strings.TrimSuffix(filepath.Base(path), ".json")
	if !participantIDPattern.MatchString(id) {
		return nil, fmt.Errorf("invalid participant id %q", id)
	}

	created := parseLegacyTime(rec.StartTime)
	if created.IsZero() {
		if st, err := os.Stat(path); err == nil {
			created = st.ModTime().UTC()
		}
	}
	last := created
	var completed *time.Time
	if t := parseLegacyTime(rec.CompletedTime); !t.IsZero() {
		completed = &t
		last = t
	}

	sess := &ParticipantSession{
		ParticipantID:  id,
		CurrentStep:    StepDemographics,
		Status:         StatusExpired,
		CreatedAt:      created,
		LastActivityAt: last,
		CompletedAt:    completed,
	}
	sess.ensureMaps()
	sess.AssignedRecipes = make([]int, RecipesPerParticipant)
	for i := range sess.AssignedRecipes {
		sess.AssignedRecipes[i] = UnassignedRecipe
	}
	for _, step := range SurveySteps() {
		raw, ok := rec.Steps[step.String()]
		if !ok && step == StepDebrief {
			raw, ok = rec.Steps["debriefing"]
		}
		if !ok {
			continue
		}
		sess.Responses[step] = raw
		sess.StepCompletedAt[step] = last
		if next, _ := step.Next(); next > sess.CurrentStep {
			sess.CurrentStep = next
		}
		var ref struct {
			RecipeID  *int        `json:"recipe_id"`
			Recipe    *AnswerText `json:"attention_check_recipe"`
			PostCheck *AnswerText `json:"attention_check_post"`
		}
		if err := json.Unmarshal(raw, &ref); err != nil {
			continue
		}
		if slot, isRecipe := step.RecipeSlot(); isRecipe && ref.RecipeID != nil && slot <= len(sess.AssignedRecipes) {
			sess.AssignedRecipes[slot-1] = *ref.RecipeID
		}
		if ref.Recipe != nil {
			sess.AttentionChecks[CheckRecipe] = gradeAttention(string(*ref.Recipe), cfg.expectedAnswer(CheckRecipe))
		}
		if ref.PostCheck != nil {
			sess.AttentionChecks[CheckPost] = gradeAttention(string(*ref.PostCheck), cfg.expectedAnswer(CheckPost))
		}
	}
	if completed != nil {
		sess.Status = StatusCompleted
		sess.CurrentStep = StepCompleted
	}
	return sess, nil
}

func parseLegacyTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
