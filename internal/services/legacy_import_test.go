package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestImportLegacy(t *testing.T) {
	dir := t.TempDir()
	complete := `{
  "start_time": "2024-11-02T10:00:00.123456",
  "demographics": {"age": "25-34", "gender": "female", "education": "master", "cooking_frequency": "daily"},
  "recipe_eval_1": {"recipe_id": 12, "recipe_name": "Soup", "healthiness_rating": 5, "tastiness_rating": 4, "would_make": "yes"},
  "recipe_eval_2": {"recipe_id": 40, "recipe_name": "Cake", "healthiness_rating": 2, "tastiness_rating": 7, "would_make": "no"},
  "post_survey": {"trust_ai_recipes": 3, "trust_human_recipes": 6, "comments": ""},
  "completed_time": "2024-11-02T10:20:00.000001"
}`
	partial := `{"demographics": {"age": "18-24", "gender": "male", "education": "hs"}}`
	files := map[string]string{
		"p_20241102100000_ab12.json": complete,
		"p_20241102110000_cd34.json": partial,
		"p_broken.json":              "{not json",
		"notes.json":                 "{}",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	store := newStubSessionStore()
	cfg := DefaultSessionConfig()
	rep, err := ImportLegacy(context.Background(), store, dir, cfg, nil)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if rep.Found != 3 || rep.Imported != 2 || len(rep.Failed) != 1 {
		t.Fatalf("report = %+v", rep)
	}

	done, err := store.LoadSession(context.Background(), "p_20241102100000_ab12")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if done.Status != StatusCompleted || done.CurrentStep != StepCompleted {
		t.Fatalf("status = %s/%s", done.Status, done.CurrentStep)
	}
	if len(done.AssignedRecipes) != RecipesPerParticipant || done.AssignedRecipes[0] != 12 || done.AssignedRecipes[1] != 40 {
		t.Fatalf("recipes = %v", done.AssignedRecipes)
	}
	if _, ok := done.RecipeAt(3); ok {
		t.Fatalf("slot 3 was never evaluated: %v", done.AssignedRecipes)
	}
	if m, ok := done.MinutesSpent(); !ok || m < 19.9 || m > 20.1 {
		t.Fatalf("minutes = %v", m)
	}
	f := Evaluate(done, DefaultQualityThresholds())
	if len(f.UnknownTiming) != 4 || len(f.TimingFlags) != 0 {
		t.Fatalf("legacy timing should be unknown: %+v", f)
	}

	part, _ := store.LoadSession(context.Background(), "p_20241102110000_cd34")
	if part.Status != StatusExpired || part.CurrentStep != StepRecipeEval1 {
		t.Fatalf("partial = %s/%s", part.Status, part.CurrentStep)
	}
	if !part.CreatedAt.Before(time.Now().Add(time.Minute)) {
		t.Fatalf("created_at from file mtime expected")
	}

	again, err := ImportLegacy(context.Background(), store, dir, cfg, nil)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if again.Imported != 0 || again.Skipped != 2 {
		t.Fatalf("re-import should skip existing: %+v", again)
	}
}

func TestImportLegacyAttentionAndSlots(t *testing.T) {
	dir := t.TempDir()
	body := `{
  "start_time": "2024-11-03T09:00:00",
  "recipe_eval_3": {"recipe_id": 7, "healthiness_rating": 4, "attention_check_recipe": 4},
  "post_survey": {"trust_ai_recipes": 2, "attention_check_post": "chatgpt"},
  "completed_time": "2024-11-03T09:12:00"
}`
	if err := os.WriteFile(filepath.Join(dir, "p_20241103090000_ef56.json"), []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := newStubSessionStore()
	if _, err := ImportLegacy(context.Background(), store, dir, DefaultSessionConfig(), nil); err != nil {
		t.Fatalf("import: %v", err)
	}
	sess, err := store.LoadSession(context.Background(), "p_20241103090000_ef56")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := []int{UnassignedRecipe, UnassignedRecipe, 7, UnassignedRecipe, UnassignedRecipe}
	for i, id := range want {
		if sess.AssignedRecipes[i] != id {
			t.Fatalf("recipes = %v, want %v", sess.AssignedRecipes, want)
		}
	}

	f := Evaluate(sess, DefaultQualityThresholds())
	if f.AttentionChecksPassed {
		t.Fatalf("failed legacy attention answers must be flagged: %+v", f.AttentionChecks)
	}
	if r := f.AttentionChecks[CheckRecipe]; r.Passed || r.Submitted != "4" || r.Expected != "3" {
		t.Fatalf("recipe check = %+v", r)
	}
	if r := f.AttentionChecks[CheckPost]; r.Passed || r.Submitted != "chatgpt" {
		t.Fatalf("post check = %+v", r)
	}

	row := FlattenSession(sess, nil, f)
	if row["recipe_3_id"] != "7" || row["recipe_1_id"] != "" {
		t.Fatalf("recipe columns misaligned: recipe_1_id=%q recipe_3_id=%q", row["recipe_1_id"], row["recipe_3_id"])
	}
	if row["recipe_eval_3_healthiness_rating"] != "4" {
		t.Fatalf("recipe_eval_3 answers = %q", row["recipe_eval_3_healthiness_rating"])
	}
}
