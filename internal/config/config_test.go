package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/soaringjerry/recipesurvey/internal/services"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "survey.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadFileYAMLThenEnv(t *testing.T) {
	path := writeYAML(t, `
dev_mode: true
server:
  addr: ":9000"
  allowed_origins: ["https://survey.example.org"]
survey:
  idle_timeout: 45m
  thresholds:
    too_fast: 20s
    too_slow: 15m
  attention_step: recipe_eval_2
`)
	t.Setenv("SURVEY_ADDR", ":9100")
	t.Setenv("SURVEY_TOO_FAST", "10s")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.Addr != ":9100" {
		t.Fatalf("env should override yaml, addr = %s", cfg.Server.Addr)
	}
	if cfg.Survey.IdleTimeout != 45*time.Minute || cfg.Survey.Thresholds.TooSlow != 15*time.Minute {
		t.Fatalf("yaml durations not applied: %+v", cfg.Survey)
	}
	if cfg.Survey.Thresholds.TooFast != 10*time.Second {
		t.Fatalf("too_fast = %s", cfg.Survey.Thresholds.TooFast)
	}
	if cfg.Auth.CookieName != "survey_session" {
		t.Fatalf("defaults lost: %+v", cfg.Auth)
	}
	sc := cfg.SessionConfig()
	if sc.AttentionStep != services.StepRecipeEval2 || sc.PostAttentionAnswer != "gemini" {
		t.Fatalf("session config = %+v", sc)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := Default()
	cfg.DevMode = true
	cfg.Survey.Thresholds.TooFast = 10 * time.Minute
	cfg.Survey.Thresholds.TooSlow = time.Minute
	cfg.Survey.IdleTimeout = 0
	cfg.Survey.AttentionStep = "post_survey"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"too_fast", "idle_timeout", "attention_step"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %s", err, want)
		}
	}
}

func TestValidateRequiresSecretOutsideDev(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Fatalf("dev secret accepted in production: %v", err)
	}
	cfg.Auth.JWTSecret = "s3cret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestLoadFileBadEnvDuration(t *testing.T) {
	t.Setenv("SURVEY_DEV_MODE", "1")
	t.Setenv("SURVEY_IDLE_TIMEOUT", "forever")
	if _, err := LoadFile(""); err == nil {
		t.Fatalf("expected duration error")
	}
}
