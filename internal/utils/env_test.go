package utils

import (
	"testing"
	"time"
)

func TestSafeEnv(t *testing.T) {
	const key = "_SURVEY_TEST_SAFEENV"
	t.Setenv(key, "")
	if got := SafeEnv(key, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv(key, "value")
	if got := SafeEnv(key, "fallback"); got != "value" {
		t.Fatalf("expected 'value', got %q", got)
	}
}

func TestEnvDuration(t *testing.T) {
	const key = "_SURVEY_TEST_DURATION"
	t.Setenv(key, "90s")
	if d, ok := EnvDuration(key, time.Minute); !ok || d != 90*time.Second {
		t.Fatalf("go syntax: %v %v", d, ok)
	}
	t.Setenv(key, "45")
	if d, ok := EnvDuration(key, time.Minute); !ok || d != 45*time.Minute {
		t.Fatalf("bare minutes: %v %v", d, ok)
	}
	t.Setenv(key, "soon")
	if d, ok := EnvDuration(key, time.Minute); ok || d != time.Minute {
		t.Fatalf("malformed: %v %v", d, ok)
	}
}

func TestEnvBoolAndList(t *testing.T) {
	t.Setenv("_SURVEY_TEST_BOOL", "true")
	if !EnvBool("_SURVEY_TEST_BOOL", false) {
		t.Fatalf("bool not parsed")
	}
	t.Setenv("_SURVEY_TEST_LIST", " a, ,b ")
	if got := EnvList("_SURVEY_TEST_LIST"); len(got) != 2 || got[1] != "b" {
		t.Fatalf("list = %v", got)
	}
}
