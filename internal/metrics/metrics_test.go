package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/soaringjerry/recipesurvey/internal/services"
)

func TestSessionObserverCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionStarted(false)
	m.SessionStarted(true)
	m.SessionStarted(true)
	m.StepSubmitted(services.StepRecipeEval3, services.TimingTooFast)
	m.AttentionChecked(services.CheckRecipe, false)
	m.SessionFinished(services.StatusCompleted)
	m.Conflict(services.StepDemographics)
	m.DuplicateDetected()
	m.Swept(3)

	if got := testutil.ToFloat64(m.SessionsStarted.WithLabelValues("resumed")); got != 2 {
		t.Fatalf("resumed = %v", got)
	}
	if got := testutil.ToFloat64(m.StepsSubmitted.WithLabelValues("recipe_eval_3", "too_fast")); got != 1 {
		t.Fatalf("steps = %v", got)
	}
	if got := testutil.ToFloat64(m.AttentionChecks.WithLabelValues(services.CheckRecipe, "failed")); got != 1 {
		t.Fatalf("attention = %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsSwept); got != 3 {
		t.Fatalf("swept = %v", got)
	}
	if got := testutil.ToFloat64(m.Duplicates); got != 1 {
		t.Fatalf("duplicates = %v", got)
	}
}

func TestObserveHTTP(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveHTTP(http.MethodGet, "GET /api/sessions/current", 200, 20*time.Millisecond)
	m.ObserveHTTP(http.MethodGet, "GET /api/sessions/current", 410, 5*time.Millisecond)

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "GET /api/sessions/current", "410")); got != 1 {
		t.Fatalf("410 count = %v", got)
	}
	if n := testutil.CollectAndCount(m.HTTPDuration); n != 1 {
		t.Fatalf("histogram series = %d", n)
	}
}
