package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/recipesurvey/internal/catalog"
	"github.com/soaringjerry/recipesurvey/internal/metrics"
	"github.com/soaringjerry/recipesurvey/internal/middleware"
	"github.com/soaringjerry/recipesurvey/internal/services"
)

type testEnv struct {
	srv    *httptest.Server
	client *http.Client
	store  *MemoryStore
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	var recipes []catalog.Recipe
	id := 1
	for _, cat := range []string{"soup", "salad", "main", "dessert", "baking", "drink"} {
		for i := 0; i < 2; i++ {
			recipes = append(recipes, catalog.Recipe{ID: id, Name: fmt.Sprintf("%s %d", cat, i), Category: cat})
			id++
		}
	}
	c, err := catalog.New(recipes)
	require.NoError(t, err)
	return c
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := NewMemoryStore()
	cat := testCatalog(t)
	cfg := services.DefaultSessionConfig()
	authn := middleware.NewAuthenticator("test-secret", "survey_session")
	hash, err := services.HashPassword("letmein")
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	sessions := services.NewSessionService(store, cat, services.NewSampler(), cfg)
	sessions.SetObserver(m)
	rt := NewRouter(Deps{
		Sessions:       sessions,
		Exports:        services.NewExportService(store, cat, cfg.Thresholds),
		Analytics:      services.NewAnalyticsService(store, cat, cfg.Thresholds),
		Auth:           services.NewAuthService("admin", hash, authn.SignToken, time.Hour),
		Authn:          authn,
		Observer:       m,
		Gatherer:       reg,
		Health:         store,
		ExportCooldown: time.Minute,
	})
	srv := httptest.NewServer(rt.Handler())
	t.Cleanup(srv.Close)
	jar, _ := cookiejar.New(nil)
	return &testEnv{srv: srv, client: &http.Client{Jar: jar}, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	res, err := e.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return res.StatusCode, out
}

func recipeAnswers(attention any) map[string]any {
	m := map[string]any{
		"completeness_info_rating": 5, "completeness_ingredients_rating": 6, "completeness_steps_rating": 5,
		"healthiness_rating": 4, "tastiness_rating": 6, "feasibility_rating": 7, "would_make": 5,
		"accuracy_ingredients_rating": 6, "accuracy_times_rating": 5, "accuracy_steps_rating": 6,
		"accuracy_final_rating": 6, "trust_try_rating": 5, "trust_professional_rating": 4,
		"trust_credible_rating": 5,
	}
	if attention != nil {
		m["attention_check_recipe"] = attention
	}
	return m
}

func stepAnswers(step string) map[string]any {
	switch step {
	case "demographics":
		return map[string]any{"age": "25-34", "gender": "female", "education": "bachelor"}
	case "recipe_eval_3":
		return recipeAnswers("3")
	case "post_survey":
		return map[string]any{
			"cooking_skills": 4, "new_recipe_frequency": "weekly", "recipe_factors": []string{"taste"},
			"recipe_usage_frequency": "daily", "cooking_frequency": "daily", "trust_human_recipes": 6,
			"trust_ai_recipes": 3, "ai_recipe_usage": "never", "attention_check_post": "Gemini",
		}
	case "debrief":
		return map[string]any{"acknowledged": true}
	}
	return recipeAnswers(nil)
}

func TestParticipantJourneyOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/api/sessions?PROLIFIC_PID=P1&STUDY_ID=S1&SESSION_ID=X1", nil)
	require.Equal(t, http.StatusCreated, code, body)
	id := body["participant_id"].(string)
	assert.Contains(t, id, "prolific_")

	// starting again with the same platform session resumes
	code, body = env.do(t, http.MethodPost, "/api/sessions", map[string]any{"prolific_pid": "P1", "study_id": "S1", "session_id": "X1"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["participant_id"])

	for _, step := range services.SurveySteps() {
		code, body = env.do(t, http.MethodGet, "/api/sessions/current", nil)
		require.Equal(t, http.StatusOK, code, body)
		require.Equal(t, step.String(), body["step"])
		if _, ok := step.RecipeSlot(); ok {
			require.NotNil(t, body["recipe"], "recipe missing on %s", step)
		}
		code, body = env.do(t, http.MethodPost, "/api/sessions/current/steps/"+step.String(), map[string]any{
			"answers":                stepAnswers(step.String()),
			"client_elapsed_seconds": 75,
		})
		require.Equal(t, http.StatusOK, code, body)
	}
	assert.Equal(t, "completed", body["status"])
	assert.NotEmpty(t, body["completion_url"])
	quality := body["quality"].(map[string]any)
	assert.Equal(t, true, quality["attention_checks_passed"])

	// a replayed submission is rejected with the current step
	code, body = env.do(t, http.MethodPost, "/api/sessions/current/steps/debrief", map[string]any{"answers": map[string]any{"acknowledged": true}})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "completed", body["current_step"])
}

func TestSubmitErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodGet, "/api/sessions/current", nil)
	assert.Equal(t, http.StatusUnauthorized, code, "no cookie")

	code, _ = env.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, code)

	code, body := env.do(t, http.MethodPost, "/api/sessions/current/steps/recipe_eval_2", map[string]any{"answers": recipeAnswers(nil)})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "demographics", body["current_step"])
	assert.Equal(t, "Please continue from where you left off.", body["message"])

	code, body = env.do(t, http.MethodPost, "/api/sessions/current/steps/demographics", map[string]any{"answers": map[string]any{"age": "25-34"}})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	fields := body["fields"].(map[string]any)
	assert.Contains(t, fields, "gender")

	code, _ = env.do(t, http.MethodPost, "/api/sessions/current/steps/nonsense", map[string]any{})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, http.MethodPost, "/api/sessions/current/steps/demographics", nil, "Content-Type", "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, code, "empty answers fail validation")

	code, body = env.do(t, http.MethodPost, "/api/sessions/current/withdraw", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "abandoned", body["status"])

	code, _ = env.do(t, http.MethodPost, "/api/sessions/current/steps/demographics", map[string]any{"answers": stepAnswers("demographics")})
	assert.Equal(t, http.StatusConflict, code)
}

func TestLocalisedErrorMessage(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, code)
	_, body := env.do(t, http.MethodPost, "/api/sessions/current/steps/post_survey?lang=zh", map[string]any{"answers": map[string]any{}})
	assert.Equal(t, "请从上次中断的地方继续。", body["message"])
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodGet, "/api/admin/metrics", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, http.MethodPost, "/api/admin/login", map[string]string{"username": "admin", "password": "nope"})
	require.Equal(t, http.StatusUnauthorized, code)

	code, body := env.do(t, http.MethodPost, "/api/admin/login", map[string]string{"username": "admin", "password": "letmein"})
	require.Equal(t, http.StatusOK, code)
	token := body["token"].(string)
	auth := []string{"Authorization", "Bearer " + token}

	// two participants with the same PID but different platform sessions
	for _, sid := range []string{"A", "B"} {
		jar, _ := cookiejar.New(nil)
		env.client.Jar = jar
		code, _ = env.do(t, http.MethodPost, "/api/sessions", map[string]any{"prolific_pid": "DUP", "session_id": sid})
		require.Equal(t, http.StatusCreated, code)
	}

	code, body = env.do(t, http.MethodGet, "/api/admin/metrics", nil, auth...)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["total_participants"])
	assert.EqualValues(t, 1, body["duplicate_prolific_ids"])

	code, body = env.do(t, http.MethodGet, "/api/admin/sessions", nil, auth...)
	require.Equal(t, http.StatusOK, code)
	list := body["sessions"].([]any)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	quality := first["quality"].(map[string]any)
	assert.Equal(t, true, quality["duplicate_participant"])
	id := first["session"].(map[string]any)["participant_id"].(string)

	code, _ = env.do(t, http.MethodGet, "/api/admin/sessions/"+id, nil, auth...)
	assert.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodGet, "/api/admin/sessions/missing", nil, auth...)
	assert.Equal(t, http.StatusNotFound, code)

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/admin/export?format=csv", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := env.client.Do(req)
	require.NoError(t, err)
	csvBody, _ := io.ReadAll(res.Body)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Disposition"), "recipe_survey_")
	assert.Equal(t, 3, bytes.Count(csvBody, []byte("\n")), "header plus two rows")

	code, _ = env.do(t, http.MethodGet, "/api/admin/export?format=xlsx", nil, auth...)
	assert.Equal(t, http.StatusTooManyRequests, code, "second export inside the cooldown")
}

func TestOpsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	code, body := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])

	_, _ = env.do(t, http.MethodPost, "/api/sessions", nil)
	res, err := env.client.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	text, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Contains(t, string(text), `recipe_survey_sessions_started_total{outcome="created"} 1`)
	assert.Contains(t, string(text), `recipe_survey_http_requests_total{code="201",method="POST",route="POST /api/sessions"} 1`)
}

func TestRateLimitedResponseIsLocalised(t *testing.T) {
	store := NewMemoryStore()
	cat := testCatalog(t)
	cfg := services.DefaultSessionConfig()
	authn := middleware.NewAuthenticator("test-secret", "survey_session")
	rt := NewRouter(Deps{
		Sessions: services.NewSessionService(store, cat, services.NewSampler(), cfg),
		Authn:    authn,
		Limiter:  middleware.NewRateLimiter(0.001, 1, false),
	})
	srv := httptest.NewServer(rt.Handler())
	t.Cleanup(srv.Close)

	post := func() *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/sessions?lang=zh", nil)
		require.NoError(t, err)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return res
	}
	first := post()
	first.Body.Close()
	require.Equal(t, http.StatusCreated, first.StatusCode)

	res := post()
	defer res.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, "1", res.Header.Get("Retry-After"))
	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "too_many_requests", body["error"])
	assert.Equal(t, "请求过于频繁，请稍候。", body["message"])
}
