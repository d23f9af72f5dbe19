package services

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/soaringjerry/recipesurvey/internal/catalog"
)

// QualityMetrics summarises data quality across all sessions for the admin
// dashboard.
type QualityMetrics struct {
	TotalParticipants     int                `json:"total_participants"`
	CompletedParticipants int                `json:"completed_participants"`
	CompletionRate        float64            `json:"completion_rate"`
	StatusCounts          map[Status]int     `json:"status_counts"`
	StepReached           map[Step]int       `json:"step_reached"`
	ProlificParticipants  int                `json:"prolific_participants"`
	AttentionFailures     int                `json:"attention_check_failures"`
	FailuresByCheck       map[string]int     `json:"attention_failures_by_check"`
	DuplicatePIDs         int                `json:"duplicate_prolific_ids"`
	FastResponses         int                `json:"fast_responses"`
	SlowResponses         int                `json:"slow_responses"`
	UnknownTiming         int                `json:"unknown_timing"`
	MedianMinutes         float64            `json:"median_minutes"`
	RecipeExposure        []RecipeExposure   `json:"recipe_exposure"`
	MeanRatings           map[string]float64 `json:"mean_ratings"`
	TrustAlpha            float64            `json:"trust_alpha"`
	TrustAlphaDefined     bool               `json:"trust_alpha_defined"`
	TrustAlphaN           int                `json:"trust_alpha_n"`
}

// RecipeExposure counts how often a recipe was assigned and evaluated.
type RecipeExposure struct {
	RecipeID  int    `json:"recipe_id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Assigned  int    `json:"assigned"`
	Evaluated int    `json:"evaluated"`
}

type AnalyticsService struct {
	store      SessionLister
	catalog    *catalog.Catalog
	thresholds QualityThresholds
}

func NewAnalyticsService(store SessionLister, cat *catalog.Catalog, thresholds QualityThresholds) *AnalyticsService {
	return &AnalyticsService{store: store, catalog: cat, thresholds: thresholds}
}

// Sessions returns every session with its quality flags, newest first.
func (s *AnalyticsService) Sessions(ctx context.Context) ([]*ParticipantSession, map[string]QualityFlags, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, nil, newPersistenceError(err)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.After(sessions[j].CreatedAt) })
	flags := map[string]QualityFlags{}
	for _, f := range EvaluateAll(sessions, s.thresholds) {
		flags[f.ParticipantID] = f
	}
	return sessions, flags, nil
}

var trustItems = []string{"trust_try_rating", "trust_professional_rating", "trust_credible_rating"}

var ratingItems = []string{
	"completeness_info_rating", "completeness_ingredients_rating", "completeness_steps_rating",
	"healthiness_rating", "tastiness_rating", "feasibility_rating", "would_make",
	"accuracy_ingredients_rating", "accuracy_times_rating", "accuracy_steps_rating", "accuracy_final_rating",
	"trust_try_rating", "trust_professional_rating", "trust_credible_rating",
}

// Metrics computes the dashboard figures. Trust alpha is computed over every
// completed recipe evaluation with all three trust items answered.
func (s *AnalyticsService) Metrics(ctx context.Context) (*QualityMetrics, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, newPersistenceError(err)
	}
	m := &QualityMetrics{
		StatusCounts:    map[Status]int{},
		StepReached:     map[Step]int{},
		FailuresByCheck: map[string]int{},
		MeanRatings:     map[string]float64{},
	}
	exposure := map[int]*RecipeExposure{}
	var (
		minutes    []float64
		trust      [][]float64
		ratingSum  = map[string]float64{}
		ratingSeen = map[string]int{}
	)
	flags := EvaluateAll(sessions, s.thresholds)
	pidSessions := map[string]int{}
	byID := make(map[string]QualityFlags, len(flags))
	for _, f := range flags {
		byID[f.ParticipantID] = f
	}

	for _, sess := range sessions {
		m.TotalParticipants++
		m.StatusCounts[sess.Status]++
		m.StepReached[sess.CurrentStep]++
		if sess.Status == StatusCompleted {
			m.CompletedParticipants++
			if v, ok := sess.MinutesSpent(); ok {
				minutes = append(minutes, v)
			}
		}
		if sess.External.PID != "" {
			m.ProlificParticipants++
		}
		f := byID[sess.ParticipantID]
		for name, r := range f.AttentionChecks {
			if !r.Passed {
				m.AttentionFailures++
				m.FailuresByCheck[name]++
			}
		}
		if sess.External.PID != "" && sess.Status != StatusAbandoned {
			pidSessions[sess.External.PID]++
		}
		for _, flag := range f.StepTiming {
			switch flag {
			case TimingTooFast:
				m.FastResponses++
			case TimingTooSlow:
				m.SlowResponses++
			case TimingUnknown:
				m.UnknownTiming++
			}
		}

		for slot, id := range sess.AssignedRecipes {
			if id == UnassignedRecipe {
				continue
			}
			e := exposure[id]
			if e == nil {
				e = &RecipeExposure{RecipeID: id}
				if s.catalog != nil {
					if r, ok := s.catalog.Get(id); ok {
						e.Name, e.Category = r.Name, r.Category
					}
				}
				exposure[id] = e
			}
			e.Assigned++
			step, _ := RecipeEvalStep(slot + 1)
			raw, ok := sess.Responses[step]
			if !ok {
				continue
			}
			e.Evaluated++
			var ratings map[string]float64
			if err := decodeRatings(raw, &ratings); err != nil {
				continue
			}
			for _, item := range ratingItems {
				if v, ok := ratings[item]; ok {
					ratingSum[item] += v
					ratingSeen[item]++
				}
			}
			row := make([]float64, 0, len(trustItems))
			for _, item := range trustItems {
				if v, ok := ratings[item]; ok {
					row = append(row, v)
				}
			}
			if len(row) == len(trustItems) {
				trust = append(trust, row)
			}
		}
	}

	for _, n := range pidSessions {
		if n >= 2 {
			m.DuplicatePIDs++
		}
	}
	if m.TotalParticipants > 0 {
		m.CompletionRate = float64(m.CompletedParticipants) / float64(m.TotalParticipants)
	}
	m.MedianMinutes = median(minutes)
	for item, sum := range ratingSum {
		m.MeanRatings[item] = sum / float64(ratingSeen[item])
	}
	m.TrustAlphaN = len(trust)
	m.TrustAlpha, m.TrustAlphaDefined = CronbachAlpha(trust)

	m.RecipeExposure = make([]RecipeExposure, 0, len(exposure))
	for _, e := range exposure {
		m.RecipeExposure = append(m.RecipeExposure, *e)
	}
	sort.Slice(m.RecipeExposure, func(i, j int) bool { return m.RecipeExposure[i].RecipeID < m.RecipeExposure[j].RecipeID })
	return m, nil
}

// decodeRatings keeps only the numeric fields of a recipe evaluation.
func decodeRatings(raw json.RawMessage, out *map[string]float64) error {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	res := make(map[string]float64, len(generic))
	for k, v := range generic {
		if f, ok := v.(float64); ok {
			res[k] = f
		}
	}
	*out = res
	return nil
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
