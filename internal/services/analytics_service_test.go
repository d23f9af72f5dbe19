package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestAnalyticsMetrics(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	completeJourney(t, svc, clock, "p_done")

	// second participant with the same PID, failing the recipe check
	if _, err := svc.Start(ctx, StartRequest{ParticipantID: "p_dup1", External: ExternalParams{PID: "DUP"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Start(ctx, StartRequest{ParticipantID: "p_dup2", External: ExternalParams{PID: "DUP"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.advance(time.Minute)
	if _, err := svc.SubmitStep(ctx, SubmitRequest{ParticipantID: "p_dup1", Step: StepDemographics, Payload: demographicsJSON(), ClientElapsedSeconds: elapsed(3)}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.SubmitStep(ctx, SubmitRequest{ParticipantID: "p_dup2", Step: StepDemographics, Payload: demographicsJSON()}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Withdraw(ctx, "p_dup2"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	an := NewAnalyticsService(store, svc.catalog, DefaultQualityThresholds())
	m, err := an.Metrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.TotalParticipants != 3 || m.CompletedParticipants != 1 {
		t.Fatalf("counts = %d/%d", m.TotalParticipants, m.CompletedParticipants)
	}
	if m.StatusCounts[StatusAbandoned] != 1 || m.StatusCounts[StatusInProgress] != 1 {
		t.Fatalf("status counts = %v", m.StatusCounts)
	}
	if m.ProlificParticipants != 2 {
		t.Fatalf("prolific = %d", m.ProlificParticipants)
	}
	// one non-abandoned session per PID left, so no duplicates remain
	if m.DuplicatePIDs != 0 {
		t.Fatalf("duplicate pids = %d", m.DuplicatePIDs)
	}
	if m.FastResponses != 1 || m.UnknownTiming != 1 {
		t.Fatalf("fast=%d unknown=%d", m.FastResponses, m.UnknownTiming)
	}
	if m.AttentionFailures != 0 {
		t.Fatalf("attention failures = %d", m.AttentionFailures)
	}
	if m.TrustAlphaN != RecipesPerParticipant {
		t.Fatalf("trust rows = %d", m.TrustAlphaN)
	}
	if m.MeanRatings["tastiness_rating"] != 6 {
		t.Fatalf("mean tastiness = %v", m.MeanRatings["tastiness_rating"])
	}
	if m.MedianMinutes != 8 {
		t.Fatalf("median minutes = %v", m.MedianMinutes)
	}
	assigned := 0
	for _, e := range m.RecipeExposure {
		assigned += e.Assigned
		if e.Name == "" {
			t.Fatalf("exposure missing catalog name: %+v", e)
		}
	}
	if assigned != 3*RecipesPerParticipant {
		t.Fatalf("assigned = %d", assigned)
	}
}

func TestAnalyticsSessionsCarryFlags(t *testing.T) {
	store := newStubSessionStore()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		s := &ParticipantSession{
			ParticipantID: id,
			External:      ExternalParams{PID: "SAME"},
			Status:        StatusCompleted,
			CreatedAt:     t0.Add(time.Duration(i) * time.Hour),
			Responses:     map[Step]json.RawMessage{},
		}
		if err := store.SaveSession(context.Background(), s); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	an := NewAnalyticsService(store, nil, DefaultQualityThresholds())
	sessions, flags, err := an.Sessions(context.Background())
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if sessions[0].ParticipantID != "new" {
		t.Fatalf("expected newest first, got %s", sessions[0].ParticipantID)
	}
	if !flags["old"].DuplicateParticipant || !flags["new"].DuplicateParticipant {
		t.Fatalf("population duplicates not flagged: %+v", flags)
	}
}
