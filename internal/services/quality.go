package services

import (
	"sort"
	"time"
)

// QualityThresholds bound the per-step time considered plausible.
type QualityThresholds struct {
	TooFast time.Duration `yaml:"too_fast"`
	TooSlow time.Duration `yaml:"too_slow"`
}

func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{TooFast: 30 * time.Second, TooSlow: 600 * time.Second}
}

// Classify maps a client-reported elapsed time to a timing flag. A nil
// elapsed value is unknown, never a failure.
func (q QualityThresholds) Classify(elapsedSeconds *float64) TimingFlag {
	if elapsedSeconds == nil {
		return TimingUnknown
	}
	// compare in seconds; large reports would overflow a Duration
	secs := *elapsedSeconds
	switch {
	case q.TooFast > 0 && secs < q.TooFast.Seconds():
		return TimingTooFast
	case q.TooSlow > 0 && secs > q.TooSlow.Seconds():
		return TimingTooSlow
	}
	return TimingOK
}

// QualityFlags are derived annotations for one session. They are computed on
// read and never stored.
type QualityFlags struct {
	ParticipantID         string                     `json:"participant_id"`
	AttentionChecksPassed bool                       `json:"attention_checks_passed"`
	AttentionChecks       map[string]AttentionResult `json:"attention_checks"`
	TimingFlags           []Step                     `json:"timing_flags"`
	StepTiming            map[Step]TimingFlag        `json:"step_timing"`
	UnknownTiming         []Step                     `json:"unknown_timing"`
	DuplicateParticipant  bool                       `json:"duplicate_participant"`
	DuplicateCount        int                        `json:"duplicate_count"`
	CompletionStatus      Status                     `json:"completion_status"`
}

// Evaluate derives the quality flags of a single session. Timing flags are
// re-derived from the recorded elapsed seconds so thresholds can be changed
// after collection. Only submitted steps are considered.
func Evaluate(s *ParticipantSession, q QualityThresholds) QualityFlags {
	f := QualityFlags{
		ParticipantID:         s.ParticipantID,
		AttentionChecksPassed: true,
		AttentionChecks:       make(map[string]AttentionResult, len(s.AttentionChecks)),
		TimingFlags:           []Step{},
		StepTiming:            map[Step]TimingFlag{},
		UnknownTiming:         []Step{},
		DuplicateParticipant:  s.DuplicateCount > 0,
		DuplicateCount:        s.DuplicateCount,
		CompletionStatus:      s.Status,
	}
	for name, r := range s.AttentionChecks {
		f.AttentionChecks[name] = r
		if !r.Passed {
			f.AttentionChecksPassed = false
		}
	}
	for _, step := range SurveySteps() {
		if _, done := s.StepCompletedAt[step]; !done {
			continue
		}
		flag := TimingUnknown
		if t, ok := s.Timings[step]; ok && t.Flag != TimingUnknown {
			secs := t.ElapsedSeconds
			flag = q.Classify(&secs)
		}
		f.StepTiming[step] = flag
		switch flag {
		case TimingTooFast, TimingTooSlow:
			f.TimingFlags = append(f.TimingFlags, step)
		case TimingUnknown:
			f.UnknownTiming = append(f.UnknownTiming, step)
		}
	}
	return f
}

// EvaluateAll evaluates every session and additionally marks as duplicates all
// sessions whose external PID appears on two or more non-abandoned sessions.
// The result is ordered by participant ID.
func EvaluateAll(sessions []*ParticipantSession, q QualityThresholds) []QualityFlags {
	pidCount := map[string]int{}
	for _, s := range sessions {
		if s.External.PID != "" && s.Status != StatusAbandoned {
			pidCount[s.External.PID]++
		}
	}
	out := make([]QualityFlags, 0, len(sessions))
	for _, s := range sessions {
		f := Evaluate(s, q)
		if n := pidCount[s.External.PID]; s.External.PID != "" && n >= 2 {
			f.DuplicateParticipant = true
			if f.DuplicateCount < n-1 {
				f.DuplicateCount = n - 1
			}
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}
