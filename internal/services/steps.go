package services

import (
	"fmt"
	"strconv"
	"strings"
)

// Step is one stage of the fixed survey sequence. The zero value is invalid.
type Step int

const (
	StepDemographics Step = iota + 1
	StepRecipeEval1
	StepRecipeEval2
	StepRecipeEval3
	StepRecipeEval4
	StepRecipeEval5
	StepPostSurvey
	StepDebrief
	StepCompleted
)

// RecipesPerParticipant is the number of recipe evaluation steps.
const RecipesPerParticipant = 5

var stepNames = map[Step]string{
	StepDemographics: "demographics",
	StepRecipeEval1:  "recipe_eval_1",
	StepRecipeEval2:  "recipe_eval_2",
	StepRecipeEval3:  "recipe_eval_3",
	StepRecipeEval4:  "recipe_eval_4",
	StepRecipeEval5:  "recipe_eval_5",
	StepPostSurvey:   "post_survey",
	StepDebrief:      "debrief",
	StepCompleted:    "completed",
}

// transitions is the complete set of legal forward moves.
var transitions = map[Step]Step{
	StepDemographics: StepRecipeEval1,
	StepRecipeEval1:  StepRecipeEval2,
	StepRecipeEval2:  StepRecipeEval3,
	StepRecipeEval3:  StepRecipeEval4,
	StepRecipeEval4:  StepRecipeEval5,
	StepRecipeEval5:  StepPostSurvey,
	StepPostSurvey:   StepDebrief,
	StepDebrief:      StepCompleted,
}

func init() {
	// every answerable step must have exactly one successor
	for s := StepDemographics; s < StepCompleted; s++ {
		if next, ok := transitions[s]; !ok || next != s+1 {
			panic(fmt.Sprintf("survey transition table broken at %d", s))
		}
	}
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return "step(" + strconv.Itoa(int(s)) + ")"
}

// Valid reports whether s is a known step, including the terminal one.
func (s Step) Valid() bool {
	_, ok := stepNames[s]
	return ok
}

// Answerable reports whether s accepts a submission.
func (s Step) Answerable() bool {
	_, ok := transitions[s]
	return ok
}

// Next returns the successor of s.
func (s Step) Next() (Step, bool) {
	n, ok := transitions[s]
	return n, ok
}

// RecipeSlot returns the 1-based recipe position for recipe evaluation steps.
func (s Step) RecipeSlot() (int, bool) {
	if s >= StepRecipeEval1 && s <= StepRecipeEval5 {
		return int(s-StepRecipeEval1) + 1, true
	}
	return 0, false
}

// RecipeEvalStep returns the evaluation step for a 1-based recipe slot.
func RecipeEvalStep(slot int) (Step, bool) {
	if slot < 1 || slot > RecipesPerParticipant {
		return 0, false
	}
	return StepRecipeEval1 + Step(slot-1), true
}

// ParseStep resolves a step name. "debriefing" is accepted for the older URL.
func ParseStep(name string) (Step, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "debriefing" {
		return StepDebrief, nil
	}
	for s, n := range stepNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown step %q", name)
}

// SurveySteps lists the answerable steps in order.
func SurveySteps() []Step {
	out := make([]Step, 0, len(transitions))
	for s := StepDemographics; s < StepCompleted; s++ {
		out = append(out, s)
	}
	return out
}

func (s Step) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid step %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Step) UnmarshalText(b []byte) error {
	v, err := ParseStep(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Status is the lifecycle state of a participant session.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusExpired    Status = "expired"
	StatusAbandoned  Status = "abandoned"
)

// Terminal reports whether the session accepts no further submissions.
func (s Status) Terminal() bool { return s != StatusInProgress }
