package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Payload is the answer set for one step. Each step has exactly one variant.
type Payload interface {
	Step() Step
	// AttentionAnswer returns the planted-question answer carried by this
	// payload, if the step has one.
	AttentionAnswer() (check string, answer *AnswerText)
}

// AnswerText accepts either a JSON string or a JSON number, since HTML forms
// and JS clients disagree about radio values.
type AnswerText string

func (a *AnswerText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = AnswerText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number")
	}
	*a = AnswerText(n.String())
	return nil
}

// DemographicsAnswers is the first step.
type DemographicsAnswers struct {
	Age       string `json:"age" validate:"required,max=32"`
	Gender    string `json:"gender" validate:"required,max=64"`
	Education string `json:"education" validate:"required,max=64"`
}

func (DemographicsAnswers) Step() Step { return StepDemographics }

func (DemographicsAnswers) AttentionAnswer() (string, *AnswerText) { return "", nil }

// RecipeEvaluationAnswers is the rating battery shown for each assigned recipe.
// Ratings use a 1..7 agreement scale.
type RecipeEvaluationAnswers struct {
	CompletenessInfo        int         `json:"completeness_info_rating" validate:"required,min=1,max=7"`
	CompletenessIngredients int         `json:"completeness_ingredients_rating" validate:"required,min=1,max=7"`
	CompletenessSteps       int         `json:"completeness_steps_rating" validate:"required,min=1,max=7"`
	Healthiness             int         `json:"healthiness_rating" validate:"required,min=1,max=7"`
	Tastiness               int         `json:"tastiness_rating" validate:"required,min=1,max=7"`
	Feasibility             int         `json:"feasibility_rating" validate:"required,min=1,max=7"`
	WouldMake               int         `json:"would_make" validate:"required,min=1,max=7"`
	AccuracyIngredients     int         `json:"accuracy_ingredients_rating" validate:"required,min=1,max=7"`
	AccuracyTimes           int         `json:"accuracy_times_rating" validate:"required,min=1,max=7"`
	AccuracySteps           int         `json:"accuracy_steps_rating" validate:"required,min=1,max=7"`
	AccuracyFinal           int         `json:"accuracy_final_rating" validate:"required,min=1,max=7"`
	TrustTry                int         `json:"trust_try_rating" validate:"required,min=1,max=7"`
	TrustProfessional       int         `json:"trust_professional_rating" validate:"required,min=1,max=7"`
	TrustCredible           int         `json:"trust_credible_rating" validate:"required,min=1,max=7"`
	Comments                string      `json:"comments,omitempty" validate:"max=2000"`
	AttentionCheck          *AnswerText `json:"attention_check_recipe,omitempty" validate:"omitempty,max=64"`

	step Step
}

func (r RecipeEvaluationAnswers) Step() Step { return r.step }

func (r RecipeEvaluationAnswers) AttentionAnswer() (string, *AnswerText) {
	if r.AttentionCheck == nil {
		return "", nil
	}
	return CheckRecipe, r.AttentionCheck
}

// PostSurveyAnswers follows the five evaluations.
type PostSurveyAnswers struct {
	CookingSkills        int         `json:"cooking_skills" validate:"required,min=1,max=7"`
	NewRecipeFrequency   string      `json:"new_recipe_frequency" validate:"required,max=64"`
	RecipeFactors        []string    `json:"recipe_factors" validate:"required,min=1,max=20,dive,required,max=64"`
	RecipeUsageFrequency string      `json:"recipe_usage_frequency" validate:"required,max=64"`
	CookingFrequency     string      `json:"cooking_frequency" validate:"required,max=64"`
	TrustHumanRecipes    int         `json:"trust_human_recipes" validate:"required,min=1,max=7"`
	TrustAIRecipes       int         `json:"trust_ai_recipes" validate:"required,min=1,max=7"`
	AIRecipeUsage        string      `json:"ai_recipe_usage" validate:"required,max=64"`
	Comments             string      `json:"comments,omitempty" validate:"max=2000"`
	AttentionCheck       *AnswerText `json:"attention_check_post" validate:"required,max=64"`
}

func (PostSurveyAnswers) Step() Step { return StepPostSurvey }

func (p PostSurveyAnswers) AttentionAnswer() (string, *AnswerText) {
	return CheckPost, p.AttentionCheck
}

// DebriefAnswers confirms the participant read the debriefing.
type DebriefAnswers struct {
	Acknowledged bool   `json:"acknowledged" validate:"eq=true"`
	Feedback     string `json:"feedback,omitempty" validate:"max=2000"`
}

func (DebriefAnswers) Step() Step { return StepDebrief }

func (DebriefAnswers) AttentionAnswer() (string, *AnswerText) { return "", nil }

var payloadValidate *validator.Validate

func init() {
	payloadValidate = validator.New(validator.WithRequiredStructEnabled())
	payloadValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
}

// DecodePayload parses raw answers for step into its variant and validates
// them. attentionStep is the recipe evaluation step that carries the recipe
// attention check. Failures are ValidationErrors with per-field messages.
func DecodePayload(step Step, raw json.RawMessage, attentionStep Step) (Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}
	var (
		p   Payload
		err error
	)
	switch step {
	case StepDemographics:
		var v DemographicsAnswers
		err = decodeStrict(raw, &v)
		p = v
	case StepRecipeEval1, StepRecipeEval2, StepRecipeEval3, StepRecipeEval4, StepRecipeEval5:
		var v RecipeEvaluationAnswers
		err = decodeStrict(raw, &v)
		v.step = step
		if err == nil && step == attentionStep && v.AttentionCheck == nil {
			return nil, newValidationError(map[string]string{"attention_check_recipe": "is required"})
		}
		if step != attentionStep {
			v.AttentionCheck = nil
		}
		p = v
	case StepPostSurvey:
		var v PostSurveyAnswers
		err = decodeStrict(raw, &v)
		p = v
	case StepDebrief:
		var v DebriefAnswers
		err = decodeStrict(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("step %s takes no answers", step)
	}
	if err != nil {
		return nil, err
	}
	if err := payloadValidate.Struct(p); err != nil {
		return nil, validationFields(err)
	}
	return p, nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return newValidationError(map[string]string{typeErr.Field: "has the wrong type"})
		}
		if name, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			return newValidationError(map[string]string{strings.Trim(name, `"`): "is not a known field"})
		}
		return newValidationError(map[string]string{"_": "malformed JSON"})
	}
	return nil
}

func validationFields(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newValidationError(map[string]string{"_": err.Error()})
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		if ns := fe.Namespace(); strings.Contains(ns, "[") {
			// dive errors keep the index: recipe_factors[2]
			name = ns[strings.Index(ns, ".")+1:]
		}
		fields[name] = fieldMessage(fe)
	}
	return newValidationError(fields)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "needs at least " + fe.Param() + " entries"
		}
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.Slice {
			return "allows at most " + fe.Param() + " entries"
		}
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "eq":
		if b, err := strconv.ParseBool(fe.Param()); err == nil && b {
			return "must be confirmed"
		}
		return "must equal " + fe.Param()
	}
	return "is invalid"
}

// normalizeAnswer trims and lowercases an attention answer for comparison.
func normalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
