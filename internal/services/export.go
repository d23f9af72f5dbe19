package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/soaringjerry/recipesurvey/internal/catalog"
)

// ExportRow is one flattened participant record keyed by column name.
type ExportRow map[string]string

var metaColumns = []string{
	"participant_id", "prolific_pid", "study_id", "platform_session_id",
	"status", "current_step", "created_at", "last_activity_at", "completed_at",
	"time_spent_minutes",
}

var qualityColumns = []string{
	"attention_checks_passed", "duplicate_participant", "duplicate_count",
	"timing_flags", "unknown_timing",
}

var exportColumns = buildExportColumns()

func buildExportColumns() []string {
	cols := append([]string(nil), metaColumns...)
	for _, step := range SurveySteps() {
		prefix := step.String()
		if slot, ok := step.RecipeSlot(); ok {
			base := "recipe_" + strconv.Itoa(slot)
			cols = append(cols, base+"_id", base+"_name", base+"_category")
		}
		for _, f := range payloadFields(step) {
			cols = append(cols, prefix+"_"+f)
		}
		cols = append(cols, prefix+"_elapsed_seconds", prefix+"_timing_flag", prefix+"_completed_at")
	}
	for _, check := range []string{CheckRecipe, CheckPost} {
		cols = append(cols, check+"_expected", check+"_submitted", check+"_passed")
	}
	return append(cols, qualityColumns...)
}

// ExportColumns returns the fixed column order shared by every export row.
func ExportColumns() []string { return append([]string(nil), exportColumns...) }

func payloadFields(step Step) []string {
	var t reflect.Type
	switch {
	case step == StepDemographics:
		t = reflect.TypeOf(DemographicsAnswers{})
	case step == StepPostSurvey:
		t = reflect.TypeOf(PostSurveyAnswers{})
	case step == StepDebrief:
		t = reflect.TypeOf(DebriefAnswers{})
	default:
		if _, ok := step.RecipeSlot(); ok {
			t = reflect.TypeOf(RecipeEvaluationAnswers{})
		}
	}
	if t == nil {
		return nil
	}
	out := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			continue
		}
		out = append(out, name)
	}
	return out
}

// FlattenSession projects a session into one export row. Every column from
// ExportColumns is present; absent values are empty strings.
func FlattenSession(s *ParticipantSession, cat *catalog.Catalog, flags QualityFlags) ExportRow {
	row := make(ExportRow, len(exportColumns))
	for _, c := range exportColumns {
		row[c] = ""
	}
	row["participant_id"] = s.ParticipantID
	row["prolific_pid"] = s.External.PID
	row["study_id"] = s.External.StudyID
	row["platform_session_id"] = s.External.SessionID
	row["status"] = string(s.Status)
	row["current_step"] = s.CurrentStep.String()
	row["created_at"] = formatTime(s.CreatedAt)
	row["last_activity_at"] = formatTime(s.LastActivityAt)
	if s.CompletedAt != nil {
		row["completed_at"] = formatTime(*s.CompletedAt)
	}
	if m, ok := s.MinutesSpent(); ok {
		row["time_spent_minutes"] = strconv.FormatFloat(m, 'f', 2, 64)
	}

	for _, step := range SurveySteps() {
		prefix := step.String()
		if slot, ok := step.RecipeSlot(); ok {
			if id, assigned := s.RecipeAt(slot); assigned {
				base := "recipe_" + strconv.Itoa(slot)
				row[base+"_id"] = strconv.Itoa(id)
				if cat != nil {
					if r, ok := cat.Get(id); ok {
						row[base+"_name"] = r.Name
						row[base+"_category"] = r.Category
					}
				}
			}
		}
		if raw, ok := s.Responses[step]; ok {
			var answers map[string]any
			if err := json.Unmarshal(raw, &answers); err == nil {
				for k, v := range answers {
					col := prefix + "_" + k
					if _, known := row[col]; known {
						row[col] = formatValue(v)
					}
				}
			}
		}
		if t, ok := s.Timings[step]; ok && t.Flag != TimingUnknown {
			row[prefix+"_elapsed_seconds"] = strconv.FormatFloat(t.ElapsedSeconds, 'f', -1, 64)
		}
		if f, ok := flags.StepTiming[step]; ok {
			row[prefix+"_timing_flag"] = string(f)
		}
		if at, ok := s.StepCompletedAt[step]; ok {
			row[prefix+"_completed_at"] = formatTime(at)
		}
	}
	for name, r := range flags.AttentionChecks {
		row[name+"_expected"] = r.Expected
		row[name+"_submitted"] = r.Submitted
		row[name+"_passed"] = strconv.FormatBool(r.Passed)
	}
	row["attention_checks_passed"] = strconv.FormatBool(flags.AttentionChecksPassed)
	row["duplicate_participant"] = strconv.FormatBool(flags.DuplicateParticipant)
	row["duplicate_count"] = strconv.Itoa(flags.DuplicateCount)
	row["timing_flags"] = joinSteps(flags.TimingFlags)
	row["unknown_timing"] = joinSteps(flags.UnknownTiming)
	return row
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			parts = append(parts, formatValue(p))
		}
		return strings.Join(parts, "|")
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func joinSteps(steps []Step) string {
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, s.String())
	}
	return strings.Join(names, "|")
}

func sortRows(rows []ExportRow) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i]["participant_id"] < rows[j]["participant_id"] })
}

// ExportCSV renders rows in wide format, one participant per line.
func ExportCSV(rows []ExportRow) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(exportColumns); err != nil {
		return nil, err
	}
	rec := make([]string, len(exportColumns))
	for _, r := range rows {
		for i, c := range exportColumns {
			rec[i] = r[c]
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportLongCSV renders one line per non-empty participant/column pair.
func ExportLongCSV(rows []ExportRow) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"participant_id", "field", "value"})
	for _, r := range rows {
		for _, c := range exportColumns[1:] {
			if r[c] == "" {
				continue
			}
			if err := w.Write([]string{r["participant_id"], c, r[c]}); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

const xlsxSheet = "responses"

// ExportXLSX renders the wide table as a single-sheet workbook.
func ExportXLSX(rows []ExportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), xlsxSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	header := make([]any, len(exportColumns))
	for i, c := range exportColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for n, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return nil, err
		}
		rec := make([]any, len(exportColumns))
		for i, c := range exportColumns {
			rec[i] = r[c]
		}
		if err := f.SetSheetRow(xlsxSheet, cell, &rec); err != nil {
			return nil, fmt.Errorf("write row %d: %w", n+2, err)
		}
	}
	if err := f.SetPanes(xlsxSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}
