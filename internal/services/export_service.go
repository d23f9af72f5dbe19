package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/soaringjerry/recipesurvey/internal/catalog"
)

// SessionLister is the read side of the store used by reporting services.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]*ParticipantSession, error)
}

type ExportParams struct {
	Format        string
	CompletedOnly bool
}

type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
	Rows        int
}

type ExportService struct {
	store      SessionLister
	catalog    *catalog.Catalog
	thresholds QualityThresholds
	now        func() time.Time
}

func NewExportService(store SessionLister, cat *catalog.Catalog, thresholds QualityThresholds) *ExportService {
	return &ExportService{
		store:      store,
		catalog:    cat,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Rows flattens every stored session, sorted by participant ID.
func (s *ExportService) Rows(ctx context.Context, completedOnly bool) ([]ExportRow, error) {
	sessions, err := s.sessions(ctx, completedOnly)
	if err != nil {
		return nil, err
	}
	flags := EvaluateAll(sessions, s.thresholds)
	byID := make(map[string]QualityFlags, len(flags))
	for _, f := range flags {
		byID[f.ParticipantID] = f
	}
	rows := make([]ExportRow, 0, len(sessions))
	for _, sess := range sessions {
		rows = append(rows, FlattenSession(sess, s.catalog, byID[sess.ParticipantID]))
	}
	sortRows(rows)
	return rows, nil
}

func (s *ExportService) sessions(ctx context.Context, completedOnly bool) ([]*ParticipantSession, error) {
	all, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, newPersistenceError(err)
	}
	if !completedOnly {
		return all, nil
	}
	out := all[:0]
	for _, sess := range all {
		if sess.Status == StatusCompleted {
			out = append(out, sess)
		}
	}
	return out, nil
}

type sessionRecord struct {
	Session *ParticipantSession `json:"session"`
	Quality QualityFlags        `json:"quality"`
}

// Export renders all sessions in the requested format: csv (wide, default),
// long, xlsx or json.
func (s *ExportService) Export(ctx context.Context, params ExportParams) (*ExportResult, error) {
	base := "recipe_survey_" + s.now().Format("20060102_150405")
	switch params.Format {
	case "", "csv", "wide":
		rows, err := s.Rows(ctx, params.CompletedOnly)
		if err != nil {
			return nil, err
		}
		b, err := ExportCSV(rows)
		if err != nil {
			return nil, err
		}
		return &ExportResult{Filename: base + ".csv", ContentType: "text/csv; charset=utf-8", Data: b, Rows: len(rows)}, nil
	case "long":
		rows, err := s.Rows(ctx, params.CompletedOnly)
		if err != nil {
			return nil, err
		}
		b, err := ExportLongCSV(rows)
		if err != nil {
			return nil, err
		}
		return &ExportResult{Filename: base + "_long.csv", ContentType: "text/csv; charset=utf-8", Data: b, Rows: len(rows)}, nil
	case "xlsx":
		rows, err := s.Rows(ctx, params.CompletedOnly)
		if err != nil {
			return nil, err
		}
		b, err := ExportXLSX(rows)
		if err != nil {
			return nil, err
		}
		return &ExportResult{
			Filename:    base + ".xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        b,
			Rows:        len(rows),
		}, nil
	case "json":
		sessions, err := s.sessions(ctx, params.CompletedOnly)
		if err != nil {
			return nil, err
		}
		flags := EvaluateAll(sessions, s.thresholds)
		byID := make(map[string]*ParticipantSession, len(sessions))
		for _, sess := range sessions {
			byID[sess.ParticipantID] = sess
		}
		out := make([]sessionRecord, 0, len(flags))
		for _, f := range flags {
			out = append(out, sessionRecord{Session: byID[f.ParticipantID], Quality: f})
		}
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return nil, err
		}
		return &ExportResult{Filename: base + ".json", ContentType: "application/json", Data: b, Rows: len(out)}, nil
	default:
		return nil, NewInvalidError("unsupported format")
	}
}
