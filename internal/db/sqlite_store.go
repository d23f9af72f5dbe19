package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"

	"github.com/soaringjerry/recipesurvey/internal/services"
)

const sessionsTable = "sessions"

// SQLiteStore persists participant sessions as JSON documents with the
// fields needed for lookups and optimistic locking kept in their own columns.
type SQLiteStore struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

var _ services.SessionStore = (*SQLiteStore)(nil)

// Open opens (creating if needed) the database file at path.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Ping is used by the health endpoint.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) LoadSession(ctx context.Context, participantID string) (*services.ParticipantSession, error) {
	query, args, err := s.sb.Select("document", "version").
		From(sessionsTable).
		Where(sq.Eq{"participant_id": participantID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.ErrSessionNotFound
	}
	return sess, err
}

// SaveSession inserts when Version is 0 and otherwise updates only the row
// still carrying the caller's version. Both paths report a lost race as
// services.ErrStaleSession.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *services.ParticipantSession) error {
	if sess == nil || sess.ParticipantID == "" {
		return errors.New("session id required")
	}
	next := sess.Version + 1
	doc := sess.Clone()
	doc.Version = next
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	cols := map[string]any{
		"external_pid":     nullString(sess.External.PID),
		"study_id":         nullString(sess.External.StudyID),
		"status":           string(sess.Status),
		"current_step":     sess.CurrentStep.String(),
		"created_at":       formatTime(sess.CreatedAt),
		"last_activity_at": formatTime(sess.LastActivityAt),
		"completed_at":     nullTime(sess.CompletedAt),
		"version":          next,
		"document":         string(body),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if sess.Version == 0 {
		cols["participant_id"] = sess.ParticipantID
		query, args, err := s.sb.Insert(sessionsTable).SetMap(cols).ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isConstraintErr(err) {
				return services.ErrStaleSession
			}
			return fmt.Errorf("insert session: %w", err)
		}
	} else {
		query, args, err := s.sb.Update(sessionsTable).
			SetMap(cols).
			Where(sq.Eq{"participant_id": sess.ParticipantID, "version": sess.Version}).
			ToSql()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return services.ErrStaleSession
		}
	}

	query, args, err := s.sb.Insert("session_events").
		Columns("participant_id", "version", "current_step", "status", "recorded_at").
		Values(sess.ParticipantID, next, sess.CurrentStep.String(), string(sess.Status), formatTime(s.now())).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record session event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	sess.Version = next
	return nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*services.ParticipantSession, error) {
	return s.list(ctx, nil)
}

func (s *SQLiteStore) ListSessionsByExternalID(ctx context.Context, pid string) ([]*services.ParticipantSession, error) {
	if pid == "" {
		return nil, nil
	}
	return s.list(ctx, sq.Eq{"external_pid": pid})
}

// ListByStatus narrows the scan used by the expiry sweep.
func (s *SQLiteStore) ListByStatus(ctx context.Context, status services.Status) ([]*services.ParticipantSession, error) {
	return s.list(ctx, sq.Eq{"status": string(status)})
}

func (s *SQLiteStore) list(ctx context.Context, where sq.Sqlizer) ([]*services.ParticipantSession, error) {
	b := s.sb.Select("document", "version").From(sessionsTable).OrderBy("created_at", "participant_id")
	if where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []*services.ParticipantSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SessionEvent is one row of the write audit trail.
type SessionEvent struct {
	Version     int64
	CurrentStep string
	Status      string
	RecordedAt  time.Time
}

// Events returns the audit trail for one participant, oldest first.
func (s *SQLiteStore) Events(ctx context.Context, participantID string) ([]SessionEvent, error) {
	query, args, err := s.sb.Select("version", "current_step", "status", "recorded_at").
		From("session_events").
		Where(sq.Eq{"participant_id": participantID}).
		OrderBy("version").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionEvent
	for rows.Next() {
		var (
			ev SessionEvent
			at string
		)
		if err := rows.Scan(&ev.Version, &ev.CurrentStep, &ev.Status, &at); err != nil {
			return nil, err
		}
		ev.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*services.ParticipantSession, error) {
	var (
		body    string
		version int64
	)
	if err := row.Scan(&body, &version); err != nil {
		return nil, err
	}
	var sess services.ParticipantSession
	if err := json.Unmarshal([]byte(body), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	sess.Version = version
	return &sess, nil
}

func isConstraintErr(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
