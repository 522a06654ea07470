package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/hikkinomore/buddy-server/internal/model/chat"
	"github.com/hikkinomore/buddy-server/internal/model/preset"
	"github.com/hikkinomore/buddy-server/internal/model/skill"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewSQLiteStore opens (creating if necessary) the database at dsn and runs
// migrations.
func NewSQLiteStore(dsn string, log *logrus.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			preset TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			session_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (session_id, sequence),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		)`,
		`CREATE TABLE IF NOT EXISTS skill_judgements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			skill_type TEXT,
			score REAL NOT NULL,
			confidence REAL NOT NULL,
			reason TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_judgements_user_skill ON skill_judgements(user_id, skill_type)`,
		`CREATE INDEX IF NOT EXISTS idx_judgements_session ON skill_judgements(session_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureSession creates the session row if absent and returns the stored row.
// The preset of an existing session is immutable; a differing preset argument
// is ignored.
func (s *SQLiteStore) EnsureSession(ctx context.Context, id, userID string, presetID preset.ID) (chat.Session, error) {
	session, err := s.GetSession(ctx, id)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return chat.Session{}, err
	}

	// ON CONFLICT keeps the first writer's row when two ensures race.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, preset, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, userID, string(presetID), time.Now().UTC())
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to insert session: %w", err)
	}

	return s.GetSession(ctx, id)
}

// GetSession retrieves a session row by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (chat.Session, error) {
	var session chat.Session
	var presetID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, preset, created_at FROM sessions WHERE id = ?`, id).
		Scan(&session.ID, &session.UserID, &presetID, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, err
	}
	session.Preset = preset.ID(presetID)
	return session, nil
}

// AppendChunk persists one turn's payload under the next sequence number for
// the session. Allocation and insert happen in one transaction; a duplicate
// sequence from a racing writer surfaces as ErrWriteConflict.
func (s *SQLiteStore) AppendChunk(ctx context.Context, sessionID string, payload []chat.Message) (int64, error) {
	if len(payload) == 0 {
		return 0, fmt.Errorf("empty chunk payload for session %s", sessionID)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode chunk payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, err
	}

	var tail sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM chunks WHERE session_id = ?`, sessionID).Scan(&tail); err != nil {
		return 0, err
	}
	seq := tail.Int64 + 1

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chunks (session_id, sequence, payload, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, seq, string(data), time.Now().UTC())
	if err != nil {
		if isConstraintErr(err) {
			return 0, ErrWriteConflict
		}
		return 0, fmt.Errorf("failed to insert chunk: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

// ReadHistory folds the session's chunks, in ascending sequence order, into a
// flat message sequence. A chunk that fails to decode is logged and skipped so
// one corrupt row never makes the whole history unreadable.
func (s *SQLiteStore) ReadHistory(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, payload FROM chunks WHERE session_id = ? ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]chat.Message, 0, 16)
	for rows.Next() {
		var seq int64
		var raw string
		if err := rows.Scan(&seq, &raw); err != nil {
			return nil, err
		}

		var payload []chat.Message
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			s.log.WithFields(logrus.Fields{
				"session":  sessionID,
				"sequence": seq,
			}).WithError(err).Warn("skipping malformed chunk")
			continue
		}
		history = append(history, payload...)
	}
	return history, rows.Err()
}

// TailSequence returns the highest committed sequence for the session, zero if
// none.
func (s *SQLiteStore) TailSequence(ctx context.Context, sessionID string) (int64, error) {
	var tail sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM chunks WHERE session_id = ?`, sessionID).Scan(&tail)
	if err != nil {
		return 0, err
	}
	return tail.Int64, nil
}

// ListUserSessions returns all session ids owned by a user.
func (s *SQLiteStore) ListUserSessions(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddJudgement appends one judgement record.
func (s *SQLiteStore) AddJudgement(ctx context.Context, j skill.Judgement) error {
	var skillType sql.NullString
	if j.SkillType != nil {
		skillType = sql.NullString{String: *j.SkillType, Valid: true}
	}

	createdAt := j.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skill_judgements (session_id, user_id, skill_type, score, confidence, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.SessionID, j.UserID, skillType, j.Score, j.Confidence, j.Reason, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert judgement: %w", err)
	}
	return nil
}

// ListJudgements returns a user's judgements in ascending creation order,
// optionally narrowed to one session.
func (s *SQLiteStore) ListJudgements(ctx context.Context, userID, sessionID string) ([]skill.Judgement, error) {
	query := `SELECT session_id, user_id, skill_type, score, confidence, reason, created_at
		  FROM skill_judgements WHERE user_id = ?`
	args := []any{userID}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []skill.Judgement
	for rows.Next() {
		var j skill.Judgement
		var skillType sql.NullString
		if err := rows.Scan(&j.SessionID, &j.UserID, &skillType, &j.Score, &j.Confidence, &j.Reason, &j.CreatedAt); err != nil {
			return nil, err
		}
		if skillType.Valid {
			value := skillType.String
			j.SkillType = &value
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
