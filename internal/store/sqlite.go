// ABOUTME: SQLite implementation of SessionStore and IncidentStore using
// ABOUTME: modernc.org/sqlite, for local development and tests.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements SessionStore and IncidentStore on a local file.
// DynamoDB's TTL attribute is replaced by a retention purge on append.
type SQLiteStore struct {
	db        *sql.DB
	retention time.Duration
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewSQLiteStore creates a SQLite store at the given path. The schema is
// created automatically, as are parent directories.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:        db,
		retention: DefaultRetention,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_messages (
			session_id TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			message_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			user_name TEXT NOT NULL,
			incident_id TEXT,
			tools_used TEXT,
			report_type TEXT,
			expires_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, timestamp)
		);

		CREATE INDEX IF NOT EXISTS idx_chat_user
			ON chat_messages(user_name, timestamp);

		CREATE INDEX IF NOT EXISTS idx_chat_expires
			ON chat_messages(expires_at);

		CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'analyzing', 'completed', 'failed')),
			source TEXT,
			analysis_result TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append stores one chat turn and purges records past retention.
func (s *SQLiteStore) Append(ctx context.Context, rec ChatRecord) (ChatRecord, error) {
	if rec.SessionID == "" {
		return ChatRecord{}, fmt.Errorf("append: session id is required")
	}
	now := s.now()
	rec.Timestamp = now.UnixNano()
	rec.MessageID = s.newID()
	if rec.IncidentID == "" {
		rec.ExpiresAt = now.Add(s.retention).Unix()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages
			(session_id, timestamp, message_id, role, content, user_name,
			 incident_id, tools_used, report_type, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Timestamp, rec.MessageID, rec.Role, rec.Content,
		rec.User, nullable(rec.IncidentID), joinTools(rec.ToolsUsed),
		nullable(rec.ReportType), rec.ExpiresAt)
	if err != nil {
		return ChatRecord{}, fmt.Errorf("storing chat record: %w", err)
	}

	// Retention purge in place of the DynamoDB TTL attribute. Failure is not
	// fatal to the append.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE expires_at > 0 AND expires_at < ?`,
		now.Unix()); err != nil {
		s.logger.Warn("retention purge failed", "error", err)
	}

	return rec, nil
}

// SessionMessages returns a session's turns oldest first.
func (s *SQLiteStore) SessionMessages(ctx context.Context, sessionID string) ([]ChatRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, timestamp, message_id, role, content, user_name,
		       incident_id, tools_used, report_type, expires_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying session %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanChatRecords(rows)
}

// UserSessions returns a user's most recent turns newest first.
func (s *SQLiteStore) UserSessions(ctx context.Context, user string, limit int) ([]ChatRecord, error) {
	if limit <= 0 {
		limit = defaultUserSessionLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, timestamp, message_id, role, content, user_name,
		       incident_id, tools_used, report_type, expires_at
		FROM chat_messages
		WHERE user_name = ?
		ORDER BY timestamp DESC
		LIMIT ?`, user, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions for %s: %w", user, err)
	}
	defer rows.Close()
	return scanChatRecords(rows)
}

// SessionExists checks for any turn with LIMIT 1.
func (s *SQLiteStore) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chat_messages WHERE session_id = ? LIMIT 1`, sessionID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking session %s: %w", sessionID, err)
	}
	return true, nil
}

// Save writes an incident record.
func (s *SQLiteStore) Save(ctx context.Context, inc *Incident) error {
	if inc.ID == "" {
		return fmt.Errorf("save incident: id is required")
	}
	now := s.now()
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = now
	}
	inc.UpdatedAt = now
	if inc.Status == "" {
		inc.Status = StatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (id, status, source, analysis_result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			source = excluded.source,
			analysis_result = excluded.analysis_result,
			updated_at = excluded.updated_at`,
		inc.ID, inc.Status, nullable(inc.Source), nullable(inc.Result),
		inc.CreatedAt.Format(time.RFC3339Nano), inc.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storing incident %s: %w", inc.ID, err)
	}
	return nil
}

// Get returns the incident record or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Incident, error) {
	var inc Incident
	var source, result sql.NullString
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, source, analysis_result, created_at, updated_at
		FROM incidents WHERE id = ?`, id).
		Scan(&inc.ID, &inc.Status, &source, &result, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading incident %s: %w", id, err)
	}
	inc.Source = source.String
	inc.Result = result.String
	if inc.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", id, err)
	}
	if inc.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for %s: %w", id, err)
	}
	return &inc, nil
}

// SetStatus transitions an existing incident's status.
func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status IncidentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE incidents SET status = ?, updated_at = ? WHERE id = ?`,
		status, s.now().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("updating incident %s: %w", id, err)
	}
	return requireRow(res)
}

// SetResult stores the analysis outcome and its final status.
func (s *SQLiteStore) SetResult(ctx context.Context, id string, status IncidentStatus, result string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE incidents SET analysis_result = ?, status = ?, updated_at = ? WHERE id = ?`,
		result, status, s.now().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("updating incident %s: %w", id, err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanChatRecords(rows *sql.Rows) ([]ChatRecord, error) {
	var records []ChatRecord
	for rows.Next() {
		var rec ChatRecord
		var incidentID, toolsUsed, reportType sql.NullString
		if err := rows.Scan(&rec.SessionID, &rec.Timestamp, &rec.MessageID,
			&rec.Role, &rec.Content, &rec.User, &incidentID, &toolsUsed,
			&reportType, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scanning chat record: %w", err)
		}
		rec.IncidentID = incidentID.String
		rec.ReportType = reportType.String
		if toolsUsed.String != "" {
			rec.ToolsUsed = strings.Split(toolsUsed.String, ",")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func joinTools(tools []string) any {
	if len(tools) == 0 {
		return nil
	}
	return strings.Join(tools, ",")
}
